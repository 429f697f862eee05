// File: internal/classify/outcome.go
package classify

import "time"

// Status is the top-level result of inspecting a page for appointment
// availability.
type Status int

const (
	StatusUncertain Status = iota
	StatusAvailable
	StatusUnavailable
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusUnavailable:
		return "unavailable"
	case StatusError:
		return "error"
	default:
		return "uncertain"
	}
}

// ErrorKind refines a StatusError outcome.
type ErrorKind int

const (
	ErrorUnknown ErrorKind = iota
	ErrorTimeout
	ErrorNoAvailability
	ErrorStatusPage
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorTimeout:
		return "timeout"
	case ErrorNoAvailability:
		return "no_availability"
	case ErrorStatusPage:
		return "status_page"
	default:
		return "unknown"
	}
}

// Reason records which evidence produced a non-error outcome.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonRedirect: the site redirected to its no-availability URL.
	ReasonRedirect
	// ReasonContentKeyword: a keyword table matched the page content.
	ReasonContentKeyword
	// ReasonStructural: a next-step control was found in the DOM. Weaker
	// evidence than a keyword match.
	ReasonStructural
)

func (r Reason) String() string {
	switch r {
	case ReasonRedirect:
		return "redirect"
	case ReasonContentKeyword:
		return "content_keyword"
	case ReasonStructural:
		return "structural"
	default:
		return "none"
	}
}

// Outcome is the classified result of one page observation. It is produced
// fresh on every classification and never mutated.
type Outcome struct {
	Status Status
	Reason Reason
	// Kind is meaningful only when Status is StatusError.
	Kind ErrorKind
	// RawMessages holds the error strings scraped from the page, if any.
	RawMessages []string
	// Weak marks availability inferred from structure rather than content.
	Weak bool
	// Detail is a short human-readable narration of the evidence.
	Detail string
	// URL is the page URL at observation time.
	URL string
	// ObservedAt is the UTC observation timestamp.
	ObservedAt time.Time
}

// Transient reports whether the outcome is a fault expected to resolve on
// retry, as opposed to a definitive result.
func (o Outcome) Transient() bool {
	return o.Status == StatusError && (o.Kind == ErrorTimeout || o.Kind == ErrorStatusPage)
}

// Definitive reports whether the outcome settles the availability question
// for this cycle.
func (o Outcome) Definitive() bool {
	return o.Status == StatusAvailable || o.Status == StatusUnavailable ||
		(o.Status == StatusError && o.Kind == ErrorNoAvailability)
}
