// File: internal/classify/classify.go

// Package classify turns raw page content into a typed availability Outcome.
// The decision ladder is ordered by signal specificity: explicit error
// banners outrank keyword heuristics, which outrank structural probing.
package classify

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/fpalencia/licencia-scraper/internal/config"
)

// DomProbe checks the live page for the presence of an element. Classifier
// uses it only as the weakest evidence tier; any probe failure is ignored.
type DomProbe interface {
	Exists(ctx context.Context, selector string) (bool, error)
}

// Classifier inspects page content and URL against the configured pattern
// tables. Classify is total: it never returns an error and never panics
// through to the caller.
type Classifier struct {
	logger *zap.Logger

	errorURLPattern   string
	bannerRegexps     []*regexp.Regexp
	bannerMarkers     []string
	timeoutPhrases    []string
	noAvailPhrases    []string
	noAvailKeywords   []string
	availKeywords     []string
	nextStepSelectors []string
}

// New compiles the configured pattern tables into a Classifier.
func New(site config.SiteConfig, patterns config.PatternsConfig, logger *zap.Logger) (*Classifier, error) {
	c := &Classifier{
		logger:            logger.Named("classifier"),
		errorURLPattern:   site.ErrorURLPattern,
		bannerMarkers:     patterns.BannerMarkers,
		timeoutPhrases:    lowerAll(patterns.TimeoutPhrases),
		noAvailPhrases:    lowerAll(patterns.NoAvailabilityErrorPhrases),
		noAvailKeywords:   lowerAll(patterns.NoAvailabilityKeywords),
		availKeywords:     lowerAll(patterns.AvailabilityKeywords),
		nextStepSelectors: patterns.NextStepSelectors,
	}

	for _, expr := range patterns.ErrorBannerRegexps {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid error banner pattern %q: %w", expr, err)
		}
		c.bannerRegexps = append(c.bannerRegexps, re)
	}
	return c, nil
}

// Classify evaluates one page observation. probe may be nil, in which case
// the structural tier is skipped.
func (c *Classifier) Classify(ctx context.Context, pageURL, content string, probe DomProbe) (out Outcome) {
	// Classification must never propagate a fault to the caller.
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("classification recovered from panic", zap.Any("panic", r))
			out = Outcome{
				Status:      StatusError,
				Kind:        ErrorUnknown,
				RawMessages: []string{fmt.Sprint(r)},
				Detail:      "classification fault",
				URL:         pageURL,
				ObservedAt:  time.Now().UTC(),
			}
		}
	}()

	out = Outcome{URL: pageURL, ObservedAt: time.Now().UTC()}

	// 1. Definitive no-availability redirect.
	if c.errorURLPattern != "" && strings.Contains(pageURL, c.errorURLPattern) {
		out.Status = StatusUnavailable
		out.Reason = ReasonRedirect
		out.Detail = "site redirected to its no-availability page"
		return out
	}

	// 2. Explicit error banners, the most specific signal.
	if messages := c.scanErrorMessages(content); len(messages) > 0 {
		out.Status = StatusError
		out.RawMessages = messages
		out.Kind = c.categorizeError(messages)
		out.Detail = messages[0]
		return out
	}

	lower := strings.ToLower(content)

	// 3. No-availability keywords.
	for _, kw := range c.noAvailKeywords {
		if strings.Contains(lower, kw) {
			out.Status = StatusUnavailable
			out.Reason = ReasonContentKeyword
			out.Detail = fmt.Sprintf("detected in content: %s", kw)
			return out
		}
	}

	// 4. Availability keywords.
	for _, kw := range c.availKeywords {
		if strings.Contains(lower, kw) {
			out.Status = StatusAvailable
			out.Reason = ReasonContentKeyword
			out.Detail = fmt.Sprintf("availability detected: %s", kw)
			return out
		}
	}

	// 5. Structural probe for next-step controls. Weak evidence.
	if probe != nil {
		for _, sel := range c.nextStepSelectors {
			found, err := probe.Exists(ctx, sel)
			if err != nil {
				c.logger.Debug("dom probe failed", zap.String("selector", sel), zap.Error(err))
				continue
			}
			if found {
				out.Status = StatusAvailable
				out.Reason = ReasonStructural
				out.Weak = true
				out.Detail = fmt.Sprintf("next-step control present: %s", sel)
				return out
			}
		}
	}

	// 6. Nothing matched.
	out.Status = StatusUncertain
	out.Detail = "availability could not be determined automatically"
	return out
}

// scanErrorMessages collects error banner texts, combining a structural walk
// over bold/span/div elements with the regexp table.
func (c *Classifier) scanErrorMessages(content string) []string {
	var messages []string
	seen := make(map[string]struct{})

	add := func(msg string) {
		msg = strings.TrimSpace(msg)
		if msg == "" {
			return
		}
		if _, dup := seen[msg]; dup {
			return
		}
		seen[msg] = struct{}{}
		messages = append(messages, msg)
	}

	// Structural pass: the site renders its error banners as bold text
	// containing fixed marker phrases.
	if doc, err := html.Parse(strings.NewReader(content)); err == nil {
		var walk func(n *html.Node)
		walk = func(n *html.Node) {
			if n.Type == html.ElementNode {
				switch n.Data {
				case "b", "strong", "span", "div":
					text := nodeText(n)
					for _, marker := range c.bannerMarkers {
						if strings.Contains(text, marker) {
							add(text)
							break
						}
					}
				}
			}
			for child := n.FirstChild; child != nil; child = child.NextSibling {
				walk(child)
			}
		}
		walk(doc)
	}

	// Pattern pass over the raw content catches phrasing outside banner
	// elements.
	for _, re := range c.bannerRegexps {
		for _, match := range re.FindAllString(content, -1) {
			add(stripTags(match))
		}
	}

	return messages
}

// categorizeError maps scraped error strings to an ErrorKind. First matching
// category wins; timeout phrasing is checked before no-availability.
func (c *Classifier) categorizeError(messages []string) ErrorKind {
	joined := strings.ToLower(strings.Join(messages, " "))

	for _, phrase := range c.timeoutPhrases {
		if strings.Contains(joined, phrase) {
			return ErrorTimeout
		}
	}
	for _, phrase := range c.noAvailPhrases {
		if strings.Contains(joined, phrase) {
			return ErrorNoAvailability
		}
	}
	return ErrorUnknown
}

// nodeText returns the concatenated text content of a node subtree, the way
// a browser would render it for matching purposes.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

var tagRe = regexp.MustCompile(`<[^>]+>`)

func stripTags(s string) string {
	return strings.TrimSpace(tagRe.ReplaceAllString(s, ""))
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
