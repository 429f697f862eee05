// internal/decision/decision.go

// Package decision maps a classified Outcome to the next step of the
// monitoring loop. Two policies exist: Continuous decides automatically,
// SingleCheck asks the operator.
package decision

import (
	"context"

	"go.uber.org/zap"

	"github.com/fpalencia/licencia-scraper/internal/classify"
)

// Action is what the monitoring driver does next.
type Action int

const (
	// RetryFromScratch tears the session down and starts over.
	RetryFromScratch Action = iota
	// RetryKeepSession re-runs the check on the existing session.
	RetryKeepSession
	// ContinueMonitoring waits out the poll interval, then checks again.
	ContinueMonitoring
	// PauseForManualIntervention hands the browser to the operator.
	PauseForManualIntervention
	// Stop ends the run.
	Stop
)

func (a Action) String() string {
	switch a {
	case RetryFromScratch:
		return "retry_from_scratch"
	case RetryKeepSession:
		return "retry_keep_session"
	case ContinueMonitoring:
		return "continue_monitoring"
	case PauseForManualIntervention:
		return "pause_for_manual_intervention"
	default:
		return "stop"
	}
}

// RunMode selects the decision policy for the whole run.
type RunMode int

const (
	SingleCheck RunMode = iota
	Continuous
)

// Dismisser clears blocking overlays. Satisfied by interstitial.Guard.
type Dismisser interface {
	DetectAndDismiss(ctx context.Context) (bool, error)
}

// Prompter collects the operator's choice in SingleCheck mode. The prompt
// implementations resolve their sub-menus internally and return a final
// Action.
type Prompter interface {
	// ErrorAction presents a failed or inconclusive outcome and returns
	// what to do about it.
	ErrorAction(outcome classify.Outcome) Action
	// ResultAction presents a definitive outcome and returns what to do
	// next.
	ResultAction(outcome classify.Outcome) Action
}

// Engine turns Outcomes into Actions. It is total: every Outcome yields
// exactly one Action, and no input makes it fail.
type Engine struct {
	mode     RunMode
	guard    Dismisser
	prompter Prompter
	logger   *zap.Logger
}

func NewEngine(mode RunMode, guard Dismisser, prompter Prompter, logger *zap.Logger) *Engine {
	return &Engine{
		mode:     mode,
		guard:    guard,
		prompter: prompter,
		logger:   logger,
	}
}

// Decide picks the next Action for outcome under the engine's mode.
// Cancellation always wins and maps to Stop.
func (e *Engine) Decide(ctx context.Context, outcome classify.Outcome) Action {
	if ctx.Err() != nil {
		return Stop
	}
	if e.mode == Continuous {
		return e.decideContinuous(ctx, outcome)
	}
	return e.decideInteractive(outcome)
}

func (e *Engine) decideContinuous(ctx context.Context, outcome classify.Outcome) Action {
	switch outcome.Status {
	case classify.StatusError:
		if outcome.Transient() {
			// A leftover overlay is the usual cause of spurious
			// timeouts. Clear it before the retry; the retry happens
			// regardless of what the guard found.
			if cleared, err := e.guard.DetectAndDismiss(ctx); err == nil && cleared {
				e.logger.Info("Overlay cleared before retry",
					zap.String("kind", outcome.Kind.String()))
			}
			return RetryKeepSession
		}
		if outcome.Kind == classify.ErrorNoAvailability {
			return ContinueMonitoring
		}
		return RetryKeepSession
	case classify.StatusUnavailable:
		return ContinueMonitoring
	case classify.StatusAvailable:
		// The whole point of the run. Keep polling so the operator sees
		// it repeated, and make it loud.
		e.logger.Info("APPOINTMENT SLOTS DETECTED",
			zap.String("reason", outcome.Reason.String()),
			zap.String("url", outcome.URL),
			zap.Bool("weak_evidence", outcome.Weak))
		return ContinueMonitoring
	default:
		return RetryKeepSession
	}
}

func (e *Engine) decideInteractive(outcome classify.Outcome) Action {
	if outcome.Status == classify.StatusError || outcome.Status == classify.StatusUncertain {
		return e.prompter.ErrorAction(outcome)
	}
	return e.prompter.ResultAction(outcome)
}
