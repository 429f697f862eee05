// internal/monitor/monitor.go

// Package monitor owns the top-level check loop: it creates browser
// sessions, runs one availability check per cycle, and obeys the decision
// engine's verdicts.
package monitor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fpalencia/licencia-scraper/internal/browser"
	"github.com/fpalencia/licencia-scraper/internal/classify"
	"github.com/fpalencia/licencia-scraper/internal/config"
	"github.com/fpalencia/licencia-scraper/internal/decision"
	"github.com/fpalencia/licencia-scraper/internal/flow"
	"github.com/fpalencia/licencia-scraper/internal/interstitial"
)

// Factory creates a fresh browser session. A failure here is fatal; the
// run cannot proceed without a browser.
type Factory func(ctx context.Context) (browser.Driver, error)

// SessionState tracks the loop's progress across cycles. Owned and mutated
// only by the Monitor.
type SessionState struct {
	// Attempt counts completed check cycles.
	Attempt int
	// LastOutcome is the most recent classification.
	LastOutcome classify.Outcome
	// Recreate forces session teardown before the next cycle, which
	// invalidates server-side state cached against the old session.
	Recreate bool
}

// session bundles the per-browser collaborators. Rebuilt whenever the
// underlying driver is recreated.
type session struct {
	drv      browser.Driver
	guard    *interstitial.Guard
	filler   *flow.Filler
	advancer *flow.Advancer
	probe    *flow.StatusProbe
	engine   *decision.Engine
}

// Monitor runs availability checks against the booking site.
type Monitor struct {
	cfg      *config.Config
	mode     decision.RunMode
	factory  Factory
	prompter decision.Prompter
	journal  *Journal
	logger   *zap.Logger

	state SessionState
}

func New(cfg *config.Config, mode decision.RunMode, factory Factory, prompter decision.Prompter, journal *Journal, logger *zap.Logger) *Monitor {
	return &Monitor{
		cfg:      cfg,
		mode:     mode,
		factory:  factory,
		prompter: prompter,
		journal:  journal,
		logger:   logger,
	}
}

// State returns a copy of the loop state, for reporting.
func (m *Monitor) State() SessionState { return m.state }

func (m *Monitor) newSession(ctx context.Context) (*session, error) {
	drv, err := m.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating browser session: %w", err)
	}
	guard := interstitial.New(drv, m.cfg.Patterns, m.cfg.Network.SettleDelay, m.logger)
	classifier, err := classify.New(m.cfg.Site, m.cfg.Patterns, m.logger)
	if err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("building classifier: %w", err)
	}
	return &session{
		drv:      drv,
		guard:    guard,
		filler:   flow.NewFiller(drv, guard, m.cfg.Patterns, m.cfg.Network, m.logger),
		advancer: flow.NewAdvancer(drv, guard, classifier, m.cfg.Network, m.logger),
		probe:    flow.NewStatusProbe(drv, m.cfg.Site, m.cfg.Patterns, m.cfg.Network, m.logger),
		engine:   decision.NewEngine(m.mode, guard, m.prompter, m.logger),
	}, nil
}

// RunOnce performs a single interactive check. Operator choices from the
// SingleCheck menus can replay the check before it settles on a final
// outcome.
func (m *Monitor) RunOnce(ctx context.Context, id string) (classify.Outcome, error) {
	s, err := m.newSession(ctx)
	if err != nil {
		return classify.Outcome{}, err
	}
	// Closure so replacing s after a from-scratch retry still closes the
	// live session, not the original.
	defer func() { m.closeSession(s) }()

	for {
		if err := ctx.Err(); err != nil {
			return classify.Outcome{}, err
		}

		outcome := m.check(ctx, s, id)
		if err := ctx.Err(); err != nil {
			return outcome, err
		}
		m.state.Attempt++
		m.state.LastOutcome = outcome

		action := s.engine.Decide(ctx, outcome)
		m.journal.Record(outcome, m.state.Attempt, action.String())
		m.logger.Info("Check cycle complete",
			zap.Int("attempt", m.state.Attempt),
			zap.String("status", outcome.Status.String()),
			zap.String("action", action.String()))

		switch action {
		case decision.RetryFromScratch:
			m.closeSession(s)
			s, err = m.newSession(ctx)
			if err != nil {
				return outcome, err
			}
		case decision.RetryKeepSession, decision.PauseForManualIntervention:
			// Loop again on the surviving session.
		default:
			return outcome, nil
		}
	}
}

// RunContinuous polls until the context is canceled. Only a fatal session
// bootstrap failure returns an error; everything else feeds back into the
// loop.
func (m *Monitor) RunContinuous(ctx context.Context, id string) error {
	var s *session
	defer func() {
		if s != nil {
			m.closeSession(s)
		}
	}()

	for {
		if ctx.Err() != nil {
			m.logger.Info("Monitoring stopped", zap.Int("attempts", m.state.Attempt))
			return nil
		}

		if s == nil || m.state.Recreate {
			if s != nil {
				m.closeSession(s)
			}
			var err error
			s, err = m.newSession(ctx)
			if err != nil {
				return err
			}
			m.state.Recreate = false
		}

		outcome := m.check(ctx, s, id)
		if ctx.Err() != nil {
			continue
		}
		m.state.Attempt++
		m.state.LastOutcome = outcome

		action := s.engine.Decide(ctx, outcome)
		m.journal.Record(outcome, m.state.Attempt, action.String())
		m.logger.Info("Check cycle complete",
			zap.Int("attempt", m.state.Attempt),
			zap.String("status", outcome.Status.String()),
			zap.String("action", action.String()))

		switch action {
		case decision.Stop:
			return nil
		case decision.RetryFromScratch:
			m.state.Recreate = true
		case decision.RetryKeepSession, decision.PauseForManualIntervention:
			if err := m.sleep(ctx, m.cfg.Network.RetryDelay); err != nil {
				continue
			}
		case decision.ContinueMonitoring:
			if err := m.waitInterval(ctx); err != nil {
				continue
			}
			// A fresh session each interval avoids state bleed from
			// the previous cycle.
			m.state.Recreate = true
		}
	}
}

// check runs one navigate-fill-advance cycle. It never returns an error:
// faults become Error outcomes and flow into the decision policy. Only
// cancellation aborts early, detected by the caller through ctx.
func (m *Monitor) check(ctx context.Context, s *session, id string) classify.Outcome {
	if err := s.drv.Navigate(ctx, m.cfg.Site.TargetURL); err != nil {
		return faultOutcome("navigation failed", err)
	}
	m.screenshot(ctx, s, "loaded")

	if err := s.filler.FillIdentifier(ctx, id); err != nil {
		if ctx.Err() != nil {
			return classify.Outcome{}
		}
		return faultOutcome("form fill failed", err)
	}
	m.screenshot(ctx, s, "submitted")

	// The specialties status page renders asynchronously; the probe
	// settles its loading and error states. A healthy specialties table
	// is not handled here and falls through to the advance loop, which
	// clicks into it and classifies the page that comes back.
	if outcome, handled := s.probe.Check(ctx); handled {
		m.screenshot(ctx, s, "status")
		return outcome
	}

	outcome, err := s.advancer.AdvanceStep(ctx,
		m.cfg.Patterns.AdvanceSelector, m.cfg.Patterns.AdvanceFallbackSelectors)
	if err != nil {
		return classify.Outcome{}
	}
	m.screenshot(ctx, s, "result")
	return outcome
}

// screenshot captures the page for the phase, best effort.
func (m *Monitor) screenshot(ctx context.Context, s *session, phase string) {
	if m.cfg.Monitor.ScreenshotDir == "" {
		return
	}
	name := fmt.Sprintf("%s_%s.png", time.Now().UTC().Format("20060102T150405Z"), phase)
	path := filepath.Join(m.cfg.Monitor.ScreenshotDir, name)
	if err := s.drv.Screenshot(ctx, path); err != nil {
		m.logger.Debug("Screenshot failed", zap.String("phase", phase), zap.Error(err))
	}
}

// waitInterval sleeps out the poll interval, logging a countdown once per
// minute so an attended terminal shows progress.
func (m *Monitor) waitInterval(ctx context.Context) error {
	remaining := m.cfg.Monitor.PollInterval
	m.logger.Info("Waiting for next check",
		zap.Duration("interval", remaining))

	for remaining > 0 {
		step := time.Minute
		if remaining < step {
			step = remaining
		}
		if err := m.sleep(ctx, step); err != nil {
			return err
		}
		remaining -= step
		if remaining > 0 {
			m.logger.Info("Next check countdown", zap.Duration("remaining", remaining))
		}
	}
	return nil
}

func (m *Monitor) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) closeSession(s *session) {
	if s == nil {
		return
	}
	if err := s.drv.Close(); err != nil {
		m.logger.Warn("Session close failed", zap.Error(err))
	}
}

func faultOutcome(detail string, err error) classify.Outcome {
	return classify.Outcome{
		Status:      classify.StatusError,
		Kind:        classify.ErrorUnknown,
		Detail:      detail,
		RawMessages: []string{err.Error()},
		ObservedAt:  time.Now().UTC(),
	}
}
