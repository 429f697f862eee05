// internal/flow/advance.go

// Package flow drives the page transitions of the booking site: filling
// the identifier form, clicking the advance control until the site lets the
// session through, and probing the specialties status page.
package flow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fpalencia/licencia-scraper/internal/browser"
	"github.com/fpalencia/licencia-scraper/internal/classify"
	"github.com/fpalencia/licencia-scraper/internal/config"
)

// Dismisser clears blocking overlays. Satisfied by interstitial.Guard.
type Dismisser interface {
	DetectAndDismiss(ctx context.Context) (bool, error)
}

// Classifier turns a page snapshot into an Outcome. Satisfied by
// classify.Classifier.
type Classifier interface {
	Classify(ctx context.Context, pageURL, content string, probe classify.DomProbe) classify.Outcome
}

// cycleState is the result of one pass through the advance cycle.
type cycleState int

const (
	// cycleContinue means the cycle must run again after a short delay.
	cycleContinue cycleState = iota
	// cycleDone means the cycle produced a returnable Outcome.
	cycleDone
)

// Advancer owns the click-until-clear loop for a single session.
type Advancer struct {
	drv        browser.Driver
	guard      Dismisser
	classifier Classifier
	net        config.NetworkConfig
	logger     *zap.Logger
}

func NewAdvancer(drv browser.Driver, guard Dismisser, classifier Classifier, net config.NetworkConfig, logger *zap.Logger) *Advancer {
	return &Advancer{
		drv:        drv,
		guard:      guard,
		classifier: classifier,
		net:        net,
		logger:     logger,
	}
}

// AdvanceStep clicks the step control until the site yields a page that
// classifies as something other than a transient error. The retry is
// unbounded; the site times sessions out spuriously and a bounded retry
// would surface those as failures. Cancellation is the only way out
// besides a definitive Outcome.
func (a *Advancer) AdvanceStep(ctx context.Context, primary string, fallbacks []string) (classify.Outcome, error) {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return classify.Outcome{}, err
		}
		attempt++

		state, outcome := a.cycle(ctx, primary, fallbacks, attempt)
		if err := ctx.Err(); err != nil {
			return classify.Outcome{}, err
		}
		if state == cycleDone {
			return outcome, nil
		}

		if err := pause(ctx, a.net.RetryDelay); err != nil {
			return classify.Outcome{}, err
		}
	}
}

// cycle runs one locate-guard-click-guard-classify pass.
func (a *Advancer) cycle(ctx context.Context, primary string, fallbacks []string, attempt int) (cycleState, classify.Outcome) {
	selector, found := a.locate(ctx, primary, fallbacks)
	if !found {
		a.logger.Debug("Advance control not found, retrying", zap.Int("attempt", attempt))
		return cycleContinue, classify.Outcome{}
	}

	if _, err := a.guard.DetectAndDismiss(ctx); err != nil {
		return cycleContinue, classify.Outcome{}
	}

	if err := a.drv.Click(ctx, selector); err != nil {
		a.logger.Debug("Click failed, retrying cycle",
			zap.String("selector", selector), zap.Error(err))
		return cycleContinue, classify.Outcome{}
	}

	// The click triggers a server round trip. Wait for the resulting
	// document, then let its scripts settle.
	if err := a.drv.WaitReady(ctx); err != nil {
		if ctx.Err() != nil {
			return cycleContinue, classify.Outcome{}
		}
		a.logger.Debug("Document readiness wait failed", zap.Error(err))
	}
	if err := pause(ctx, a.net.PostLoadWait); err != nil {
		return cycleContinue, classify.Outcome{}
	}

	// An overlay appearing right after the click means the click's effect
	// was interrupted, not that the step failed. Re-run the cycle.
	present, err := a.guard.DetectAndDismiss(ctx)
	if err != nil {
		return cycleContinue, classify.Outcome{}
	}
	if present {
		a.logger.Info("Overlay appeared after click, repeating cycle", zap.Int("attempt", attempt))
		return cycleContinue, classify.Outcome{}
	}

	outcome := a.classifyPage(ctx)
	if outcome.Transient() {
		a.logger.Info("Transient error after advance, retrying",
			zap.String("kind", outcome.Kind.String()),
			zap.Int("attempt", attempt))
		return cycleContinue, classify.Outcome{}
	}
	return cycleDone, outcome
}

// locate returns the first selector with a match, primary first.
func (a *Advancer) locate(ctx context.Context, primary string, fallbacks []string) (string, bool) {
	for _, sel := range append([]string{primary}, fallbacks...) {
		if sel == "" {
			continue
		}
		found, err := a.drv.Exists(ctx, sel)
		if err != nil {
			a.logger.Debug("Selector probe failed", zap.String("selector", sel), zap.Error(err))
			continue
		}
		if found {
			return sel, true
		}
	}
	return "", false
}

// classifyPage snapshots the current URL and DOM and classifies them.
func (a *Advancer) classifyPage(ctx context.Context) classify.Outcome {
	url, err := a.drv.CurrentURL(ctx)
	if err != nil {
		a.logger.Debug("Could not read URL for classification", zap.Error(err))
	}
	content, err := a.drv.Content(ctx)
	if err != nil {
		a.logger.Debug("Could not read DOM for classification", zap.Error(err))
	}
	return a.classifier.Classify(ctx, url, content, probeFunc(a.drv.Exists))
}

func pause(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// probeFunc adapts a selector-existence function to classify.DomProbe.
type probeFunc func(ctx context.Context, selector string) (bool, error)

func (f probeFunc) Exists(ctx context.Context, selector string) (bool, error) {
	return f(ctx, selector)
}
