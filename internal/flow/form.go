// internal/flow/form.go
package flow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fpalencia/licencia-scraper/internal/browser"
	"github.com/fpalencia/licencia-scraper/internal/config"
)

// Filler writes the identifier into the site's entry form and submits it.
type Filler struct {
	drv      browser.Driver
	guard    Dismisser
	patterns config.PatternsConfig
	net      config.NetworkConfig
	logger   *zap.Logger
}

func NewFiller(drv browser.Driver, guard Dismisser, patterns config.PatternsConfig, net config.NetworkConfig, logger *zap.Logger) *Filler {
	return &Filler{
		drv:      drv,
		guard:    guard,
		patterns: patterns,
		net:      net,
		logger:   logger,
	}
}

// FillIdentifier locates the identifier field, clears whatever the site
// pre-filled, writes id, verifies the round trip, and submits. The site's
// form markup drifts between deployments, so both the field and the submit
// control are found through fallback selector lists.
func (f *Filler) FillIdentifier(ctx context.Context, id string) error {
	if _, err := f.guard.DetectAndDismiss(ctx); err != nil {
		return err
	}

	fieldSel, err := f.firstPresent(ctx, f.patterns.IdentifierFieldSelectors)
	if err != nil {
		return fmt.Errorf("locating identifier field: %w", err)
	}
	f.logger.Debug("Identifier field located", zap.String("selector", fieldSel))

	if err := f.clearField(ctx, fieldSel); err != nil {
		return err
	}

	if err := f.drv.SetValue(ctx, fieldSel, id); err != nil {
		return fmt.Errorf("filling identifier: %w", err)
	}

	if ok, err := f.verify(ctx, fieldSel, id); err != nil {
		return err
	} else if !ok {
		// The site's own scripts sometimes swallow programmatic input.
		// Typing character by character goes through the real event
		// pipeline.
		f.logger.Debug("Round-trip verification failed, typing character by character")
		if err := f.typeSlowly(ctx, fieldSel, id); err != nil {
			return err
		}
		if ok, err := f.verify(ctx, fieldSel, id); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("identifier field did not accept value after retry")
		}
	}

	submitSel, err := f.firstPresent(ctx, f.patterns.SubmitSelectors)
	if err != nil {
		return fmt.Errorf("locating submit control: %w", err)
	}
	if err := f.drv.Click(ctx, submitSel); err != nil {
		return fmt.Errorf("submitting form: %w", err)
	}
	if err := pause(ctx, f.net.PostLoadWait); err != nil {
		return err
	}

	if _, err := f.guard.DetectAndDismiss(ctx); err != nil {
		return err
	}
	f.logger.Info("Identifier submitted", zap.String("field", fieldSel), zap.String("submit", submitSel))
	return nil
}

// clearField empties the input and confirms it stayed empty.
func (f *Filler) clearField(ctx context.Context, selector string) error {
	if err := f.drv.SetValue(ctx, selector, ""); err != nil {
		return fmt.Errorf("clearing identifier field: %w", err)
	}
	value, err := f.drv.Value(ctx, selector)
	if err != nil {
		return fmt.Errorf("reading identifier field: %w", err)
	}
	if strings.TrimSpace(value) != "" {
		// A value the reset did not remove usually comes from an
		// onfocus handler; click in and delete through the keyboard.
		if err := f.drv.Click(ctx, selector); err != nil {
			return fmt.Errorf("focusing identifier field: %w", err)
		}
		for range value {
			if err := f.drv.Press(ctx, "\b"); err != nil {
				return fmt.Errorf("clearing identifier field: %w", err)
			}
		}
	}
	return nil
}

func (f *Filler) verify(ctx context.Context, selector, want string) (bool, error) {
	got, err := f.drv.Value(ctx, selector)
	if err != nil {
		return false, fmt.Errorf("verifying identifier field: %w", err)
	}
	return strings.TrimSpace(got) == want, nil
}

func (f *Filler) typeSlowly(ctx context.Context, selector, text string) error {
	if err := f.drv.SetValue(ctx, selector, ""); err != nil {
		return err
	}
	if err := f.drv.Click(ctx, selector); err != nil {
		return err
	}
	for _, r := range text {
		if err := f.drv.Press(ctx, string(r)); err != nil {
			return err
		}
	}
	return nil
}

// firstPresent returns the first selector in the list with a match.
func (f *Filler) firstPresent(ctx context.Context, selectors []string) (string, error) {
	for _, sel := range selectors {
		found, err := f.drv.Exists(ctx, sel)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		if found {
			return sel, nil
		}
	}
	return "", fmt.Errorf("no selector matched out of %d candidates", len(selectors))
}
