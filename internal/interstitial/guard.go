// internal/interstitial/guard.go

// Package interstitial detects and dismisses the modal dialogs the booking
// site throws over the page at unpredictable moments. The dialogs carry no
// information the flow needs; they only block clicks underneath.
package interstitial

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp/kb"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/fpalencia/licencia-scraper/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Page is the slice of the browser surface the guard uses.
type Page interface {
	Evaluate(ctx context.Context, expr string, out any) error
	Press(ctx context.Context, key string) error
}

// Guard sweeps the page for visible overlays and works through a ladder of
// dismissal strategies until none remain.
type Guard struct {
	page     Page
	patterns config.PatternsConfig
	settle   time.Duration
	logger   *zap.Logger
}

func New(page Page, patterns config.PatternsConfig, settle time.Duration, logger *zap.Logger) *Guard {
	return &Guard{
		page:     page,
		patterns: patterns,
		settle:   settle,
		logger:   logger,
	}
}

// DetectAndDismiss reports whether any overlay was visible when called and
// tries to clear it. Dismissal failures are logged, not returned; the only
// error surfaced is context cancellation. The page is left usable either
// way, so callers never branch on a dismissal failure.
func (g *Guard) DetectAndDismiss(ctx context.Context) (bool, error) {
	selector, found, err := g.findVisibleOverlay(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		g.logger.Debug("Overlay probe failed", zap.Error(err))
		return false, nil
	}
	if !found {
		return false, nil
	}

	g.logger.Info("Interstitial dialog detected", zap.String("selector", selector))

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"close_control", g.clickCloseControl},
		{"escape_key", g.pressEscape},
		{"click_outside", g.clickOutside},
		{"force_hide", g.forceHide},
	}

	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			g.logger.Debug("Dismissal step failed", zap.String("step", step.name), zap.Error(err))
		}
		if err := g.wait(ctx); err != nil {
			return true, err
		}

		_, still, err := g.findVisibleOverlay(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			continue
		}
		if !still {
			g.logger.Info("Interstitial dismissed", zap.String("step", step.name))
			return true, nil
		}
	}

	// Every strategy ran and something is still visible. The force-hide
	// step neutralizes pointer blocking even when the node remains, so
	// the flow can proceed.
	g.logger.Warn("Interstitial may still be visible after all dismissal attempts")
	return true, nil
}

// findVisibleOverlay scans the configured selectors and returns the first
// one with a rendered, non-hidden match.
func (g *Guard) findVisibleOverlay(ctx context.Context) (string, bool, error) {
	expr := fmt.Sprintf(`(() => {
		const sels = %s;
		const visible = (el) => {
			const st = window.getComputedStyle(el);
			if (st.display === 'none' || st.visibility === 'hidden') return false;
			if (parseFloat(st.opacity) === 0) return false;
			return el.offsetWidth > 0 && el.offsetHeight > 0;
		};
		for (let i = 0; i < sels.length; i++) {
			try {
				for (const el of document.querySelectorAll(sels[i])) {
					if (visible(el)) return i;
				}
			} catch (e) {}
		}
		return -1;
	})()`, jsArray(g.patterns.OverlaySelectors))

	var idx int
	if err := g.page.Evaluate(ctx, expr, &idx); err != nil {
		return "", false, err
	}
	if idx < 0 || idx >= len(g.patterns.OverlaySelectors) {
		return "", false, nil
	}
	return g.patterns.OverlaySelectors[idx], true, nil
}

// clickCloseControl looks for a dismiss button inside the overlay, first by
// selector, then by visible text.
func (g *Guard) clickCloseControl(ctx context.Context) error {
	expr := fmt.Sprintf(`(() => {
		const closeSels = %s;
		const closeTexts = %s;
		for (const s of closeSels) {
			try {
				const el = document.querySelector(s);
				if (el && el.offsetWidth > 0) { el.click(); return true; }
			} catch (e) {}
		}
		const candidates = document.querySelectorAll('button, a, input[type="button"], input[type="submit"], span[onclick]');
		for (const el of candidates) {
			const label = ((el.innerText || el.value || '') + ' ' + (el.title || '')).trim().toLowerCase();
			if (!label) continue;
			if (closeTexts.some(t => label === t || label.includes(t))) {
				el.click();
				return true;
			}
		}
		return false;
	})()`, jsArray(g.patterns.CloseControlSelectors), jsArray(lowerAll(g.patterns.CloseControlTexts)))

	var clicked bool
	if err := g.page.Evaluate(ctx, expr, &clicked); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("no close control found")
	}
	return nil
}

func (g *Guard) pressEscape(ctx context.Context) error {
	return g.page.Press(ctx, kb.Escape)
}

// clickOutside dispatches a click on the topmost element at the viewport
// corner, where modal frameworks usually listen for outside clicks.
func (g *Guard) clickOutside(ctx context.Context) error {
	expr := `(() => {
		const el = document.elementFromPoint(5, 5) || document.body;
		el.dispatchEvent(new MouseEvent('click', { bubbles: true, cancelable: true, view: window }));
		return true;
	})()`
	return g.page.Evaluate(ctx, expr, nil)
}

// forceHide hides the overlay and strips backdrop elements so the page
// underneath accepts clicks again.
func (g *Guard) forceHide(ctx context.Context) error {
	expr := fmt.Sprintf(`(() => {
		const sels = %s;
		for (const s of sels) {
			try {
				for (const el of document.querySelectorAll(s)) {
					el.style.setProperty('display', 'none', 'important');
				}
			} catch (e) {}
		}
		const backdrops = %s;
		for (const s of backdrops) {
			try {
				for (const el of document.querySelectorAll(s)) { el.remove(); }
			} catch (e) {}
		}
		document.body.style.overflow = '';
		document.body.classList.remove('modal-open');
		return true;
	})()`, jsArray(g.patterns.OverlaySelectors), jsArray(g.patterns.BackdropSelectors))
	return g.page.Evaluate(ctx, expr, nil)
}

func (g *Guard) wait(ctx context.Context) error {
	select {
	case <-time.After(g.settle):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func jsArray(items []string) string {
	out, err := json.MarshalToString(items)
	if err != nil || items == nil {
		return "[]"
	}
	return out
}

func lowerAll(items []string) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = strings.ToLower(s)
	}
	return out
}
