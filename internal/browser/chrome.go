// internal/browser/chrome.go
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/fpalencia/licencia-scraper/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Chrome drives a single Chromium tab over the DevTools protocol.
type Chrome struct {
	id     string
	cfg    config.BrowserConfig
	net    config.NetworkConfig
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	sessCtx     context.Context
	sessCancel  context.CancelFunc
}

// Launch starts a browser process, opens a tab, and verifies it responds
// before returning. A failure here wraps ErrBootstrap.
func Launch(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Chrome, error) {
	id := uuid.NewString()
	c := &Chrome{
		id:     id,
		cfg:    cfg.Browser,
		net:    cfg.Network,
		logger: logger.With(zap.String("session_id", id[:8])),
	}

	if c.cfg.Engine != "chromium" {
		// Only the DevTools protocol is wired in; other engines fall
		// back to Chromium rather than failing the run.
		c.logger.Warn("Unsupported browser engine, using chromium",
			zap.String("requested", c.cfg.Engine))
	}

	opts := c.buildAllocatorOptions()

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	c.allocCtx = allocCtx
	c.allocCancel = allocCancel

	// Confirm the process starts and answers a trivial command before
	// handing the session to callers.
	probeCtx, cancelProbe := context.WithTimeout(allocCtx, 30*time.Second)
	probeCtx, cancelProbeTab := chromedp.NewContext(probeCtx)
	err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank"))
	cancelProbeTab()
	cancelProbe()
	if err != nil {
		allocCancel()
		return nil, fmt.Errorf("%w: browser failed to start or respond: %v", ErrBootstrap, err)
	}

	sessCtx, sessCancel := chromedp.NewContext(allocCtx)
	c.sessCtx = sessCtx
	c.sessCancel = sessCancel

	if err := chromedp.Run(sessCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": c.cfg.Locale,
		}),
	); err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: session setup: %v", ErrBootstrap, err)
	}

	c.logger.Info("Browser launched and responsive",
		zap.Bool("headless", c.cfg.Headless))
	return c, nil
}

// buildAllocatorOptions assembles launch flags, dropping the defaults that
// advertise automation to the page.
func (c *Chrome) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	var opts []chromedp.ExecAllocatorOption
	for _, opt := range chromedp.DefaultExecAllocatorOptions[:] {
		if flag, ok := opt.(chromedp.Flag); ok && flag.Name == "enable-automation" {
			continue
		}
		opts = append(opts, opt)
	}

	opts = append(opts,
		chromedp.Flag("headless", c.cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", c.cfg.Headless),
		chromedp.Flag("lang", c.cfg.Locale),
		chromedp.UserAgent(c.cfg.UserAgent),
		chromedp.WindowSize(c.cfg.ViewportWidth, c.cfg.ViewportHeight),
	)

	for _, arg := range c.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	// Containerized Linux needs the sandbox disabled to start at all.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}

	return opts
}

// run executes actions against the session, bounded by both the caller's
// context and the session lifetime.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(c.sessCtx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	c.logger.Debug("Navigating", zap.String("url", url))
	navCtx, cancel := context.WithTimeout(ctx, c.net.NavigationTimeout)
	defer cancel()
	return c.run(navCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			if c.cfg.DisableCache {
				return network.SetCacheDisabled(true).Do(ctx)
			}
			return nil
		}),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		// Let the page's own scripts settle before callers inspect it.
		chromedp.Sleep(c.net.PostLoadWait),
	)
}

func (c *Chrome) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := c.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("reading location: %w", err)
	}
	return url, nil
}

func (c *Chrome) Content(ctx context.Context) (string, error) {
	var dom string
	if err := c.run(ctx, chromedp.OuterHTML("html", &dom)); err != nil {
		return "", fmt.Errorf("capturing dom: %w", err)
	}
	return dom, nil
}

func (c *Chrome) Exists(ctx context.Context, selector string) (bool, error) {
	var found bool
	expr := fmt.Sprintf("document.querySelector(%s) !== null", quoteJS(selector))
	if err := c.run(ctx, chromedp.Evaluate(expr, &found)); err != nil {
		return false, fmt.Errorf("probing %q: %w", selector, err)
	}
	return found, nil
}

func (c *Chrome) SetValue(ctx context.Context, selector, value string) error {
	// Setting the property directly bypasses any input mask; the events
	// keep framework listeners in sync.
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.focus();
		el.value = %s;
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	})()`, quoteJS(selector), quoteJS(value))

	var ok bool
	if err := c.run(ctx, chromedp.Evaluate(expr, &ok)); err != nil {
		return fmt.Errorf("filling %q: %w", selector, err)
	}
	if !ok {
		return fmt.Errorf("filling %q: element not found", selector)
	}
	return nil
}

func (c *Chrome) Value(ctx context.Context, selector string) (string, error) {
	var value string
	expr := fmt.Sprintf(`(document.querySelector(%s) || {}).value || ""`, quoteJS(selector))
	if err := c.run(ctx, chromedp.Evaluate(expr, &value)); err != nil {
		return "", fmt.Errorf("reading value of %q: %w", selector, err)
	}
	return value, nil
}

func (c *Chrome) Click(ctx context.Context, selector string) error {
	clickCtx, cancel := context.WithTimeout(ctx, c.net.LocateTimeout)
	defer cancel()
	if err := c.run(clickCtx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("clicking %q: %w", selector, err)
	}
	return nil
}

func (c *Chrome) Press(ctx context.Context, key string) error {
	if err := c.run(ctx, chromedp.KeyEvent(key)); err != nil {
		return fmt.Errorf("pressing key: %w", err)
	}
	return nil
}

func (c *Chrome) WaitReady(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, c.net.NavigationTimeout)
	defer cancel()
	if err := c.run(waitCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("waiting for document: %w", err)
	}
	return nil
}

func (c *Chrome) Evaluate(ctx context.Context, expr string, out any) error {
	if out == nil {
		var discard any
		out = &discard
	}
	return c.run(ctx, chromedp.Evaluate(expr, out))
}

func (c *Chrome) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := c.run(ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return fmt.Errorf("capturing screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating screenshot dir: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("writing screenshot: %w", err)
	}
	c.logger.Debug("Screenshot saved", zap.String("path", path))
	return nil
}

func (c *Chrome) ClearBrowserState(ctx context.Context) error {
	err := c.run(ctx,
		network.ClearBrowserCookies(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return storage.ClearDataForOrigin("*", "all").Do(ctx)
		}),
		chromedp.Evaluate(`(() => {
			try { localStorage.clear(); sessionStorage.clear(); } catch (e) {}
			return true;
		})()`, nil),
	)
	if err != nil {
		return fmt.Errorf("clearing browser state: %w", err)
	}
	c.logger.Debug("Browser state cleared")
	return nil
}

// Close tears down the tab first, then the browser process. Safe to call
// more than once.
func (c *Chrome) Close() error {
	if c.sessCancel != nil {
		c.sessCancel()
		c.sessCancel = nil
	}
	if c.allocCancel != nil {
		c.allocCancel()
		c.allocCancel = nil
	}
	return nil
}

// quoteJS renders s as a JavaScript string literal.
func quoteJS(s string) string {
	quoted, err := json.MarshalToString(s)
	if err != nil {
		// Marshaling a string cannot fail; keep the compiler happy.
		return `""`
	}
	return quoted
}

// combineContext derives a context from primary that is also canceled when
// secondary is done. chromedp needs primary's values (the CDP target), so
// the derivation order matters.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
