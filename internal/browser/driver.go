// internal/browser/driver.go
package browser

import (
	"context"
	"errors"
)

// ErrBootstrap marks failures that happen before the browser answered its
// first command. Callers treat these as fatal rather than retryable.
var ErrBootstrap = errors.New("browser bootstrap failed")

// Driver is the narrow surface the polling flow needs from a browser
// session. Implementations own a single tab; all methods honor the passed
// context in addition to the session's own lifetime.
type Driver interface {
	// Navigate loads the URL and waits for the document plus a settle
	// delay, so callers see a quiescent page.
	Navigate(ctx context.Context, url string) error

	// CurrentURL reports the address the tab ended up on, redirects
	// included.
	CurrentURL(ctx context.Context) (string, error)

	// Content returns the serialized DOM of the current page.
	Content(ctx context.Context) (string, error)

	// Exists reports whether the selector matches at least one element.
	// A missing element is not an error.
	Exists(ctx context.Context, selector string) (bool, error)

	// SetValue clears the matched input and writes value into it,
	// firing the input and change events the page listens for.
	SetValue(ctx context.Context, selector, value string) error

	// Value reads back the current value of the matched input.
	Value(ctx context.Context, selector string) (string, error)

	// Click dispatches a click on the first match. The element must be
	// present within the driver's locate timeout.
	Click(ctx context.Context, selector string) error

	// Press sends a keyboard key (e.g. kb.Escape) to the focused element.
	Press(ctx context.Context, key string) error

	// WaitReady blocks until the current document reports ready, bounded
	// by the driver's navigation timeout. Used after interactions that
	// trigger a server round trip.
	WaitReady(ctx context.Context) error

	// Evaluate runs the JavaScript expression and unmarshals the result
	// into out. Pass nil to discard the result.
	Evaluate(ctx context.Context, expr string, out any) error

	// Screenshot captures the full page as PNG at path, creating parent
	// directories as needed.
	Screenshot(ctx context.Context, path string) error

	// ClearBrowserState drops cookies and origin storage so the next
	// navigation starts a fresh server-side session.
	ClearBrowserState(ctx context.Context) error

	// Close tears down the tab and the browser process.
	Close() error
}
