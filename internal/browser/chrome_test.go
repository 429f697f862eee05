// internal/browser/chrome_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpalencia/licencia-scraper/internal/config"
)

func TestQuoteJS(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain selector", in: `#dgGrilla_btIngresar_0`, want: `"#dgGrilla_btIngresar_0"`},
		{name: "embedded quotes", in: `button[title="Cerrar"]`, want: `"button[title=\"Cerrar\"]"`},
		{name: "empty", in: "", want: `""`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, quoteJS(tc.in))
		})
	}
}

func TestCombineContextCancelsOnSecondary(t *testing.T) {
	primary := context.Background()
	secondary, cancelSecondary := context.WithCancel(context.Background())

	combined, cancel := combineContext(primary, secondary)
	defer cancel()

	require.NoError(t, combined.Err())

	cancelSecondary()

	select {
	case <-combined.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("combined context not canceled after secondary cancellation")
	}
}

func TestCombineContextCancelsOnPrimary(t *testing.T) {
	primary, cancelPrimary := context.WithCancel(context.Background())
	secondary := context.Background()

	combined, cancel := combineContext(primary, secondary)
	defer cancel()

	cancelPrimary()

	select {
	case <-combined.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("combined context not canceled after primary cancellation")
	}
}

func TestBuildAllocatorOptionsDropsAutomationFlag(t *testing.T) {
	cfg := config.NewDefaultConfig()
	c := &Chrome{cfg: cfg.Browser, net: cfg.Network}

	opts := c.buildAllocatorOptions()
	require.NotEmpty(t, opts)

	for _, opt := range opts {
		if flag, ok := opt.(chromedp.Flag); ok {
			assert.NotEqual(t, "enable-automation", flag.Name)
		}
	}
}

func TestBuildAllocatorOptionsAppliesExtraArgs(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Browser.Args = []string{"--proxy-server=localhost:9050", "--mute-audio"}
	c := &Chrome{cfg: cfg.Browser, net: cfg.Network}

	var names []string
	for _, opt := range c.buildAllocatorOptions() {
		if flag, ok := opt.(chromedp.Flag); ok {
			names = append(names, flag.Name)
		}
	}
	assert.Contains(t, names, "proxy-server")
	assert.Contains(t, names, "mute-audio")
}
