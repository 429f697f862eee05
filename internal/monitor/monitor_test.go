// internal/monitor/monitor_test.go
package monitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/fpalencia/licencia-scraper/internal/browser"
	"github.com/fpalencia/licencia-scraper/internal/classify"
	"github.com/fpalencia/licencia-scraper/internal/config"
	"github.com/fpalencia/licencia-scraper/internal/decision"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeDriver renders a fixed page: every selector exists, the overlay
// probe reports nothing visible, and Content returns the configured HTML.
type fakeDriver struct {
	mu       sync.Mutex
	url      string
	content  string
	values   map[string]string
	closed   bool
	clicks   int
	hasTable bool
}

func (d *fakeDriver) Navigate(context.Context, string) error { return nil }

func (d *fakeDriver) CurrentURL(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, nil
}

func (d *fakeDriver) Content(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.content, nil
}

func (d *fakeDriver) Exists(context.Context, string) (bool, error) { return true, nil }

func (d *fakeDriver) SetValue(_ context.Context, selector, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.values == nil {
		d.values = map[string]string{}
	}
	d.values[selector] = value
	return nil
}

func (d *fakeDriver) Value(_ context.Context, selector string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.values[selector], nil
}

func (d *fakeDriver) Click(context.Context, string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clicks++
	return nil
}

func (d *fakeDriver) Press(context.Context, string) error { return nil }

func (d *fakeDriver) WaitReady(context.Context) error { return nil }

func (d *fakeDriver) Evaluate(_ context.Context, expr string, out any) error {
	switch p := out.(type) {
	case *int:
		*p = -1 // no visible overlay
	case *bool:
		*p = false
	default:
		// The specialties scan unmarshals a JSON structure, like the
		// real driver does with an evaluation result.
		if strings.Contains(expr, "hasTable") {
			d.mu.Lock()
			payload := fmt.Sprintf(`{"hasTable":%t,"hasButtons":%t,"errors":[]}`,
				d.hasTable, d.hasTable)
			d.mu.Unlock()
			return json.Unmarshal([]byte(payload), out)
		}
	}
	return nil
}

func (d *fakeDriver) Screenshot(context.Context, string) error { return nil }

func (d *fakeDriver) ClearBrowserState(context.Context) error { return nil }

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDriver) clickCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clicks
}

type countingFactory struct {
	mu       sync.Mutex
	drivers  []*fakeDriver
	url      string
	content  string
	hasTable bool
}

func (f *countingFactory) make(context.Context) (browser.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := &fakeDriver{url: f.url, content: f.content, hasTable: f.hasTable}
	f.drivers = append(f.drivers, d)
	return d, nil
}

func (f *countingFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.drivers)
}

type stopPrompter struct{}

func (stopPrompter) ErrorAction(classify.Outcome) decision.Action  { return decision.Stop }
func (stopPrompter) ResultAction(classify.Outcome) decision.Action { return decision.ContinueMonitoring }

// retryOncePrompter asks for a from-scratch retry on the first result,
// then lets the run finish.
type retryOncePrompter struct {
	mu    sync.Mutex
	calls int
}

func (p *retryOncePrompter) ErrorAction(classify.Outcome) decision.Action { return decision.Stop }

func (p *retryOncePrompter) ResultAction(classify.Outcome) decision.Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls == 1 {
		return decision.RetryFromScratch
	}
	return decision.ContinueMonitoring
}

func fastConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Monitor.PollInterval = 10 * time.Millisecond
	cfg.Monitor.ScreenshotDir = ""
	cfg.Monitor.JournalFile = ""
	cfg.Network.PostLoadWait = time.Millisecond
	cfg.Network.RetryDelay = time.Millisecond
	cfg.Network.SettleDelay = time.Millisecond
	return cfg
}

const rutFixture = "18977386-2"

func TestRunOnceDetectsNoAvailability(t *testing.T) {
	factory := &countingFactory{
		url:     "https://tramites.munistgo.cl/reservahoralicencia/",
		content: "<html><body>No existen horas disponibles</body></html>",
	}
	m := New(fastConfig(t), decision.SingleCheck, factory.make, stopPrompter{}, nil, zap.NewNop())

	out, err := m.RunOnce(context.Background(), rutFixture)
	require.NoError(t, err)
	assert.Equal(t, classify.StatusUnavailable, out.Status)
	assert.Equal(t, classify.ReasonContentKeyword, out.Reason)
	assert.Equal(t, 1, m.State().Attempt)
	require.Equal(t, 1, factory.count())
	assert.True(t, factory.drivers[0].closed, "session closed after the run")
}

func TestRunOnceDetectsAvailability(t *testing.T) {
	factory := &countingFactory{
		url:     "https://tramites.munistgo.cl/reservahoralicencia/",
		content: "<html><body>Seleccione fecha para reservar hora</body></html>",
	}
	m := New(fastConfig(t), decision.SingleCheck, factory.make, stopPrompter{}, nil, zap.NewNop())

	out, err := m.RunOnce(context.Background(), rutFixture)
	require.NoError(t, err)
	assert.Equal(t, classify.StatusAvailable, out.Status)
}

func TestRunOnceClicksThroughSpecialtiesTable(t *testing.T) {
	// The specialties page lists Ingresar buttons even when no slots
	// exist, so the run must click into the table and classify the page
	// that comes back instead of treating the table as availability.
	factory := &countingFactory{
		url:      "https://tramites.munistgo.cl/reservahoralicencia/estatus.aspx",
		content:  "<html><body>Seleccione fecha para reservar hora</body></html>",
		hasTable: true,
	}
	m := New(fastConfig(t), decision.SingleCheck, factory.make, stopPrompter{}, nil, zap.NewNop())

	out, err := m.RunOnce(context.Background(), rutFixture)
	require.NoError(t, err)
	assert.Equal(t, classify.StatusAvailable, out.Status)
	assert.Equal(t, classify.ReasonContentKeyword, out.Reason,
		"verdict comes from classifying the post-click page")
	require.Equal(t, 1, factory.count())
	assert.GreaterOrEqual(t, factory.drivers[0].clickCount(), 2,
		"form submit plus the specialties button")
}

func TestRunOnceClosesRecreatedSession(t *testing.T) {
	factory := &countingFactory{
		url:     "https://tramites.munistgo.cl/reservahoralicencia/",
		content: "<html><body>No existen horas disponibles</body></html>",
	}
	m := New(fastConfig(t), decision.SingleCheck, factory.make, &retryOncePrompter{}, nil, zap.NewNop())

	_, err := m.RunOnce(context.Background(), rutFixture)
	require.NoError(t, err)
	require.Equal(t, 2, factory.count(), "from-scratch retry builds a second session")
	for i, d := range factory.drivers {
		assert.True(t, d.closed, "driver %d closed", i)
	}
}

func TestRunContinuousRecreatesSessionBetweenIntervals(t *testing.T) {
	factory := &countingFactory{
		url:     "https://tramites.munistgo.cl/reservahoralicencia/",
		content: "<html><body>No existen horas disponibles</body></html>",
	}
	m := New(fastConfig(t), decision.Continuous, factory.make, nil, nil, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	require.NoError(t, m.RunContinuous(ctx, rutFixture))
	assert.GreaterOrEqual(t, m.State().Attempt, 2, "multiple cycles within the deadline")
	assert.GreaterOrEqual(t, factory.count(), 2, "fresh session per interval")
	assert.Equal(t, classify.StatusUnavailable, m.State().LastOutcome.Status)

	for _, d := range factory.drivers {
		assert.True(t, d.closed)
	}
}

func TestRunContinuousStopsCleanlyWhenCancelledEarly(t *testing.T) {
	factory := &countingFactory{
		url:     "https://tramites.munistgo.cl/reservahoralicencia/",
		content: "<html><body>No existen horas disponibles</body></html>",
	}
	m := New(fastConfig(t), decision.Continuous, factory.make, nil, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, m.RunContinuous(ctx, rutFixture))
	assert.Zero(t, m.State().Attempt)
}

func TestRunContinuousRedirectCountsAsUnavailable(t *testing.T) {
	cfg := fastConfig(t)
	factory := &countingFactory{
		url:     cfg.Site.TargetURL + cfg.Site.ErrorURLPattern,
		content: "<html><body></body></html>",
	}
	m := New(cfg, decision.Continuous, factory.make, nil, nil, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, m.RunContinuous(ctx, rutFixture))
	require.GreaterOrEqual(t, m.State().Attempt, 1)
	assert.Equal(t, classify.StatusUnavailable, m.State().LastOutcome.Status)
	assert.Equal(t, classify.ReasonRedirect, m.State().LastOutcome.Reason)
}

func TestJournalRecordsOutcomeLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal", "outcomes.jsonl")
	j, err := OpenJournal(path, zap.NewNop())
	require.NoError(t, err)

	j.Record(classify.Outcome{
		Status:     classify.StatusUnavailable,
		Reason:     classify.ReasonContentKeyword,
		URL:        "https://example.test",
		ObservedAt: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC),
	}, 3, "continue_monitoring")
	j.Record(classify.Outcome{
		Status:      classify.StatusError,
		Kind:        classify.ErrorTimeout,
		RawMessages: []string{"tiempo máximo de espera"},
	}, 4, "retry_keep_session")
	require.NoError(t, j.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"status":"unavailable"`)
	assert.Contains(t, lines[0], `"reason":"content_keyword"`)
	assert.Contains(t, lines[1], `"kind":"timeout"`)
	assert.Contains(t, lines[1], `"action":"retry_keep_session"`)
}

func TestJournalNilIsSafe(t *testing.T) {
	var j *Journal
	j.Record(classify.Outcome{}, 1, "stop")
	assert.NoError(t, j.Close())
}

func TestOpenJournalEmptyPathDisables(t *testing.T) {
	j, err := OpenJournal("", zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, j)
}
