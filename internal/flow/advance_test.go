// internal/flow/advance_test.go
package flow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fpalencia/licencia-scraper/internal/classify"
	"github.com/fpalencia/licencia-scraper/internal/config"
)

// fakeDriver scripts selector presence and records interactions. Exists
// consults present[selector]; a queue of values per selector lets tests
// change answers between cycles.
type fakeDriver struct {
	present    map[string][]bool
	clicks     []string
	values     map[string]string
	setValues  []string
	pressed    []string
	url        string
	content    string
	loading    []bool
	scan       statusScan
	failClicks int
	waits      int
	exprs      []string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		present: map[string][]bool{},
		values:  map[string]string{},
	}
}

func (d *fakeDriver) Navigate(context.Context, string) error { return nil }

func (d *fakeDriver) CurrentURL(context.Context) (string, error) { return d.url, nil }

func (d *fakeDriver) Content(context.Context) (string, error) { return d.content, nil }

func (d *fakeDriver) Exists(_ context.Context, selector string) (bool, error) {
	queue := d.present[selector]
	if len(queue) == 0 {
		return false, nil
	}
	head := queue[0]
	if len(queue) > 1 {
		d.present[selector] = queue[1:]
	}
	return head, nil
}

func (d *fakeDriver) SetValue(_ context.Context, selector, value string) error {
	d.setValues = append(d.setValues, value)
	d.values[selector] = value
	return nil
}

func (d *fakeDriver) Value(_ context.Context, selector string) (string, error) {
	return d.values[selector], nil
}

func (d *fakeDriver) Click(_ context.Context, selector string) error {
	if d.failClicks > 0 {
		d.failClicks--
		return fmt.Errorf("click failed")
	}
	d.clicks = append(d.clicks, selector)
	return nil
}

func (d *fakeDriver) Press(_ context.Context, key string) error {
	d.pressed = append(d.pressed, key)
	return nil
}

func (d *fakeDriver) WaitReady(context.Context) error {
	d.waits++
	return nil
}

// Evaluate answers the two probes the flow package issues: the loading
// phrase check (boolean queue) and the specialties table scan.
func (d *fakeDriver) Evaluate(_ context.Context, expr string, out any) error {
	d.exprs = append(d.exprs, expr)
	switch p := out.(type) {
	case *bool:
		if len(d.loading) > 0 {
			*p = d.loading[0]
			if len(d.loading) > 1 {
				d.loading = d.loading[1:]
			}
		}
	case *statusScan:
		*p = d.scan
	}
	return nil
}

func (d *fakeDriver) Screenshot(context.Context, string) error { return nil }

func (d *fakeDriver) ClearBrowserState(context.Context) error { return nil }

func (d *fakeDriver) Close() error { return nil }

// scriptedGuard returns presence values from a queue.
type scriptedGuard struct {
	results []bool
	calls   int
}

func (g *scriptedGuard) DetectAndDismiss(context.Context) (bool, error) {
	defer func() { g.calls++ }()
	if g.calls < len(g.results) {
		return g.results[g.calls], nil
	}
	return false, nil
}

// scriptedClassifier returns outcomes from a queue, repeating the last.
type scriptedClassifier struct {
	outcomes []classify.Outcome
	calls    int
}

func (c *scriptedClassifier) Classify(_ context.Context, _, _ string, _ classify.DomProbe) classify.Outcome {
	i := c.calls
	c.calls++
	if i >= len(c.outcomes) {
		i = len(c.outcomes) - 1
	}
	return c.outcomes[i]
}

func fastNet() config.NetworkConfig {
	return config.NetworkConfig{
		NavigationTimeout: time.Second,
		PostLoadWait:      time.Millisecond,
		RetryDelay:        time.Millisecond,
		SettleDelay:       time.Millisecond,
		LocateTimeout:     time.Second,
	}
}

const advanceSel = "#dgGrilla_btIngresar_0"

func TestAdvanceStepReturnsDefinitiveOutcome(t *testing.T) {
	drv := newFakeDriver()
	drv.present[advanceSel] = []bool{true}
	cls := &scriptedClassifier{outcomes: []classify.Outcome{
		{Status: classify.StatusUnavailable, Reason: classify.ReasonContentKeyword},
	}}
	a := NewAdvancer(drv, &scriptedGuard{}, cls, fastNet(), zap.NewNop())

	out, err := a.AdvanceStep(context.Background(), advanceSel, nil)
	require.NoError(t, err)
	assert.Equal(t, classify.StatusUnavailable, out.Status)
	assert.Equal(t, []string{advanceSel}, drv.clicks)
}

func TestAdvanceStepRetriesTransientThenSucceeds(t *testing.T) {
	drv := newFakeDriver()
	drv.present[advanceSel] = []bool{true}
	cls := &scriptedClassifier{outcomes: []classify.Outcome{
		{Status: classify.StatusError, Kind: classify.ErrorTimeout},
		{Status: classify.StatusError, Kind: classify.ErrorStatusPage},
		{Status: classify.StatusAvailable, Reason: classify.ReasonContentKeyword},
	}}
	a := NewAdvancer(drv, &scriptedGuard{}, cls, fastNet(), zap.NewNop())

	out, err := a.AdvanceStep(context.Background(), advanceSel, nil)
	require.NoError(t, err)
	assert.Equal(t, classify.StatusAvailable, out.Status)
	assert.Len(t, drv.clicks, 3, "one click per cycle")
}

func TestAdvanceStepFallsBackToSecondarySelector(t *testing.T) {
	drv := newFakeDriver()
	drv.present["input[value='Ingresar']"] = []bool{true}
	cls := &scriptedClassifier{outcomes: []classify.Outcome{
		{Status: classify.StatusUnavailable, Reason: classify.ReasonRedirect},
	}}
	a := NewAdvancer(drv, &scriptedGuard{}, cls, fastNet(), zap.NewNop())

	out, err := a.AdvanceStep(context.Background(), advanceSel, []string{"input[value='Ingresar']"})
	require.NoError(t, err)
	assert.Equal(t, classify.StatusUnavailable, out.Status)
	assert.Equal(t, []string{"input[value='Ingresar']"}, drv.clicks)
}

func TestAdvanceStepRepeatsCycleWhenOverlayFollowsClick(t *testing.T) {
	drv := newFakeDriver()
	drv.present[advanceSel] = []bool{true}
	// Guard calls alternate pre-click and post-click. The first post-click
	// check reports an overlay, forcing a second cycle.
	guard := &scriptedGuard{results: []bool{false, true, false, false}}
	cls := &scriptedClassifier{outcomes: []classify.Outcome{
		{Status: classify.StatusAvailable},
	}}
	a := NewAdvancer(drv, guard, cls, fastNet(), zap.NewNop())

	out, err := a.AdvanceStep(context.Background(), advanceSel, nil)
	require.NoError(t, err)
	assert.Equal(t, classify.StatusAvailable, out.Status)
	assert.Len(t, drv.clicks, 2)
	assert.Equal(t, 1, cls.calls, "classification skipped while overlay pending")
}

func TestAdvanceStepMissingControlKeepsRetrying(t *testing.T) {
	drv := newFakeDriver()
	// Control absent for two cycles, then present.
	drv.present[advanceSel] = []bool{false, false, true}
	cls := &scriptedClassifier{outcomes: []classify.Outcome{
		{Status: classify.StatusUncertain},
	}}
	a := NewAdvancer(drv, &scriptedGuard{}, cls, fastNet(), zap.NewNop())

	out, err := a.AdvanceStep(context.Background(), advanceSel, nil)
	require.NoError(t, err)
	assert.Equal(t, classify.StatusUncertain, out.Status)
	assert.Len(t, drv.clicks, 1)
}

func TestAdvanceStepRetriesAfterClickFailure(t *testing.T) {
	drv := newFakeDriver()
	drv.present[advanceSel] = []bool{true}
	drv.failClicks = 1
	cls := &scriptedClassifier{outcomes: []classify.Outcome{
		{Status: classify.StatusAvailable},
	}}
	a := NewAdvancer(drv, &scriptedGuard{}, cls, fastNet(), zap.NewNop())

	out, err := a.AdvanceStep(context.Background(), advanceSel, nil)
	require.NoError(t, err)
	assert.Equal(t, classify.StatusAvailable, out.Status)
	assert.Len(t, drv.clicks, 1, "second cycle's click succeeded")
}

func TestAdvanceStepWaitsForDocumentAfterClick(t *testing.T) {
	drv := newFakeDriver()
	drv.present[advanceSel] = []bool{true}
	cls := &scriptedClassifier{outcomes: []classify.Outcome{
		{Status: classify.StatusUnavailable, Reason: classify.ReasonContentKeyword},
	}}
	a := NewAdvancer(drv, &scriptedGuard{}, cls, fastNet(), zap.NewNop())

	_, err := a.AdvanceStep(context.Background(), advanceSel, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, drv.waits, "document wait follows the click")
}

func TestAdvanceStepStopsOnCancellation(t *testing.T) {
	drv := newFakeDriver()
	// Control never appears; only cancellation can end the loop.
	drv.present[advanceSel] = []bool{false}
	cls := &scriptedClassifier{outcomes: []classify.Outcome{{}}}
	a := NewAdvancer(drv, &scriptedGuard{}, cls, fastNet(), zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := a.AdvanceStep(ctx, advanceSel, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
