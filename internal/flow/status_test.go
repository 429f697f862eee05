// internal/flow/status_test.go
package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fpalencia/licencia-scraper/internal/classify"
	"github.com/fpalencia/licencia-scraper/internal/config"
)

func testProbe(drv *fakeDriver) *StatusProbe {
	cfg := config.NewDefaultConfig()
	return NewStatusProbe(drv, cfg.Site, cfg.Patterns, fastNet(), zap.NewNop())
}

func TestStatusProbeIgnoresOtherPages(t *testing.T) {
	drv := newFakeDriver()
	drv.url = "https://tramites.munistgo.cl/reservahoralicencia/paso-1.aspx"

	_, handled := testProbe(drv).Check(context.Background())
	assert.False(t, handled)
}

func TestStatusProbeReportsErrors(t *testing.T) {
	drv := newFakeDriver()
	drv.url = "https://tramites.munistgo.cl/reservahoralicencia/estatus.aspx"
	drv.scan = statusScan{Errors: []string{"Atención! Error: sesión expirada"}}

	out, handled := testProbe(drv).Check(context.Background())
	require.True(t, handled)
	assert.Equal(t, classify.StatusError, out.Status)
	assert.Equal(t, classify.ErrorStatusPage, out.Kind)
	assert.Equal(t, []string{"Atención! Error: sesión expirada"}, out.RawMessages)
	assert.True(t, out.Transient())
}

func TestStatusProbeSpecialtiesTableFallsThrough(t *testing.T) {
	drv := newFakeDriver()
	drv.url = "https://tramites.munistgo.cl/reservahoralicencia/estatus.aspx"
	drv.scan = statusScan{HasTable: true, HasButtons: true}

	// The table lists specialties with Ingresar buttons whether or not
	// slots exist, so it is a step to click through, never a verdict.
	_, handled := testProbe(drv).Check(context.Background())
	assert.False(t, handled)
}

func TestStatusProbeWaitsOutLoadingPlaceholder(t *testing.T) {
	drv := newFakeDriver()
	drv.url = "https://tramites.munistgo.cl/reservahoralicencia/estatus.aspx"
	// Loading on the first probe, settled on the second.
	drv.loading = []bool{true, false}
	drv.scan = statusScan{HasTable: true, HasButtons: true}

	_, handled := testProbe(drv).Check(context.Background())
	assert.False(t, handled, "settled table proceeds to the advance loop")
}

func TestStatusProbeStillLoadingIsTransient(t *testing.T) {
	drv := newFakeDriver()
	drv.url = "https://tramites.munistgo.cl/reservahoralicencia/estatus.aspx"
	drv.loading = []bool{true, true}

	out, handled := testProbe(drv).Check(context.Background())
	require.True(t, handled)
	assert.Equal(t, classify.StatusError, out.Status)
	assert.Equal(t, classify.ErrorStatusPage, out.Kind)
	assert.True(t, out.Transient())
}

func TestStatusProbeScanUsesConfiguredBannerMarkers(t *testing.T) {
	drv := newFakeDriver()
	drv.url = "https://tramites.munistgo.cl/reservahoralicencia/estatus.aspx"
	cfg := config.NewDefaultConfig()
	cfg.Patterns.BannerMarkers = []string{"Aviso:"}
	probe := NewStatusProbe(drv, cfg.Site, cfg.Patterns, fastNet(), zap.NewNop())

	_, _ = probe.Check(context.Background())

	require.NotEmpty(t, drv.exprs)
	scanExpr := drv.exprs[len(drv.exprs)-1]
	assert.Contains(t, scanExpr, `"Aviso:"`)
	assert.NotContains(t, scanExpr, "Atención!")
}

func TestStatusProbeBarePageIsUncertain(t *testing.T) {
	drv := newFakeDriver()
	drv.url = "https://tramites.munistgo.cl/reservahoralicencia/estatus.aspx"

	out, handled := testProbe(drv).Check(context.Background())
	require.True(t, handled)
	assert.Equal(t, classify.StatusUncertain, out.Status)
}
