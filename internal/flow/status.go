// internal/flow/status.go
package flow

import (
	"context"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/fpalencia/licencia-scraper/internal/browser"
	"github.com/fpalencia/licencia-scraper/internal/classify"
	"github.com/fpalencia/licencia-scraper/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// statusScan is the shape returned by the in-page specialties probe.
type statusScan struct {
	HasTable   bool     `json:"hasTable"`
	HasButtons bool     `json:"hasButtons"`
	Errors     []string `json:"errors"`
}

// StatusProbe inspects the specialties status page, which renders
// asynchronously and reports errors outside the normal banner markup.
type StatusProbe struct {
	drv      browser.Driver
	site     config.SiteConfig
	patterns config.PatternsConfig
	net      config.NetworkConfig
	logger   *zap.Logger
}

func NewStatusProbe(drv browser.Driver, site config.SiteConfig, patterns config.PatternsConfig, net config.NetworkConfig, logger *zap.Logger) *StatusProbe {
	return &StatusProbe{
		drv:      drv,
		site:     site,
		patterns: patterns,
		net:      net,
		logger:   logger,
	}
}

// Check reports whether the current page is the specialties status page
// in a state that needs its own Outcome: still loading after a settle
// period, showing error text, or missing the specialties table entirely.
// The second return is false when the page is something else, or when the
// specialties table is present with its Ingresar buttons. The table is a
// step to advance through, not proof of open slots; the advance loop must
// click into it and classify what comes back.
func (p *StatusProbe) Check(ctx context.Context) (classify.Outcome, bool) {
	url, err := p.drv.CurrentURL(ctx)
	if err != nil {
		return classify.Outcome{}, false
	}
	if !strings.Contains(strings.ToLower(url), strings.ToLower(p.site.StatusURLFragment)) {
		return classify.Outcome{}, false
	}
	p.logger.Debug("On specialties status page", zap.String("url", url))

	// The page shows a loading placeholder while it fetches specialties.
	// Give it one settle period before judging.
	if loading, _ := p.isLoading(ctx); loading {
		if err := pause(ctx, p.net.SettleDelay); err != nil {
			return classify.Outcome{}, false
		}
		if still, _ := p.isLoading(ctx); still {
			return statusOutcome(classify.StatusError, classify.ErrorStatusPage,
				[]string{"specialties page still loading"}, url), true
		}
	}

	scan, err := p.scan(ctx)
	if err != nil {
		p.logger.Debug("Specialties scan failed", zap.Error(err))
		return statusOutcome(classify.StatusError, classify.ErrorStatusPage,
			[]string{fmt.Sprintf("scan failed: %v", err)}, url), true
	}

	switch {
	case len(scan.Errors) > 0:
		p.logger.Warn("Status page reported errors", zap.Strings("messages", scan.Errors))
		return statusOutcome(classify.StatusError, classify.ErrorStatusPage, scan.Errors, url), true
	case scan.HasTable && scan.HasButtons:
		p.logger.Debug("Specialties table present, advancing through it",
			zap.String("url", url))
		return classify.Outcome{}, false
	default:
		out := classify.Outcome{
			Status:     classify.StatusUncertain,
			Detail:     "status page without table or errors",
			URL:        url,
			ObservedAt: time.Now().UTC(),
		}
		return out, true
	}
}

func (p *StatusProbe) isLoading(ctx context.Context) (bool, error) {
	phrase, err := json.MarshalToString(strings.ToLower(p.patterns.LoadingPhrase))
	if err != nil {
		return false, err
	}
	expr := fmt.Sprintf(`(() => {
		const text = document.body.textContent || document.body.innerText || '';
		return text.toLowerCase().includes(%s);
	})()`, phrase)

	var loading bool
	if err := p.drv.Evaluate(ctx, expr, &loading); err != nil {
		return false, err
	}
	return loading, nil
}

// scan collects table structure and visible error text in one evaluation.
// Error text is matched against the configured banner markers.
func (p *StatusProbe) scan(ctx context.Context) (statusScan, error) {
	markers, err := json.MarshalToString(p.patterns.BannerMarkers)
	if err != nil {
		return statusScan{}, err
	}
	expr := fmt.Sprintf(`(() => {
		const markers = %s;
		const info = { hasTable: false, hasButtons: false, errors: [] };
		for (const el of document.querySelectorAll('b, span, div')) {
			const text = (el.textContent || '').trim();
			if (text && markers.some(m => text.includes(m))) {
				info.errors.push(text);
			}
		}
		for (const table of document.querySelectorAll('table')) {
			const headers = table.querySelectorAll('th');
			if (headers.length === 0) continue;
			info.hasTable = true;
			if (table.querySelectorAll('input[type="submit"]').length > 0) {
				info.hasButtons = true;
			}
		}
		info.errors = [...new Set(info.errors)];
		return info;
	})()`, markers)

	var scan statusScan
	if err := p.drv.Evaluate(ctx, expr, &scan); err != nil {
		return statusScan{}, err
	}
	return scan, nil
}

func statusOutcome(status classify.Status, kind classify.ErrorKind, messages []string, url string) classify.Outcome {
	return classify.Outcome{
		Status:      status,
		Kind:        kind,
		RawMessages: messages,
		URL:         url,
		ObservedAt:  time.Now().UTC(),
	}
}
