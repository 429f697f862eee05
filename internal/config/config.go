// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration. It is loaded once at
// startup and treated as immutable afterwards.
type Config struct {
	Site     SiteConfig     `mapstructure:"site" yaml:"site"`
	Monitor  MonitorConfig  `mapstructure:"monitor" yaml:"monitor"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Network  NetworkConfig  `mapstructure:"network" yaml:"network"`
	Patterns PatternsConfig `mapstructure:"patterns" yaml:"patterns"`
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
}

// SiteConfig describes the one target site this tool knows how to drive.
type SiteConfig struct {
	TargetURL string `mapstructure:"target_url" yaml:"target_url"`
	// ErrorURLPattern is the URL fragment the site redirects to when no
	// appointment slots exist at all.
	ErrorURLPattern string `mapstructure:"error_url_pattern" yaml:"error_url_pattern"`
	// StatusURLFragment identifies the intermediate specialties status page.
	StatusURLFragment string `mapstructure:"status_url_fragment" yaml:"status_url_fragment"`
	// StepOneURLFragment identifies the first booking step page.
	StepOneURLFragment string `mapstructure:"step_one_url_fragment" yaml:"step_one_url_fragment"`
	// ExampleRUT is used when the operator supplies no identifier.
	ExampleRUT string `mapstructure:"example_rut" yaml:"example_rut"`
}

// MonitorConfig tunes the outer monitoring loop.
type MonitorConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	ScreenshotDir string        `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
	JournalFile   string        `mapstructure:"journal_file" yaml:"journal_file"`
}

// BrowserConfig holds settings for the driven browser instance.
type BrowserConfig struct {
	// Engine selects the browser engine. Only chromium can be driven over
	// CDP; other values are accepted but downgraded with a warning.
	Engine         string   `mapstructure:"engine" yaml:"engine"`
	Headless       bool     `mapstructure:"headless" yaml:"headless"`
	DisableCache   bool     `mapstructure:"disable_cache" yaml:"disable_cache"`
	UserAgent      string   `mapstructure:"user_agent" yaml:"user_agent"`
	Locale         string   `mapstructure:"locale" yaml:"locale"`
	ViewportWidth  int      `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int      `mapstructure:"viewport_height" yaml:"viewport_height"`
	Args           []string `mapstructure:"args" yaml:"args"`
}

// NetworkConfig tunes per-interaction timing. Individual timeouts are always
// finite even though the outer retry loop is not.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	// RetryDelay is the pause between cycles of the click-until-clear loop.
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	// SettleDelay is the short pause after an overlay dismissal attempt.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	// LocateTimeout bounds a single attempt to find an element.
	LocateTimeout time.Duration `mapstructure:"locate_timeout" yaml:"locate_timeout"`
}

// PatternsConfig is the site-knowledge table: every string the classifier and
// the interstitial guard match against the target site's markup. These are
// configuration rather than constants because they are the part most likely
// to change when the site does.
type PatternsConfig struct {
	// ErrorBannerRegexps are matched against the raw page content.
	ErrorBannerRegexps []string `mapstructure:"error_banner_regexps" yaml:"error_banner_regexps"`
	// BannerMarkers flag a structural element (b/span/div text) as an error banner.
	BannerMarkers []string `mapstructure:"banner_markers" yaml:"banner_markers"`
	// TimeoutPhrases classify a matched error as a session timeout.
	TimeoutPhrases []string `mapstructure:"timeout_phrases" yaml:"timeout_phrases"`
	// NoAvailabilityErrorPhrases classify a matched error as definitive unavailability.
	NoAvailabilityErrorPhrases []string `mapstructure:"no_availability_error_phrases" yaml:"no_availability_error_phrases"`
	// NoAvailabilityKeywords are scanned in lower-cased content.
	NoAvailabilityKeywords []string `mapstructure:"no_availability_keywords" yaml:"no_availability_keywords"`
	// AvailabilityKeywords indicate open slots.
	AvailabilityKeywords []string `mapstructure:"availability_keywords" yaml:"availability_keywords"`
	// NextStepSelectors are probed structurally as weak evidence of availability.
	NextStepSelectors []string `mapstructure:"next_step_selectors" yaml:"next_step_selectors"`
	// LoadingPhrase marks the transient "searching specialties" placeholder.
	LoadingPhrase string `mapstructure:"loading_phrase" yaml:"loading_phrase"`

	// OverlaySelectors locate blocking interstitials.
	OverlaySelectors []string `mapstructure:"overlay_selectors" yaml:"overlay_selectors"`
	// CloseControlSelectors locate a dismiss control inside an overlay.
	CloseControlSelectors []string `mapstructure:"close_control_selectors" yaml:"close_control_selectors"`
	// CloseControlTexts match dismiss controls by their visible text.
	CloseControlTexts []string `mapstructure:"close_control_texts" yaml:"close_control_texts"`
	// BackdropSelectors are removed when an overlay is force-hidden.
	BackdropSelectors []string `mapstructure:"backdrop_selectors" yaml:"backdrop_selectors"`

	// IdentifierFieldSelectors locate the RUT input, tried in order.
	IdentifierFieldSelectors []string `mapstructure:"identifier_field_selectors" yaml:"identifier_field_selectors"`
	// SubmitSelectors locate the form submit control, tried in order.
	SubmitSelectors []string `mapstructure:"submit_selectors" yaml:"submit_selectors"`
	// AdvanceSelector is the preferred specialties button.
	AdvanceSelector string `mapstructure:"advance_selector" yaml:"advance_selector"`
	// AdvanceFallbackSelectors are tried when AdvanceSelector is absent.
	AdvanceFallbackSelectors []string `mapstructure:"advance_fallback_selectors" yaml:"advance_fallback_selectors"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// SetDefaults initializes default values for all configuration parameters.
// The pattern tables default to the markup of the Municipalidad de Santiago
// booking site as observed in production.
func SetDefaults(v *viper.Viper) {
	// -- Site --
	v.SetDefault("site.target_url", "https://tramites.munistgo.cl/reservahoralicencia/")
	v.SetDefault("site.error_url_pattern", "paso-1.aspx?Error=No%20existen%20horas%20disponibles")
	v.SetDefault("site.status_url_fragment", "estatus.aspx")
	v.SetDefault("site.step_one_url_fragment", "paso-1.aspx")
	v.SetDefault("site.example_rut", "25334838-0")

	// -- Monitor --
	v.SetDefault("monitor.poll_interval", "30m")
	v.SetDefault("monitor.screenshot_dir", ".")
	v.SetDefault("monitor.journal_file", "licencia-journal.jsonl")

	// -- Browser --
	v.SetDefault("browser.engine", "chromium")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("browser.locale", "es-CL")
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 768)

	// -- Network --
	v.SetDefault("network.navigation_timeout", "30s")
	v.SetDefault("network.post_load_wait", "2s")
	v.SetDefault("network.retry_delay", "3s")
	v.SetDefault("network.settle_delay", "500ms")
	v.SetDefault("network.locate_timeout", "5s")

	// -- Patterns: classifier --
	// Plain no-availability phrases are deliberately absent here: without a
	// banner context they are handled by the keyword tier, not the error tier.
	v.SetDefault("patterns.error_banner_regexps", []string{
		`(?is)<b[^>]*>[^<]*Atención![^<]*Error:[^<]*</b>`,
		`(?i)Atención!\s*Error:[^<]*`,
		`(?i)ud\. ha excedido el tiempo máximo de espera`,
		`(?i)tiempo máximo de espera`,
	})
	v.SetDefault("patterns.banner_markers", []string{"Atención!", "Error:"})
	v.SetDefault("patterns.timeout_phrases", []string{
		"tiempo máximo de espera",
		"excedido",
	})
	v.SetDefault("patterns.no_availability_error_phrases", []string{
		"no existen horas",
		"sin disponibilidad",
	})
	v.SetDefault("patterns.no_availability_keywords", []string{
		"no existen horas disponibles",
		"sin disponibilidad",
		"no hay citas",
		"agendas llenas",
		"sin cupos",
		"ud. ha excedido el tiempo máximo de espera",
		"tiempo máximo de espera",
	})
	v.SetDefault("patterns.availability_keywords", []string{
		"seleccione fecha",
		"horarios disponibles",
		"agendar cita",
		"reservar hora",
	})
	v.SetDefault("patterns.next_step_selectors", []string{
		`select[name*="fecha"]`,
		`input[type="date"]`,
		`.calendar`,
		`#calendario`,
		`select[name*="hora"]`,
	})
	v.SetDefault("patterns.loading_phrase", "buscando especialidades")

	// -- Patterns: interstitial guard --
	v.SetDefault("patterns.overlay_selectors", []string{
		`.modal`,
		`.popup`,
		`.dialog`,
		`.alert`,
		`[role="dialog"]`,
		`[role="alertdialog"]`,
		`.modal.show`,
		`.modal-backdrop`,
		`.overlay`,
		`.swal-modal`,
		`div[style*="position: fixed"]`,
	})
	v.SetDefault("patterns.close_control_selectors", []string{
		`button[data-dismiss="modal"]`,
		`.close`,
		`.btn-close`,
		`.modal-close`,
		`[aria-label="Close"]`,
		`[aria-label="Cerrar"]`,
		`.fa-times`,
		`.fa-close`,
	})
	v.SetDefault("patterns.close_control_texts", []string{
		"×", "Close", "Cerrar", "OK", "Aceptar",
	})
	v.SetDefault("patterns.backdrop_selectors", []string{
		`.modal-backdrop`, `.fade`, `.in`,
	})

	// -- Patterns: form flow --
	v.SetDefault("patterns.identifier_field_selectors", []string{
		`input[name="txtRut"]`,
		`input[id="txtRut"]`,
		`#txtRut`,
		`input[type="text"]`,
	})
	v.SetDefault("patterns.submit_selectors", []string{
		`input[type="submit"]`,
		`button[type="submit"]`,
		`#btnIngresar`,
		`.btn-submit`,
	})
	v.SetDefault("patterns.advance_selector", `#dgGrilla_btIngresar_0`)
	v.SetDefault("patterns.advance_fallback_selectors", []string{
		`input[id="dgGrilla_btIngresar_0"]`,
		`input[name="dgGrilla$ctl02$btIngresar"]`,
		`.BotonIngresar`,
		`input.BotonIngresar`,
		`table input[id*="btIngresar"]`,
	})

	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "licencia")
	v.SetDefault("logger.log_file", "licencia_scraper.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewFromViper creates a configuration instance from a viper object and
// validates it.
func NewFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Site.TargetURL == "" {
		return fmt.Errorf("site.target_url is a required configuration field")
	}
	if !strings.HasPrefix(c.Site.TargetURL, "http://") && !strings.HasPrefix(c.Site.TargetURL, "https://") {
		return fmt.Errorf("site.target_url must be an absolute http(s) URL")
	}
	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("monitor.poll_interval must be a positive duration")
	}
	if c.Network.NavigationTimeout <= 0 {
		return fmt.Errorf("network.navigation_timeout must be a positive duration")
	}
	if c.Network.RetryDelay <= 0 {
		return fmt.Errorf("network.retry_delay must be a positive duration")
	}
	switch c.Browser.Engine {
	case "chromium", "firefox", "webkit":
	default:
		return fmt.Errorf("browser.engine must be one of chromium, firefox, webkit")
	}
	if len(c.Patterns.OverlaySelectors) == 0 {
		return fmt.Errorf("patterns.overlay_selectors must not be empty")
	}
	if c.Patterns.AdvanceSelector == "" {
		return fmt.Errorf("patterns.advance_selector is required")
	}
	return nil
}
