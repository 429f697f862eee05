// cmd/initenv.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fpalencia/licencia-scraper/internal/config"
)

var initForce bool

// starterConfig is the commented template written by `licencia init`. The
// classifier pattern and selector tables are omitted on purpose; their
// defaults track the site's markup and rarely need overriding.
const starterConfig = `# licencia-scraper configuration.
# Every key can also be set through the environment with the LICENCIA_
# prefix, e.g. LICENCIA_SITE_TARGET_URL.

site:
  target_url: "https://tramites.munistgo.cl/reservahoralicencia/"
  # URL fragment the site redirects to when no slots exist.
  error_url_pattern: "paso-1.aspx?Error=No%20existen%20horas%20disponibles"
  # RUT suggested by the interactive prompt.
  example_rut: "25334838-0"

monitor:
  # Wait between checks in continuous mode.
  poll_interval: 30m
  # Directory for per-phase page screenshots. Empty disables them.
  screenshot_dir: "."
  # Append-only JSONL journal of check outcomes. Empty disables it.
  journal_file: "licencia-journal.jsonl"

browser:
  engine: "chromium"
  # Headful by default so an attended run can be watched and, when the
  # site misbehaves, taken over manually.
  headless: false
  disable_cache: true
  viewport_width: 1366
  viewport_height: 768
  # Extra Chromium flags, e.g. ["--proxy-server=localhost:9050"].
  args: []

network:
  navigation_timeout: 30s
  post_load_wait: 2s
  retry_delay: 3s
  settle_delay: 500ms
  locate_timeout: 5s

logger:
  level: "info"
  format: "console"
  service_name: "licencia"
  # Rotated log file next to the binary. Empty logs to console only.
  log_file: "licencia_scraper.log"
`

var initEnvCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter licencia.yaml with commented defaults.",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "licencia.yaml"
		if len(args) > 0 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		// The template must stay loadable; a stale key would otherwise
		// surface as a confusing startup failure for every new user.
		if err := validateStarter(); err != nil {
			return fmt.Errorf("starter template is out of date: %w", err)
		}

		if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
	Args: cobra.MaximumNArgs(1),
}

func validateStarter() error {
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(starterConfig), &doc); err != nil {
		return err
	}
	v := viper.New()
	config.SetDefaults(v)
	if err := v.MergeConfigMap(doc); err != nil {
		return err
	}
	_, err := config.NewFromViper(v)
	return err
}

func init() {
	initEnvCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
	rootCmd.AddCommand(initEnvCmd)
}
