// cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fpalencia/licencia-scraper/internal/config"
	"github.com/fpalencia/licencia-scraper/internal/observability"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd is the base command; subcommands carry the actual behavior.
var rootCmd = &cobra.Command{
	Use:     "licencia",
	Short:   "Polls the Municipalidad de Santiago license-appointment site for open slots.",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initializeConfig(); err != nil {
			return err
		}

		loaded, err := config.NewFromViper(viper.GetViper())
		if err != nil {
			// A fallback logger keeps the failure itself visible.
			observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "licencia"})
			return fmt.Errorf("loading configuration: %w", err)
		}
		cfg = loaded

		observability.InitializeLogger(cfg.Logger)
		observability.GetLogger().Info("Starting licencia-scraper", zap.String("version", Version))
		return nil
	},
}

// ExecuteContext runs the CLI under ctx. Exits non-zero on any command
// error.
func ExecuteContext(ctx context.Context) {
	defer observability.Sync()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./licencia.yaml, then ~/.licencia/licencia.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// initializeConfig wires defaults, the config file, and LICENCIA_* env vars
// into the global viper instance.
func initializeConfig() error {
	v := viper.GetViper()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".licencia"))
		}
		v.SetConfigName("licencia")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("LICENCIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("reading config file: %w", err)
		}
		// No config file; defaults and env vars apply.
	}
	return nil
}
