// cmd/check.go
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fpalencia/licencia-scraper/internal/browser"
	"github.com/fpalencia/licencia-scraper/internal/decision"
	"github.com/fpalencia/licencia-scraper/internal/monitor"
	"github.com/fpalencia/licencia-scraper/internal/observability"
	"github.com/fpalencia/licencia-scraper/internal/prompt"
	"github.com/fpalencia/licencia-scraper/internal/rut"
)

var checkRUT string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one availability check, resolving errors interactively.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		console := prompt.NewConsole(os.Stdin, os.Stdout, logger)

		id, err := resolveIdentifier(console, checkRUT)
		if err != nil {
			return err
		}
		op, err := console.CollectOperation()
		if err != nil {
			return err
		}
		logger.Info("Starting single check",
			zap.String("rut", id), zap.String("operation", op.String()))

		journal, err := monitor.OpenJournal(cfg.Monitor.JournalFile, logger)
		if err != nil {
			return err
		}
		defer journal.Close()

		m := monitor.New(cfg, decision.SingleCheck, browserFactory(logger), console, journal, logger)
		outcome, err := m.RunOnce(cmd.Context(), id)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Resultado final: %s\n", outcome.Status)
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkRUT, "rut", "", "RUT to check (prompts when omitted)")
	rootCmd.AddCommand(checkCmd)
}

// resolveIdentifier takes the flag value when present and valid, otherwise
// prompts, suggesting the configured example RUT.
func resolveIdentifier(console *prompt.Console, flagValue string) (string, error) {
	if flagValue != "" {
		normalized := rut.Normalize(flagValue)
		if !rut.Valid(normalized) {
			return "", fmt.Errorf("invalid RUT %q", flagValue)
		}
		return normalized, nil
	}
	return console.CollectIdentifier(cfg.Site.ExampleRUT)
}

// browserFactory builds fresh chromedp sessions for the monitor.
func browserFactory(logger *zap.Logger) monitor.Factory {
	return func(ctx context.Context) (browser.Driver, error) {
		return browser.Launch(ctx, cfg, logger)
	}
}
