// cmd/watch.go
package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fpalencia/licencia-scraper/internal/decision"
	"github.com/fpalencia/licencia-scraper/internal/monitor"
	"github.com/fpalencia/licencia-scraper/internal/observability"
	"github.com/fpalencia/licencia-scraper/internal/prompt"
)

var (
	watchRUT      string
	watchInterval time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll the site continuously until interrupted.",
	Long: `Runs availability checks in a loop, waiting the poll interval between
cycles. Transient site errors are retried automatically; the loop only ends
on Ctrl-C or a browser that cannot be started at all.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		console := prompt.NewConsole(os.Stdin, os.Stdout, logger)

		id, err := resolveIdentifier(console, watchRUT)
		if err != nil {
			return err
		}
		if watchInterval > 0 {
			cfg.Monitor.PollInterval = watchInterval
		}
		logger.Info("Starting continuous monitoring",
			zap.String("rut", id),
			zap.Duration("interval", cfg.Monitor.PollInterval))

		journal, err := monitor.OpenJournal(cfg.Monitor.JournalFile, logger)
		if err != nil {
			return err
		}
		defer journal.Close()

		m := monitor.New(cfg, decision.Continuous, browserFactory(logger), nil, journal, logger)
		return m.RunContinuous(cmd.Context(), id)
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchRUT, "rut", "", "RUT to check (prompts when omitted)")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "poll interval override (e.g. 5m)")
	rootCmd.AddCommand(watchCmd)
}
