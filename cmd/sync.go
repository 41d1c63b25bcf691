package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var syncDebug bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a single sync and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		run, err := a.service.Run(ctx, syncDebug)
		if err != nil {
			return err
		}
		a.logger.Info("sync complete",
			zap.String("run_id", run.ID.String()),
			zap.Int("reservations", run.Reservations),
			zap.String("proxy", run.ProxyServer),
		)
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncDebug, "debug", false, "launch the browser headed for troubleshooting")
	rootCmd.AddCommand(syncCmd)
}
