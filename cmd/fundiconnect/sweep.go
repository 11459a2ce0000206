package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire unanswered booking requests once and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApplication(cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.coordinator.SweepExpired(ctx)
			if err != nil {
				return err
			}
			logger.Info("Sweep finished",
				zap.Int("total_found", report.TotalFound),
				zap.Int("processed", report.Processed))

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
