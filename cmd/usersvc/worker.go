package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-users-backend/internal/config"
	"github.com/tbourn/go-users-backend/internal/notify"
)

func newWorkerCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Deliver queued welcome notifications",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			sender, closer, err := notify.Build(workerNotifyConfig(cfg.Notify), logger)
			if err != nil {
				return err
			}
			defer closer.Close()

			w := notify.NewWorker(cfg.Notify.RedisAddr, concurrency, sender, logger)
			if err := w.Start(); err != nil {
				logger.Error().Err(err).Str("redis", cfg.Notify.RedisAddr).Msg("worker failed to start")
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			w.Stop()
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 10, "number of concurrent deliveries")
	return cmd
}

// workerNotifyConfig picks the delivery driver used by the worker: Resend
// when an API key is configured, otherwise the log sender. The queue driver
// never applies here.
func workerNotifyConfig(cfg config.NotifyConfig) config.NotifyConfig {
	cfg.Driver = "log"
	if cfg.ResendAPIKey != "" {
		cfg.Driver = "resend"
	}
	return cfg
}
