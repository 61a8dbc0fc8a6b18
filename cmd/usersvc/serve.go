package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/go-users-backend/internal/config"
	httpapi "github.com/tbourn/go-users-backend/internal/http"
	"github.com/tbourn/go-users-backend/internal/notify"
	"github.com/tbourn/go-users-backend/internal/observability"
	"github.com/tbourn/go-users-backend/internal/reporting"
	"github.com/tbourn/go-users-backend/internal/repo"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply schema migrations before serving")
	return cmd
}

// openDB opens the configured database, optionally migrating it.
func openDB(cfg config.Config, migrate bool) (*gorm.DB, error) {
	db, err := repo.Open(cfg.DB.Driver, cfg.DB.Path, cfg.DB.URL)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := repo.AutoMigrate(db); err != nil {
			closeDB(db)
			return nil, err
		}
	}
	return db, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func serve(ctx context.Context, cfg config.Config, logger zerolog.Logger, migrate bool) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, observability.Options{
		Version:     appVersion(),
		Environment: cfg.Reporting.SentryEnvironment,
	})
	if err != nil {
		return err
	}

	db, err := openDB(cfg, migrate)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.DB.Driver).Msg("database unavailable")
		return err
	}
	defer closeDB(db)

	reporters, reporterClosers, err := reporting.Build(cfg.Reporting, logger)
	if err != nil {
		return err
	}
	dispatcher := reporting.NewDispatcher(reporters, cfg.Reporting.Timeout, cfg.Reporting.Ceiling, logger)

	sender, senderCloser, err := notify.Build(cfg.Notify, logger)
	if err != nil {
		closeAll(logger, reporterClosers)
		return err
	}
	closers := append([]io.Closer{senderCloser}, reporterClosers...)
	defer closeAll(logger, closers)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{DB: db, Notifier: sender, Reporter: dispatcher}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("version", appVersion()).
			Strs("reporters", dispatcher.Names()).
			Str("notify", cfg.Notify.Driver).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server error")
			return err
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}
	if err := shutdownOTel(sctx); err != nil {
		logger.Warn().Err(err).Msg("otel shutdown")
	}
	logger.Info().Msg("server exited")
	return nil
}

func closeAll(logger zerolog.Logger, closers []io.Closer) {
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			logger.Warn().Err(err).Msg("close failed")
		}
	}
}
