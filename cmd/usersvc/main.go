// Command usersvc runs the users API, its notification worker and a few
// operator helpers.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	_ "github.com/tbourn/go-users-backend/docs"
	"github.com/tbourn/go-users-backend/internal/config"
	"github.com/tbourn/go-users-backend/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = ""

// @title                       Users API
// @version                     1.0
// @description                 Creates and lists users. Every endpoint needs a bearer token carrying the matching permission.
// @BasePath                    /api/v1
// @schemes                     http https
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "usersvc",
		Short:         "Users service",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       appVersion(),
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			// .env is optional; real environment variables win.
			_ = godotenv.Load()
		},
	}
	root.AddCommand(newServeCmd(), newWorkerCmd(), newMigrateCmd(), newTokenCmd())
	return root
}

// loadConfig reads the configuration and installs the global logger.
func loadConfig() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not configured yet.
		log.Error().Err(err).Msg("invalid configuration")
		return cfg, log.Logger, err
	}
	logger := sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, os.Stderr)
	return cfg, logger, nil
}

func appVersion() string {
	return sysutil.FirstNonEmpty(version, os.Getenv("APP_VERSION"), "dev")
}
