package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sakif/plausch/internal/config"
	"github.com/sakif/plausch/internal/server"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API. Runs until SIGINT or SIGTERM, then finishes
in-flight requests and pending confirmation mails before exiting.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fail(logger, "invalid configuration", err)
	}

	if cfg.Database.Driver == config.DriverSQLite {
		// mkdir -p for the database file's directory
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return fail(logger, "failed to create database directory", err)
		}
	}

	srv, err := server.New(cmd.Context(), cfg, logger)
	if err != nil {
		return fail(logger, "failed to create server", err)
	}

	// Start blocks until the server is shut down (via Ctrl+C or SIGTERM).
	if err := srv.Start(); err != nil {
		return fail(logger, "server error", err)
	}
	return nil
}
