package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/plausch/internal/config"
	"github.com/sakif/plausch/internal/logging"
	"github.com/sakif/plausch/internal/server"
)

// NewRootCmd creates the root command. Without a subcommand it serves.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plausch",
		Short: "Plausch account service",
		Long: `Plausch account service: registration, email confirmation and
session tokens for the Plausch chat app.`,
		Version:       server.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	return cmd
}

// loadConfig reads and validates the configuration for cmd and builds
// the logger it asks for.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, nil, err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.Setup(logging.Options{
		Service: "plausch",
		Version: server.Version,
		Format:  cfg.Log.Format,
		Level:   level,
	}, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// fail logs err and hands it back so RunE still exits non-zero.
func fail(logger *slog.Logger, msg string, err error) error {
	logger.Error(msg, slog.String("error", err.Error()))
	return fmt.Errorf("%s: %w", msg, err)
}
