package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/sakif/plausch/internal/repository/postgres"
)

// migrator is the part of *postgres.Migrator the command drives.
type migrator interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
	Close() error
}

// newMigrator is swapped out in tests.
var newMigrator = func(dsn string) (migrator, error) {
	m, err := postgres.NewMigrator(dsn)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// NewMigrateCmd creates the migrate subcommand. SQLite migrates itself on
// open; this is for PostgreSQL.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|version]",
		Short:     "Manage the PostgreSQL schema",
		Long:      `Apply (up) or roll back (down) the embedded PostgreSQL migrations, or print the current schema version.`,
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		RunE:      runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	action := "up"
	if len(args) == 1 {
		action = args[0]
	}

	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.dsn (or DATABASE_URL) is required")
	}

	m, err := newMigrator(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer m.Close()

	switch action {
	case "up":
		cmd.Println("Running migrations...")
		if err := m.Up(); err != nil {
			return err
		}
		cmd.Println("Migrations completed successfully")
	case "down":
		cmd.Println("Rolling back migrations...")
		if err := m.Down(); err != nil {
			return err
		}
		cmd.Println("Rollback completed successfully")
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		cmd.Printf("version %d (dirty: %t)\n", version, dirty)
	}
	return nil
}
