package main

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/at-ishikawa/studycore/internal/database"
)

func newMigrateCommand() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migration commands",
	}

	migrateCmd.AddCommand(newMigrateUpCommand())
	migrateCmd.AddCommand(newMigrateDownCommand())

	return migrateCmd
}

func newMigrateUpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("database.Open() > %w", err)
			}
			defer func() { _ = db.Close() }()

			if err := database.Migrate(db, cfg.Database.Driver); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "database is up to date")
			return nil
		},
	}
}

func newMigrateDownCommand() *cobra.Command {
	var steps int
	command := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("database.Open() > %w", err)
			}
			defer func() { _ = db.Close() }()

			m, err := database.NewMigrator(db, cfg.Database.Driver)
			if err != nil {
				return err
			}
			if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("m.Steps(%d) > %w", -steps, err)
			}
			printSuccess(cmd.OutOrStdout(), fmt.Sprintf("rolled back %d migration(s)", steps))
			return nil
		},
	}
	command.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	return command
}
