package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-vdev/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-vdev/migrations"
)

// migrationStatus is the JSON shape of `migrate status`.
type migrationStatus struct {
	Applied []appliedMigration `json:"applied"`
	Pending []pendingMigration `json:"pending"`
}

type appliedMigration struct {
	Version   string    `json:"version"`
	AppliedAt time.Time `json:"applied_at"`
}

type pendingMigration struct {
	Version string `json:"version"`
	Name    string `json:"name"`
}

// newMigrateCommand creates the migrate command and its up, down and status
// subcommands. serve applies pending migrations on its own; these are for
// operators who want to inspect or roll back the schema.
func newMigrateCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(opts, func(db *database.DB) error {
				if err := db.Migrate(cmd.Context(), migrations.FS); err != nil {
					return fmt.Errorf("running migrations: %w", err)
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recently applied migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(opts, func(db *database.DB) error {
				if err := db.MigrateDown(cmd.Context(), migrations.FS); err != nil {
					return fmt.Errorf("rolling back migration: %w", err)
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "latest migration rolled back")
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(opts, func(db *database.DB) error {
				applied, pending, err := db.MigrationStatus(cmd.Context(), migrations.FS)
				if err != nil {
					return fmt.Errorf("reading migration status: %w", err)
				}
				return writeMigrationStatus(cmd.OutOrStdout(), opts.Format, applied, pending)
			})
		},
	})

	return cmd
}

// withDatabase opens the configured database for the duration of fn.
func withDatabase(opts *rootOptions, fn func(db *database.DB) error) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // read-mostly CLI session
	return fn(db)
}

func writeMigrationStatus(w io.Writer, format string, applied []database.MigrationRecord, pending []database.Migration) error {
	status := migrationStatus{
		Applied: make([]appliedMigration, 0, len(applied)),
		Pending: make([]pendingMigration, 0, len(pending)),
	}
	for _, r := range applied {
		status.Applied = append(status.Applied, appliedMigration{Version: r.Version, AppliedAt: r.AppliedAt})
	}
	for _, m := range pending {
		status.Pending = append(status.Pending, pendingMigration{Version: m.Version, Name: m.Name})
	}

	if format == "json" {
		return writeJSON(w, status)
	}

	for _, r := range status.Applied {
		fmt.Fprintf(w, "applied  %s  %s\n", r.Version, r.AppliedAt.Format(time.RFC3339))
	}
	for _, m := range status.Pending {
		fmt.Fprintf(w, "pending  %s  %s\n", m.Version, m.Name)
	}
	_, err := fmt.Fprintf(w, "%d applied, %d pending\n", len(status.Applied), len(status.Pending))
	return err
}
