// Command migrate runs schema operations against the configured database.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"helphub/internal/config"
	"helphub/internal/database"
	"helphub/internal/middleware"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// NewMigrateCommand builds the command tree. open is called lazily so the
// subcommands can be inspected without a database.
func NewMigrateCommand(open func() (*gorm.DB, *config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply, inspect or roll back the messaging schema",
		SilenceUsage: true,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending SQL migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, _, err := open()
				if err != nil {
					return err
				}
				defer func() { _ = database.Close(db) }()
				if err := database.RunMigrations(cmd.Context(), db); err != nil {
					return fmt.Errorf("sql migrations failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "sql migrations applied")
				return nil
			},
		},
		&cobra.Command{
			Use:   "auto",
			Short: "Run GORM auto-migration for the persistent models",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, cfg, err := open()
				if err != nil {
					return err
				}
				defer func() { _ = database.Close(db) }()
				cfg.DBSchemaMode = database.SchemaModeAuto
				if err := database.ApplySchema(cmd.Context(), db, cfg); err != nil {
					return fmt.Errorf("auto schema apply failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "automigrations applied")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the schema policy and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, cfg, err := open()
				if err != nil {
					return err
				}
				defer func() { _ = database.Close(db) }()
				status, err := database.GetSchemaStatus(cmd.Context(), db, cfg)
				if err != nil {
					return fmt.Errorf("schema status failed: %w", err)
				}
				printStatus(cmd.OutOrStdout(), status)
				return nil
			},
		},
		&cobra.Command{
			Use:   "down VERSION",
			Short: "Revert one applied migration",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				version, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				db, _, err := open()
				if err != nil {
					return err
				}
				defer func() { _ = database.Close(db) }()
				if err := database.RollbackMigration(cmd.Context(), db, version); err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back migration %d\n", version)
				return nil
			},
		},
	)
	return cmd
}

func printStatus(w io.Writer, s *database.SchemaStatus) {
	fmt.Fprintf(w, "mode=%s driver=%s env=%s run_sql=%t run_auto=%t applied=%d pending=%d\n",
		s.Mode, s.Driver, s.Environment, s.WillRunSQL, s.WillRunAutoMigrate,
		len(s.AppliedVersions), len(s.PendingMigrations))
	for _, m := range s.PendingMigrations {
		fmt.Fprintf(w, "pending: %06d_%s\n", m.Version, m.Name)
	}
}

func openFromEnv() (*gorm.DB, *config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	middleware.Configure(cfg.Env, cfg.SlogLevel())
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return db, cfg, nil
}

func main() {
	if err := NewMigrateCommand(openFromEnv).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
