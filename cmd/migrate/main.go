package main

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"smsinbox/internal/config"
	"smsinbox/internal/migrate"
	"smsinbox/migrations"
	"smsinbox/pkg/logger"
)

// connect loads configuration and opens the database
func connect() (*config.Config, *sql.DB, *logger.Logger, func(), error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.NewForEnv(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("build logger: %w", err)
	}

	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, nil, nil, fmt.Errorf("ping database: %w", err)
	}

	cleanup := func() {
		_ = log.Sync()
		db.Close()
	}
	return cfg, db, log, cleanup, nil
}

// openRunner is replaced in tests
var openRunner = func() (*migrate.Runner, func(), error) {
	_, db, log, cleanup, err := connect()
	if err != nil {
		return nil, nil, err
	}
	return migrate.NewRunner(db, migrations.FS, log), cleanup, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the smsinbox database schema",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.AddCommand(newUpCmd())
	cmd.AddCommand(newDownCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newSeedCmd())
	return cmd
}

func withRunner(fn func(cmd *cobra.Command, r *migrate.Runner) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		r, cleanup, err := openRunner()
		if err != nil {
			return err
		}
		defer cleanup()
		return fn(cmd, r)
	}
}

func newUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: withRunner(func(cmd *cobra.Command, r *migrate.Runner) error {
			n, err := r.Up(cmd.Context())
			if err != nil {
				return err
			}
			if n == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s)\n", n)
			return nil
		}),
	}
}

func newDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the last applied migration",
		RunE: withRunner(func(cmd *cobra.Command, r *migrate.Runner) error {
			m, err := r.Down(cmd.Context())
			if err != nil {
				return err
			}
			if m == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No migrations to roll back")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %03d_%s\n", m.Version, m.Name)
			return nil
		}),
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which migrations are applied",
		RunE: withRunner(func(cmd *cobra.Command, r *migrate.Runner) error {
			list, err := r.Status(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), list)
			return nil
		}),
	}
}

func newResetCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Roll back every migration and apply them again",
		RunE: withRunner(func(cmd *cobra.Command, r *migrate.Runner) error {
			if !force {
				return fmt.Errorf("reset drops all data; pass --force to continue")
			}
			n, err := r.Reset(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset complete, applied %d migration(s)\n", n)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm that all data will be dropped")
	return cmd
}

func printStatus(out io.Writer, list []*migrate.Migration) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED AT")
	for _, m := range list {
		applied := "pending"
		if m.AppliedAt != nil {
			applied = m.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%03d\t%s\t%s\n", m.Version, m.Name, applied)
	}
	tw.Flush()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
