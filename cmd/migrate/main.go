package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/trademon/trademon-backend/pkg/config"
	"github.com/trademon/trademon-backend/pkg/db"
	"github.com/trademon/trademon-backend/pkg/logger"
	"github.com/trademon/trademon-backend/pkg/migrate"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Commands that touch the database run the migrations embedded in this
// binary; create and validate work on the source tree under --dir.
func newRootCmd() *cobra.Command {
	var dir string
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply and author goose SQL migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dir, "dir", migrate.DefaultDir, "migrations directory for create and validate")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withProvider(func(cmd *cobra.Command, _ []string, p *goose.Provider) error {
			applied, err := migrate.Up(cmd.Context(), p)
			for _, v := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", v)
			}
			return err
		}),
	}
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration",
		Args:  cobra.NoArgs,
		RunE: withProvider(func(cmd *cobra.Command, _ []string, p *goose.Provider) error {
			v, err := migrate.Down(cmd.Context(), p)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "rolled back", v)
			return nil
		}),
	}
	status := &cobra.Command{
		Use:   "status",
		Short: "Print applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: withProvider(func(cmd *cobra.Command, _ []string, p *goose.Provider) error {
			rows, err := migrate.ListStatus(cmd.Context(), p)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tSTATE\tFILE")
			for _, row := range rows {
				state := "pending"
				if row.Applied {
					state = "applied"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\n", row.Version, state, row.Path)
			}
			return w.Flush()
		}),
	}
	to := &cobra.Command{
		Use:   "to <version>",
		Short: "Migrate up or down to a YYYYMMDDHHMMSS version",
		Args:  cobra.ExactArgs(1),
		RunE: withProvider(func(cmd *cobra.Command, args []string, p *goose.Provider) error {
			return migrate.To(cmd.Context(), p, args[0])
		}),
	}
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a timestamped SQL migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := migrate.CreateSQLMigration(dir, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "created migration:", path)
			return nil
		},
	}
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check migration names, goose sections and rollbacks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := migrate.ValidateDir(dir); err != nil {
				return fmt.Errorf("migration validation failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration validation passed")
			return nil
		},
	}

	root.AddCommand(up, down, status, to, create, validate)
	return root
}

type providerFunc func(cmd *cobra.Command, args []string, p *goose.Provider) error

func withProvider(fn providerFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
			cmd.SetContext(ctx)
		}
		return openDB(ctx, func(sqlDB *sql.DB) error {
			provider, err := migrate.NewProvider(sqlDB, nil)
			if err != nil {
				return err
			}
			return fn(cmd, args, provider)
		})
	}
}

func openDB(ctx context.Context, fn func(*sql.DB) error) error {
	cfg, err := config.LoadDatabase()
	if err != nil {
		return err
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithField(ctx, "env", cfg.App.Env)

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "database unavailable", err)
		return err
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	return fn(sqlDB)
}
