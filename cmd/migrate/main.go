package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/sales/internal/storage/postgres"
	"github.com/vladislavdragonenkov/sales/internal/version"
)

const (
	envPostgresDSN = "SALES_POSTGRES_DSN"
	defaultTimeout = 30 * time.Second
)

var errMissingDSN = errors.New(envPostgresDSN + " (or --dsn) is required")

// migrationStore - операции Store, которые нужны CLI.
type migrationStore interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (int64, int, error)
	Migrations(ctx context.Context) ([]postgres.MigrationState, error)
	Close() error
}

type openStoreFunc func(ctx context.Context, dsn string) (migrationStore, error)

func openPostgres(ctx context.Context, dsn string) (migrationStore, error) {
	return postgres.Open(ctx, dsn)
}

func main() {
	if err := newRootCmd(openPostgres, os.LookupEnv).Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(open openStoreFunc, lookup func(string) (string, bool)) *cobra.Command {
	var (
		dsn     string
		timeout time.Duration
	)

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage sales PostgreSQL schema migrations",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	root.PersistentFlags().DurationVar(&timeout, "timeout", defaultTimeout, "overall command timeout")

	// withStore открывает хранилище на время выполнения команды.
	withStore := func(cmd *cobra.Command, fn func(ctx context.Context, store migrationStore) error) error {
		resolved := strings.TrimSpace(dsn)
		if resolved == "" {
			if v, ok := lookup(envPostgresDSN); ok {
				resolved = strings.TrimSpace(v)
			}
		}
		if resolved == "" {
			return errMissingDSN
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		store, err := open(ctx, resolved)
		if err != nil {
			return fmt.Errorf("open postgres store: %w", err)
		}
		defer store.Close()

		return fn(ctx, store)
	}

	var upSteps int
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations (all by default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store migrationStore) error {
				if err := store.MigrateUp(ctx, upSteps); err != nil {
					return fmt.Errorf("migrate up failed: %w", err)
				}
				return printSummary(ctx, cmd.OutOrStdout(), store, "migrate up ok")
			})
		},
	}
	up.Flags().IntVar(&upSteps, "steps", 0, "number of migrations to apply (0 = all)")

	var downSteps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store migrationStore) error {
				if err := store.MigrateDown(ctx, downSteps); err != nil {
					return fmt.Errorf("migrate down failed: %w", err)
				}
				return printSummary(ctx, cmd.OutOrStdout(), store, "migrate down ok")
			})
		},
	}
	down.Flags().IntVar(&downSteps, "steps", 1, "number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show embedded migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store migrationStore) error {
				states, err := store.Migrations(ctx)
				if err != nil {
					return fmt.Errorf("migration status failed: %w", err)
				}
				return printStates(cmd.OutOrStdout(), states)
			})
		},
	}

	root.AddCommand(up, down, status)
	return root
}

func printSummary(ctx context.Context, out io.Writer, store migrationStore, prefix string) error {
	version, count, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, err = fmt.Fprintf(out, "%s: version=%d applied=%d\n", prefix, version, count)
	return err
}

func printStates(out io.Writer, states []postgres.MigrationState) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED\tAPPLIED AT")
	for _, st := range states {
		appliedAt := "-"
		if st.Applied && !st.AppliedAt.IsZero() {
			appliedAt = st.AppliedAt.UTC().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%t\t%s\n", st.Version, st.Name, st.Applied, appliedAt)
	}
	return tw.Flush()
}
