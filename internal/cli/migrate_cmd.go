package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"securecms.org/internal/migrate"
	"securecms.org/internal/store/pg"
)

func newMigrateCmd() *cobra.Command {
	var (
		dsn             string
		timeout         time.Duration
		migrationsTable string
		seedsTable      string
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect the embedded schema migrations",
	}
	cmd.PersistentFlags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (default $CMS_PG_DSN)")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout")
	cmd.PersistentFlags().StringVar(&migrationsTable, "migrations-table", "", "Migrations bookkeeping table (default schema_migrations)")
	cmd.PersistentFlags().StringVar(&seedsTable, "seeds-table", "", "Seeds bookkeeping table (default schema_seeds)")

	withManager := func(run func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			if dsn == "" {
				dsn = os.Getenv("CMS_PG_DSN")
			}
			if dsn == "" {
				return errors.New("missing DSN: provide --dsn or CMS_PG_DSN")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			store, err := pg.Open(dsn)
			if err != nil {
				return err
			}
			defer store.Close()
			m := migrate.NewManager(store.DB(), migrate.Embedded(),
				migrate.WithMigrationsTable(migrationsTable),
				migrate.WithSeedsTable(seedsTable),
			)
			return run(ctx, cmd, m)
		}
	}

	printList := func(cmd *cobra.Command, key string, names []string) error {
		if names == nil {
			names = []string{}
		}
		if outputFormat(cmd) == "json" {
			return printJSON(cmd.OutOrStdout(), map[string][]string{key: names})
		}
		if len(names) == 0 {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "no %s\n", key)
		}
		for _, n := range names {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), n)
		}
		return nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: withManager(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
				applied, err := m.Up(ctx)
				if err != nil {
					return err
				}
				return printList(cmd, "applied", applied)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			Args:  cobra.NoArgs,
			RunE: withManager(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
				name, err := m.Down(ctx)
				if err != nil {
					return err
				}
				return printList(cmd, "rolled_back", []string{name})
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: withManager(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
				applied, err := m.Status(ctx)
				if err != nil {
					return err
				}
				pending, err := m.Pending(ctx)
				if err != nil {
					return err
				}
				if outputFormat(cmd) == "json" {
					if applied == nil {
						applied = []string{}
					}
					if pending == nil {
						pending = []string{}
					}
					return printJSON(cmd.OutOrStdout(), map[string][]string{"applied": applied, "pending": pending})
				}
				for _, n := range applied {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "applied  %s\n", n)
				}
				for _, n := range pending {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "pending  %s\n", n)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Install the permission catalogue and builtin roles",
			Args:  cobra.NoArgs,
			RunE: withManager(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
				applied, err := m.Seed(ctx)
				if err != nil {
					return err
				}
				return printList(cmd, "seeded", applied)
			}),
		},
	)
	return cmd
}
