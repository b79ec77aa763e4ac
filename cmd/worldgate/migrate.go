// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/worldgate/internal/config"
	"github.com/holomush/worldgate/internal/store"
)

// migrationRunner is the subset of store.Migrator the migrate commands use.
type migrationRunner interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	PendingMigrations() ([]uint, error)
	Close() error
}

func openMigrator(databaseURL string) (migrationRunner, error) {
	return store.NewMigrator(databaseURL)
}

// migrateUp applies every pending migration. Used by auto-migrate.
func migrateUp(databaseURL string) error {
	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }() //nolint:errcheck // migration result takes precedence
	return m.Up()
}

func (c *cli) newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  `Apply, roll back and inspect the PostgreSQL schema migrations.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withMigrator(cmd, func(m migrationRunner) error {
				pending, err := m.PendingMigrations()
				if err != nil {
					return err
				}
				if len(pending) == 0 {
					cmd.Println("No pending migrations")
					return nil
				}
				if err := m.Up(); err != nil {
					return err
				}
				cmd.Printf("Applied %d migration(s)\n", len(pending))
				return nil
			})
		},
	})

	var yes bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		Long:  `Roll back every migration. All worlds, grants and audit entries are dropped.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return oops.Code("CONFIRMATION_REQUIRED").Errorf("migrate down drops all data; pass --yes to confirm")
			}
			return c.withMigrator(cmd, func(m migrationRunner) error {
				if err := m.Down(); err != nil {
					return err
				}
				cmd.Println("Rolled back all migrations")
				return nil
			})
		},
	}
	down.Flags().BoolVar(&yes, "yes", false, "confirm dropping all data")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "steps N",
		Short: "Apply N migrations, or roll back -N",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n == 0 {
				return oops.Code("INVALID_STEPS").With("steps", args[0]).Errorf("steps must be a non-zero integer")
			}
			return c.withMigrator(cmd, func(m migrationRunner) error {
				return m.Steps(n)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withMigrator(cmd, func(m migrationRunner) error {
				v, dirty, err := m.Version()
				if err != nil {
					return err
				}
				name, err := store.MigrationName(v)
				if err != nil {
					return err
				}
				line := fmt.Sprintf("version %d", v)
				if name != "" {
					line += " (" + name + ")"
				}
				if dirty {
					line += " dirty"
				}
				cmd.Println(line)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied without running it",
		Long: `Mark VERSION as applied without running any migration. Use it to
recover a database left dirty by a failed migration.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("INVALID_VERSION").With("version", args[0]).Wrap(err)
			}
			return c.withMigrator(cmd, func(m migrationRunner) error {
				return m.Force(v)
			})
		},
	})

	return cmd
}

func (c *cli) withMigrator(cmd *cobra.Command, fn func(m migrationRunner) error) error {
	cfg, _, err := c.load(cmd)
	if err != nil {
		return err
	}
	if cfg.Store.Driver != config.StorePostgres {
		return oops.Code("CONFIG_INVALID").With("driver", cfg.Store.Driver).Errorf("migrations need the postgres store")
	}
	m, err := c.deps.openMigrator(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }() //nolint:errcheck // command result takes precedence
	return fn(m)
}
