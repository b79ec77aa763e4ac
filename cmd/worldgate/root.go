// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/holomush/worldgate/internal/config"
	"github.com/holomush/worldgate/internal/logging"
)

// deps holds the injectable pieces of the CLI. Nil fields use the defaults.
type deps struct {
	// openApp builds the application from the loaded configuration.
	// Default: newApp
	openApp func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error)
	// openMigrator opens the schema migrator for a database URL.
	// Default: store.NewMigrator
	openMigrator func(databaseURL string) (migrationRunner, error)
}

// cli is the state shared by every subcommand.
type cli struct {
	configFile string
	deps       deps
}

// NewRootCmd creates the root command for the worldgate CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(deps{})
}

func newRootCmd(d deps) *cobra.Command {
	if d.openApp == nil {
		d.openApp = newApp
	}
	if d.openMigrator == nil {
		d.openMigrator = openMigrator
	}
	c := &cli{deps: d}

	cmd := &cobra.Command{
		Use:   "worldgate",
		Short: "worldgate - permissions for worlds and rooms",
		Long: `worldgate decides what users may do in real-time collaboration worlds
and their rooms, and manages the role grants, moderation states and
trait-based configuration those decisions are made from.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&c.configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/worldgate/config.yaml)")
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(c.newServeCmd())
	cmd.AddCommand(c.newMigrateCmd())
	cmd.AddCommand(c.newCheckCmd())
	cmd.AddCommand(c.newPermissionsCmd())
	cmd.AddCommand(c.newGrantCmd())
	cmd.AddCommand(c.newModerateCmd())
	cmd.AddCommand(c.newWorldCmd())
	cmd.AddCommand(c.newRolesCmd())
	cmd.AddCommand(c.newAuditCmd())

	return cmd
}

// load reads the configuration and sets up logging.
func (c *cli) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.configFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(logging.Options{
		Service: "worldgate",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
		Output:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// withApp loads the configuration, opens the application and runs fn.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, logger, err := c.load(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := c.deps.openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
