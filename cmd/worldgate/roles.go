// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/worldgate/internal/roles"
)

func (c *cli) newRolesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Validate, import and export role documents",
		Long: `A role document is a YAML file holding a world's role map, its world-wide
trait grants and per-room trait grants.`,
	}
	cmd.AddCommand(newRolesValidateCmd())
	cmd.AddCommand(newRolesSchemaCmd())
	cmd.AddCommand(c.newRolesImportCmd())
	cmd.AddCommand(c.newRolesExportCmd())
	return cmd
}

func readDocument(path string) (*roles.Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, oops.Code("ROLES_DOCUMENT_READ_FAILED").With("path", path).Wrap(err)
	}
	cfg, err := roles.ParseDocument(data)
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}
	return cfg, nil
}

func newRolesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check role documents without applying them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				cfg, err := readDocument(path)
				if err != nil {
					return err
				}
				cmd.Printf("%s: ok (world %s, %d room(s))\n", path, cfg.WorldID, len(cfg.Rooms))
			}
			return nil
		},
	}
}

func newRolesSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of role documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := roles.GenerateSchema()
			if err != nil {
				return err
			}
			cmd.Println(string(data))
			return nil
		},
	}
}

func (c *cli) newRolesImportCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Apply a role document in one transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readDocument(args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				actor, err := a.subject(ctx, cfg.WorldID, actorID)
				if err != nil {
					return err
				}
				if err := a.rolesSvc.Apply(ctx, cfg, actor); err != nil {
					return err
				}
				cmd.Println("applied " + args[0] + " to world " + cfg.WorldID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "user making the change (default: system)")
	return cmd
}

func (c *cli) newRolesExportCmd() *cobra.Command {
	var worldID string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print a world's configuration as a role document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				w, err := a.worlds.Get(ctx, worldID)
				if err != nil {
					return err
				}
				rooms, err := a.rooms.ListByWorld(ctx, worldID)
				if err != nil {
					return err
				}
				data, err := roles.Export(w, rooms).Marshal()
				if err != nil {
					return err
				}
				cmd.Print(string(data))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&worldID, "world", "", "world ID")
	_ = cmd.MarkFlagRequired("world") //nolint:errcheck // flag exists
	return cmd
}
