// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/holomush/worldgate/internal/access"
)

type subjectFlags struct {
	world string
	room  string
	user  string
}

func (f *subjectFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.world, "world", "", "world ID")
	cmd.Flags().StringVar(&f.room, "room", "", "room ID (optional)")
	cmd.Flags().StringVar(&f.user, "user", "", "user ID")
	_ = cmd.MarkFlagRequired("world") //nolint:errcheck // flag exists
	_ = cmd.MarkFlagRequired("user")  //nolint:errcheck // flag exists
}

func (c *cli) newCheckCmd() *cobra.Command {
	var (
		f          subjectFlags
		permission string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether a user holds a permission",
		Long: `Check whether a user holds a permission in a world, or in a room of
that world when --room is given. The user's stored traits and moderation
state are used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			perm, err := access.ParsePermission(permission)
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				subject, err := a.subject(ctx, f.world, f.user)
				if err != nil {
					return err
				}
				allowed, err := a.resolver.HasPermission(ctx, subject, f.world, perm, f.room)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd, map[string]any{
						"user":       f.user,
						"permission": perm,
						"allowed":    allowed,
					})
				}
				if allowed {
					cmd.Println("allowed")
				} else {
					cmd.Println("denied")
				}
				return nil
			})
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVar(&permission, "permission", "", "permission to check, e.g. room:chat")
	_ = cmd.MarkFlagRequired("permission") //nolint:errcheck // flag exists
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func (c *cli) newPermissionsCmd() *cobra.Command {
	var (
		f          subjectFlags
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "List the permissions a user holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				subject, err := a.subject(ctx, f.world, f.user)
				if err != nil {
					return err
				}
				perms, err := a.resolver.AllPermissions(ctx, subject, f.world, f.room)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd, map[string]any{"user": f.user, "permissions": perms.Strings()})
				}
				for _, p := range perms.Strings() {
					cmd.Println(p)
				}
				return nil
			})
		},
	}
	f.bind(cmd)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}
