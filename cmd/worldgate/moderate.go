// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/holomush/worldgate/internal/access"
)

type moderationFunc func(ctx context.Context, a *app, worldID, userID string, actor access.Subject) (bool, error)

func (c *cli) newModerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "moderate",
		Short: "Ban, silence, reactivate or delete users",
	}
	cmd.AddCommand(c.newModerationCmd("ban", "Ban a user from a world",
		func(ctx context.Context, a *app, worldID, userID string, actor access.Subject) (bool, error) {
			return a.moderationSvc.SetBanned(ctx, worldID, userID, actor)
		}))
	cmd.AddCommand(c.newModerationCmd("silence", "Silence a user in a world",
		func(ctx context.Context, a *app, worldID, userID string, actor access.Subject) (bool, error) {
			return a.moderationSvc.SetSilenced(ctx, worldID, userID, actor)
		}))
	cmd.AddCommand(c.newModerationCmd("reactivate", "Clear a user's ban or silence",
		func(ctx context.Context, a *app, worldID, userID string, actor access.Subject) (bool, error) {
			return a.moderationSvc.ClearModeration(ctx, worldID, userID, actor)
		}))
	cmd.AddCommand(c.newModerationCmd("delete", "Delete a user; deleted users hold no permissions",
		func(ctx context.Context, a *app, worldID, userID string, actor access.Subject) (bool, error) {
			return true, a.moderationSvc.DeleteUser(ctx, worldID, userID, actor)
		}))
	cmd.AddCommand(c.newModerationShowCmd())
	return cmd
}

func (c *cli) newModerationCmd(use, short string, fn moderationFunc) *cobra.Command {
	var worldID, userID, actorID string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				actor, err := a.subject(ctx, worldID, actorID)
				if err != nil {
					return err
				}
				changed, err := fn(ctx, a, worldID, userID, actor)
				if err != nil {
					return err
				}
				if changed {
					cmd.Println("changed")
				} else {
					cmd.Println("unchanged")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&worldID, "world", "", "world ID")
	cmd.Flags().StringVar(&userID, "user", "", "user to moderate")
	cmd.Flags().StringVar(&actorID, "actor", "", "user making the change (default: system)")
	_ = cmd.MarkFlagRequired("world") //nolint:errcheck // flag exists
	_ = cmd.MarkFlagRequired("user")  //nolint:errcheck // flag exists
	return cmd
}

func (c *cli) newModerationShowCmd() *cobra.Command {
	var worldID, userID string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a user's moderation state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				state, err := a.moderationSvc.State(ctx, worldID, userID)
				if err != nil {
					return err
				}
				cmd.Println(state.String())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&worldID, "world", "", "world ID")
	cmd.Flags().StringVar(&userID, "user", "", "user ID")
	_ = cmd.MarkFlagRequired("world") //nolint:errcheck // flag exists
	_ = cmd.MarkFlagRequired("user")  //nolint:errcheck // flag exists
	return cmd
}
