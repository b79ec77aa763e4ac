// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/holomush/worldgate/internal/access"
	"github.com/holomush/worldgate/internal/roles"
	"github.com/holomush/worldgate/internal/world"
)

func (c *cli) newWorldCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "world",
		Short: "Manage worlds, rooms and users",
	}
	cmd.AddCommand(c.newWorldCreateCmd())
	cmd.AddCommand(c.newWorldListCmd())
	cmd.AddCommand(c.newRoomCreateCmd())
	cmd.AddCommand(c.newUserSetCmd())
	return cmd
}

func (c *cli) newWorldCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create ID",
		Short: "Create a world with the default roles and trait grants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				w := world.NewWorld(args[0], name)
				if err := a.rolesSvc.CreateWorld(ctx, w, roles.SystemActor); err != nil {
					return err
				}
				cmd.Println("created world " + w.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("name") //nolint:errcheck // flag exists
	return cmd
}

func (c *cli) newWorldListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List worlds and their rooms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				worlds, err := a.worlds.List(ctx)
				if err != nil {
					return err
				}
				var rows [][]string
				for _, w := range worlds {
					rooms, err := a.rooms.ListByWorld(ctx, w.ID)
					if err != nil {
						return err
					}
					ids := make([]string, 0, len(rooms))
					for _, r := range rooms {
						ids = append(ids, r.ID)
					}
					rows = append(rows, []string{w.ID, w.Name, strings.Join(ids, ",")})
				}
				return printTable(cmd, []string{"WORLD", "NAME", "ROOMS"}, rows)
			})
		},
	}
}

func (c *cli) newRoomCreateCmd() *cobra.Command {
	var worldID, name, actorID string
	cmd := &cobra.Command{
		Use:   "add-room ID",
		Short: "Create a room in a world",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				actor, err := a.subject(ctx, worldID, actorID)
				if err != nil {
					return err
				}
				r := world.NewRoom(args[0], worldID, name)
				if err := a.rolesSvc.CreateRoom(ctx, r, actor); err != nil {
					return err
				}
				cmd.Println("created room " + r.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&worldID, "world", "", "world ID")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&actorID, "actor", "", "user making the change (default: system)")
	_ = cmd.MarkFlagRequired("world") //nolint:errcheck // flag exists
	_ = cmd.MarkFlagRequired("name")  //nolint:errcheck // flag exists
	return cmd
}

// newUserSetCmd records a user's traits the way a verified identity token
// would. Moderation state is kept.
func (c *cli) newUserSetCmd() *cobra.Command {
	var (
		worldID  string
		userType string
		traits   []string
	)
	cmd := &cobra.Command{
		Use:   "set-user ID",
		Short: "Record a user's type and traits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := access.ParseUserType(userType)
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				u := &world.User{
					ID:        args[0],
					WorldID:   worldID,
					Type:      t,
					Traits:    traits,
					CreatedAt: time.Now(),
				}
				if err := u.Validate(); err != nil {
					return world.Invalid(err)
				}
				if _, err := a.worlds.Get(ctx, worldID); err != nil {
					return err
				}
				if err := a.users.Upsert(ctx, u); err != nil {
					return err
				}
				cmd.Println("recorded user " + u.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&worldID, "world", "", "world ID")
	cmd.Flags().StringVar(&userType, "type", string(access.UserPerson), "user type: person, kiosk or anon")
	cmd.Flags().StringSliceVar(&traits, "traits", nil, "comma-separated traits")
	_ = cmd.MarkFlagRequired("world") //nolint:errcheck // flag exists
	return cmd
}
