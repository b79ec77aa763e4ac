// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/worldgate/internal/world"
)

// scopeFlags select a world, optionally narrowed to a room, and the actor
// making the change. An empty actor is the system.
type scopeFlags struct {
	world string
	room  string
	actor string
}

func (f *scopeFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.world, "world", "", "world ID")
	cmd.Flags().StringVar(&f.room, "room", "", "room ID; grants apply to the room only")
	cmd.Flags().StringVar(&f.actor, "actor", "", "user making the change (default: system)")
	_ = cmd.MarkFlagRequired("world") //nolint:errcheck // flag exists
}

// roomInWorld returns ROOM_NOT_FOUND when roomID belongs to another world.
func (a *app) roomInWorld(ctx context.Context, worldID, roomID string) error {
	room, err := a.rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if room.WorldID != worldID {
		return oops.Code("ROOM_NOT_FOUND").
			With("world_id", worldID).
			With("room_id", roomID).
			Wrap(world.ErrNotFound)
	}
	return nil
}

func (c *cli) newGrantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Manage explicit role grants",
	}
	cmd.AddCommand(c.newGrantChangeCmd("add", "Grant a role to a user", true))
	cmd.AddCommand(c.newGrantChangeCmd("remove", "Take a role away from a user", false))
	cmd.AddCommand(c.newGrantListCmd())
	return cmd
}

func (c *cli) newGrantChangeCmd(use, short string, add bool) *cobra.Command {
	var (
		f    scopeFlags
		user string
		role string
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				actor, err := a.subject(ctx, f.world, f.actor)
				if err != nil {
					return err
				}
				var changed bool
				switch {
				case f.room != "":
					if err := a.roomInWorld(ctx, f.world, f.room); err != nil {
						return err
					}
					if add {
						changed, err = a.grantSvc.AddRoomGrant(ctx, f.room, user, role, actor)
					} else {
						changed, err = a.grantSvc.RemoveRoomGrant(ctx, f.room, user, role, actor)
					}
				case add:
					changed, err = a.grantSvc.AddWorldGrant(ctx, f.world, user, role, actor)
				default:
					changed, err = a.grantSvc.RemoveWorldGrant(ctx, f.world, user, role, actor)
				}
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
	f.bind(cmd)
	cmd.Flags().StringVar(&user, "user", "", "user ID")
	cmd.Flags().StringVar(&role, "role", "", "role name")
	_ = cmd.MarkFlagRequired("user") //nolint:errcheck // flag exists
	_ = cmd.MarkFlagRequired("role") //nolint:errcheck // flag exists
	return cmd
}

func (c *cli) newGrantListCmd() *cobra.Command {
	var (
		f          scopeFlags
		user       string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List role grants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				actor, err := a.subject(ctx, f.world, f.actor)
				if err != nil {
					return err
				}
				var rows [][]string
				if f.room != "" {
					if err := a.roomInWorld(ctx, f.world, f.room); err != nil {
						return err
					}
					grants, err := a.grantSvc.ListRoomGrants(ctx, f.room, user, actor)
					if err != nil {
						return err
					}
					for _, g := range grants {
						rows = append(rows, []string{g.UserID, g.Role, g.RoomID})
					}
				} else {
					grants, err := a.grantSvc.ListWorldGrants(ctx, f.world, user, actor)
					if err != nil {
						return err
					}
					for _, g := range grants {
						rows = append(rows, []string{g.UserID, g.Role, ""})
					}
				}
				if jsonOutput {
					out := make([]map[string]string, 0, len(rows))
					for _, r := range rows {
						out = append(out, map[string]string{"user": r[0], "role": r[1], "room": r[2]})
					}
					return printJSON(cmd, out)
				}
				return printTable(cmd, []string{"USER", "ROLE", "ROOM"}, rows)
			})
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVar(&user, "user", "", "only list grants of this user")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}
