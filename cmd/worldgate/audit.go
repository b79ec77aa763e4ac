// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/holomush/worldgate/internal/audit"
)

func (c *cli) newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the audit log",
		Long:  `Read the audit log. Entries are append-only and cannot be changed or deleted.`,
	}
	cmd.AddCommand(c.newAuditListCmd())
	return cmd
}

func (c *cli) newAuditListCmd() *cobra.Command {
	var (
		f          audit.Filter
		since      time.Duration
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit entries in the order they were written",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if since > 0 {
				f.Since = time.Now().Add(-since)
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				entries, err := a.audit.Collect(ctx, f)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd, entries)
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					actor := e.ActorID
					if actor == "" {
						actor = "system"
					}
					rows = append(rows, []string{
						e.Timestamp.UTC().Format(time.RFC3339),
						e.WorldID,
						actor,
						string(e.Action),
						e.Payload.Object,
						describe(e.Payload),
					})
				}
				return printTable(cmd, []string{"TIME", "WORLD", "ACTOR", "ACTION", "OBJECT", "CHANGE"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&f.WorldID, "world", "", "only entries of this world")
	cmd.Flags().StringVar(&f.ActorID, "by", "", "only entries made by this user")
	cmd.Flags().StringVar(&f.ActionPrefix, "action", "", "only actions starting with this prefix, e.g. auth.user.")
	cmd.Flags().StringVar(&f.ObjectID, "object", "", "only entries about this object")
	cmd.Flags().DurationVar(&since, "since", 0, "only entries newer than this, e.g. 24h")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "maximum number of entries; 0 for all")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

// describe renders the old and new values of a change on one line.
func describe(p audit.Payload) string {
	if p.Old == nil && p.New == nil {
		return ""
	}
	return compact(p.Old) + " -> " + compact(p.New)
}

func compact(v any) string {
	if v == nil {
		return "-"
	}
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "?"
	}
	return string(data)
}
