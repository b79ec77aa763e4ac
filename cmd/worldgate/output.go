// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// printJSON writes v to the command output as indented JSON.
func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return oops.Code("OUTPUT_ENCODE_FAILED").Wrap(err)
	}
	cmd.Println(string(data))
	return nil
}

// printTable writes tab-separated rows under a header, aligned.
func printTable(cmd *cobra.Command, header []string, rows [][]string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(w, strings.Join(header, "\t")); err != nil {
		return oops.Code("OUTPUT_WRITE_FAILED").Wrap(err)
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(w, strings.Join(row, "\t")); err != nil {
			return oops.Code("OUTPUT_WRITE_FAILED").Wrap(err)
		}
	}
	if err := w.Flush(); err != nil {
		return oops.Code("OUTPUT_WRITE_FAILED").Wrap(err)
	}
	return nil
}
