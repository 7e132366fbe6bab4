package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"livecheck/internal/api"
	"livecheck/internal/ipc"
	"livecheck/internal/logging"
)

func newDiagnosticsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Show recent daemon warnings and errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(0, func(client *ipc.Client) error {
				entries, err := client.Diagnostics(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.DiagnosticsResponse{Entries: entries})
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No warnings or errors recorded")
					return nil
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Time", "Level", "Component", "Event", "Message"},
					diagnosticRows(entries),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func diagnosticRows(entries []logging.Diagnostic) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		msg := e.Message
		if e.Error != "" {
			msg += ": " + e.Error
		}
		if e.ErrorHint != "" {
			msg += " (hint: " + e.ErrorHint + ")"
		}
		rows = append(rows, []string{
			e.Time.Local().Format(time.DateTime),
			strings.ToUpper(e.Level),
			e.Component,
			e.EventType,
			msg,
		})
	}
	return rows
}
