package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"livecheck/internal/api"
	"livecheck/internal/history"
	"livecheck/internal/ipc"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: "List finalized recordings and their submissions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(0, func(client *ipc.Client) error {
				out := cmd.OutOrStdout()
				if len(args) == 1 {
					rec, err := client.Recording(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					if asJSON {
						return writeJSON(cmd, api.RecordingResponse{Recording: *rec})
					}
					renderRecording(out, rec)
					return nil
				}

				recs, err := client.Recordings(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.RecordingsResponse{Recordings: recs})
				}
				if len(recs) == 0 {
					fmt.Fprintln(out, "No recordings yet")
					return nil
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Session", "Finalized", "Size", "Chunks", "Submissions", "Last Result"},
					recordingRows(recs, time.Now()),
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of recordings to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func recordingRows(recs []history.Recording, now time.Time) [][]string {
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, []string{
			rec.SessionID,
			humanize.RelTime(rec.FinalizedAt, now, "ago", "from now"),
			humanize.IBytes(uint64(max(rec.Size, 0))),
			strconv.Itoa(rec.ChunkCount),
			strconv.Itoa(rec.SubmissionCount),
			submissionResult(rec.LastSubmission),
		})
	}
	return rows
}

func submissionResult(sub *history.Submission) string {
	switch {
	case sub == nil:
		return "-"
	case sub.Decision != "":
		return sub.Decision
	case sub.Success:
		return fmt.Sprintf("ok (%d)", sub.StatusCode)
	case sub.StatusCode > 0:
		return fmt.Sprintf("failed (%d)", sub.StatusCode)
	default:
		return "failed"
	}
}

func renderRecording(out io.Writer, rec *history.Recording) {
	colorize := shouldColorize(out)
	lines := []string{
		renderStatusLine("Device", statusInfo, rec.Device, colorize),
		renderStatusLine("Finalized", statusInfo, rec.FinalizedAt.Local().Format(time.RFC3339), colorize),
		renderStatusLine("Size", statusInfo, fmt.Sprintf("%s in %d chunks", humanize.IBytes(uint64(max(rec.Size, 0))), rec.ChunkCount), colorize),
		renderStatusLine("SHA-256", statusInfo, rec.SHA256, colorize),
	}
	if !rec.StartedAt.IsZero() {
		lines = append(lines, renderStatusLine("Duration", statusInfo, rec.FinalizedAt.Sub(rec.StartedAt).Round(time.Second).String(), colorize))
	}
	if rec.ArchivePath != "" {
		lines = append(lines, renderStatusLine("Archive", statusOK, rec.ArchivePath, colorize))
	}
	if rec.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusWarn, rec.LastError, colorize))
	}
	printSection(out, "Recording "+rec.SessionID, lines, colorize)

	if len(rec.Submissions) == 0 {
		fmt.Fprintln(out, "No submissions")
		return
	}
	rows := make([][]string, 0, len(rec.Submissions))
	for _, sub := range rec.Submissions {
		score := "-"
		if sub.FinalScore != nil {
			score = strconv.FormatFloat(*sub.FinalScore, 'f', 3, 64)
		}
		status := "-"
		if sub.StatusCode > 0 {
			status = strconv.Itoa(sub.StatusCode)
		}
		result := submissionResult(&sub)
		if sub.Error != "" {
			result = sub.Error
		}
		rows = append(rows, []string{
			sub.SubmittedAt.Local().Format("2006-01-02 15:04:05"),
			status,
			score,
			sub.Duration.Round(time.Millisecond).String(),
			result,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Submitted", "Status", "Score", "Took", "Result"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft},
	))
}
