package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"livecheck/internal/api"
	"livecheck/internal/ipc"
	"livecheck/internal/session"
)

const submitTimeoutMargin = 10 * time.Second

func newSessionCommands(ctx *commandContext) []*cobra.Command {
	var startJSON bool
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start recording on the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(0, func(client *ipc.Client) error {
				snap, err := client.Start(cmd.Context())
				if err != nil {
					return err
				}
				return printSession(cmd, snap, startJSON)
			})
		},
	}
	startCmd.Flags().BoolVar(&startJSON, "json", false, "Output as JSON")

	var stopJSON bool
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop recording and finalize the clip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(0, func(client *ipc.Client) error {
				snap, err := client.Stop(cmd.Context())
				if err != nil {
					return err
				}
				return printSession(cmd, snap, stopJSON)
			})
		},
	}
	stopCmd.Flags().BoolVar(&stopJSON, "json", false, "Output as JSON")

	return []*cobra.Command{startCmd, stopCmd, newSubmitCommand(ctx), newWatchCommand(ctx)}
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var fields []string
	var documentPath string
	var documentType string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit the finalized clip to the processing endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := buildSubmitRequest(fields, documentPath, documentType)
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withClient(cfg.SubmissionTimeout()+submitTimeoutMargin, func(client *ipc.Client) error {
				resp, err := client.Submit(cmd.Context(), req)
				if asJSON {
					if jsonErr := writeJSON(cmd, resp); jsonErr != nil {
						return jsonErr
					}
					return err
				}
				if resp != nil {
					printLines(cmd.OutOrStdout(), receiptLines(resp.Receipt, shouldColorize(cmd.OutOrStdout())))
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Submission accepted")
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVarP(&fields, "field", "f", nil, "Extra form field as key=value (repeatable)")
	cmd.Flags().StringVar(&documentPath, "document", "", "Attach a document file alongside the clip")
	cmd.Flags().StringVar(&documentType, "document-type", "", "Content type of --document (guessed from the extension by default)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func buildSubmitRequest(fields []string, documentPath, documentType string) (api.SubmitRequest, error) {
	var req api.SubmitRequest
	for _, raw := range fields {
		key, value, ok := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return req, fmt.Errorf("invalid --field %q: expected key=value", raw)
		}
		if req.Fields == nil {
			req.Fields = make(map[string]string)
		}
		req.Fields[key] = value
	}

	documentPath = strings.TrimSpace(documentPath)
	if documentPath == "" {
		return req, nil
	}
	data, err := os.ReadFile(documentPath)
	if err != nil {
		return req, fmt.Errorf("read document: %w", err)
	}
	contentType := strings.TrimSpace(documentType)
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(documentPath))
	}
	req.Document = &api.Document{
		Filename:    filepath.Base(documentPath),
		ContentType: contentType,
		Data:        data,
	}
	return req, nil
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var untilStopped bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream session state changes from the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			watchCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return ctx.withClient(0, func(client *ipc.Client) error {
				return streamSession(watchCtx, client, cmd.OutOrStdout(), untilStopped)
			})
		},
	}
	cmd.Flags().BoolVar(&untilStopped, "until-stopped", false, "Exit once a recording has been finalized")
	return cmd
}

func streamSession(ctx context.Context, client *ipc.Client, out io.Writer, untilStopped bool) error {
	snaps, errs, err := client.Events(ctx)
	if err != nil {
		return err
	}
	sawRecording := false
	for snap := range snaps {
		fmt.Fprintln(out, watchLine(snap, time.Now()))
		if snap.State == session.StateRecording {
			sawRecording = true
		}
		if untilStopped && sawRecording && snap.State == session.StateStopped {
			return nil
		}
	}
	select {
	case err := <-errs:
		return err
	default:
	}
	if ctx.Err() != nil {
		return nil
	}
	return errors.New("daemon closed the event stream")
}

func printSession(cmd *cobra.Command, snap session.Snapshot, asJSON bool) error {
	if asJSON {
		return writeJSON(cmd, api.SessionResponse{Session: snap})
	}
	out := cmd.OutOrStdout()
	printLines(out, sessionLines(snap, time.Now(), shouldColorize(out)))
	return nil
}
