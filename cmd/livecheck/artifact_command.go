package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"livecheck/internal/config"
	"livecheck/internal/fileutil"
	"livecheck/internal/ipc"
)

func newArtifactCommand(ctx *commandContext) *cobra.Command {
	artifactCmd := &cobra.Command{
		Use:   "artifact",
		Short: "Inspect or download the finalized clip",
	}

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show metadata of the finalized clip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(0, func(client *ipc.Client) error {
				snap, err := client.Session(cmd.Context())
				if err != nil {
					return err
				}
				art := snap.Artifact
				if art == nil {
					return errors.New("no finalized recording; run `livecheck start` and `livecheck stop` first")
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				printLines(out, []string{
					renderStatusLine("Session", statusInfo, art.SessionID, colorize),
					renderStatusLine("File", statusInfo, art.Filename, colorize),
					renderStatusLine("Type", statusInfo, art.MIMEType, colorize),
					renderStatusLine("Size", statusInfo, fmt.Sprintf("%s in %d chunks", humanize.IBytes(uint64(max(art.Size, 0))), art.ChunkCount), colorize),
					renderStatusLine("SHA-256", statusInfo, art.SHA256, colorize),
				})
				return nil
			})
		},
	}

	saveCmd := &cobra.Command{
		Use:   "save <path>",
		Short: "Download the finalized clip to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := config.ExpandPath(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("resolve output path: %w", err)
			}
			return ctx.withClient(0, func(client *ipc.Client) error {
				size, err := downloadArtifact(cmd.Context(), client, target)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s to %s\n", humanize.IBytes(uint64(size)), target)
				return nil
			})
		},
	}

	artifactCmd.AddCommand(infoCmd, saveCmd)
	return artifactCmd
}

var errOutputClosed = errors.New("output closed")

type downloadResult struct {
	sha string
	err error
}

// downloadArtifact streams the clip into target atomically and verifies it
// against the digest the daemon reported.
func downloadArtifact(ctx context.Context, client *ipc.Client, target string) (int64, error) {
	pr, pw := io.Pipe()
	done := make(chan downloadResult, 1)
	go func() {
		_, sha, err := client.DownloadArtifact(ctx, pw)
		pw.CloseWithError(err)
		done <- downloadResult{sha: sha, err: err}
	}()

	written, sum, writeErr := fileutil.WriteFileAtomic(target, pr, 0o644)
	pr.CloseWithError(errOutputClosed)
	result := <-done
	if writeErr != nil && errors.Is(result.err, errOutputClosed) {
		return 0, writeErr
	}
	if result.err != nil {
		if writeErr == nil {
			_ = os.Remove(target)
		}
		return 0, result.err
	}
	if writeErr != nil {
		return 0, writeErr
	}
	if result.sha != "" && result.sha != sum {
		_ = os.Remove(target)
		return 0, fmt.Errorf("downloaded clip digest %s does not match %s", shortDigest(sum), shortDigest(result.sha))
	}
	return written, nil
}
