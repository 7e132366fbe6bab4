package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"livecheck/internal/api"
	"livecheck/internal/daemonctl"
	"livecheck/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var (
		asJSON   bool
		noChecks bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, session, camera, and dependency status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := ctx.client(0)
			if err != nil {
				return err
			}
			status, err := daemonctl.BuildStatusSnapshot(cmd.Context(), client, ctx.configValue())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, status)
			}
			var checks []preflight.Result
			if !noChecks {
				checks = preflight.RunAll(cmd.Context(), ctx.configValue())
			}
			renderStatus(cmd.OutOrStdout(), status, client.BaseURL(), checks, time.Now())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&noChecks, "no-checks", false, "Skip path and endpoint checks")
	return cmd
}

func renderStatus(out io.Writer, status *api.DaemonStatus, baseURL string, checks []preflight.Result, now time.Time) {
	colorize := shouldColorize(out)
	printSection(out, "Daemon", daemonLines(status, baseURL, now, colorize), colorize)
	if status.Running {
		printSection(out, "Session", sessionLines(status.Session, now, colorize), colorize)
	}
	printSection(out, "Camera", cameraLines(status.Camera, colorize), colorize)
	printSection(out, "Dependencies", dependencyLines(status.Dependencies, colorize), colorize)
	if len(checks) > 0 {
		printSection(out, "Checks", checkLines(checks, colorize), colorize)
	}
}

func checkLines(checks []preflight.Result, colorize bool) []string {
	lines := make([]string, 0, len(checks))
	for _, check := range checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
	return lines
}

func daemonLines(status *api.DaemonStatus, baseURL string, now time.Time, colorize bool) []string {
	if !status.Running {
		return []string{
			renderStatusLine("livecheck", statusError, "Not running", colorize),
			renderStatusLine("API", statusInfo, baseURL, colorize),
			renderStatusLine("History", statusInfo, status.HistoryPath, colorize),
			endpointLine(status.Endpoint, colorize),
		}
	}
	running := fmt.Sprintf("Running (pid %d)", status.PID)
	if !status.StartedAt.IsZero() {
		running = fmt.Sprintf("Running (pid %d, up %s)", status.PID, humanize.RelTime(status.StartedAt, now, "", ""))
		running = strings.TrimSpace(running)
	}
	lines := []string{
		renderStatusLine("livecheck", statusOK, running, colorize),
		renderStatusLine("API", statusInfo, baseURL, colorize),
		renderStatusLine("History", statusInfo, status.HistoryPath, colorize),
	}
	if status.LogPath != "" {
		lines = append(lines, renderStatusLine("Log", statusInfo, status.LogPath, colorize))
	}
	return append(lines, endpointLine(status.Endpoint, colorize))
}

func endpointLine(endpoint string, colorize bool) string {
	if strings.TrimSpace(endpoint) == "" {
		return renderStatusLine("Endpoint", statusWarn, "Not configured (submit disabled)", colorize)
	}
	return renderStatusLine("Endpoint", statusOK, endpoint, colorize)
}

func cameraLines(camera api.CameraStatus, colorize bool) []string {
	device := camera.Device
	if device == "" {
		device = "not configured"
	}
	kind := statusOK
	detail := "Present"
	if !camera.Present {
		kind = statusError
		detail = "Missing"
	}
	lines := []string{
		renderStatusLine("Device", statusInfo, device, colorize),
		renderStatusLine("Presence", kind, detail, colorize),
	}
	if camera.Monitoring {
		lines = append(lines, renderStatusLine("Hotplug monitor", statusOK, "Active", colorize))
	}
	if camera.LastEvent != "" {
		lines = append(lines, renderStatusLine("Last event", statusInfo,
			fmt.Sprintf("%s %s", camera.LastEvent, humanize.Time(camera.LastEventAt)), colorize))
	}
	return lines
}

func dependencyLines(deps []api.DependencyStatus, colorize bool) []string {
	lines := make([]string, 0, len(deps)+1)
	missing := make([]string, 0)
	for _, dep := range deps {
		if dep.Available {
			message := "Ready"
			if dep.Command != "" {
				message = fmt.Sprintf("Ready (command: %s)", dep.Command)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}

		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
		if !dep.Optional {
			missing = append(missing, dep.Name)
		}
	}
	if len(missing) > 0 {
		lines = append(lines, renderStatusLine("Missing dependencies", statusWarn, strings.Join(missing, ", "), colorize))
	}
	return lines
}
