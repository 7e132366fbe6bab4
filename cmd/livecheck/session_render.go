package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"livecheck/internal/session"
	"livecheck/internal/submit"
)

func sessionLines(snap session.Snapshot, now time.Time, colorize bool) []string {
	lines := make([]string, 0, 7)
	lines = append(lines, renderStatusLine("State", sessionStateKind(snap), stateDetail(snap), colorize))

	id := snap.SessionID
	if id == "" {
		id = "none"
	}
	lines = append(lines, renderStatusLine("Session", statusInfo, id, colorize))

	if snap.SessionID != "" {
		lines = append(lines, renderStatusLine("Recorded", statusInfo,
			fmt.Sprintf("%d chunks, %s", snap.ChunkCount, humanize.IBytes(uint64(max(snap.BufferedBytes, 0)))), colorize))
		lines = append(lines, renderStatusLine("Duration", statusInfo, snap.Duration(now).Round(time.Second).String(), colorize))
	}

	if art := snap.Artifact; art != nil {
		lines = append(lines, renderStatusLine("Artifact", statusOK,
			fmt.Sprintf("%s (%s, sha256 %s)", art.Filename, humanize.IBytes(uint64(max(art.Size, 0))), shortDigest(art.SHA256)), colorize))
	} else {
		lines = append(lines, renderStatusLine("Artifact", statusInfo, "none", colorize))
	}

	lines = append(lines, renderStatusLine("Controls", statusInfo, controlsDetail(snap.Controls), colorize))
	if snap.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusError, snap.LastError, colorize))
	}
	return lines
}

func sessionStateKind(snap session.Snapshot) statusKind {
	switch snap.State {
	case session.StateRecording:
		return statusOK
	case session.StateStopped:
		if snap.Artifact != nil {
			return statusOK
		}
		return statusWarn
	default:
		if snap.LastError != "" {
			return statusWarn
		}
		return statusInfo
	}
}

func stateDetail(snap session.Snapshot) string {
	state := string(snap.State)
	if state == "" {
		state = string(session.StateIdle)
	}
	if snap.Stopping {
		return state + " (stopping)"
	}
	return state
}

func controlsDetail(c session.Controls) string {
	return fmt.Sprintf("start=%s stop=%s submit=%s", yesNo(c.Start), yesNo(c.Stop), yesNo(c.Submit))
}

// watchLine renders one snapshot as a single log-style line.
func watchLine(snap session.Snapshot, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-9s", now.Format("15:04:05"), stateDetail(snap))
	if snap.SessionID != "" {
		fmt.Fprintf(&b, " session=%s chunks=%d bytes=%s", shortDigest(snap.SessionID), snap.ChunkCount, humanize.IBytes(uint64(max(snap.BufferedBytes, 0))))
	}
	if snap.Artifact != nil {
		fmt.Fprintf(&b, " artifact=%s", humanize.IBytes(uint64(max(snap.Artifact.Size, 0))))
	}
	if snap.LastError != "" {
		fmt.Fprintf(&b, " error=%q", snap.LastError)
	}
	return b.String()
}

func receiptLines(r *submit.Receipt, colorize bool) []string {
	if r == nil {
		return nil
	}
	kind := statusOK
	if r.StatusCode < 200 || r.StatusCode >= 300 {
		kind = statusError
	}
	lines := []string{
		renderStatusLine("Endpoint", statusInfo, r.Endpoint, colorize),
		renderStatusLine("HTTP status", kind, fmt.Sprintf("%d", r.StatusCode), colorize),
		renderStatusLine("Uploaded", statusInfo, fmt.Sprintf("%s in %s", humanize.IBytes(uint64(max(r.Bytes, 0))), r.Duration.Round(time.Millisecond)), colorize),
	}
	if v := r.Verification; v != nil {
		lines = append(lines,
			renderStatusLine("Decision", decisionKind(v.Decision), v.Decision, colorize),
			renderStatusLine("Final score", statusInfo, fmt.Sprintf("%.3f", v.FinalScore), colorize),
		)
	} else if body := strings.TrimSpace(r.Body); body != "" {
		if r.Truncated {
			body += " ..."
		}
		lines = append(lines, renderStatusLine("Response", statusInfo, body, colorize))
	}
	return lines
}

func decisionKind(decision string) statusKind {
	switch strings.ToLower(strings.TrimSpace(decision)) {
	case "approved", "accept", "accepted", "pass", "passed":
		return statusOK
	case "":
		return statusInfo
	default:
		return statusWarn
	}
}

func shortDigest(value string) string {
	if len(value) <= 12 {
		return value
	}
	return value[:12]
}
