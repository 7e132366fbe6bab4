// Package logging assembles structured slog loggers and formatting helpers used
// across livecheck.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so session code can tag log lines with the
// recording session and correlation IDs. A bounded DiagnosticLog handler keeps
// the most recent warnings and errors for the control API, which is how capture
// failures surface to callers without blocking anything.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape as the rest of the system.
package logging
