// Package preflight provides readiness checks for the filesystem paths and
// the verification endpoint that livecheck depends on.
//
// The CLI "livecheck status" command runs RunAll to display path and endpoint
// health next to the daemon's own dependency report. Checks are skipped when
// the feature they cover is disabled.
package preflight
