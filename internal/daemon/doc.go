// Package daemon coordinates the long-running livecheck process and its
// system integration points.
//
// It wires configuration, the session controller, the recording history, the
// camera hotplug monitor, and notifications into a single lifecycle with
// flock-based locking to prevent multiple instances. The HTTP control API is
// the user-facing surface: every session response carries the controller's
// snapshot, whose Controls field tells a client which actions are enabled.
//
// Keep orchestration here. Session rules live in internal/session, capture in
// internal/capture, and posting in internal/submit.
package daemon
