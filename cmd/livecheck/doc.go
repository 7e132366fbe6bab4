// Package main hosts the livecheck CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into calls
// against the daemon's HTTP control API: starting and stopping a recording,
// submitting the finalized clip, watching session state, and browsing the
// recording history. The record command runs the same session controller in
// the foreground for one-off captures without a daemon.
//
// Keep this package lean: add functionality to the internal packages first,
// then surface it through dedicated commands or flags here.
package main
