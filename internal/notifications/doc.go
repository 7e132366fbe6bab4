// Package notifications delivers recording events via ntfy.
//
// The ntfy implementation publishes to the topic configured in config.toml and
// degrades to a no-op when no topic is set. Each event kind can be toggled
// individually so a capture denial can page someone without every finalized
// clip doing the same.
package notifications
