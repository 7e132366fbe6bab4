// Package session implements the recording session controller.
//
// A Controller owns one capture stream at a time and drives it through the
// states idle, acquiring, recording and stopped. All mutable session data is
// owned by a single event-loop goroutine started with Run; public methods and
// recorder callbacks post events to it, so chunks are appended in exactly the
// order the recorder emits them. Stopping assembles the chunks into an
// immutable Artifact which can then be handed to a submitter. Starting a new
// session discards the previous artifact.
package session
