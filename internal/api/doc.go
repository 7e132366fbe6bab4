// Package api defines the wire-format types shared by the daemon's HTTP
// control surface and its clients.
//
// Session payloads embed session.Snapshot directly so the enabled controls a
// client renders are always the projection computed by the controller, never a
// second copy of the rules. Error responses carry a machine-readable kind next
// to the message so clients can tell a precondition violation from a capture
// denial without parsing text.
package api
