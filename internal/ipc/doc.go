// Package ipc is the CLI's client for the daemon control API.
//
// Calls go over HTTP with resty and decode the shared internal/api types.
// Error responses are turned back into errors carrying the same
// internal/services markers the daemon classified them with, so command code
// can use errors.Is exactly as it would in-process. The session event feed is
// read over a gorilla websocket.
package ipc
