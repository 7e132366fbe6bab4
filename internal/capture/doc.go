// Package capture provides the two platform collaborators the recording
// session controller consumes: an Acquirer that grants exclusive access to a
// camera stream, and a Recorder that turns a granted stream into an ordered
// sequence of encoded WebM chunks followed by exactly one stopped notification.
//
// The production implementations shell out to ffmpeg reading a V4L2 device.
// Device ownership is enforced across processes with an advisory file lock so
// two sessions can never share a stream.
package capture
