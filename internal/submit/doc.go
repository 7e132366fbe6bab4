// Package submit posts finalized recordings to the configured processing
// endpoint as a multipart form.
//
// The endpoint contract is write-only from the caller's perspective: the video
// is sent as a named file field and the response is returned as a Receipt. When
// the response body looks like a verification result it is decoded for
// display; nothing else about the server's behaviour is assumed.
package submit
