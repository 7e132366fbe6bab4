package session

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"
)

// Artifact is the finalized recording of one session. It is immutable.
type Artifact struct {
	SessionID  string
	MIMEType   string
	Filename   string
	ChunkCount int
	Size       int64
	SHA256     string
	CreatedAt  time.Time

	data []byte
}

// ArtifactInfo is the metadata of an Artifact without its content.
type ArtifactInfo struct {
	SessionID  string    `json:"session_id"`
	MIMEType   string    `json:"mime_type"`
	Filename   string    `json:"filename"`
	ChunkCount int       `json:"chunk_count"`
	Size       int64     `json:"size"`
	SHA256     string    `json:"sha256"`
	CreatedAt  time.Time `json:"created_at"`
}

func newArtifact(sessionID, mimeType, filename string, chunks [][]byte, createdAt time.Time) *Artifact {
	var size int
	for _, c := range chunks {
		size += len(c)
	}
	data := make([]byte, 0, size)
	for _, c := range chunks {
		data = append(data, c...)
	}
	sum := sha256.Sum256(data)
	return &Artifact{
		SessionID:  sessionID,
		MIMEType:   mimeType,
		Filename:   filename,
		ChunkCount: len(chunks),
		Size:       int64(len(data)),
		SHA256:     hex.EncodeToString(sum[:]),
		CreatedAt:  createdAt,
		data:       data,
	}
}

// Bytes returns a copy of the artifact content.
func (a *Artifact) Bytes() []byte {
	out := make([]byte, len(a.data))
	copy(out, a.data)
	return out
}

// Reader returns a reader over the artifact content.
func (a *Artifact) Reader() io.Reader {
	return bytes.NewReader(a.data)
}

// Info returns the artifact metadata.
func (a *Artifact) Info() ArtifactInfo {
	return ArtifactInfo{
		SessionID:  a.SessionID,
		MIMEType:   a.MIMEType,
		Filename:   a.Filename,
		ChunkCount: a.ChunkCount,
		Size:       a.Size,
		SHA256:     a.SHA256,
		CreatedAt:  a.CreatedAt,
	}
}
