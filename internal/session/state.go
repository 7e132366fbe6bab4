package session

import (
	"time"
)

// State is the lifecycle position of the current session.
type State string

const (
	StateIdle      State = "idle"
	StateAcquiring State = "acquiring"
	StateRecording State = "recording"
	StateStopped   State = "stopped"
)

func (s State) String() string { return string(s) }

// Controls reports which user actions are currently enabled. It is derived
// from the session state and never stored separately.
type Controls struct {
	Start  bool `json:"start"`
	Stop   bool `json:"stop"`
	Submit bool `json:"submit"`
}

// ControlsFor projects a state onto the control set.
func ControlsFor(state State, hasArtifact bool) Controls {
	return Controls{
		Start:  state == StateIdle || state == StateStopped,
		Stop:   state == StateRecording,
		Submit: hasArtifact,
	}
}

// Snapshot is a point-in-time copy of the controller's observable state.
type Snapshot struct {
	SessionID     string        `json:"session_id,omitempty"`
	State         State         `json:"state"`
	Controls      Controls      `json:"controls"`
	Stopping      bool          `json:"stopping,omitempty"`
	ChunkCount    int           `json:"chunk_count"`
	BufferedBytes int64         `json:"buffered_bytes"`
	StartedAt     time.Time     `json:"started_at,omitzero"`
	StoppedAt     time.Time     `json:"stopped_at,omitzero"`
	Artifact      *ArtifactInfo `json:"artifact,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
	Revision      uint64        `json:"revision"`
}

// Duration reports how long the session recorded, or has been recording.
func (s Snapshot) Duration(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if !s.StoppedAt.IsZero() {
		return s.StoppedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}
