package session_test

import (
	"testing"
	"time"

	"livecheck/internal/session"
)

func TestControlsProjection(t *testing.T) {
	tests := []struct {
		state       session.State
		hasArtifact bool
		want        session.Controls
	}{
		{session.StateIdle, false, session.Controls{Start: true}},
		{session.StateAcquiring, false, session.Controls{}},
		{session.StateRecording, false, session.Controls{Stop: true}},
		{session.StateStopped, true, session.Controls{Start: true, Submit: true}},
	}
	for _, tc := range tests {
		if got := session.ControlsFor(tc.state, tc.hasArtifact); got != tc.want {
			t.Errorf("ControlsFor(%s, %v) = %+v, want %+v", tc.state, tc.hasArtifact, got, tc.want)
		}
	}
}

func TestSnapshotDuration(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	snap := session.Snapshot{StartedAt: start}
	if got := snap.Duration(start.Add(2 * time.Second)); got != 2*time.Second {
		t.Fatalf("running duration = %v", got)
	}
	snap.StoppedAt = start.Add(5 * time.Second)
	if got := snap.Duration(start.Add(time.Hour)); got != 5*time.Second {
		t.Fatalf("stopped duration = %v", got)
	}
	if got := (session.Snapshot{}).Duration(start); got != 0 {
		t.Fatalf("idle duration = %v", got)
	}
}
