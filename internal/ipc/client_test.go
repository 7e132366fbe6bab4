package ipc_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"livecheck/internal/api"
	"livecheck/internal/history"
	"livecheck/internal/ipc"
	"livecheck/internal/services"
	"livecheck/internal/session"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func newStubAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			writeJSON(w, http.StatusUnauthorized, api.ErrorResponse{Error: "unauthorized", Kind: api.KindUnauthorized})
			return
		}
		writeJSON(w, http.StatusOK, api.DaemonStatus{Running: true, PID: 42})
	})
	mux.HandleFunc("/api/session/start", func(w http.ResponseWriter, r *http.Request) {
		snap := session.Snapshot{State: session.StateRecording, SessionID: "s1"}
		writeJSON(w, http.StatusConflict, api.ErrorResponse{
			Error:   "precondition violation: session: start: already recording",
			Kind:    api.KindPrecondition,
			Session: &snap,
		})
	})
	mux.HandleFunc("/api/session/submit", func(w http.ResponseWriter, r *http.Request) {
		var req api.SubmitRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Fields["ref"] != "abc" {
			writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "missing ref", Kind: api.KindValidation})
			return
		}
		writeJSON(w, http.StatusBadGateway, api.ErrorResponse{
			Error: "submission failed: endpoint returned 500",
			Kind:  api.KindSubmission,
		})
	})
	mux.HandleFunc("/api/recordings", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "3" {
			writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "bad limit", Kind: api.KindValidation})
			return
		}
		writeJSON(w, http.StatusOK, api.RecordingsResponse{Recordings: []history.Recording{{SessionID: "s1", Size: 10}}})
	})
	mux.HandleFunc("/api/recordings/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "not found: history: get: s9", Kind: api.KindNotFound})
	})
	mux.HandleFunc("/api/session/artifact", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/webm")
		w.Header().Set("X-Livecheck-Sha256", "deadbeef")
		_, _ = w.Write([]byte("webm-bytes"))
	})
	upgrader := websocket.Upgrader{}
	mux.HandleFunc("/api/session/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, state := range []session.State{session.StateIdle, session.StateRecording} {
			_ = conn.WriteJSON(api.SessionResponse{Session: session.Snapshot{State: state}})
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientStatusAuth(t *testing.T) {
	srv := newStubAPI(t)
	ctx := context.Background()

	if _, err := ipc.NewClient(srv.URL, "", time.Second).Status(ctx); err == nil {
		t.Fatal("expected unauthorized error without token")
	}
	status, err := ipc.NewClient(srv.URL+"/", "tok", time.Second).Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || status.PID != 42 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestClientPreservesErrorKinds(t *testing.T) {
	srv := newStubAPI(t)
	client := ipc.NewClient(srv.URL, "", time.Second)
	ctx := context.Background()

	snap, err := client.Start(ctx)
	if !errors.Is(err, services.ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	if snap.State != session.StateRecording || snap.SessionID != "s1" {
		t.Fatalf("expected snapshot from error body, got %+v", snap)
	}

	if _, err := client.Submit(ctx, api.SubmitRequest{Fields: map[string]string{"ref": "abc"}}); !errors.Is(err, services.ErrSubmission) {
		t.Fatalf("expected submission error, got %v", err)
	}
	if _, err := client.Recording(ctx, "s9"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestClientRecordings(t *testing.T) {
	srv := newStubAPI(t)
	recs, err := ipc.NewClient(srv.URL, "", time.Second).Recordings(context.Background(), 3)
	if err != nil {
		t.Fatalf("Recordings: %v", err)
	}
	if len(recs) != 1 || recs[0].SessionID != "s1" {
		t.Fatalf("unexpected recordings: %+v", recs)
	}
}

func TestClientDownloadArtifact(t *testing.T) {
	srv := newStubAPI(t)
	var buf bytes.Buffer
	n, sha, err := ipc.NewClient(srv.URL, "", time.Second).DownloadArtifact(context.Background(), &buf)
	if err != nil {
		t.Fatalf("DownloadArtifact: %v", err)
	}
	if n != int64(len("webm-bytes")) || buf.String() != "webm-bytes" || sha != "deadbeef" {
		t.Fatalf("unexpected download: n=%d sha=%q body=%q", n, sha, buf.String())
	}
}

func TestClientUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := ipc.NewClient(url, "", time.Second).Status(context.Background())
	if !errors.Is(err, ipc.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestClientEvents(t *testing.T) {
	srv := newStubAPI(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, errs, err := ipc.NewClient(srv.URL, "", time.Second).Events(ctx)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	var states []string
	for snap := range events {
		states = append(states, string(snap.State))
	}
	if got := strings.Join(states, ","); got != "idle,recording" {
		t.Fatalf("states = %q", got)
	}
	select {
	case err := <-errs:
		t.Fatalf("unexpected stream error: %v", err)
	default:
	}
}
