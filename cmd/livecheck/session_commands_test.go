package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"livecheck/internal/ipc"
	"livecheck/internal/services"
	"livecheck/internal/submit"
	"livecheck/internal/testsupport"
)

func TestSessionCommandsLifecycle(t *testing.T) {
	env := setupCLITestEnv(t, nil)

	out, _, err := env.run(t, "start")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	requireContains(t, out, "recording")
	requireContains(t, out, "stop=yes")

	env.recorder.Next(t).Emit([]byte("ab"), []byte("cd"))

	out, _, err = env.run(t, "stop")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "stopped")
	requireContains(t, out, "2 chunks")
	requireContains(t, out, "submit=yes")

	target := filepath.Join(env.baseDir, "out", "clip.webm")
	out, _, err = env.run(t, "artifact", "save", target)
	if err != nil {
		t.Fatalf("artifact save: %v", err)
	}
	requireContains(t, out, "Saved 4 B")
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read saved clip: %v", err)
	}
	if string(data) != "abcd" {
		t.Fatalf("saved clip = %q", data)
	}

	snap := env.daemon.Controller().Snapshot()
	waitFor(t, 2*time.Second, func() bool {
		_, err := env.daemon.Recording(context.Background(), snap.SessionID)
		return err == nil
	})
	out, _, err = env.run(t, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, snap.SessionID)

	out, _, err = env.run(t, "history", snap.SessionID)
	if err != nil {
		t.Fatalf("history detail: %v", err)
	}
	requireContains(t, out, "No submissions")

	// No endpoint is configured, so submit is rejected without a receipt.
	_, _, err = env.run(t, "submit")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStopWithoutRecordingIsPrecondition(t *testing.T) {
	env := setupCLITestEnv(t, nil)
	_, _, err := env.run(t, "stop")
	if !errors.Is(err, services.ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestSubmitCommandSendsFieldsAndDocument(t *testing.T) {
	var wantDoc []byte
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("note") != "hello" {
			http.Error(w, "missing note", http.StatusUnprocessableEntity)
			return
		}
		doc, header, err := r.FormFile("document")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer doc.Close()
		data, _ := io.ReadAll(doc)
		if header.Filename != "id.png" || !bytes.Equal(data, wantDoc) {
			http.Error(w, "unexpected document", http.StatusUnprocessableEntity)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"final_score":0.93,"decision":"approved"}`))
	}))
	t.Cleanup(endpoint.Close)

	client, err := submit.NewClient(submit.Options{Endpoint: endpoint.URL})
	if err != nil {
		t.Fatalf("submit.NewClient: %v", err)
	}
	env := setupCLITestEnv(t, client, testsupport.WithEndpoint(endpoint.URL))
	if _, _, err := env.run(t, "start"); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.recorder.Next(t).Emit([]byte("video"))
	if _, _, err := env.run(t, "stop"); err != nil {
		t.Fatalf("stop: %v", err)
	}

	docPath := filepath.Join(env.baseDir, "id.png")
	wantDoc = testsupport.WriteFile(t, docPath, 16)
	out, _, err := env.run(t, "submit", "--field", "note=hello", "--document", docPath)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	requireContains(t, out, "approved")
	requireContains(t, out, "0.930")
	requireContains(t, out, "Submission accepted")

	sessionID := env.daemon.Controller().Snapshot().SessionID
	out, _, err = env.run(t, "history", sessionID)
	if err != nil {
		t.Fatalf("history detail: %v", err)
	}
	requireContains(t, out, "approved")
}

func TestSubmitCommandRejectedByEndpoint(t *testing.T) {
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "liveness check failed", http.StatusUnprocessableEntity)
	}))
	t.Cleanup(endpoint.Close)

	client, err := submit.NewClient(submit.Options{Endpoint: endpoint.URL})
	if err != nil {
		t.Fatalf("submit.NewClient: %v", err)
	}
	env := setupCLITestEnv(t, client, testsupport.WithEndpoint(endpoint.URL))
	if _, _, err := env.run(t, "start"); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.recorder.Next(t).Emit([]byte("video"))
	if _, _, err := env.run(t, "stop"); err != nil {
		t.Fatalf("stop: %v", err)
	}

	out, _, err := env.run(t, "submit")
	if !errors.Is(err, services.ErrSubmission) {
		t.Fatalf("expected submission error, got %v", err)
	}
	requireContains(t, out, "422")
}

func TestCommandsReportUnreachableDaemon(t *testing.T) {
	env := setupCLITestEnv(t, nil)
	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()

	_, _, err := runCLI(t, []string{"start"}, closed.URL, env.configPath)
	if !errors.Is(err, ipc.ErrUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	requireContains(t, err.Error(), "livecheck daemon start")
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t, nil)
	out, _, err := env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Daemon ==")
	requireContains(t, out, "Running (pid")
	requireContains(t, out, "== Session ==")
	requireContains(t, out, "== Camera ==")
	requireContains(t, out, "Not configured (submit disabled)")
	requireContains(t, out, "== Checks ==")
	requireContains(t, out, "Data directory")

	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	out, _, err = runCLI(t, []string{"status"}, closed.URL, env.configPath)
	if err != nil {
		t.Fatalf("offline status: %v", err)
	}
	requireContains(t, out, "Not running")
	requireContains(t, out, "== Dependencies ==")
	if strings.Contains(out, "== Session ==") {
		t.Fatalf("offline status should omit the session section:\n%s", out)
	}
}

func TestWatchUntilStopped(t *testing.T) {
	env := setupCLITestEnv(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--api", env.server.URL, "--config", env.configPath, "watch", "--until-stopped"})
	cmd.SetContext(ctx)
	stdout := &syncBuffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(io.Discard)

	done := make(chan error, 1)
	go func() {
		done <- cmd.Execute()
	}()

	waitFor(t, 2*time.Second, func() bool { return strings.Contains(stdout.String(), "idle") })
	if _, err := env.daemon.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	env.recorder.Next(t).Emit([]byte("x"))
	if _, err := env.daemon.StopSession(context.Background()); err != nil {
		t.Fatalf("StopSession: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch --until-stopped did not exit")
	}
	out := stdout.String()
	requireContains(t, out, "recording")
	requireContains(t, out, "stopped")
	requireContains(t, out, "artifact=1 B")
}

func TestBuildSubmitRequest(t *testing.T) {
	if _, err := buildSubmitRequest([]string{"novalue"}, "", ""); err == nil {
		t.Fatal("expected error for field without '='")
	}
	if _, err := buildSubmitRequest([]string{"=x"}, "", ""); err == nil {
		t.Fatal("expected error for empty key")
	}

	docPath := filepath.Join(t.TempDir(), "scan.png")
	testsupport.WriteFile(t, docPath, 4)
	req, err := buildSubmitRequest([]string{"a=1", "b=x=y"}, docPath, "")
	if err != nil {
		t.Fatalf("buildSubmitRequest: %v", err)
	}
	if req.Fields["a"] != "1" || req.Fields["b"] != "x=y" {
		t.Fatalf("fields = %v", req.Fields)
	}
	if req.Document == nil || req.Document.Filename != "scan.png" || req.Document.ContentType != "image/png" || len(req.Document.Data) != 4 {
		t.Fatalf("document = %+v", req.Document)
	}

	req, err = buildSubmitRequest(nil, docPath, "application/octet-stream")
	if err != nil {
		t.Fatalf("buildSubmitRequest: %v", err)
	}
	if req.Document.ContentType != "application/octet-stream" {
		t.Fatalf("content type = %q", req.Document.ContentType)
	}
}
