package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"livecheck/internal/api"
	"livecheck/internal/config"
	"livecheck/internal/logging"
	"livecheck/internal/services"
	"livecheck/internal/session"
	"livecheck/internal/submit"
)

const (
	maxSubmitBody      = 32 << 20
	defaultDiagnostics = 50
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}

	token := cfg.Paths.APIToken
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, requestIDMiddleware(authMiddleware(token, h)))
	}
	handle("/api/status", srv.handleStatus)
	handle("/api/session", srv.handleSession)
	handle("/api/session/start", srv.handleStart)
	handle("/api/session/stop", srv.handleStop)
	handle("/api/session/submit", srv.handleSubmit)
	handle("/api/session/artifact", srv.handleArtifact)
	handle("/api/session/events", srv.handleEvents)
	handle("/api/recordings", srv.handleRecordings)
	handle("/api/recordings/", srv.handleRecording)
	handle("/api/diagnostics", srv.handleDiagnostics)
	handle("/api/notifications/test", srv.handleNotificationTest)

	// Submission waits on the remote endpoint, so the write timeout covers it.
	writeTimeout := 30 * time.Second
	if t := cfg.SubmissionTimeout() + 10*time.Second; t > writeTimeout {
		writeTimeout = t
	}
	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

// NewAPIHandler exposes the routes without a listener, for embedding and tests.
func NewAPIHandler(cfg *config.Config, d *Daemon, logger *slog.Logger) http.Handler {
	srv, _ := newAPIServer(cfg, d, logger)
	if srv == nil {
		return http.NotFoundHandler()
	}
	return srv.server.Handler
}

// ServeAPI listens on the configured bind address until ctx is cancelled and
// returns the bound address.
func (d *Daemon) ServeAPI(ctx context.Context) (string, error) {
	srv, err := newAPIServer(d.cfg, d, d.logger)
	if err != nil || srv == nil {
		return "", err
	}
	if err := srv.start(ctx); err != nil {
		return "", err
	}
	return srv.listener.Addr().String(), nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	payload := api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		StartedAt:    status.StartedAt,
		HistoryPath:  status.HistoryPath,
		LockFilePath: status.LockFilePath,
		LogPath:      status.LogPath,
		Endpoint:     status.Endpoint,
		Session:      status.Session,
		Camera: api.CameraStatus{
			Device:      status.Camera.Device,
			Present:     status.Camera.Present,
			Monitoring:  status.Camera.Monitoring,
			LastEvent:   status.Camera.LastEvent,
			LastEventAt: status.Camera.LastEventAt,
		},
		Dependencies: api.FromDependencies(status.Dependencies),
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, api.SessionResponse{Session: s.daemon.Controller().Snapshot()})
}

func (s *apiServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap, err := s.daemon.StartSession(r.Context())
	if err != nil {
		s.writeFailure(w, err, &snap, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, api.SessionResponse{Session: snap})
}

func (s *apiServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap, err := s.daemon.StopSession(r.Context())
	if err != nil {
		s.writeFailure(w, err, &snap, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, api.SessionResponse{Session: snap})
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req api.SubmitRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSubmitBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read request body")
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			s.writeFailure(w, services.Wrap(services.ErrValidation, "api", "submit", "decode request body", err), nil, nil)
			return
		}
	}

	receipt, err := s.daemon.Submit(r.Context(), req.UploadOptions()...)
	snap := s.daemon.Controller().Snapshot()
	if err != nil {
		s.writeFailure(w, err, &snap, receipt)
		return
	}
	s.writeJSON(w, http.StatusOK, api.SubmitResponse{Session: snap, Receipt: receipt})
}

func (s *apiServer) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	art, ok := s.daemon.Controller().Artifact()
	if !ok {
		s.writeFailure(w, services.Wrap(services.ErrNotFound, "api", "artifact", "no finalized recording", nil), nil, nil)
		return
	}
	writeArtifactHeaders(w, art)
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, art.Reader()); err != nil {
		s.log().Debug("artifact download interrupted", logging.Error(err))
	}
}

func writeArtifactHeaders(w http.ResponseWriter, art *session.Artifact) {
	h := w.Header()
	h.Set("Content-Type", art.MIMEType)
	h.Set("Content-Length", strconv.FormatInt(art.Size, 10))
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Filename))
	h.Set("X-Livecheck-Session", art.SessionID)
	h.Set("X-Livecheck-Sha256", art.SHA256)
}

func (s *apiServer) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := s.daemon.Recordings(r.Context(), limit)
	if err != nil {
		s.writeFailure(w, err, nil, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, api.RecordingsResponse{Recordings: recs})
}

func (s *apiServer) handleRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/recordings/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "recording not found")
		return
	}
	rec, err := s.daemon.Recording(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err, nil, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, api.RecordingResponse{Recording: *rec})
}

func (s *apiServer) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultDiagnostics
	}
	s.writeJSON(w, http.StatusOK, api.DiagnosticsResponse{Entries: s.daemon.Diagnostics(limit)})
}

func (s *apiServer) handleNotificationTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sent, message, err := s.daemon.TestNotification(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusBadGateway, api.ErrorResponse{Error: message + ": " + err.Error(), Kind: api.KindInternal})
		return
	}
	s.writeJSON(w, http.StatusOK, api.NotificationTestResponse{Sent: sent, Message: message})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	kind := api.KindInternal
	if status == http.StatusNotFound {
		kind = api.KindNotFound
	}
	s.writeJSON(w, status, api.ErrorResponse{Error: message, Kind: kind})
}

// writeFailure maps a classified error to its status code. The session
// snapshot is attached so clients can re-render controls without a refetch.
func (s *apiServer) writeFailure(w http.ResponseWriter, err error, snap *session.Snapshot, receipt *submit.Receipt) {
	status := services.HTTPStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway && status != http.StatusServiceUnavailable {
		s.log().Error("api request failed", logging.Error(err))
	}
	s.writeJSON(w, status, api.ErrorResponse{
		Error:   err.Error(),
		Kind:    api.ErrorKind(err),
		Session: snap,
		Receipt: receipt,
	})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
