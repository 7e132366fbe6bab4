package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"livecheck/internal/capture"
	"livecheck/internal/config"
	"livecheck/internal/deps"
	"livecheck/internal/fileutil"
	"livecheck/internal/history"
	"livecheck/internal/logging"
	"livecheck/internal/notifications"
	"livecheck/internal/services"
	"livecheck/internal/session"
	"livecheck/internal/submit"
)

const bookkeepingTimeout = 30 * time.Second

// Dependencies are the collaborators a Daemon is assembled from.
type Dependencies struct {
	Acquirer    capture.Acquirer
	Recorder    capture.Recorder
	Submitter   session.Submitter
	Store       *history.Store
	Notifier    notifications.Service
	Diagnostics *logging.DiagnosticLog
	Logger      *slog.Logger
	LogPath     string
}

// Daemon hosts one session controller and enforces single-instance execution.
type Daemon struct {
	cfg         *config.Config
	logger      *slog.Logger
	controller  *session.Controller
	store       *history.Store
	notifier    notifications.Service
	diagnostics *logging.DiagnosticLog
	camera      *cameraMonitor
	endpoint    string
	logPath     string

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt time.Time
	cancel    context.CancelFunc
	tasks     sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	StartedAt    time.Time
	HistoryPath  string
	LockFilePath string
	LogPath      string
	Endpoint     string
	Session      session.Snapshot
	Camera       CameraState
	Dependencies []deps.Status
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, d Dependencies) (*Daemon, error) {
	if cfg == nil || d.Acquirer == nil || d.Recorder == nil || d.Store == nil {
		return nil, errors.New("daemon requires config, acquirer, recorder, and history store")
	}
	logger := d.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := d.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	daemon := &Daemon{
		cfg:         cfg,
		logger:      logger,
		store:       d.Store,
		notifier:    notifier,
		diagnostics: d.Diagnostics,
		logPath:     d.LogPath,
		lockPath:    cfg.LockPath(),
		lock:        flock.New(cfg.LockPath()),
	}
	if ep, ok := d.Submitter.(interface{ Endpoint() string }); ok {
		daemon.endpoint = ep.Endpoint()
	}

	daemon.controller = session.New(d.Acquirer, d.Recorder, d.Submitter,
		session.WithLogger(logger),
		session.WithConstraints(CaptureConstraints(cfg)),
		session.WithArtifactType(cfg.Submission.MIMEType, cfg.Submission.Filename),
		session.WithMaxDuration(cfg.MaxDuration()),
		session.WithFinalized(daemon.onFinalized),
		session.WithDiagnostics(daemon.onDiagnostic),
	)
	daemon.camera = newCameraMonitor(cfg, logger)
	return daemon, nil
}

// CaptureConstraints maps the capture section onto acquisition constraints.
func CaptureConstraints(cfg *config.Config) capture.Constraints {
	return capture.Constraints{
		Device:    cfg.Capture.Device,
		Video:     true,
		Audio:     cfg.Capture.Audio,
		Width:     cfg.Capture.Width,
		Height:    cfg.Capture.Height,
		FrameRate: cfg.Capture.FrameRate,
	}
}

// Start acquires the daemon lock and launches the session controller and the
// camera monitor.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("ensure lock directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another livecheck daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	go func() {
		if err := d.controller.Run(runCtx); err != nil {
			d.logger.Error("session controller exited", logging.Error(err))
		}
	}()
	if err := d.camera.Start(runCtx); err != nil {
		d.logger.Warn("camera monitor unavailable", logging.Error(err))
	}

	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("livecheck daemon started",
		logging.String("lock", d.lockPath),
		logging.String("device", d.cfg.Capture.Device),
	)
	return nil
}

// Stop stops the controller, waits for pending bookkeeping, and releases the
// daemon lock. A stopped daemon cannot be restarted.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	<-d.controller.Done()
	d.camera.Stop()
	d.tasks.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("livecheck daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Controller exposes the hosted session controller.
func (d *Daemon) Controller() *session.Controller {
	return d.controller
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		StartedAt:    d.startedAt,
		HistoryPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		LogPath:      d.logPath,
		Endpoint:     d.endpoint,
		Session:      d.controller.Snapshot(),
		Camera:       d.camera.State(),
		Dependencies: deps.CheckAll(d.cfg),
	}
}

// StartSession begins a recording session.
func (d *Daemon) StartSession(ctx context.Context) (session.Snapshot, error) {
	return d.controller.StartSession(ctx)
}

// StopSession stops the active recording and waits for finalization.
func (d *Daemon) StopSession(ctx context.Context) (session.Snapshot, error) {
	return d.controller.StopSession(ctx)
}

// Submit posts the current artifact and records the attempt in history.
func (d *Daemon) Submit(ctx context.Context, opts ...submit.UploadOption) (*submit.Receipt, error) {
	art, ok := d.controller.Artifact()
	receipt, err := d.controller.Submit(ctx, opts...)
	if !ok || errors.Is(err, services.ErrPrecondition) || errors.Is(err, services.ErrConfiguration) {
		return receipt, err
	}

	logger := logging.WithContext(services.WithSessionID(ctx, art.SessionID), d.logger)
	sub := history.NewSubmission(art.SessionID, d.endpoint, receipt, err)

	bookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()
	if _, recErr := d.store.RecordSubmission(bookCtx, sub); recErr != nil {
		logging.WarnWithContext(logger, "record submission failed", "history_write_failed",
			logging.Error(recErr),
			logging.String(logging.FieldErrorHint, "check history database permissions"),
			logging.String(logging.FieldImpact, "submission missing from history"),
		)
	}

	if err != nil {
		logging.WarnWithContext(logger, "submission failed", "submission_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check submission endpoint availability"),
			logging.String(logging.FieldImpact, "recording not verified"),
		)
		d.notify(logger, d.notifier.NotifyError(bookCtx, err, "submission "+art.SessionID))
		return receipt, err
	}

	decision := ""
	if receipt.Verification != nil {
		decision = receipt.Verification.Decision
	}
	logger.Info("recording submitted",
		logging.Int("status", receipt.StatusCode),
		logging.String("decision", decision),
		logging.Duration("duration", receipt.Duration),
	)
	d.notify(logger, d.notifier.NotifySubmitted(bookCtx, art.SessionID, receipt.StatusCode, decision))
	return receipt, nil
}

// Recordings lists the most recent history rows.
func (d *Daemon) Recordings(ctx context.Context, limit int) ([]history.Recording, error) {
	return d.store.List(ctx, limit)
}

// Recording returns one history row with its submissions.
func (d *Daemon) Recording(ctx context.Context, sessionID string) (*history.Recording, error) {
	return d.store.Get(ctx, sessionID)
}

// Diagnostics returns recent warnings and errors captured from the logger.
func (d *Daemon) Diagnostics(limit int) []logging.Diagnostic {
	if d.diagnostics == nil {
		return nil
	}
	return d.diagnostics.Recent(limit)
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// onFinalized runs on the controller's event loop, so the disk and network
// work is handed to a tracked goroutine.
func (d *Daemon) onFinalized(art *session.Artifact) {
	snap := d.controller.Snapshot()
	d.tasks.Add(1)
	go func() {
		defer d.tasks.Done()
		d.recordArtifact(art, snap)
	}()
}

func (d *Daemon) recordArtifact(art *session.Artifact, snap session.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()
	logger := d.logger.With(logging.String(logging.FieldSessionID, art.SessionID))

	rec := history.Recording{
		SessionID:   art.SessionID,
		Device:      d.cfg.Capture.Device,
		MIMEType:    art.MIMEType,
		Filename:    art.Filename,
		ChunkCount:  art.ChunkCount,
		Size:        art.Size,
		SHA256:      art.SHA256,
		FinalizedAt: art.CreatedAt,
	}
	var duration time.Duration
	if snap.SessionID == art.SessionID {
		rec.StartedAt = snap.StartedAt
		rec.LastError = snap.LastError
		duration = art.CreatedAt.Sub(snap.StartedAt)
	}

	if d.cfg.Recording.Archive && art.Size > 0 {
		path := archivePath(d.cfg.Recording.ArchiveDir, art)
		if err := fileutil.WriteVerified(path, art.Reader(), art.Size, art.SHA256); err != nil {
			logging.WarnWithContext(logger, "archive recording failed", "archive_failed",
				logging.Error(err),
				logging.String("path", path),
				logging.String(logging.FieldErrorHint, "check archive_dir permissions and free space"),
				logging.String(logging.FieldImpact, "recording only held in memory"),
			)
		} else {
			rec.ArchivePath = path
			logger.Info("recording archived", logging.String("path", path))
		}
	}

	if err := d.store.RecordArtifact(ctx, rec); err != nil {
		logging.WarnWithContext(logger, "record artifact failed", "history_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check history database permissions"),
			logging.String(logging.FieldImpact, "recording missing from history"),
		)
	}
	d.notify(logger, d.notifier.NotifyFinalized(ctx, art.SessionID, art.Size, duration))
}

func (d *Daemon) onDiagnostic(diag session.Diagnostic) {
	if diag.Kind != session.DiagnosticCaptureDenied {
		return
	}
	d.tasks.Add(1)
	go func() {
		defer d.tasks.Done()
		ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
		defer cancel()
		logger := d.logger.With(logging.String(logging.FieldSessionID, diag.SessionID))
		d.notify(logger, d.notifier.NotifyCaptureDenied(ctx, d.cfg.Capture.Device, diag.Err))
	}()
}

func (d *Daemon) notify(logger *slog.Logger, err error) {
	if err == nil {
		return
	}
	logger.Debug("notification failed", logging.Error(err))
}

func archivePath(dir string, art *session.Artifact) string {
	ext := filepath.Ext(art.Filename)
	if ext == "" {
		ext = ".webm"
	}
	return filepath.Join(dir, art.SessionID+ext)
}
