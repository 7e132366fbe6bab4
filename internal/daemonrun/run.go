package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"livecheck/internal/capture"
	"livecheck/internal/config"
	"livecheck/internal/daemon"
	"livecheck/internal/deps"
	"livecheck/internal/history"
	"livecheck/internal/logging"
	"livecheck/internal/notifications"
	"livecheck/internal/session"
	"livecheck/internal/submit"
)

const diagnosticCapacity = 200

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the livecheck daemon runtime loop and blocks until a signal or
// cmdCtx ends it.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	diagnostics := logging.NewDiagnosticLog(diagnosticCapacity, slog.LevelWarn)
	logger, logPath, err := logging.NewFromConfig(cfg, diagnostics)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update livecheck.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, cfg.Paths.LogDir, "livecheck-*.log", logPath)

	pidPath := filepath.Join(cfg.Paths.LogDir, "livecheck.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := history.Open(cfg)
	if err != nil {
		logger.Error("open history store", logging.Error(err))
		return err
	}

	submitter, err := NewSubmitter(cfg, logger)
	if err != nil {
		_ = store.Close()
		return err
	}

	d, err := daemon.New(cfg, daemon.Dependencies{
		Acquirer:    capture.NewDeviceAcquirer(cfg.Capture.LockDir),
		Recorder:    NewRecorder(cfg, logger),
		Submitter:   submitter,
		Store:       store,
		Notifier:    notifications.NewService(cfg),
		Diagnostics: diagnostics,
		Logger:      logger,
		LogPath:     logPath,
	})
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return err
	}

	addr, err := d.ServeAPI(signalCtx)
	if err != nil {
		return fmt.Errorf("start api server: %w", err)
	}
	logger.Info("livecheck daemon ready",
		logging.String(logging.FieldEventType, "daemon_ready"),
		logging.String("api", addr),
		logging.String("log_path", logPath),
	)

	<-signalCtx.Done()
	logger.Info("livecheck daemon shutting down")
	return nil
}

// NewRecorder builds the ffmpeg recorder described by cfg.
func NewRecorder(cfg *config.Config, logger *slog.Logger) *capture.FFmpegRecorder {
	audioDevice := ""
	if cfg.Capture.Audio {
		audioDevice = cfg.Capture.AudioDevice
	}
	return capture.NewFFmpegRecorder(cfg.Capture.FFmpegBinary, cfg.Capture.ChunkBytes, audioDevice, logger)
}

// NewSubmitter builds the submission client, or returns a nil interface when
// no endpoint is configured so the controller reports submit as unconfigured.
func NewSubmitter(cfg *config.Config, logger *slog.Logger) (session.Submitter, error) {
	if strings.TrimSpace(cfg.Submission.Endpoint) == "" {
		return nil, nil
	}
	client, err := submit.NewClient(submit.Options{
		Endpoint:      cfg.Submission.Endpoint,
		FieldName:     cfg.Submission.FieldName,
		DocumentField: cfg.Submission.DocumentField,
		Token:         cfg.Submission.Token,
		Timeout:       cfg.SubmissionTimeout(),
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("submission client: %w", err)
	}
	return client, nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "livecheck.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// ReadPID returns the pid recorded by a running daemon, or 0.
func ReadPID(cfg *config.Config) int {
	data, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "livecheck.pid"))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("device", cfg.Capture.Device),
		logging.Bool("endpoint_configured", strings.TrimSpace(cfg.Submission.Endpoint) != ""),
		logging.Bool("api_token_set", cfg.Paths.APIToken != ""),
	}
	statuses := deps.CheckAll(cfg)
	for _, status := range statuses {
		key := strings.ToLower(strings.ReplaceAll(status.Name, " ", "_"))
		attrs = append(attrs, logging.Bool(key+"_available", status.Available))
		if status.Detail != "" {
			attrs = append(attrs, logging.String(key+"_detail", status.Detail))
		}
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
	if missing := deps.Missing(statuses); len(missing) > 0 {
		logging.WarnWithContext(logger, "capture dependencies unavailable", "dependency_missing",
			logging.String("missing", strings.Join(missing, ", ")),
			logging.String(logging.FieldErrorHint, "install ffmpeg and connect the camera, then check `livecheck status`"),
			logging.String(logging.FieldImpact, "start requests will be denied"),
		)
	}
}
