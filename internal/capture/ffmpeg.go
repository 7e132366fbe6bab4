package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"livecheck/internal/logging"
	"livecheck/internal/services"
)

const (
	defaultFFmpegBinary = "ffmpeg"
	defaultChunkBytes   = 64 * 1024
	stderrTailBytes     = 4 * 1024
	stopGracePeriod     = 5 * time.Second
)

// FFmpegRecorder produces WebM chunks by running ffmpeg against a V4L2 device
// and reading its stdout pipe.
type FFmpegRecorder struct {
	Binary      string
	ChunkBytes  int
	AudioDevice string
	Logger      *slog.Logger

	// StopGrace bounds how long Stop waits for ffmpeg to exit after SIGINT
	// before the process group is killed. Zero means stopGracePeriod.
	StopGrace time.Duration

	// ExtraArgs, when set, replaces the generated argument list. Tests use it
	// to drive stub binaries.
	ExtraArgs []string
}

// NewFFmpegRecorder returns a recorder using binary, falling back to "ffmpeg".
func NewFFmpegRecorder(binary string, chunkBytes int, audioDevice string, logger *slog.Logger) *FFmpegRecorder {
	return &FFmpegRecorder{
		Binary:      binary,
		ChunkBytes:  chunkBytes,
		AudioDevice: audioDevice,
		Logger:      logger,
	}
}

// Start launches ffmpeg for stream and pumps its output into sink.
func (r *FFmpegRecorder) Start(ctx context.Context, stream Stream, sink Sink) (Recording, error) {
	if stream == nil {
		return nil, services.Wrap(services.ErrValidation, "recorder", "start", "stream is nil", nil)
	}
	if sink == nil {
		return nil, services.Wrap(services.ErrValidation, "recorder", "start", "sink is nil", nil)
	}
	binary := strings.TrimSpace(r.Binary)
	if binary == "" {
		binary = defaultFFmpegBinary
	}
	chunkBytes := r.ChunkBytes
	if chunkBytes <= 0 {
		chunkBytes = defaultChunkBytes
	}
	logger := r.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.String("stream_id", stream.ID()), logging.String("device", stream.Device()))

	args := r.ExtraArgs
	if len(args) == 0 {
		args = BuildFFmpegArgs(stream.Constraints(), r.AudioDevice)
	}

	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	cmd.WaitDelay = stopGracePeriod
	// Own process group: a terminal Ctrl-C reaches livecheck, which then stops
	// ffmpeg through Stop so the trailing bytes are flushed.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	tail := &tailBuffer{limit: stderrTailBytes}
	cmd.Stderr = tail
	if err := cmd.Start(); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "recorder", "start", "launch "+binary, err)
	}
	logger.Debug("ffmpeg started",
		logging.Int("pid", cmd.Process.Pid),
		logging.String("args", strings.Join(args, " ")),
	)

	grace := r.StopGrace
	if grace <= 0 {
		grace = stopGracePeriod
	}
	rec := &ffmpegRecording{
		cmd:    cmd,
		tail:   tail,
		logger: logger,
		grace:  grace,
	}
	go rec.pump(stdout, chunkBytes, sink)
	return rec, nil
}

// BuildFFmpegArgs returns the ffmpeg argument list that captures c and writes
// WebM to stdout.
func BuildFFmpegArgs(c Constraints, audioDevice string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin", "-f", "v4l2"}
	if c.FrameRate > 0 {
		args = append(args, "-framerate", strconv.Itoa(c.FrameRate))
	}
	if c.Width > 0 && c.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", c.Width, c.Height))
	}
	args = append(args, "-i", c.Device)
	if c.Audio {
		device := strings.TrimSpace(audioDevice)
		if device == "" {
			device = "default"
		}
		args = append(args, "-f", "alsa", "-i", device, "-c:a", "libopus")
	} else {
		args = append(args, "-an")
	}
	args = append(args,
		"-c:v", "libvpx",
		"-deadline", "realtime",
		"-cpu-used", "8",
		"-b:v", "1M",
		"-f", "webm",
		"pipe:1",
	)
	return args
}

type ffmpegRecording struct {
	cmd    *exec.Cmd
	tail   *tailBuffer
	logger *slog.Logger
	grace  time.Duration

	stopOnce  sync.Once
	mu        sync.Mutex
	stopping  bool
	exited    bool
	killTimer *time.Timer
	stopError error
}

// Stop sends SIGINT so ffmpeg finalizes the container and exits. If ffmpeg
// is still running after the grace period, its process group gets SIGKILL.
// Output already produced is delivered either way.
func (r *ffmpegRecording) Stop() error {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.stopping = true
		if r.cmd.Process == nil || r.exited {
			return
		}
		if err := r.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
			r.stopError = fmt.Errorf("signal ffmpeg: %w", err)
		}
		pid := r.cmd.Process.Pid
		r.killTimer = time.AfterFunc(r.grace, func() {
			r.logger.Warn("ffmpeg ignored interrupt; killing process group",
				logging.Int("pid", pid),
				logging.Duration("grace", r.grace),
			)
			_ = syscall.Kill(-pid, syscall.SIGKILL)
		})
	})
	return r.stopError
}

func (r *ffmpegRecording) pump(stdout io.Reader, chunkBytes int, sink Sink) {
	var seq int64
	var readErr error
	buf := make([]byte, chunkBytes)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			sink.Chunk(Chunk{Sequence: seq, Data: data, ReceivedAt: time.Now()})
			seq++
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				readErr = err
			}
			break
		}
	}

	waitErr := r.cmd.Wait()
	r.mu.Lock()
	r.exited = true
	if r.killTimer != nil {
		r.killTimer.Stop()
	}
	stopping := r.stopping
	r.mu.Unlock()

	var result error
	switch {
	case readErr != nil:
		result = services.Wrap(services.ErrExternalTool, "recorder", "read", "ffmpeg output", readErr)
	case waitErr != nil && !(stopping && interruptedExit(waitErr)):
		result = services.Wrap(services.ErrExternalTool, "recorder", "wait", exitDetail(r.tail.String()), waitErr)
	}
	if result != nil {
		r.logger.Warn("ffmpeg exited with error",
			logging.Int64("chunks", seq),
			logging.String("stderr_tail", r.tail.String()),
			logging.Error(result),
		)
	} else {
		r.logger.Debug("ffmpeg exited", logging.Int64("chunks", seq))
	}
	sink.Stopped(result)
}

// interruptedExit reports whether err is the exit status ffmpeg produces after
// a requested SIGINT. ffmpeg normally exits 255 after finalizing; a raw
// signal termination is also accepted.
func interruptedExit(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	if exitErr.ExitCode() == 255 || exitErr.ExitCode() == -1 {
		return true
	}
	return false
}

func exitDetail(tail string) string {
	tail = strings.TrimSpace(tail)
	if tail == "" {
		return "ffmpeg exited"
	}
	if idx := strings.LastIndex(tail, "\n"); idx >= 0 {
		tail = tail[idx+1:]
	}
	return "ffmpeg exited: " + tail
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	data  []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	if over := len(b.data) - b.limit; over > 0 {
		b.data = append([]byte(nil), b.data[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}
