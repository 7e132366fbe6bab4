package capture_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"livecheck/internal/capture"
	"livecheck/internal/services"
)

func fakeDevice(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "video0")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write fake device: %v", err)
	}
	return path
}

func TestDeviceAcquirerGrantsAndReleasesExclusiveStream(t *testing.T) {
	device := fakeDevice(t)
	acquirer := capture.NewDeviceAcquirer(t.TempDir())
	constraints := capture.Constraints{Device: device, Video: true}

	first, err := acquirer.Acquire(context.Background(), constraints)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if first.Device() != device {
		t.Fatalf("Device() = %q, want %q", first.Device(), device)
	}
	if first.ID() == "" {
		t.Fatal("expected stream id")
	}

	if _, err := acquirer.Acquire(context.Background(), constraints); !errors.Is(err, services.ErrCaptureDenied) {
		t.Fatalf("second Acquire error = %v, want ErrCaptureDenied", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	again, err := acquirer.Acquire(context.Background(), constraints)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	_ = again.Close()
}

func TestDeviceAcquirerDeniesMissingDevice(t *testing.T) {
	acquirer := capture.NewDeviceAcquirer(t.TempDir())
	_, err := acquirer.Acquire(context.Background(), capture.Constraints{
		Device: filepath.Join(t.TempDir(), "missing"),
		Video:  true,
	})
	if !errors.Is(err, services.ErrCaptureDenied) {
		t.Fatalf("error = %v, want ErrCaptureDenied", err)
	}
}

func TestDeviceAcquirerDeniesUnreadableDevice(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses permission checks")
	}
	device := fakeDevice(t)
	if err := os.Chmod(device, 0o000); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	acquirer := capture.NewDeviceAcquirer(t.TempDir())
	_, err := acquirer.Acquire(context.Background(), capture.Constraints{Device: device, Video: true})
	if !errors.Is(err, services.ErrCaptureDenied) {
		t.Fatalf("error = %v, want ErrCaptureDenied", err)
	}
}

func TestDeviceAcquirerRequiresVideo(t *testing.T) {
	acquirer := capture.NewDeviceAcquirer(t.TempDir())
	_, err := acquirer.Acquire(context.Background(), capture.Constraints{Device: fakeDevice(t)})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestListDevicesSorted(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"video2", "video0", "audio0"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	got, err := capture.ListDevices(filepath.Join(dir, "video*"))
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	want := []string{filepath.Join(dir, "video0"), filepath.Join(dir, "video2")}
	if !slices.Equal(got, want) {
		t.Fatalf("ListDevices = %v, want %v", got, want)
	}
}

func TestBuildFFmpegArgs(t *testing.T) {
	args := capture.BuildFFmpegArgs(capture.Constraints{
		Device:    "/dev/video1",
		Video:     true,
		Width:     1280,
		Height:    720,
		FrameRate: 24,
	}, "")
	joined := strings.Join(args, " ")
	for _, want := range []string{"-f v4l2", "-framerate 24", "-video_size 1280x720", "-i /dev/video1", "-an", "-f webm pipe:1"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args %q missing %q", joined, want)
		}
	}

	withAudio := strings.Join(capture.BuildFFmpegArgs(capture.Constraints{Device: "/dev/video0", Video: true, Audio: true}, "hw:1"), " ")
	if !strings.Contains(withAudio, "-f alsa -i hw:1") {
		t.Fatalf("audio args missing: %q", withAudio)
	}
	if strings.Contains(withAudio, "-an") {
		t.Fatalf("audio capture should not disable audio: %q", withAudio)
	}
}

type collectingSink struct {
	mu      sync.Mutex
	chunks  []capture.Chunk
	first   chan struct{}
	stopped chan error
	once    sync.Once
}

func newCollectingSink() *collectingSink {
	return &collectingSink{first: make(chan struct{}), stopped: make(chan error, 1)}
}

func (s *collectingSink) Chunk(c capture.Chunk) {
	s.mu.Lock()
	s.chunks = append(s.chunks, c)
	s.mu.Unlock()
	s.once.Do(func() { close(s.first) })
}

func (s *collectingSink) Stopped(err error) { s.stopped <- err }

func (s *collectingSink) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var buf bytes.Buffer
	for i, c := range s.chunks {
		if c.Sequence != int64(i) {
			panic("chunk sequence out of order")
		}
		buf.Write(c.Data)
	}
	return buf.Bytes()
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

type stubStream struct{ device string }

func (s stubStream) ID() string     { return "stream-1" }
func (s stubStream) Device() string { return s.device }
func (s stubStream) Constraints() capture.Constraints {
	return capture.Constraints{Device: s.device, Video: true}
}
func (s stubStream) Close() error { return nil }

func TestFFmpegRecorderDeliversOutputUntilInterrupted(t *testing.T) {
	script := writeScript(t, "trap 'printf tail; exit 255' INT\nprintf head\nwhile :; do sleep 0.05; done\n")
	recorder := capture.NewFFmpegRecorder(script, 3, "", nil)
	sink := newCollectingSink()

	rec, err := recorder.Start(context.Background(), stubStream{device: "/dev/video0"}, sink)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-sink.first:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first chunk")
	}
	if err := rec.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := rec.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	select {
	case err := <-sink.stopped:
		if err != nil {
			t.Fatalf("Stopped error = %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for stop notification")
	}
	if got := string(sink.bytes()); got != "headtail" {
		t.Fatalf("recorded bytes = %q, want %q", got, "headtail")
	}
}

func TestFFmpegRecorderKillsAfterIgnoredInterrupt(t *testing.T) {
	script := writeScript(t, "trap '' INT\nprintf head\nwhile :; do sleep 0.05; done\n")
	recorder := capture.NewFFmpegRecorder(script, 0, "", nil)
	recorder.StopGrace = 200 * time.Millisecond
	sink := newCollectingSink()

	rec, err := recorder.Start(context.Background(), stubStream{device: "/dev/video0"}, sink)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-sink.first:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first chunk")
	}
	if err := rec.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case err := <-sink.stopped:
		if err != nil {
			t.Fatalf("Stopped error = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stop notification never arrived after grace period")
	}
	if got := string(sink.bytes()); got != "head" {
		t.Fatalf("recorded bytes = %q, want %q", got, "head")
	}
}

func TestFFmpegRecorderReportsUnexpectedExit(t *testing.T) {
	script := writeScript(t, "echo 'Cannot open video device' >&2\nexit 1\n")
	recorder := capture.NewFFmpegRecorder(script, 0, "", nil)
	sink := newCollectingSink()

	if _, err := recorder.Start(context.Background(), stubStream{device: "/dev/video0"}, sink); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case err := <-sink.stopped:
		if !errors.Is(err, services.ErrExternalTool) {
			t.Fatalf("Stopped error = %v, want ErrExternalTool", err)
		}
		if !strings.Contains(err.Error(), "Cannot open video device") {
			t.Fatalf("error %q should carry stderr tail", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for stop notification")
	}
}

func TestFFmpegRecorderMissingBinary(t *testing.T) {
	recorder := capture.NewFFmpegRecorder(filepath.Join(t.TempDir(), "nope"), 0, "", nil)
	_, err := recorder.Start(context.Background(), stubStream{device: "/dev/video0"}, newCollectingSink())
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("error = %v, want ErrExternalTool", err)
	}
}
