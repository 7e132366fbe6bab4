package deps

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestMissingSkipsOptionalAndAvailable(t *testing.T) {
	statuses := []Status{
		{Name: "FFmpeg", Available: true},
		{Name: "Camera", Detail: "/dev/video0 does not exist"},
		{Name: "Extra", Optional: true},
		{Name: "Other"},
	}
	got := Missing(statuses)
	want := []string{"Camera (/dev/video0 does not exist)", "Other"}
	if len(got) != len(want) {
		t.Fatalf("Missing = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Missing[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if Missing(statuses[:1]) != nil {
		t.Fatal("expected nil when everything is available")
	}
}

func TestCheckFFmpegExplicitPath(t *testing.T) {
	tmp := t.TempDir()
	ffmpegPath := filepath.Join(tmp, executableName("ffmpeg"))
	if err := os.WriteFile(ffmpegPath, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write ffmpeg stub: %v", err)
	}

	status := CheckFFmpeg(ffmpegPath)
	if !status.Available {
		t.Fatalf("expected ffmpeg to be available, got detail %q", status.Detail)
	}
	if status.Command != ffmpegPath {
		t.Fatalf("expected ffmpeg command %q, got %q", ffmpegPath, status.Command)
	}
}

func TestCheckFFmpegNotExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced on windows")
	}
	ffmpegPath := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(ffmpegPath, []byte("data"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	status := CheckFFmpeg(ffmpegPath)
	if status.Available || status.Detail == "" {
		t.Fatalf("expected non-executable ffmpeg to be unavailable, got %#v", status)
	}
}

func TestCheckFFmpegPathLookup(t *testing.T) {
	binDir := t.TempDir()
	ffmpegPath := filepath.Join(binDir, executableName("ffmpeg"))
	if err := os.WriteFile(ffmpegPath, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write ffmpeg stub: %v", err)
	}
	t.Setenv("PATH", binDir)

	status := CheckFFmpeg("")
	if !status.Available {
		t.Fatalf("expected ffmpeg on PATH to be available, got detail %q", status.Detail)
	}
	if status.Command != ffmpegPath {
		t.Fatalf("expected ffmpeg command %q, got %q", ffmpegPath, status.Command)
	}
}

func TestCheckFFmpegNotFound(t *testing.T) {
	t.Setenv("PATH", "")
	status := CheckFFmpeg("ffmpeg")
	if status.Available {
		t.Fatal("expected ffmpeg resolution to fail")
	}
	if status.Detail == "" {
		t.Fatal("expected detail message when ffmpeg is unavailable")
	}
}

func TestCheckCaptureDevice(t *testing.T) {
	device := filepath.Join(t.TempDir(), "video0")
	if status := CheckCaptureDevice(device); status.Available {
		t.Fatal("missing device should be unavailable")
	}
	if err := os.WriteFile(device, nil, 0o644); err != nil {
		t.Fatalf("write device: %v", err)
	}
	if status := CheckCaptureDevice(device); !status.Available {
		t.Fatalf("expected device available, got %q", status.Detail)
	}
}

func executableName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}
