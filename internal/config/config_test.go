package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"livecheck/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("LIVECHECK_SUBMIT_ENDPOINT", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "livecheck")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7491" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Capture.Device != "/dev/video0" {
		t.Fatalf("unexpected capture device: %q", cfg.Capture.Device)
	}
	if cfg.Submission.FieldName != "video" {
		t.Fatalf("expected video field name, got %q", cfg.Submission.FieldName)
	}
	if cfg.Submission.MIMEType != "video/webm" {
		t.Fatalf("expected video/webm, got %q", cfg.Submission.MIMEType)
	}
	if cfg.Submission.Filename != "my-video.webm" {
		t.Fatalf("unexpected filename: %q", cfg.Submission.Filename)
	}
	if cfg.MaxDuration() != 30*time.Second {
		t.Fatalf("unexpected max duration: %s", cfg.MaxDuration())
	}
	if cfg.HistoryPath() != filepath.Join(wantData, "history.db") {
		t.Fatalf("unexpected history path: %q", cfg.HistoryPath())
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir, cfg.Capture.LockDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "livecheck.toml")
	t.Setenv("LIVECHECK_SUBMIT_ENDPOINT", "")

	type payload struct {
		Capture struct {
			Device     string `toml:"device"`
			ChunkBytes int    `toml:"chunk_bytes"`
		} `toml:"capture"`
		Submission struct {
			Endpoint string `toml:"endpoint"`
		} `toml:"submission"`
	}
	custom := payload{}
	custom.Capture.Device = "/dev/video2"
	custom.Capture.ChunkBytes = 4096
	custom.Submission.Endpoint = "https://verify.example.com/verify"
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Capture.Device != "/dev/video2" {
		t.Fatalf("expected device override, got %q", cfg.Capture.Device)
	}
	if cfg.Capture.ChunkBytes != 4096 {
		t.Fatalf("expected chunk bytes 4096, got %d", cfg.Capture.ChunkBytes)
	}
	if cfg.Submission.Endpoint != "https://verify.example.com/verify" {
		t.Fatalf("unexpected endpoint: %q", cfg.Submission.Endpoint)
	}
	if cfg.Capture.FrameRate != config.Default().Capture.FrameRate {
		t.Fatalf("expected default frame rate to survive partial file, got %d", cfg.Capture.FrameRate)
	}
}

func TestEnvVarOverridesConfigFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "livecheck.toml")
	contents := "[submission]\nendpoint = \"http://file.example/verify\"\ntoken = \"file-token\"\n"
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LIVECHECK_SUBMIT_ENDPOINT", "http://env.example/verify")
	t.Setenv("LIVECHECK_SUBMIT_TOKEN", "env-token")
	t.Setenv("LIVECHECK_API_TOKEN", "api-token")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Submission.Endpoint != "http://env.example/verify" {
		t.Errorf("expected endpoint from env, got %q", cfg.Submission.Endpoint)
	}
	if cfg.Submission.Token != "env-token" {
		t.Errorf("expected token from env, got %q", cfg.Submission.Token)
	}
	if cfg.Paths.APIToken != "api-token" {
		t.Errorf("expected api token from env, got %q", cfg.Paths.APIToken)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), `field_name = "video"`) {
		t.Fatalf("sample config missing video field name: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if cfg.Submission.MIMEType != "video/webm" {
		t.Fatalf("expected sample mime type video/webm, got %q", cfg.Submission.MIMEType)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cfg := config.Default()
	cfg.Capture.Device = "video0"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for relative device path")
	}

	cfg = config.Default()
	cfg.Capture.FrameRate = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for frame rate")
	}

	cfg = config.Default()
	cfg.Capture.ChunkBytes = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for chunk size")
	}

	cfg = config.Default()
	cfg.Submission.Endpoint = "ftp://example.com/upload"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-http endpoint")
	}

	cfg = config.Default()
	cfg.Submission.DocumentField = "video"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when document field collides with video field")
	}

	cfg = config.Default()
	cfg.Notifications.NtfyTopic = "my-topic"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for bare ntfy topic")
	}

	cfg = config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestDaemonURL(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.APIBind = ":9000"
	if got := cfg.DaemonURL(); got != "http://127.0.0.1:9000" {
		t.Fatalf("unexpected daemon url: %q", got)
	}
}
