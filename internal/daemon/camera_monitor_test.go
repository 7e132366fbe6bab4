package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pilebones/go-udev/netlink"

	"livecheck/internal/config"
)

func cameraConfig(device string) *config.Config {
	cfg := &config.Config{}
	cfg.Capture.Device = device
	return cfg
}

func TestNewCameraMonitor(t *testing.T) {
	t.Run("nil config returns nil", func(t *testing.T) {
		if m := newCameraMonitor(nil, nil); m != nil {
			t.Error("expected nil monitor for nil config")
		}
	})

	t.Run("empty device returns nil", func(t *testing.T) {
		if m := newCameraMonitor(cameraConfig(""), nil); m != nil {
			t.Error("expected nil monitor for empty device")
		}
	})

	t.Run("probes presence at construction", func(t *testing.T) {
		device := filepath.Join(t.TempDir(), "video0")
		if err := os.WriteFile(device, nil, 0o644); err != nil {
			t.Fatalf("write device: %v", err)
		}
		m := newCameraMonitor(cameraConfig(device), nil)
		if m == nil {
			t.Fatal("expected non-nil monitor")
		}
		if !m.State().Present {
			t.Error("expected existing device to be present")
		}
		missing := newCameraMonitor(cameraConfig(filepath.Join(t.TempDir(), "video9")), nil)
		if missing.State().Present {
			t.Error("expected missing device to be absent")
		}
	})
}

func TestCameraMonitorNilSafety(t *testing.T) {
	var m *cameraMonitor
	if m.Running() {
		t.Error("expected Running() false for nil monitor")
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start on nil monitor: %v", err)
	}
	m.Stop()
	if state := m.State(); state.Device != "" || state.Present {
		t.Fatalf("unexpected nil state: %+v", state)
	}
}

func TestCameraMonitorStopStartIdempotency(t *testing.T) {
	m := newCameraMonitor(cameraConfig("/dev/video0"), nil)
	m.Stop()
	m.Stop()
	if m.Running() {
		t.Error("expected Running() false after Stop on unstarted monitor")
	}
	// Netlink may be unavailable in the test environment; Start must not fail hard.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	m.Stop()
}

func TestBuildCameraMatcher(t *testing.T) {
	matcher := buildCameraMatcher()

	cases := []struct {
		name  string
		event netlink.UEvent
		want  bool
	}{
		{"add", netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "video4linux"}}, true},
		{"remove", netlink.UEvent{Action: netlink.REMOVE, Env: map[string]string{"SUBSYSTEM": "video4linux"}}, true},
		{"change", netlink.UEvent{Action: netlink.CHANGE, Env: map[string]string{"SUBSYSTEM": "video4linux"}}, false},
		{"other subsystem", netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "block"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := matcher.Evaluate(tc.event); got != tc.want {
				t.Fatalf("Evaluate = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCameraHandleEvent(t *testing.T) {
	t.Run("tracks add and remove of configured device", func(t *testing.T) {
		m := newCameraMonitor(cameraConfig("/dev/video0"), nil)
		m.handleEvent(netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"DEVNAME": "/dev/video0"}})
		state := m.State()
		if !state.Present || state.LastEvent != "add" || state.LastEventAt.IsZero() {
			t.Fatalf("unexpected state after add: %+v", state)
		}
		m.handleEvent(netlink.UEvent{Action: netlink.REMOVE, Env: map[string]string{"DEVNAME": "video0"}})
		if m.State().Present {
			t.Fatal("expected device absent after remove")
		}
	})

	t.Run("ignores other devices", func(t *testing.T) {
		m := newCameraMonitor(cameraConfig("/dev/video0"), nil)
		before := m.State()
		m.handleEvent(netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"DEVNAME": "/dev/video1"}})
		if after := m.State(); after.LastEvent != before.LastEvent || after.Present != before.Present {
			t.Fatalf("state changed for unrelated device: %+v", after)
		}
	})

	t.Run("ignores events without device name", func(t *testing.T) {
		m := newCameraMonitor(cameraConfig("/dev/video0"), nil)
		m.handleEvent(netlink.UEvent{Action: netlink.ADD, Env: map[string]string{}})
		if m.State().LastEvent != "" {
			t.Fatal("expected event without device name to be ignored")
		}
	})

	t.Run("extracts device from DEVPATH", func(t *testing.T) {
		got := extractDeviceName(netlink.UEvent{Env: map[string]string{
			"DEVPATH": "/devices/pci0000:00/0000:00:14.0/usb1/1-2/1-2:1.0/video4linux/video0",
		}})
		if got != "/dev/video0" {
			t.Fatalf("extractDeviceName = %q", got)
		}
	})
}
