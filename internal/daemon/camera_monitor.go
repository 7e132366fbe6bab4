package daemon

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pilebones/go-udev/netlink"

	"livecheck/internal/config"
	"livecheck/internal/logging"
)

// CameraState reports what the monitor knows about the configured device.
type CameraState struct {
	Device      string
	Present     bool
	Monitoring  bool
	LastEvent   string
	LastEventAt time.Time
}

// cameraMonitor listens for udev netlink events on the video4linux subsystem
// and tracks whether the configured capture device is plugged in.
type cameraMonitor struct {
	logger *slog.Logger
	device string

	mu          sync.Mutex
	conn        *netlink.UEventConn
	quit        chan struct{}
	running     bool
	present     bool
	lastEvent   string
	lastEventAt time.Time
}

func newCameraMonitor(cfg *config.Config, logger *slog.Logger) *cameraMonitor {
	if cfg == nil {
		return nil
	}

	device := strings.TrimSpace(cfg.Capture.Device)
	if device == "" {
		return nil
	}

	return &cameraMonitor{
		logger:  logging.NewComponentLogger(logger, "camera-monitor"),
		device:  device,
		present: devicePresent(device),
	}
}

// Start begins listening for udev netlink events. A socket failure is logged
// and otherwise ignored: presence then reflects the startup probe only.
func (m *cameraMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(m.logger, "failed to connect to netlink socket", "netlink_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ensure the daemon may open netlink sockets"),
			logging.String(logging.FieldImpact, "camera hotplug not tracked"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, conn, quit)

	m.logger.Info("camera monitor started",
		logging.String(logging.FieldEventType, "camera_monitor_started"),
		logging.String("device", m.device),
		logging.Bool("present", m.present),
	)
	return nil
}

// Stop shuts down the netlink monitor.
func (m *cameraMonitor) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false

	m.logger.Info("camera monitor stopped",
		logging.String(logging.FieldEventType, "camera_monitor_stopped"),
	)
}

// Running reports whether the netlink monitor is active.
func (m *cameraMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// State returns the last known device presence.
func (m *cameraMonitor) State() CameraState {
	if m == nil {
		return CameraState{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return CameraState{
		Device:      m.device,
		Present:     m.present,
		Monitoring:  m.running,
		LastEvent:   m.lastEvent,
		LastEventAt: m.lastEventAt,
	}
}

func (m *cameraMonitor) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, buildCameraMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			m.handleEvent(uevent)
		case err := <-errs:
			logging.WarnWithContext(m.logger, "netlink monitor error", "netlink_monitor_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "camera presence may be stale"),
			)
		}
	}
}

// buildCameraMatcher matches SUBSYSTEM=video4linux, ACTION=add|remove.
func buildCameraMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "video4linux",
		},
	})
	return rules
}

func (m *cameraMonitor) handleEvent(uevent netlink.UEvent) {
	devname := extractDeviceName(uevent)
	if devname == "" {
		m.logger.Debug("ignoring event without device name",
			logging.String("action", string(uevent.Action)),
			logging.String("kobj", uevent.KObj),
		)
		return
	}
	if devname != m.device {
		m.logger.Debug("ignoring event for non-configured device",
			logging.String("device", devname),
			logging.String("configured_device", m.device),
		)
		return
	}

	var present bool
	switch uevent.Action {
	case netlink.ADD:
		present = true
	case netlink.REMOVE:
		present = false
	default:
		return
	}

	m.mu.Lock()
	m.present = present
	m.lastEvent = string(uevent.Action)
	m.lastEventAt = time.Now()
	m.mu.Unlock()

	if present {
		m.logger.Info("camera attached",
			logging.String(logging.FieldEventType, "camera_attached"),
			logging.String("device", devname),
		)
		return
	}
	logging.WarnWithContext(m.logger, "camera detached", "camera_detached",
		logging.String("device", devname),
		logging.String(logging.FieldErrorHint, "reconnect the camera before starting a session"),
		logging.String(logging.FieldImpact, "new sessions will be denied capture"),
	)
}

// extractDeviceName gets the device path from a uevent.
func extractDeviceName(uevent netlink.UEvent) string {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		if !strings.HasPrefix(devname, "/") {
			devname = "/dev/" + devname
		}
		return devname
	}

	// DEVPATH looks like /devices/pci.../video4linux/video0.
	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	parts := strings.Split(devpath, "/")
	return "/dev/" + parts[len(parts)-1]
}

func devicePresent(device string) bool {
	_, err := os.Stat(device)
	return !errors.Is(err, os.ErrNotExist)
}
