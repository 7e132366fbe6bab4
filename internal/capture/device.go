package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"livecheck/internal/services"
)

const defaultDeviceGlob = "/dev/video*"

// DeviceAcquirer grants streams backed by local device nodes. Each grant holds
// an exclusive advisory lock on a per-device lock file under LockDir.
type DeviceAcquirer struct {
	LockDir string
}

// NewDeviceAcquirer returns an acquirer that keeps its lock files in lockDir.
func NewDeviceAcquirer(lockDir string) *DeviceAcquirer {
	return &DeviceAcquirer{LockDir: lockDir}
}

// Acquire verifies the device is present and readable, then locks it.
func (a *DeviceAcquirer) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Video {
		return nil, services.Wrap(services.ErrValidation, "capture", "acquire", "video capture not requested", nil)
	}
	device := strings.TrimSpace(c.Device)
	if device == "" {
		return nil, services.Wrap(services.ErrCaptureDenied, "capture", "acquire", "no capture device configured", nil)
	}
	if err := CheckDeviceAccess(device); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(a.LockDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "capture", "acquire", "create lock directory", err)
	}
	lock := flock.New(filepath.Join(a.LockDir, lockName(device)))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrCaptureDenied, "capture", "acquire", "lock "+device, err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrCaptureDenied, "capture", "acquire", device+" is in use by another session", nil)
	}

	return &deviceStream{
		id:          uuid.NewString(),
		constraints: c,
		lock:        lock,
	}, nil
}

// CheckDeviceAccess reports whether device exists and is readable by this
// process. Failures wrap services.ErrCaptureDenied.
func CheckDeviceAccess(device string) error {
	info, err := os.Stat(device)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return services.Wrap(services.ErrCaptureDenied, "capture", "acquire", device+" not found", nil)
		}
		return services.Wrap(services.ErrCaptureDenied, "capture", "acquire", "stat "+device, err)
	}
	if info.IsDir() {
		return services.Wrap(services.ErrCaptureDenied, "capture", "acquire", device+" is a directory", nil)
	}
	if err := unix.Access(device, unix.R_OK); err != nil {
		return services.Wrap(services.ErrCaptureDenied, "capture", "acquire", "permission denied for "+device, err)
	}
	return nil
}

// ListDevices returns the capture device nodes matching glob, sorted. An empty
// glob lists V4L2 nodes.
func ListDevices(glob string) ([]string, error) {
	if strings.TrimSpace(glob) == "" {
		glob = defaultDeviceGlob
	}
	matches, err := filepath.Glob(glob)
	if err != nil {
		return nil, fmt.Errorf("list capture devices: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

func lockName(device string) string {
	name := strings.Trim(strings.ReplaceAll(filepath.Clean(device), string(filepath.Separator), "_"), "_")
	if name == "" {
		name = "device"
	}
	return name + ".lock"
}

type deviceStream struct {
	id          string
	constraints Constraints
	lock        *flock.Flock

	closeOnce sync.Once
	closeErr  error
}

func (s *deviceStream) ID() string { return s.id }

func (s *deviceStream) Device() string { return s.constraints.Device }

func (s *deviceStream) Constraints() Constraints { return s.constraints }

func (s *deviceStream) Close() error {
	s.closeOnce.Do(func() {
		if s.lock != nil {
			s.closeErr = s.lock.Unlock()
		}
	})
	return s.closeErr
}
