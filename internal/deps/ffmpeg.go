package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"livecheck/internal/capture"
	"livecheck/internal/config"
)

// CheckFFmpeg reports the ffmpeg binary the recorder will execute. An
// explicit path must point at an executable file; a bare name is resolved
// from PATH.
func CheckFFmpeg(binary string) Status {
	result := Status{
		Name:        "FFmpeg",
		Description: "Captures the camera and produces WebM chunks",
	}

	name := strings.TrimSpace(binary)
	if name == "" {
		name = "ffmpeg"
	}
	if strings.ContainsRune(name, filepath.Separator) {
		result.Command = name
		info, err := os.Stat(name)
		if err != nil {
			result.Detail = fmt.Sprintf("binary %q not found", name)
			return result
		}
		if !isExecutable(info) {
			result.Detail = fmt.Sprintf("binary %q is not executable", name)
			return result
		}
		result.Available = true
		return result
	}

	if resolved, err := exec.LookPath(name); err == nil {
		result.Command = resolved
		result.Available = true
		return result
	}
	result.Command = name
	result.Detail = fmt.Sprintf("binary %q not found", name)
	return result
}

// CheckCaptureDevice reports whether the configured camera node is present
// and readable.
func CheckCaptureDevice(device string) Status {
	result := Status{
		Name:        "Camera",
		Command:     device,
		Description: "V4L2 capture device",
	}
	if err := capture.CheckDeviceAccess(device); err != nil {
		result.Detail = err.Error()
		return result
	}
	result.Available = true
	return result
}

// CheckAll evaluates every external dependency the daemon needs for cfg.
func CheckAll(cfg *config.Config) []Status {
	if cfg == nil {
		return nil
	}
	return []Status{
		CheckFFmpeg(cfg.Capture.FFmpegBinary),
		CheckCaptureDevice(cfg.Capture.Device),
	}
}

func isExecutable(info os.FileInfo) bool {
	if info == nil {
		return false
	}
	if info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
