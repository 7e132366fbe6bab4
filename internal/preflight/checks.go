package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sys/unix"
)

const endpointCheckTimeout = 5 * time.Second

// CheckEndpoint verifies that the verification endpoint answers HTTP. Any
// response counts as reachable except an authentication rejection, since
// upload endpoints commonly refuse bodiless requests.
func CheckEndpoint(ctx context.Context, endpoint, token string) Result {
	const name = "Verification endpoint"

	target := strings.TrimSpace(endpoint)
	if target == "" {
		return Result{Name: name, Detail: "missing url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, endpointCheckTimeout)
	defer cancel()

	client := resty.New().SetTimeout(endpointCheckTimeout)
	req := client.R().SetContext(checkCtx)
	if token = strings.TrimSpace(token); token != "" {
		req.SetAuthToken(token)
	}
	resp, err := req.Head(target)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (unreachable: %s)", target, summarizeError(err))}
	}

	switch code := resp.StatusCode(); code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return Result{Name: name, Detail: fmt.Sprintf("%s (auth failed: %d)", target, code)}
	default:
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (reachable, %d)", target, code)}
	}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

func summarizeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Err.Error()
	}
	return err.Error()
}
