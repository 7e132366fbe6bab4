package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"livecheck/internal/api"
	"livecheck/internal/history"
	"livecheck/internal/logging"
	"livecheck/internal/session"
)

// ErrUnavailable reports that the daemon could not be reached.
var ErrUnavailable = errors.New("daemon not reachable")

// Client provides access to the daemon control API.
type Client struct {
	base  string
	token string
	http  *resty.Client
}

// NewClient builds a client for the API at baseURL. A zero timeout leaves
// requests bounded only by their context.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	httpClient := resty.New().
		SetBaseURL(base).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "livecheck-cli")
	if timeout > 0 {
		httpClient.SetTimeout(timeout)
	}
	if token != "" {
		httpClient.SetAuthToken(token)
	}
	return &Client{base: base, token: token, http: httpClient}
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.base
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (*api.DaemonStatus, error) {
	var out api.DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Session retrieves the current session snapshot.
func (c *Client) Session(ctx context.Context) (session.Snapshot, error) {
	var out api.SessionResponse
	err := c.do(ctx, http.MethodGet, "/api/session", nil, &out)
	return out.Session, err
}

// Start begins a recording session.
func (c *Client) Start(ctx context.Context) (session.Snapshot, error) {
	var out api.SessionResponse
	err := c.do(ctx, http.MethodPost, "/api/session/start", nil, &out)
	return out.Session, err
}

// Stop ends the active recording and returns the finalized snapshot.
func (c *Client) Stop(ctx context.Context) (session.Snapshot, error) {
	var out api.SessionResponse
	err := c.do(ctx, http.MethodPost, "/api/session/stop", nil, &out)
	return out.Session, err
}

// Submit posts the current artifact. On a rejected submission the response
// still carries the receipt alongside the error.
func (c *Client) Submit(ctx context.Context, req api.SubmitRequest) (*api.SubmitResponse, error) {
	var out api.SubmitResponse
	err := c.do(ctx, http.MethodPost, "/api/session/submit", req, &out)
	return &out, err
}

// Recordings lists history rows, newest first.
func (c *Client) Recordings(ctx context.Context, limit int) ([]history.Recording, error) {
	var out api.RecordingsResponse
	path := "/api/recordings"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Recordings, nil
}

// Recording returns one history row with all its submissions.
func (c *Client) Recording(ctx context.Context, sessionID string) (*history.Recording, error) {
	var out api.RecordingResponse
	if err := c.do(ctx, http.MethodGet, "/api/recordings/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return &out.Recording, nil
}

// Diagnostics returns recent daemon warnings and errors.
func (c *Client) Diagnostics(ctx context.Context, limit int) ([]logging.Diagnostic, error) {
	var out api.DiagnosticsResponse
	path := "/api/diagnostics"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// TestNotification asks the daemon to send a test notification.
func (c *Client) TestNotification(ctx context.Context) (*api.NotificationTestResponse, error) {
	var out api.NotificationTestResponse
	if err := c.do(ctx, http.MethodPost, "/api/notifications/test", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadArtifact copies the finalized recording into w and returns the
// number of bytes written and the digest the daemon reported.
func (c *Client) DownloadArtifact(ctx context.Context, w io.Writer) (int64, string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get("/api/session/artifact")
	if err != nil {
		return 0, "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.StatusCode() != http.StatusOK {
		return 0, "", decodeRawError(resp.StatusCode(), body)
	}
	n, err := io.Copy(w, body)
	if err != nil {
		return n, "", fmt.Errorf("download artifact: %w", err)
	}
	return n, resp.Header().Get("X-Livecheck-Sha256"), nil
}

// Events streams session snapshots until ctx ends or the daemon closes the
// feed. The returned channel is closed when streaming stops; the error
// channel receives at most one value.
func (c *Client) Events(ctx context.Context) (<-chan session.Snapshot, <-chan error, error) {
	wsURL, err := c.eventsURL()
	if err != nil {
		return nil, nil, err
	}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			defer resp.Body.Close()
			return nil, nil, decodeRawError(resp.StatusCode, resp.Body)
		}
		return nil, nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	out := make(chan session.Snapshot)
	errs := make(chan error, 1)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var msg api.SessionResponse
			if err := conn.ReadJSON(&msg); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					errs <- err
				}
				return
			}
			select {
			case out <- msg.Session:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, errs, nil
}

func (c *Client) eventsURL() (string, error) {
	parsed, err := url.Parse(c.base)
	if err != nil {
		return "", fmt.Errorf("parse daemon url: %w", err)
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/api/session/events"
	return parsed.String(), nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	req := c.http.R().
		SetContext(ctx).
		SetResult(out).
		SetError(&api.ErrorResponse{})
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if !resp.IsError() {
		return nil
	}
	apiErr, _ := resp.Error().(*api.ErrorResponse)
	if apiErr == nil || apiErr.Error == "" {
		return fmt.Errorf("daemon returned %d", resp.StatusCode())
	}
	// Failed session calls still carry the current state for re-rendering.
	switch dst := out.(type) {
	case *api.SessionResponse:
		if apiErr.Session != nil {
			dst.Session = *apiErr.Session
		}
	case *api.SubmitResponse:
		if apiErr.Session != nil {
			dst.Session = *apiErr.Session
		}
		dst.Receipt = apiErr.Receipt
	}
	return api.ErrorFromKind(apiErr.Kind, apiErr.Error)
}

func decodeRawError(status int, body io.Reader) error {
	data, _ := io.ReadAll(io.LimitReader(body, 64<<10))
	var apiErr api.ErrorResponse
	if err := json.Unmarshal(data, &apiErr); err != nil || apiErr.Error == "" {
		return fmt.Errorf("daemon returned %d", status)
	}
	return api.ErrorFromKind(apiErr.Kind, apiErr.Error)
}
