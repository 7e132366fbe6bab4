package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-resty/resty/v2"

	"livecheck/internal/config"
)

const userAgent = "livecheck/0.1.0"

// Service defines the notification surface exposed to the daemon.
type Service interface {
	NotifyCaptureDenied(ctx context.Context, device string, err error) error
	NotifyFinalized(ctx context.Context, sessionID string, size int64, duration time.Duration) error
	NotifySubmitted(ctx context.Context, sessionID string, statusCode int, decision string) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("User-Agent", userAgent),
		toggles: cfg.Notifications,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *resty.Client
	toggles  config.Notifications
}

func (n *ntfyService) NotifyCaptureDenied(ctx context.Context, device string, err error) error {
	if !n.toggles.CaptureDenied {
		return nil
	}
	device = strings.TrimSpace(device)
	if device == "" {
		device = "camera"
	}
	message := fmt.Sprintf("📷 Capture denied for %s", device)
	if err != nil {
		message = fmt.Sprintf("%s: %s", message, strings.TrimSpace(err.Error()))
	}
	return n.send(ctx, payload{
		title:    "livecheck - Capture Denied",
		message:  message,
		tags:     []string{"livecheck", "capture", "denied"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyFinalized(ctx context.Context, sessionID string, size int64, duration time.Duration) error {
	if !n.toggles.Finalized {
		return nil
	}
	duration = duration.Round(100 * time.Millisecond)
	if duration < 0 {
		duration = 0
	}
	return n.send(ctx, payload{
		title:   "livecheck - Recording Ready",
		message: fmt.Sprintf("🎥 Recording %s ready: %s, %s", shortID(sessionID), humanize.IBytes(uint64(max(size, 0))), duration),
		tags:    []string{"livecheck", "recording", "finalized"},
	})
}

func (n *ntfyService) NotifySubmitted(ctx context.Context, sessionID string, statusCode int, decision string) error {
	if !n.toggles.Submitted {
		return nil
	}
	message := fmt.Sprintf("📤 Recording %s submitted (HTTP %d)", shortID(sessionID), statusCode)
	if decision = strings.TrimSpace(decision); decision != "" {
		message = fmt.Sprintf("%s\nDecision: %s", message, decision)
	}
	return n.send(ctx, payload{
		title:   "livecheck - Submitted",
		message: message,
		tags:    []string{"livecheck", "submission", "completed"},
	})
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.toggles.Errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("❌ Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	return n.send(ctx, payload{
		title:    "livecheck - Error",
		message:  builder.String(),
		tags:     []string{"livecheck", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "livecheck - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"livecheck", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/plain; charset=utf-8").
		SetBody(data.message)
	if data.title != "" {
		req.SetHeader("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.SetHeader("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.SetHeader("Priority", data.priority)
	}

	resp, err := req.Post(n.endpoint)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	if resp.StatusCode() >= 300 {
		body := resp.Body()
		if len(body) > 2048 {
			body = body[:2048]
		}
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode(), strings.TrimSpace(string(body)))
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "(unknown)"
	}
	return id
}

type noopService struct{}

func (noopService) NotifyCaptureDenied(context.Context, string, error) error            { return nil }
func (noopService) NotifyFinalized(context.Context, string, int64, time.Duration) error { return nil }
func (noopService) NotifySubmitted(context.Context, string, int, string) error          { return nil }
func (noopService) NotifyError(context.Context, error, string) error                    { return nil }
func (noopService) TestNotification(context.Context) error                              { return nil }
