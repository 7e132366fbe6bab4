package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateSubmission(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateCapture() error {
	if !strings.HasPrefix(c.Capture.Device, "/") {
		return fmt.Errorf("capture.device must be an absolute device path, got %q", c.Capture.Device)
	}
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		return errors.New("capture.width and capture.height must be positive")
	}
	if c.Capture.FrameRate <= 0 {
		return errors.New("capture.frame_rate must be positive")
	}
	if c.Capture.ChunkBytes <= 0 || c.Capture.ChunkBytes > maxChunkBytes {
		return fmt.Errorf("capture.chunk_bytes must be between 1 and %d", maxChunkBytes)
	}
	if c.Capture.MaxDurationSeconds < 0 || c.Capture.MaxDurationSeconds > maxRecordingDurationSecond {
		return fmt.Errorf("capture.max_duration_seconds must be between 0 and %d", maxRecordingDurationSecond)
	}
	return nil
}

func (c *Config) validateSubmission() error {
	if c.Submission.Endpoint != "" {
		parsed, err := url.Parse(c.Submission.Endpoint)
		if err != nil {
			return fmt.Errorf("submission.endpoint: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("submission.endpoint must use http or https, got %q", parsed.Scheme)
		}
		if parsed.Host == "" {
			return errors.New("submission.endpoint must include a host")
		}
	}
	if c.Submission.TimeoutSeconds <= 0 {
		return errors.New("submission.timeout_seconds must be positive")
	}
	if !strings.Contains(c.Submission.MIMEType, "/") {
		return fmt.Errorf("submission.mime_type %q is not a media type", c.Submission.MIMEType)
	}
	if c.Submission.DocumentField != "" && c.Submission.DocumentField == c.Submission.FieldName {
		return errors.New("submission.document_field must differ from submission.field_name")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic == "" {
		return nil
	}
	parsed, err := url.Parse(c.Notifications.NtfyTopic)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic must be a full URL, got %q", c.Notifications.NtfyTopic)
	}
	return nil
}
