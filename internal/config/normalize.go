package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeCapture(); err != nil {
		return err
	}
	c.normalizeSubmission()
	if err := c.normalizeRecording(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	if value, ok := os.LookupEnv("LIVECHECK_API_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.Paths.APIToken = value
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeCapture() error {
	c.Capture.Device = strings.TrimSpace(c.Capture.Device)
	if c.Capture.Device == "" {
		c.Capture.Device = defaultDevice
	}
	c.Capture.AudioDevice = strings.TrimSpace(c.Capture.AudioDevice)
	if c.Capture.AudioDevice == "" {
		c.Capture.AudioDevice = defaultAudioDevice
	}
	c.Capture.FFmpegBinary = strings.TrimSpace(c.Capture.FFmpegBinary)
	if c.Capture.FFmpegBinary == "" {
		c.Capture.FFmpegBinary = defaultFFmpegBinary
	}
	if c.Capture.ChunkBytes == 0 {
		c.Capture.ChunkBytes = defaultChunkBytes
	}
	if strings.TrimSpace(c.Capture.LockDir) == "" {
		c.Capture.LockDir = defaultLockDir
	}
	var err error
	if c.Capture.LockDir, err = expandPath(c.Capture.LockDir); err != nil {
		return fmt.Errorf("capture.lock_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeSubmission() {
	if value, ok := os.LookupEnv("LIVECHECK_SUBMIT_ENDPOINT"); ok && strings.TrimSpace(value) != "" {
		c.Submission.Endpoint = value
	}
	if value, ok := os.LookupEnv("LIVECHECK_SUBMIT_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.Submission.Token = value
	}
	c.Submission.Endpoint = strings.TrimSpace(c.Submission.Endpoint)
	c.Submission.Token = strings.TrimSpace(c.Submission.Token)
	c.Submission.DocumentField = strings.TrimSpace(c.Submission.DocumentField)
	c.Submission.FieldName = strings.TrimSpace(c.Submission.FieldName)
	if c.Submission.FieldName == "" {
		c.Submission.FieldName = defaultFieldName
	}
	c.Submission.Filename = strings.TrimSpace(c.Submission.Filename)
	if c.Submission.Filename == "" {
		c.Submission.Filename = defaultFilename
	}
	c.Submission.MIMEType = strings.ToLower(strings.TrimSpace(c.Submission.MIMEType))
	if c.Submission.MIMEType == "" {
		c.Submission.MIMEType = defaultMIMEType
	}
}

func (c *Config) normalizeRecording() error {
	if strings.TrimSpace(c.Recording.ArchiveDir) == "" {
		c.Recording.ArchiveDir = defaultArchiveDir
	}
	var err error
	if c.Recording.ArchiveDir, err = expandPath(c.Recording.ArchiveDir); err != nil {
		return fmt.Errorf("recording.archive_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
