package config

const (
	defaultConfigPath          = "~/.config/livecheck/config.toml"
	defaultDataDir             = "~/.local/share/livecheck"
	defaultLogDir              = "~/.local/share/livecheck/logs"
	defaultLockDir             = "~/.local/share/livecheck/locks"
	defaultArchiveDir          = "~/.local/share/livecheck/recordings"
	defaultAPIBind             = "127.0.0.1:7491"
	defaultDevice              = "/dev/video0"
	defaultAudioDevice         = "default"
	defaultWidth               = 640
	defaultHeight              = 480
	defaultFrameRate           = 30
	defaultFFmpegBinary        = "ffmpeg"
	defaultChunkBytes          = 64 * 1024
	defaultMaxDurationSeconds  = 30
	defaultFieldName           = "video"
	defaultFilename            = "my-video.webm"
	defaultMIMEType            = "video/webm"
	defaultSubmissionTimeout   = 60
	defaultNotifyTimeout       = 10
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogRetentionDays    = 30
	maxChunkBytes              = 16 * 1024 * 1024
	maxRecordingDurationSecond = 600
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Capture: Capture{
			Device:             defaultDevice,
			AudioDevice:        defaultAudioDevice,
			Width:              defaultWidth,
			Height:             defaultHeight,
			FrameRate:          defaultFrameRate,
			FFmpegBinary:       defaultFFmpegBinary,
			ChunkBytes:         defaultChunkBytes,
			MaxDurationSeconds: defaultMaxDurationSeconds,
			LockDir:            defaultLockDir,
		},
		Submission: Submission{
			FieldName:      defaultFieldName,
			Filename:       defaultFilename,
			MIMEType:       defaultMIMEType,
			TimeoutSeconds: defaultSubmissionTimeout,
		},
		Recording: Recording{
			ArchiveDir: defaultArchiveDir,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			CaptureDenied:  true,
			Finalized:      false,
			Submitted:      true,
			Errors:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
