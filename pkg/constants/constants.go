package constants

import "time"

const (
	ServerName         = "LingMediaBridge"
	DefaultAddr        = ":8765"
	DefaultMediaPath   = "/"
	HealthPath         = "/healthz"
	MetricsPath        = "/metrics"
	DefaultReplayFile  = "output.slin16"
	DefaultPingPeriod  = 20 * time.Second
	DefaultWriteWait   = 5 * time.Second
	DefaultShutdownTTL = 10 * time.Second
)

// Audio format. slin16: 16kHz, mono, S16_LE, 20ms frames.
const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
	DefaultFrameMs    = 20
)

// Environment keys
const (
	ENV_MODE            = "MODE"
	ENV_ADDR            = "ADDR"
	ENV_MEDIA_PATH      = "MEDIA_PATH"
	ENV_WRITE_TIMEOUT   = "WRITE_TIMEOUT"
	ENV_PING_INTERVAL   = "PING_INTERVAL"
	ENV_SHUTDOWN_TIME   = "SHUTDOWN_TIMEOUT"
	ENV_METRICS_ENABLED = "METRICS_ENABLED"

	ENV_BRIDGE_MODE  = "BRIDGE_MODE"
	ENV_ANSWER_DELAY = "ANSWER_DELAY"
	ENV_LOG_EVERY    = "LOG_EVERY_FRAMES"

	ENV_INPUT_DEVICE  = "INPUT_DEVICE"
	ENV_OUTPUT_DEVICE = "OUTPUT_DEVICE"
	ENV_SAMPLE_RATE   = "SAMPLE_RATE"
	ENV_CHANNELS      = "CHANNELS"
	ENV_FRAME_MS      = "FRAME_MS"

	ENV_REPLAY_FILE       = "REPLAY_FILE"
	ENV_REPLAY_CHUNK_SIZE = "REPLAY_CHUNK_SIZE"
	ENV_REPLAY_PLAYBACK   = "REPLAY_PLAYBACK"

	ENV_LOG_LEVEL       = "LOG_LEVEL"
	ENV_LOG_FILENAME    = "LOG_FILENAME"
	ENV_LOG_MAX_SIZE    = "LOG_MAX_SIZE"
	ENV_LOG_MAX_AGE     = "LOG_MAX_AGE"
	ENV_LOG_MAX_BACKUPS = "LOG_MAX_BACKUPS"
	ENV_LOG_DAILY       = "LOG_DAILY"
)
