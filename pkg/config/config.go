package config

import (
	"log"
	"time"

	"github.com/LingByte/LingMediaBridge/pkg/bridge"
	"github.com/LingByte/LingMediaBridge/pkg/constants"
	"github.com/LingByte/LingMediaBridge/pkg/devices"
	apperrors "github.com/LingByte/LingMediaBridge/pkg/errors"
	"github.com/LingByte/LingMediaBridge/pkg/logger"
	"github.com/LingByte/LingMediaBridge/pkg/utils"
	"github.com/LingByte/LingMediaBridge/pkg/wsconn"
)

// ServerConfig holds listener and transport settings
type ServerConfig struct {
	Addr            string        `json:"addr"`
	MediaPath       string        `json:"media_path"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	PingInterval    time.Duration `json:"ping_interval"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	MetricsEnabled  bool          `json:"metrics_enabled"`
}

// AudioConfig is the PCM format and the devices used in live mode
type AudioConfig struct {
	SampleRate   int    `json:"sample_rate"`
	Channels     int    `json:"channels"`
	FrameMs      int    `json:"frame_ms"`
	InputDevice  string `json:"input_device"`
	OutputDevice string `json:"output_device"`
}

type BridgeConfig struct {
	Mode        string        `json:"mode"`
	AnswerDelay time.Duration `json:"answer_delay"`
	LogEvery    int           `json:"log_every"`
}

// ReplayConfig drives buffered mode
type ReplayConfig struct {
	File      string `json:"file"`
	ChunkSize int    `json:"chunk_size"`
	Playback  bool   `json:"playback"`
}

var GlobalConfig *Config

// Config System common config
type Config struct {
	Server ServerConfig     // Server configuration
	Log    logger.LogConfig // Log configuration
	Audio  AudioConfig
	Bridge BridgeConfig
	Replay ReplayConfig
	Mode   string `env:"MODE"`
}

func Load() error {
	// 1. .env / .env.<mode>; missing files are fine, defaults apply
	mode := utils.GetStringOrDefault(constants.ENV_MODE, "development")
	if err := utils.LoadEnv(mode); err != nil {
		log.Printf("Note: .env file not found or failed to load: %v (using default values)", err)
	}
	// 2. every key has a default so the bridge starts without any file
	cfg := FromEnv(mode)
	if err := cfg.Validate(); err != nil {
		return err
	}
	GlobalConfig = cfg
	return nil
}

// FromEnv reads the configuration from the process environment
func FromEnv(mode string) *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            utils.GetStringOrDefault(constants.ENV_ADDR, constants.DefaultAddr),
			MediaPath:       utils.GetStringOrDefault(constants.ENV_MEDIA_PATH, constants.DefaultMediaPath),
			WriteTimeout:    utils.GetDurationOrDefault(constants.ENV_WRITE_TIMEOUT, constants.DefaultWriteWait),
			PingInterval:    utils.GetDurationOrDefault(constants.ENV_PING_INTERVAL, constants.DefaultPingPeriod),
			ShutdownTimeout: utils.GetDurationOrDefault(constants.ENV_SHUTDOWN_TIME, constants.DefaultShutdownTTL),
			MetricsEnabled:  utils.GetBoolOrDefault(constants.ENV_METRICS_ENABLED, true),
		},
		Log: logger.LogConfig{
			Level:      utils.GetStringOrDefault(constants.ENV_LOG_LEVEL, "info"),
			Filename:   utils.GetStringOrDefault(constants.ENV_LOG_FILENAME, "./logs/bridge.log"),
			MaxSize:    utils.GetIntOrDefault(constants.ENV_LOG_MAX_SIZE, 100),
			MaxAge:     utils.GetIntOrDefault(constants.ENV_LOG_MAX_AGE, 30),
			MaxBackups: utils.GetIntOrDefault(constants.ENV_LOG_MAX_BACKUPS, 5),
			Daily:      utils.GetBoolOrDefault(constants.ENV_LOG_DAILY, true),
		},
		Audio: AudioConfig{
			SampleRate:   utils.GetIntOrDefault(constants.ENV_SAMPLE_RATE, constants.DefaultSampleRate),
			Channels:     utils.GetIntOrDefault(constants.ENV_CHANNELS, constants.DefaultChannels),
			FrameMs:      utils.GetIntOrDefault(constants.ENV_FRAME_MS, constants.DefaultFrameMs),
			InputDevice:  utils.GetEnv(constants.ENV_INPUT_DEVICE),
			OutputDevice: utils.GetEnv(constants.ENV_OUTPUT_DEVICE),
		},
		Bridge: BridgeConfig{
			Mode:        utils.GetStringOrDefault(constants.ENV_BRIDGE_MODE, string(bridge.ModeLive)),
			AnswerDelay: utils.GetDurationOrDefault(constants.ENV_ANSWER_DELAY, bridge.DefaultAnswerDelay),
			LogEvery:    utils.GetIntOrDefault(constants.ENV_LOG_EVERY, bridge.DefaultLogEvery),
		},
		Replay: ReplayConfig{
			File:      utils.GetStringOrDefault(constants.ENV_REPLAY_FILE, constants.DefaultReplayFile),
			ChunkSize: utils.GetIntOrDefault(constants.ENV_REPLAY_CHUNK_SIZE, bridge.DefaultChunkSize),
			Playback:  utils.GetBoolOrDefault(constants.ENV_REPLAY_PLAYBACK, false),
		},
		Mode: mode,
	}
}

// Validate rejects settings the bridge cannot run with
func (c *Config) Validate() error {
	if _, err := bridge.ParseMode(c.Bridge.Mode); err != nil {
		return err
	}
	invalid := func(key string, v any) error {
		return apperrors.NewAppError(apperrors.ErrCodeInvalidConfig, "invalid configuration value").
			WithDetails("key", key).WithDetails("value", v)
	}
	switch {
	case c.Audio.SampleRate <= 0:
		return invalid(constants.ENV_SAMPLE_RATE, c.Audio.SampleRate)
	case c.Audio.Channels <= 0:
		return invalid(constants.ENV_CHANNELS, c.Audio.Channels)
	case c.Audio.FrameMs <= 0 || c.Format().FrameBytes() == 0:
		return invalid(constants.ENV_FRAME_MS, c.Audio.FrameMs)
	case c.Replay.ChunkSize <= 0:
		return invalid(constants.ENV_REPLAY_CHUNK_SIZE, c.Replay.ChunkSize)
	case c.Bridge.AnswerDelay <= 0:
		return invalid(constants.ENV_ANSWER_DELAY, c.Bridge.AnswerDelay)
	case c.Server.MediaPath == "" || c.Server.MediaPath[0] != '/':
		return invalid(constants.ENV_MEDIA_PATH, c.Server.MediaPath)
	}
	return nil
}

// Format is the session audio format
func (c *Config) Format() devices.Format {
	return devices.Format{
		SampleRate: c.Audio.SampleRate,
		Channels:   c.Audio.Channels,
		FrameMs:    c.Audio.FrameMs,
	}
}

// BridgeOptions builds per-session options; call Validate first
func (c *Config) BridgeOptions() bridge.Options {
	mode, _ := bridge.ParseMode(c.Bridge.Mode)
	return bridge.Options{
		Mode:        mode,
		FrameBytes:  c.Format().FrameBytes(),
		AnswerDelay: c.Bridge.AnswerDelay,
		ChunkSize:   c.Replay.ChunkSize,
		LogEvery:    c.Bridge.LogEvery,
	}
}

// DeviceConfig selects the endpoints each session opens
func (c *Config) DeviceConfig() devices.Config {
	mode, _ := bridge.ParseMode(c.Bridge.Mode)
	return devices.Config{
		Format:         c.Format(),
		InputDevice:    c.Audio.InputDevice,
		OutputDevice:   c.Audio.OutputDevice,
		ReplayFile:     c.Replay.File,
		ReplayPlayback: c.Replay.Playback,
		Mode:           mode,
	}
}

// ConnOptions configures the websocket adapter
func (c *Config) ConnOptions() wsconn.Options {
	return wsconn.Options{
		WriteTimeout: c.Server.WriteTimeout,
		PingInterval: c.Server.PingInterval,
	}
}
