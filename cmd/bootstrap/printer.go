package bootstrap

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/LingByte/LingMediaBridge/pkg/bridge"
	"github.com/LingByte/LingMediaBridge/pkg/config"
	"github.com/LingByte/LingMediaBridge/pkg/devices"
	"github.com/LingByte/LingMediaBridge/pkg/logger"
	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

// LogConfigInfo Print global configuration information
func LogConfigInfo() {
	cfg := config.GlobalConfig
	logger.Info("system config load finished")

	logger.Info("server config",
		zap.String("addr", cfg.Server.Addr),
		zap.String("media_path", cfg.Server.MediaPath),
		zap.Duration("write_timeout", cfg.Server.WriteTimeout),
		zap.Duration("ping_interval", cfg.Server.PingInterval),
		zap.Bool("metrics", cfg.Server.MetricsEnabled),
	)

	format := cfg.Format()
	logger.Info("audio config",
		zap.String("bridge_mode", cfg.Bridge.Mode),
		zap.Int("sample_rate", format.SampleRate),
		zap.Int("channels", format.Channels),
		zap.String("sample_format", "S16_LE"),
		zap.Int("period_frames", format.PeriodFrames()),
		zap.Int("frame_bytes", format.FrameBytes()),
		zap.String("input_device", cfg.Audio.InputDevice),
		zap.String("output_device", cfg.Audio.OutputDevice),
		zap.Duration("answer_delay", cfg.Bridge.AnswerDelay),
	)

	if cfg.Bridge.Mode == string(bridge.ModeBuffered) {
		logger.Info("replay config",
			zap.String("file", cfg.Replay.File),
			zap.Int("chunk_size", cfg.Replay.ChunkSize),
			zap.Bool("playback", cfg.Replay.Playback),
		)
	}

	logger.Info("log config",
		zap.String("log_level", cfg.Log.Level),
		zap.String("log_filename", cfg.Log.Filename),
		zap.Int("log_max_size", cfg.Log.MaxSize),
		zap.Int("log_max_age", cfg.Log.MaxAge),
		zap.Int("log_max_backups", cfg.Log.MaxBackups),
	)
}

// LogAudioDevices lists what the audio backend can see. Failures are only
// logged: the bridge can still run buffered without devices.
func LogAudioDevices() {
	for _, kind := range []malgo.DeviceType{malgo.Capture, malgo.Playback} {
		found, err := devices.List(kind)
		if err != nil {
			logger.Warn("audio device enumeration failed", zap.Error(err))
			return
		}
		for _, d := range found {
			logger.Info("audio device",
				zap.String("kind", deviceKind(kind)),
				zap.String("name", d.Name),
				zap.Bool("default", d.IsDefault))
		}
	}
}

func deviceKind(kind malgo.DeviceType) string {
	if kind == malgo.Capture {
		return "capture"
	}
	return "playback"
}

// EnsureBannerFile writes defaultText to filename when it does not exist
func EnsureBannerFile(filename string, defaultText string) error {
	if _, err := os.Stat(filename); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(filename, []byte(defaultText+"\n"), 0o644)
}

// PrintBannerFromFile Read file and print, auto-generate if file doesn't exist
func PrintBannerFromFile(filename string, defaultText string) error {
	// Ensure banner file exists, generate if it doesn't
	if err := EnsureBannerFile(filename, defaultText); err != nil {
		return fmt.Errorf("failed to ensure banner file: %w", err)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	lines := strings.Split(string(data), "\n")

	colors := []string{
		"\x1b[38;5;39m",
		"\x1b[38;5;45m",
		"\x1b[38;5;51m",
		"\x1b[38;5;87m",
		"\x1b[38;5;123m",
		"\x1b[38;5;159m",
	}

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		color := colors[i%len(colors)]
		fmt.Println(color + line + "\x1b[0m")
	}
	return nil
}
