// Package devices binds the bridge to local audio hardware through malgo and
// to the replay file in buffered mode.
package devices

import (
	"github.com/LingByte/LingMediaBridge/pkg/bridge"
	"github.com/LingByte/LingMediaBridge/pkg/replay"
	"go.uber.org/zap"
)

const bytesPerSample = 2 // S16LE

// Format is the fixed PCM layout shared by both directions
type Format struct {
	SampleRate int
	Channels   int
	FrameMs    int
}

// PeriodFrames is the number of sample frames in one frame period
func (f Format) PeriodFrames() int {
	return f.SampleRate * f.FrameMs / 1000
}

// FrameBytes is the size of one binary audio message
func (f Format) FrameBytes() int {
	return f.PeriodFrames() * f.Channels * bytesPerSample
}

// Config selects what a session opens
type Config struct {
	Format         Format
	InputDevice    string
	OutputDevice   string
	ReplayFile     string
	ReplayPlayback bool // buffered mode: play inbound audio instead of discarding it
	Mode           bridge.Mode
}

// Endpoints implements bridge.Endpoints on real devices
type Endpoints struct {
	cfg Config
	log *zap.Logger
}

var _ bridge.Endpoints = (*Endpoints)(nil)

func NewEndpoints(cfg Config, log *zap.Logger) *Endpoints {
	if log == nil {
		log = zap.NewNop()
	}
	return &Endpoints{cfg: cfg, log: log}
}

func (e *Endpoints) OpenCapture() (bridge.CaptureSource, error) {
	c, err := OpenCapture(e.cfg.Format, e.cfg.InputDevice)
	if err != nil {
		return nil, err
	}
	e.log.Info("capture device opened", zap.String("device", deviceLabel(e.cfg.InputDevice)))
	return c, nil
}

// OpenPlayback opens the output device, except in buffered mode without
// replay playback where inbound audio is discarded.
func (e *Endpoints) OpenPlayback() (bridge.PlaybackSink, error) {
	if e.cfg.Mode == bridge.ModeBuffered && !e.cfg.ReplayPlayback {
		return &Discard{}, nil
	}
	p, err := OpenPlayback(e.cfg.Format, e.cfg.OutputDevice)
	if err != nil {
		return nil, err
	}
	e.log.Info("playback device opened", zap.String("device", deviceLabel(e.cfg.OutputDevice)))
	return p, nil
}

func (e *Endpoints) OpenReplay() (bridge.ChunkSource, error) {
	src, err := replay.Open(e.cfg.ReplayFile, replay.Format{
		SampleRate:    e.cfg.Format.SampleRate,
		Channels:      e.cfg.Format.Channels,
		BitsPerSample: 8 * bytesPerSample,
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("replay source opened", zap.String("path", src.Path()), zap.Bool("wav", src.WAV))
	return src, nil
}

func deviceLabel(name string) string {
	if name == "" {
		return "default"
	}
	return name
}
