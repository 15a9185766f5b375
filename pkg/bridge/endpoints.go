// Package bridge is the per-connection session protocol engine: it moves
// binary audio between a local audio endpoint and a peer connection in both
// directions, interprets the text control protocol and tears everything down
// when either direction ends.
package bridge

import (
	"context"
	"time"

	apperrors "github.com/LingByte/LingMediaBridge/pkg/errors"
	"github.com/LingByte/LingMediaBridge/pkg/protocol"
)

// Conn is one bidirectional message channel to the peer. Send must be safe
// for concurrent use. Receive returns ErrPeerDisconnected once the peer has
// closed the connection, and ctx.Err() when ctx is done first.
type Conn interface {
	Send(ctx context.Context, msg protocol.Message) error
	Receive(ctx context.Context) (protocol.Message, error)
	RemoteAddr() string
	Close() error
}

// CaptureSource yields audio frames. Read blocks for at most one frame; an
// empty result means "nothing yet". Close must unblock a pending Read.
type CaptureSource interface {
	Read(frameSize int) ([]byte, error)
	Close() error
}

// PlaybackSink consumes audio frames. Close must unblock a pending Write.
type PlaybackSink interface {
	Write(frame []byte) error
	Close() error
}

// ChunkSource is a finite ordered byte source. An empty result with a nil
// error signals exhaustion.
type ChunkSource interface {
	Read(chunkSize int) ([]byte, error)
	Close() error
}

// Endpoints opens the per-session audio endpoints. Every endpoint returned
// is owned by exactly one session.
type Endpoints interface {
	OpenCapture() (CaptureSource, error)
	OpenPlayback() (PlaybackSink, error)
	OpenReplay() (ChunkSource, error)
}

// Mode selects the outbound role of a session
type Mode string

const (
	// ModeLive forwards a capture device to the peer
	ModeLive Mode = "live"
	// ModeBuffered replays a finite source under XON/XOFF flow control
	ModeBuffered Mode = "buffered"
)

// ParseMode accepts "live" and "buffered"
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLive, ModeBuffered:
		return Mode(s), nil
	}
	return "", apperrors.NewAppErrorf(apperrors.ErrCodeInvalidConfig, "unknown bridge mode %q", s)
}

const (
	DefaultFrameBytes  = 640 // 20ms of 16kHz mono S16_LE
	DefaultAnswerDelay = 3 * time.Second
	DefaultChunkSize   = 64000
	DefaultLogEvery    = 500
)

// Options configures one session
type Options struct {
	Mode        Mode
	FrameBytes  int           // capture read size in live mode
	AnswerDelay time.Duration // MEDIA_START -> ANSWER delay
	ChunkSize   int           // replay message size in buffered mode
	LogEvery    int           // debug log every N frames per direction, 0 disables
}

// DefaultOptions returns the live-mode defaults
func DefaultOptions() Options {
	return Options{
		Mode:        ModeLive,
		FrameBytes:  DefaultFrameBytes,
		AnswerDelay: DefaultAnswerDelay,
		ChunkSize:   DefaultChunkSize,
		LogEvery:    DefaultLogEvery,
	}
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = ModeLive
	}
	if o.FrameBytes <= 0 {
		o.FrameBytes = DefaultFrameBytes
	}
	if o.AnswerDelay <= 0 {
		o.AnswerDelay = DefaultAnswerDelay
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.LogEvery < 0 {
		o.LogEvery = 0
	}
	return o
}
