package bridge

import (
	"context"
	"errors"

	"github.com/LingByte/LingMediaBridge/pkg/metrics"
	"github.com/LingByte/LingMediaBridge/pkg/protocol"
	"go.uber.org/zap"
)

// overflowCounter is implemented by capture sources that discard audio
// when the forwarder falls behind.
type overflowCounter interface {
	Dropped() int
}

// InboundForwarder pumps capture frames to the peer at the capture
// source's own pace.
type InboundForwarder struct {
	src        CaptureSource
	conn       Conn
	frameBytes int
	logEvery   int
	log        *zap.Logger
	metrics    *metrics.Collector
}

func NewInboundForwarder(src CaptureSource, conn Conn, opts Options, log *zap.Logger, m *metrics.Collector) *InboundForwarder {
	opts = opts.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &InboundForwarder{
		src:        src,
		conn:       conn,
		frameBytes: opts.FrameBytes,
		logEvery:   opts.LogEvery,
		log:        log,
		metrics:    m,
	}
}

// Run returns nil when the peer went away, ctx.Err() when canceled and a
// DEVICE_ERROR when the capture source fails.
func (f *InboundForwarder) Run(ctx context.Context) error {
	f.log.Info("capture -> peer started", zap.Int("frame_bytes", f.frameBytes))
	frames := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := offload(ctx, func() ([]byte, error) {
			return f.src.Read(f.frameBytes)
		})
		if err != nil {
			if IsCanceled(err) {
				return err
			}
			f.log.Error("capture read failed", zap.Error(err))
			return ErrDeviceError.WithCause(err)
		}
		if len(frame) == 0 {
			continue
		}

		if err := f.conn.Send(ctx, protocol.Binary(frame)); err != nil {
			if errors.Is(err, ErrPeerDisconnected) {
				f.log.Info("peer disconnected (capture -> peer)", zap.Int("frames", frames))
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		frames++
		f.metrics.Frame(metrics.DirectionToPeer, len(frame))
		if f.logEvery > 0 && frames%f.logEvery == 0 {
			f.logProgress(frames)
		}
	}
}

func (f *InboundForwarder) logProgress(frames int) {
	fields := []zap.Field{zap.Int("frames", frames)}
	if oc, ok := f.src.(overflowCounter); ok {
		if dropped := oc.Dropped(); dropped > 0 {
			fields = append(fields, zap.Int("dropped_bytes", dropped))
			f.log.Warn("capture overflow, audio dropped", fields...)
			return
		}
	}
	f.log.Debug("capture -> peer", fields...)
}
