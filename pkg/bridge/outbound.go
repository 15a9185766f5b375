package bridge

import (
	"context"
	"errors"

	"github.com/LingByte/LingMediaBridge/pkg/metrics"
	"github.com/LingByte/LingMediaBridge/pkg/protocol"
	"go.uber.org/zap"
)

// OutboundForwarder drains the peer connection: audio goes to the playback
// sink, text goes to the control processor.
type OutboundForwarder struct {
	conn     Conn
	sink     PlaybackSink
	control  *ControlProcessor
	answer   *DelayedSignal
	logEvery int
	log      *zap.Logger
	metrics  *metrics.Collector
}

func NewOutboundForwarder(conn Conn, sink PlaybackSink, control *ControlProcessor, answer *DelayedSignal, opts Options, log *zap.Logger, m *metrics.Collector) *OutboundForwarder {
	opts = opts.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &OutboundForwarder{
		conn:     conn,
		sink:     sink,
		control:  control,
		answer:   answer,
		logEvery: opts.LogEvery,
		log:      log,
		metrics:  m,
	}
}

// Run returns nil when the peer closed the connection. Whatever the exit
// path, a still-pending answer is canceled before Run returns.
func (f *OutboundForwarder) Run(ctx context.Context) error {
	defer func() {
		if f.answer != nil {
			f.answer.Cancel()
		}
	}()

	f.log.Info("peer -> playback started")
	frames := 0
	for {
		msg, err := f.conn.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrPeerDisconnected) {
				f.log.Info("peer disconnected (peer -> playback)", zap.Int("frames", frames))
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		switch msg.Kind {
		case protocol.KindBinary:
			data := msg.Data
			if _, err := offload(ctx, func() (struct{}, error) {
				return struct{}{}, f.sink.Write(data)
			}); err != nil {
				if IsCanceled(err) {
					return err
				}
				f.log.Error("playback write failed", zap.Error(err))
				return ErrDeviceError.WithCause(err)
			}
			frames++
			f.metrics.Frame(metrics.DirectionFromPeer, len(data))
			if f.logEvery > 0 && frames%f.logEvery == 0 {
				f.log.Debug("peer -> playback", zap.Int("frames", frames))
			}
		case protocol.KindText:
			f.log.Debug("control message received", zap.String("text", msg.Text))
			f.control.Handle(msg.Text)
		default:
			f.log.Warn("unknown message shape, ignored",
				zap.String("code", string(ErrProtocolViolation.Code)),
				zap.Stringer("message", msg))
		}
	}
}
