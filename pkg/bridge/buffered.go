package bridge

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"

	"github.com/LingByte/LingMediaBridge/pkg/metrics"
	"github.com/LingByte/LingMediaBridge/pkg/protocol"
	"go.uber.org/zap"
)

// SenderState is the buffered sender's position in its loop
type SenderState int32

const (
	SenderIdle SenderState = iota
	SenderAwaitGate
	SenderReadChunk
	SenderSend
	SenderSendStopBracket
	SenderDone
)

func (s SenderState) String() string {
	switch s {
	case SenderAwaitGate:
		return "AWAIT_GATE"
	case SenderReadChunk:
		return "READ_CHUNK"
	case SenderSend:
		return "SEND"
	case SenderSendStopBracket:
		return "SEND_STOP_BRACKET"
	case SenderDone:
		return "DONE"
	default:
		return "IDLE"
	}
}

// BufferedSender replays a finite source to the peer in fixed-size chunks,
// honoring the flow gate, between START_MEDIA_BUFFERING and
// STOP_MEDIA_BUFFERING.
type BufferedSender struct {
	src       ChunkSource
	conn      Conn
	gate      *FlowGate
	chunkSize int
	state     atomic.Int32
	log       *zap.Logger
	metrics   *metrics.Collector
}

func NewBufferedSender(src ChunkSource, conn Conn, gate *FlowGate, opts Options, log *zap.Logger, m *metrics.Collector) *BufferedSender {
	opts = opts.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &BufferedSender{
		src:       src,
		conn:      conn,
		gate:      gate,
		chunkSize: opts.ChunkSize,
		log:       log,
		metrics:   m,
	}
}

// State returns the current loop state
func (b *BufferedSender) State() SenderState {
	return SenderState(b.state.Load())
}

func (b *BufferedSender) setState(s SenderState) {
	b.state.Store(int32(s))
}

// Run returns nil after the closing bracket was sent or the peer went away,
// ctx.Err() when canceled, and the source or transport error otherwise.
func (b *BufferedSender) Run(ctx context.Context) error {
	defer b.setState(SenderDone)

	b.log.Info("buffered replay started", zap.Int("chunk_size", b.chunkSize))
	if err := b.sendSignal(ctx, protocol.SignalStartMediaBuffering); err != nil {
		return b.stopped(ctx, err, 0)
	}

	chunks := 0
	for {
		b.setState(SenderAwaitGate)
		if err := b.gate.Wait(ctx); err != nil {
			return err
		}

		b.setState(SenderReadChunk)
		chunk, err := offload(ctx, func() ([]byte, error) {
			return b.src.Read(b.chunkSize)
		})
		if err != nil {
			if IsCanceled(err) {
				return err
			}
			b.log.Error("replay source read failed", zap.Error(err))
			return err
		}
		if len(chunk) == 0 {
			break
		}

		// XOFF may have arrived while the read was in flight. Hold the chunk
		// until the gate opens again.
		if !b.gate.Allowed() {
			b.setState(SenderAwaitGate)
			if err := b.gate.Wait(ctx); err != nil {
				return err
			}
		}

		b.setState(SenderSend)
		if err := b.conn.Send(ctx, protocol.Binary(chunk)); err != nil {
			return b.stopped(ctx, err, chunks)
		}
		chunks++
		b.metrics.Frame(metrics.DirectionToPeer, len(chunk))

		// Let the receive side run between chunks so XOFF is seen promptly.
		runtime.Gosched()
	}

	b.setState(SenderSendStopBracket)
	b.log.Info("buffered replay finished", zap.Int("chunks", chunks))
	if err := b.sendSignal(ctx, protocol.SignalStopMediaBuffering); err != nil {
		return b.stopped(ctx, err, chunks)
	}
	return nil
}

func (b *BufferedSender) sendSignal(ctx context.Context, s protocol.Signal) error {
	if err := b.conn.Send(ctx, protocol.SignalMessage(s)); err != nil {
		return err
	}
	b.metrics.Signal(s.String(), metrics.DirectionToPeer)
	b.log.Info("control signal sent", zap.Stringer("signal", s))
	return nil
}

func (b *BufferedSender) stopped(ctx context.Context, err error, chunks int) error {
	if errors.Is(err, ErrPeerDisconnected) {
		b.log.Info("peer disconnected during replay", zap.Int("chunks", chunks))
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	b.log.Error("replay send failed", zap.Error(err), zap.Int("chunks", chunks))
	return err
}
