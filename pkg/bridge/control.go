package bridge

import (
	"errors"

	"github.com/LingByte/LingMediaBridge/pkg/metrics"
	"github.com/LingByte/LingMediaBridge/pkg/protocol"
	"go.uber.org/zap"
)

// ControlProcessor applies peer control signals to the session state. It
// never sends; it only flips the flow gate and schedules the answer.
type ControlProcessor struct {
	gate    *FlowGate
	answer  *DelayedSignal
	log     *zap.Logger
	metrics *metrics.Collector
}

func NewControlProcessor(gate *FlowGate, answer *DelayedSignal, log *zap.Logger, m *metrics.Collector) *ControlProcessor {
	if log == nil {
		log = zap.NewNop()
	}
	return &ControlProcessor{gate: gate, answer: answer, log: log, metrics: m}
}

// Handle dispatches one text payload and returns how it was classified
func (p *ControlProcessor) Handle(text string) protocol.ControlSignal {
	sig := protocol.ParseControl(text)
	if sig.Known() {
		p.metrics.Signal(sig.Signal.String(), metrics.DirectionFromPeer)
	}

	switch sig.Signal {
	case protocol.SignalMediaStart:
		err := p.answer.Schedule()
		switch {
		case err == nil:
			p.log.Info("media start, answer scheduled",
				zap.String("params", sig.Params()),
				zap.Duration("delay", p.answer.delay))
		case errors.Is(err, ErrSchedulingRace):
			p.log.Debug("media start repeated, answer already scheduled", zap.String("params", sig.Params()))
		}
	case protocol.SignalMediaXOFF:
		if p.gate.Pause() {
			p.log.Info("flow control: pause")
		}
	case protocol.SignalMediaXON:
		if p.gate.Resume() {
			p.log.Info("flow control: resume")
		}
	case protocol.SignalUnknown:
		p.log.Warn("unrecognized control message",
			zap.String("code", string(ErrProtocolViolation.Code)),
			zap.String("text", sig.Raw))
	default:
		// ANSWER and the buffering brackets only flow engine -> peer.
		p.log.Warn("unexpected control signal from peer",
			zap.String("code", string(ErrProtocolViolation.Code)),
			zap.Stringer("signal", sig.Signal))
	}
	return sig
}
