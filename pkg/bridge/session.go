package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	apperrors "github.com/LingByte/LingMediaBridge/pkg/errors"
	"github.com/LingByte/LingMediaBridge/pkg/logger"
	"github.com/LingByte/LingMediaBridge/pkg/metrics"
	"github.com/LingByte/LingMediaBridge/pkg/protocol"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// State is the session lifecycle state
type State string

const (
	StateConnecting State = "connecting"
	StateStreaming  State = "streaming"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

const (
	eventStream = "stream"
	eventClose  = "close"
	eventClosed = "closed"
)

// Task names used in logs and in Result
const (
	TaskSend    = "send"
	TaskReceive = "receive"
)

// Result describes how a session ended
type Result struct {
	FirstTask string        // task that finished first
	Cause     error         // its return value; nil for a clean end
	Duration  time.Duration // accept to release
}

// Session owns one peer connection and its audio endpoints from accept to
// release.
type Session struct {
	ID   string
	Peer string

	opts      Options
	conn      Conn
	endpoints Endpoints
	log       *zap.Logger
	metrics   *metrics.Collector
	machine   *fsm.FSM

	gate   *FlowGate
	answer *DelayedSignal

	capture  CaptureSource
	playback PlaybackSink
	replay   ChunkSource

	releaseOnce sync.Once
	startedAt   time.Time
	result      Result
}

// NewSession prepares a session in the connecting state
func NewSession(conn Conn, endpoints Endpoints, opts Options, m *metrics.Collector) *Session {
	s := &Session{
		ID:        uuid.New().String(),
		Peer:      conn.RemoteAddr(),
		opts:      opts.withDefaults(),
		conn:      conn,
		endpoints: endpoints,
		metrics:   m,
	}
	s.log = logger.Session(s.ID, s.Peer).With(zap.String("mode", string(s.opts.Mode)))
	s.gate = NewFlowGate(m.Gate)
	s.machine = fsm.NewFSM(
		string(StateConnecting),
		fsm.Events{
			{Name: eventStream, Src: []string{string(StateConnecting)}, Dst: string(StateStreaming)},
			{Name: eventClose, Src: []string{string(StateConnecting), string(StateStreaming)}, Dst: string(StateClosing)},
			{Name: eventClosed, Src: []string{string(StateClosing)}, Dst: string(StateClosed)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.log.Debug("session state changed", zap.String("from", e.Src), zap.String("to", e.Dst))
			},
		},
	)
	return s
}

// State returns the lifecycle state
func (s *Session) State() State {
	return State(s.machine.Current())
}

// Result is valid once Run has returned
func (s *Session) Result() Result {
	return s.result
}

// Run drives the session to completion. It returns nil when the session
// ended normally (peer hangup, replay finished), ctx.Err() when the caller
// canceled it, and the first task's error otherwise. Endpoints and the
// connection are released before Run returns, whatever happened.
func (s *Session) Run(ctx context.Context) error {
	s.startedAt = time.Now()
	s.metrics.SessionStarted(string(s.opts.Mode))
	s.log.Info("session accepted")

	defer s.teardown()

	if err := s.acquire(); err != nil {
		s.log.Error("endpoint acquisition failed", zap.Error(err))
		s.metrics.Error(string(apperrors.CodeOf(err)))
		s.result.Cause = err
		return err
	}

	s.transition(eventStream)
	return s.stream(ctx)
}

func (s *Session) acquire() error {
	var err error
	switch s.opts.Mode {
	case ModeBuffered:
		if s.replay, err = s.endpoints.OpenReplay(); err != nil {
			return err
		}
	default:
		if s.capture, err = s.endpoints.OpenCapture(); err != nil {
			return ErrDeviceError.WithCause(err)
		}
	}
	if s.playback, err = s.endpoints.OpenPlayback(); err != nil {
		return ErrDeviceError.WithCause(err)
	}
	return nil
}

func (s *Session) stream(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.answer = NewDelayedSignal(s.opts.AnswerDelay, protocol.SignalAnswer, func(sig protocol.Signal) error {
		if err := s.conn.Send(runCtx, protocol.SignalMessage(sig)); err != nil {
			return err
		}
		s.metrics.Signal(sig.String(), metrics.DirectionToPeer)
		return nil
	}, s.log)
	control := NewControlProcessor(s.gate, s.answer, s.log, s.metrics)
	receive := NewOutboundForwarder(s.conn, s.playback, control, s.answer, s.opts, s.log, s.metrics)

	var send func(context.Context) error
	if s.opts.Mode == ModeBuffered {
		send = NewBufferedSender(s.replay, s.conn, s.gate, s.opts, s.log, s.metrics).Run
	} else {
		send = NewInboundForwarder(s.capture, s.conn, s.opts, s.log, s.metrics).Run
	}

	var first sync.Once
	finish := func(task string, err error) error {
		first.Do(func() {
			s.result.FirstTask = task
			s.result.Cause = err
			cancel()
		})
		switch {
		case err == nil:
			s.log.Info("task finished", zap.String("task", task))
		case IsCanceled(err):
			s.log.Debug("task canceled", zap.String("task", task))
		default:
			s.log.Warn("task failed", zap.String("task", task), zap.Error(err))
		}
		return err
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return finish(TaskSend, send(gctx)) })
	g.Go(func() error { return finish(TaskReceive, receive.Run(gctx)) })
	_ = g.Wait()

	cause := s.result.Cause
	if cause != nil && !IsCanceled(cause) {
		s.metrics.Error(string(apperrors.CodeOf(cause)))
	}
	if IsCanceled(cause) && ctx.Err() == nil {
		// Only the sibling's cancel can produce this; treat as clean.
		cause = nil
	}
	return cause
}

// teardown releases everything exactly once; safe after a partial acquire
func (s *Session) teardown() {
	s.transition(eventClose)
	if s.answer != nil {
		s.answer.Cancel()
	}
	s.release()
	if err := s.conn.Close(); err != nil && !errors.Is(err, ErrPeerDisconnected) {
		s.log.Debug("connection close", zap.Error(err))
	}
	s.result.Duration = time.Since(s.startedAt)
	s.metrics.SessionEnded(s.result.Duration.Seconds())
	s.transition(eventClosed)
	s.log.Info("session closed, endpoints released",
		zap.String("first_task", s.result.FirstTask),
		zap.Duration("duration", s.result.Duration))
}

func (s *Session) release() {
	s.releaseOnce.Do(func() {
		if s.capture != nil {
			if err := s.capture.Close(); err != nil {
				s.log.Warn("capture close failed", zap.Error(err))
			}
		}
		if s.playback != nil {
			if err := s.playback.Close(); err != nil {
				s.log.Warn("playback close failed", zap.Error(err))
			}
		}
		if s.replay != nil {
			if err := s.replay.Close(); err != nil {
				s.log.Warn("replay source close failed", zap.Error(err))
			}
		}
	})
}

func (s *Session) transition(event string) {
	if err := s.machine.Event(context.Background(), event); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			s.log.Warn("session state transition rejected", zap.String("event", event), zap.Error(err))
		}
	}
}
