package bridge

import (
	"sync"
	"time"

	"github.com/LingByte/LingMediaBridge/pkg/protocol"
	"go.uber.org/zap"
)

// SignalState is the lifecycle of a DelayedSignal
type SignalState int

const (
	SignalNone SignalState = iota
	SignalPending
	SignalFired
	SignalCanceled
)

func (s SignalState) String() string {
	switch s {
	case SignalPending:
		return "pending"
	case SignalFired:
		return "fired"
	case SignalCanceled:
		return "canceled"
	default:
		return "none"
	}
}

// DelayedSignal emits one control signal a fixed delay after it is
// scheduled. It can be scheduled at most once; later Schedule calls are
// suppressed, so a session emits the signal at most once.
type DelayedSignal struct {
	mu          sync.Mutex
	state       SignalState
	timer       *time.Timer
	scheduledAt time.Time
	firing      sync.WaitGroup

	delay  time.Duration
	signal protocol.Signal
	emit   func(protocol.Signal) error
	log    *zap.Logger
}

// NewDelayedSignal prepares an unscheduled handle. emit is called from the
// timer goroutine and must be safe to call concurrently with other senders.
func NewDelayedSignal(delay time.Duration, signal protocol.Signal, emit func(protocol.Signal) error, log *zap.Logger) *DelayedSignal {
	if log == nil {
		log = zap.NewNop()
	}
	return &DelayedSignal{
		delay:  delay,
		signal: signal,
		emit:   emit,
		log:    log,
	}
}

// State returns the current state
func (d *DelayedSignal) State() SignalState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Schedule starts the timer. It returns ErrSchedulingRace, which callers
// treat as a no-op, when the signal was already scheduled in this session.
func (d *DelayedSignal) Schedule() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != SignalNone {
		return ErrSchedulingRace.WithDetails("state", d.state.String())
	}
	d.state = SignalPending
	d.scheduledAt = time.Now()
	d.firing.Add(1)
	d.timer = time.AfterFunc(d.delay, d.fire)
	return nil
}

func (d *DelayedSignal) fire() {
	defer d.firing.Done()

	d.mu.Lock()
	if d.state != SignalPending {
		d.mu.Unlock()
		return
	}
	d.state = SignalFired
	late := time.Since(d.scheduledAt) - d.delay
	d.mu.Unlock()

	if err := d.emit(d.signal); err != nil {
		// Connection already gone: same outcome as a canceled timer.
		d.log.Info("delayed signal not delivered",
			zap.Stringer("signal", d.signal), zap.Error(err))
		return
	}
	d.log.Info("delayed signal sent",
		zap.Stringer("signal", d.signal),
		zap.Duration("delay", d.delay),
		zap.Duration("late", late))
}

// Cancel stops a pending timer. It is idempotent, never fails, and waits
// for an emission already in flight, so nothing is sent after it returns.
// It reports whether a pending emission was prevented.
func (d *DelayedSignal) Cancel() bool {
	d.mu.Lock()
	canceled := false
	if d.state == SignalPending {
		d.state = SignalCanceled
		canceled = true
		if d.timer.Stop() {
			d.firing.Done()
		}
	}
	d.mu.Unlock()

	d.firing.Wait()
	if canceled {
		d.log.Debug("delayed signal canceled", zap.Stringer("signal", d.signal))
	}
	return canceled
}
