package bridge

import (
	"context"
	"sync"
)

// FlowGate is the XON/XOFF latch between the control path and the buffered
// sender. It starts open. While open, opened is a closed channel; pausing
// swaps in a fresh one so that waiters park on it without polling.
type FlowGate struct {
	mu       sync.Mutex
	open     bool
	opened   chan struct{}
	onChange func(open bool)
}

// NewFlowGate returns an open gate. onChange, when set, is called after
// every state change, outside the gate lock.
func NewFlowGate(onChange func(open bool)) *FlowGate {
	ch := make(chan struct{})
	close(ch)
	return &FlowGate{open: true, opened: ch, onChange: onChange}
}

// Allowed reports whether sends may proceed
func (g *FlowGate) Allowed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// Pause closes the gate (MEDIA_XOFF). Returns false if it was already closed.
func (g *FlowGate) Pause() bool {
	g.mu.Lock()
	if !g.open {
		g.mu.Unlock()
		return false
	}
	g.open = false
	g.opened = make(chan struct{})
	g.mu.Unlock()
	g.notify(false)
	return true
}

// Resume opens the gate (MEDIA_XON) and releases every waiter. Returns false
// if it was already open.
func (g *FlowGate) Resume() bool {
	g.mu.Lock()
	if g.open {
		g.mu.Unlock()
		return false
	}
	g.open = true
	close(g.opened)
	g.mu.Unlock()
	g.notify(true)
	return true
}

// Wait blocks until the gate is open or ctx is done
func (g *FlowGate) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		g.mu.Lock()
		if g.open {
			g.mu.Unlock()
			return nil
		}
		ch := g.opened
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (g *FlowGate) notify(open bool) {
	if g.onChange != nil {
		g.onChange(open)
	}
}
