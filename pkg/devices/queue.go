package devices

import (
	"errors"
	"sync"
)

var errQueueClosed = errors.New("audio queue closed")

// pcmQueue is the byte FIFO between a device callback and the session. The
// callback side never blocks; the session side blocks until data or space
// is available, or until close.
type pcmQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	limit   int
	closed  bool
	dropped int
}

func newPCMQueue(limit int) *pcmQueue {
	q := &pcmQueue{limit: limit}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends p, discarding the oldest bytes beyond limit. Used by the
// capture callback, which must not stall the audio thread.
func (q *pcmQueue) push(p []byte) {
	if len(p) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.buf = append(q.buf, p...)
	if over := len(q.buf) - q.limit; over > 0 {
		q.buf = q.buf[over:]
		q.dropped += over
	}
	q.cond.Broadcast()
}

// pushWait appends p once there is room for it. A payload larger than limit
// waits for an empty queue.
func (q *pcmQueue) pushWait(p []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && len(q.buf) > 0 && len(q.buf)+len(p) > q.limit {
		q.cond.Wait()
	}
	if q.closed {
		return errQueueClosed
	}
	q.buf = append(q.buf, p...)
	q.cond.Broadcast()
	return nil
}

// readFull blocks until n bytes are queued and returns them
func (q *pcmQueue) readFull(n int) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && len(q.buf) < n {
		q.cond.Wait()
	}
	if q.closed {
		return nil, errQueueClosed
	}
	out := make([]byte, n)
	copy(out, q.buf)
	q.buf = q.buf[n:]
	q.cond.Broadcast()
	return out, nil
}

// drain fills dst from the queue without blocking and zero-fills the rest.
// It returns how many bytes were real audio.
func (q *pcmQueue) drain(dst []byte) int {
	q.mu.Lock()
	n := copy(dst, q.buf)
	q.buf = q.buf[n:]
	if n > 0 {
		q.cond.Broadcast()
	}
	q.mu.Unlock()
	clear(dst[n:])
	return n
}

func (q *pcmQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// takeDropped returns and resets the overflow counter
func (q *pcmQueue) takeDropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	d := q.dropped
	q.dropped = 0
	return d
}

func (q *pcmQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.buf = nil
	q.cond.Broadcast()
	q.mu.Unlock()
}
