package bridge

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LingByte/LingMediaBridge/pkg/protocol"
)

var errFakeDevice = errors.New("fake device failure")

// fakeConn is an in-memory Conn. The test plays the peer: push() delivers
// messages to the engine, hangup() simulates the peer closing.
type fakeConn struct {
	inbox chan protocol.Message

	mu     sync.Mutex
	sent   []protocol.Message
	sentAt []time.Time
	onSend func(protocol.Message)

	gone     chan struct{}
	goneOnce sync.Once
	closes   atomic.Int32

	// acceptLate keeps recording sends after hangup or cancellation, so a
	// test can prove nothing was attempted.
	acceptLate bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbox: make(chan protocol.Message, 1024),
		gone:  make(chan struct{}),
	}
}

func (c *fakeConn) push(msgs ...protocol.Message) {
	for _, m := range msgs {
		c.inbox <- m
	}
}

func (c *fakeConn) hangup() {
	c.goneOnce.Do(func() { close(c.gone) })
}

func (c *fakeConn) setOnSend(fn func(protocol.Message)) {
	c.mu.Lock()
	c.onSend = fn
	c.mu.Unlock()
}

func (c *fakeConn) Send(ctx context.Context, msg protocol.Message) error {
	if !c.acceptLate {
		select {
		case <-c.gone:
			return ErrPeerDisconnected
		default:
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.sentAt = append(c.sentAt, time.Now())
	hook := c.onSend
	c.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) (protocol.Message, error) {
	select {
	case m := <-c.inbox:
		return m, nil
	default:
	}
	select {
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	case <-c.gone:
		return protocol.Message{}, ErrPeerDisconnected
	case m := <-c.inbox:
		return m, nil
	}
}

func (c *fakeConn) RemoteAddr() string { return "127.0.0.1:40000" }

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	c.hangup()
	return nil
}

func (c *fakeConn) messages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) texts() []string {
	var out []string
	for _, m := range c.messages() {
		if m.Kind == protocol.KindText {
			out = append(out, m.Text)
		}
	}
	return out
}

func (c *fakeConn) countText(text string) int {
	n := 0
	for _, t := range c.texts() {
		if t == text {
			n++
		}
	}
	return n
}

func (c *fakeConn) binaries() [][]byte {
	var out [][]byte
	for _, m := range c.messages() {
		if m.Kind == protocol.KindBinary {
			out = append(out, m.Data)
		}
	}
	return out
}

func (c *fakeConn) firstSentAt(text string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, m := range c.sent {
		if m.Kind == protocol.KindText && m.Text == text {
			return c.sentAt[i]
		}
	}
	return time.Time{}
}

// fakeCapture yields whatever is fed into frames; a closed frames channel
// turns into a device error.
type fakeCapture struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{frames: make(chan []byte, 64), closed: make(chan struct{})}
}

func (f *fakeCapture) Read(int) ([]byte, error) {
	select {
	case frame, ok := <-f.frames:
		if !ok {
			return nil, errFakeDevice
		}
		return frame, nil
	case <-f.closed:
		return nil, errors.New("capture closed")
	}
}

func (f *fakeCapture) Close() error {
	f.closes.Add(1)
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

type fakeSink struct {
	mu       sync.Mutex
	frames   [][]byte
	writeErr error
	closes   atomic.Int32
}

func (f *fakeSink) Write(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.frames = append(f.frames, append([]byte(nil), frame...))
	return nil
}

func (f *fakeSink) Close() error {
	f.closes.Add(1)
	return nil
}

func (f *fakeSink) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

type fakeChunks struct {
	mu      sync.Mutex
	r       *bytes.Reader
	readErr error
	reads   int
	closes  atomic.Int32
}

func newFakeChunks(data []byte) *fakeChunks {
	return &fakeChunks{r: bytes.NewReader(data)}
}

func (f *fakeChunks) Read(chunkSize int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return nil, f.readErr
	}
	buf := make([]byte, chunkSize)
	n, _ := f.r.Read(buf)
	return buf[:n], nil
}

func (f *fakeChunks) Close() error {
	f.closes.Add(1)
	return nil
}

type fakeEndpoints struct {
	capture  *fakeCapture
	playback *fakeSink
	replay   *fakeChunks

	captureErr  error
	playbackErr error
	replayErr   error
}

func (e *fakeEndpoints) OpenCapture() (CaptureSource, error) {
	if e.captureErr != nil {
		return nil, e.captureErr
	}
	return e.capture, nil
}

func (e *fakeEndpoints) OpenPlayback() (PlaybackSink, error) {
	if e.playbackErr != nil {
		return nil, e.playbackErr
	}
	return e.playback, nil
}

func (e *fakeEndpoints) OpenReplay() (ChunkSource, error) {
	if e.replayErr != nil {
		return nil, e.replayErr
	}
	return e.replay, nil
}

func testPattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}
