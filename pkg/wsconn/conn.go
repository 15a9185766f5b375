// Package wsconn adapts gorilla/websocket connections to bridge.Conn.
package wsconn

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/LingByte/LingMediaBridge/pkg/bridge"
	apperrors "github.com/LingByte/LingMediaBridge/pkg/errors"
	"github.com/LingByte/LingMediaBridge/pkg/protocol"
	"github.com/gorilla/websocket"
)

const closeGrace = time.Second

var ErrWriteTimeout = apperrors.NewAppError(apperrors.ErrCodeConnectionTimeout, "websocket write timed out")

// Options tune one connection
type Options struct {
	WriteTimeout time.Duration // per-message write deadline, 0 for none
	PingInterval time.Duration // keepalive; 0 disables pings and read deadlines
}

// Conn is a bridge.Conn over one websocket. Reads happen on a dedicated
// goroutine so that Receive can honor its context; writes are serialized.
type Conn struct {
	ws   *websocket.Conn
	opts Options

	writeMu sync.Mutex

	incoming chan protocol.Message
	readDone chan struct{}
	readErr  error

	closed    chan struct{}
	closeOnce sync.Once
}

var _ bridge.Conn = (*Conn)(nil)

// New takes ownership of ws and starts its reader
func New(ws *websocket.Conn, opts Options) *Conn {
	c := &Conn{
		ws:       ws,
		opts:     opts,
		incoming: make(chan protocol.Message),
		readDone: make(chan struct{}),
		closed:   make(chan struct{}),
	}
	if opts.PingInterval > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(2 * opts.PingInterval))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(2 * opts.PingInterval))
		})
		go c.keepalive()
	}
	go c.readLoop()
	return c
}

// Dial opens a client connection; used by tools and tests
func Dial(ctx context.Context, url string, opts Options) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, apperrors.WrapError(apperrors.ErrCodeUpgradeFailed, err)
	}
	return New(ws, opts), nil
}

func (c *Conn) readLoop() {
	defer close(c.readDone)
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			// A failed read leaves the socket unusable, including a missed pong.
			c.readErr = bridge.ErrPeerDisconnected.WithCause(err)
			return
		}
		var msg protocol.Message
		switch mt {
		case websocket.BinaryMessage:
			msg = protocol.Binary(data)
		case websocket.TextMessage:
			msg = protocol.Text(string(data))
		default:
			msg = protocol.Message{Kind: protocol.KindUnknown, Data: data}
		}
		select {
		case c.incoming <- msg:
		case <-c.closed:
			c.readErr = bridge.ErrPeerDisconnected.WithCause(net.ErrClosed)
			return
		}
	}
}

func (c *Conn) keepalive() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-c.readDone:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.PingInterval)); err != nil {
				return
			}
		}
	}
}

// Receive returns the next message. It returns bridge.ErrPeerDisconnected
// once the peer has closed, and ctx.Err() when ctx ends first.
func (c *Conn) Receive(ctx context.Context) (protocol.Message, error) {
	select {
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	case msg := <-c.incoming:
		return msg, nil
	case <-c.readDone:
		return protocol.Message{}, c.readErr
	}
}

// Send writes one message. Text payloads go out as text frames, audio as
// binary frames.
func (c *Conn) Send(ctx context.Context, msg protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var (
		mt      int
		payload []byte
	)
	switch msg.Kind {
	case protocol.KindBinary:
		mt, payload = websocket.BinaryMessage, msg.Data
	case protocol.KindText:
		mt, payload = websocket.TextMessage, []byte(msg.Text)
	default:
		return bridge.ErrProtocolViolation.WithDetails("kind", msg.Kind.String())
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.closed:
		return bridge.ErrPeerDisconnected.WithCause(websocket.ErrCloseSent)
	default:
	}
	if deadline, ok := c.writeDeadline(ctx); ok {
		_ = c.ws.SetWriteDeadline(deadline)
	}
	return classify(c.ws.WriteMessage(mt, payload))
}

func (c *Conn) writeDeadline(ctx context.Context) (time.Time, bool) {
	deadline, ok := ctx.Deadline()
	if c.opts.WriteTimeout > 0 {
		d := time.Now().Add(c.opts.WriteTimeout)
		if !ok || d.Before(deadline) {
			deadline, ok = d, true
		}
	}
	return deadline, ok
}

func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// Close sends a normal close frame and closes the socket. Safe to call more
// than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		if cerr := c.ws.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	})
	return err
}

// classify maps transport errors onto the session taxonomy
func classify(err error) error {
	if err == nil {
		return nil
	}
	var closeErr *websocket.CloseError
	var netErr net.Error
	switch {
	case errors.As(err, &closeErr),
		errors.Is(err, websocket.ErrCloseSent),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNRESET):
		return bridge.ErrPeerDisconnected.WithCause(err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return ErrWriteTimeout.WithCause(err)
	}
	return err
}
