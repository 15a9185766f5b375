package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LingByte/LingMediaBridge/pkg/bridge"
	"github.com/LingByte/LingMediaBridge/pkg/metrics"
	"github.com/LingByte/LingMediaBridge/pkg/protocol"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const answerDelay = 80 * time.Millisecond

type stubCapture struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
	closes atomic.Int32
}

func (c *stubCapture) Read(int) ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, errors.New("closed")
	}
}

func (c *stubCapture) Close() error {
	c.closes.Add(1)
	c.once.Do(func() { close(c.closed) })
	return nil
}

type stubSink struct {
	mu     sync.Mutex
	frames [][]byte
	closes atomic.Int32
}

func (s *stubSink) Write(b []byte) error {
	s.mu.Lock()
	s.frames = append(s.frames, append([]byte(nil), b...))
	s.mu.Unlock()
	return nil
}

func (s *stubSink) Close() error {
	s.closes.Add(1)
	return nil
}

func (s *stubSink) written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

// stubReplay blocks its first Read until release is closed
type stubReplay struct {
	r       *bytes.Reader
	release chan struct{}
	first   sync.Once
	closes  atomic.Int32
}

func (s *stubReplay) Read(n int) ([]byte, error) {
	s.first.Do(func() { <-s.release })
	buf := make([]byte, n)
	k, _ := s.r.Read(buf)
	return buf[:k], nil
}

func (s *stubReplay) Close() error {
	s.closes.Add(1)
	return nil
}

type stubEndpoints struct {
	capture  *stubCapture
	playback *stubSink
	replay   *stubReplay
}

func (e *stubEndpoints) OpenCapture() (bridge.CaptureSource, error) { return e.capture, nil }
func (e *stubEndpoints) OpenPlayback() (bridge.PlaybackSink, error) { return e.playback, nil }
func (e *stubEndpoints) OpenReplay() (bridge.ChunkSource, error) { return e.replay, nil }

type peerMsg struct {
	mt   int
	data []byte
}

// testPeer is the media-server side of the connection
type testPeer struct {
	ws   *websocket.Conn
	msgs chan peerMsg
}

func dialPeer(t *testing.T, url string) *testPeer {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http")+"/", nil)
	require.NoError(t, err)
	p := &testPeer{ws: ws, msgs: make(chan peerMsg, 256)}
	go func() {
		defer close(p.msgs)
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			p.msgs <- peerMsg{mt, data}
		}
	}()
	t.Cleanup(func() { ws.Close() })
	return p
}

func (p *testPeer) text(t *testing.T, s string) {
	t.Helper()
	require.NoError(t, p.ws.WriteMessage(websocket.TextMessage, []byte(s)))
}

func (p *testPeer) binary(t *testing.T, b []byte) {
	t.Helper()
	require.NoError(t, p.ws.WriteMessage(websocket.BinaryMessage, b))
}

func (p *testPeer) next(t *testing.T, timeout time.Duration) (peerMsg, bool) {
	t.Helper()
	select {
	case m, ok := <-p.msgs:
		return m, ok
	case <-time.After(timeout):
		return peerMsg{}, false
	}
}

func newTestServer(t *testing.T, mode bridge.Mode, ep bridge.Endpoints) (*Server, *httptest.Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	srv := New(Options{
		MediaPath: "/",
		Bridge:    bridge.Options{Mode: mode, AnswerDelay: answerDelay, ChunkSize: 1000},
		Metrics:   metrics.New(reg),
		Gatherer:  reg,
	}, ep)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		ts.Close()
	})
	return srv, ts, reg
}

func TestLiveSessionEndToEnd(t *testing.T) {
	ep := &stubEndpoints{
		capture:  &stubCapture{frames: make(chan []byte, 8), closed: make(chan struct{})},
		playback: &stubSink{},
	}
	srv, ts, reg := newTestServer(t, bridge.ModeLive, ep)
	peer := dialPeer(t, ts.URL)
	require.Eventually(t, func() bool { return srv.Registry().Len() == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	peer.text(t, "MEDIA_START;callid=1")
	var sent [][]byte
	for i := 0; i < 10; i++ {
		frame := make([]byte, 640)
		frame[0], frame[320] = byte(i), byte(255-i)
		sent = append(sent, frame)
		peer.binary(t, frame)
	}
	captured := bytes.Repeat([]byte{0x42}, 640)
	ep.capture.frames <- captured

	var answers int
	var gotAudio [][]byte
	deadline := time.Now().Add(3 * answerDelay)
	for time.Now().Before(deadline) {
		m, ok := peer.next(t, 10*time.Millisecond)
		if !ok {
			continue
		}
		switch m.mt {
		case websocket.TextMessage:
			assert.Equal(t, protocol.Answer, string(m.data))
			assert.GreaterOrEqual(t, time.Since(start), answerDelay)
			answers++
		case websocket.BinaryMessage:
			gotAudio = append(gotAudio, m.data)
		}
	}
	assert.Equal(t, 1, answers)
	assert.Equal(t, [][]byte{captured}, gotAudio)

	require.Eventually(t, func() bool { return len(ep.playback.written()) == 10 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, sent, ep.playback.written())

	require.NoError(t, peer.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return srv.Registry().Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), ep.capture.closes.Load())
	assert.Equal(t, int32(1), ep.playback.closes.Load())

	assert.Equal(t, 1.0, testutil.ToFloat64(srv.opts.Metrics.SessionsTotal.WithLabelValues("live")))
	assert.Equal(t, 10.0, testutil.ToFloat64(srv.opts.Metrics.FramesTotal.WithLabelValues(metrics.DirectionFromPeer)))
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.opts.Metrics.SignalsTotal.WithLabelValues(protocol.Answer, metrics.DirectionToPeer)))
	assert.Zero(t, testutil.ToFloat64(srv.opts.Metrics.SessionsActive))

	n, err := testutil.GatherAndCount(reg, "mediabridge_sessions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBufferedSessionFlowControl(t *testing.T) {
	data := make([]byte, 3500)
	for i := range data {
		data[i] = byte(i % 253)
	}
	ep := &stubEndpoints{
		playback: &stubSink{},
		replay:   &stubReplay{r: bytes.NewReader(data), release: make(chan struct{})},
	}
	srv, ts, _ := newTestServer(t, bridge.ModeBuffered, ep)
	peer := dialPeer(t, ts.URL)

	m, ok := peer.next(t, time.Second)
	require.True(t, ok)
	assert.Equal(t, peerMsg{websocket.TextMessage, []byte(protocol.StartMediaBuffering)}, m)

	// Pause right after the opening bracket. The first chunk is already in
	// its read, but it must be held until MEDIA_XON.
	peer.text(t, protocol.MediaXOFF)
	time.Sleep(50 * time.Millisecond)
	close(ep.replay.release)

	_, ok = peer.next(t, 150*time.Millisecond)
	assert.False(t, ok, "nothing may be sent while paused")

	var got []byte
	peer.text(t, protocol.MediaXON)
	var texts []string
	for {
		m, ok := peer.next(t, time.Second)
		if !ok {
			break
		}
		if m.mt == websocket.TextMessage {
			texts = append(texts, string(m.data))
			continue
		}
		got = append(got, m.data...)
	}
	assert.Equal(t, data, got)
	assert.Equal(t, []string{protocol.StopMediaBuffering}, texts)

	require.Eventually(t, func() bool { return srv.Registry().Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), ep.replay.closes.Load())
	assert.Equal(t, int32(1), ep.playback.closes.Load())
}

func TestShutdownClosesSessions(t *testing.T) {
	ep := &stubEndpoints{
		capture:  &stubCapture{frames: make(chan []byte), closed: make(chan struct{})},
		playback: &stubSink{},
	}
	srv, ts, _ := newTestServer(t, bridge.ModeLive, ep)
	peer := dialPeer(t, ts.URL)
	require.Eventually(t, func() bool { return srv.Registry().Len() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.Zero(t, srv.Registry().Len())
	assert.Equal(t, int32(1), ep.capture.closes.Load())

	// The peer sees the connection end.
	for {
		if _, ok := peer.next(t, time.Second); !ok {
			break
		}
	}
}

func TestHealthAndPlainHTTP(t *testing.T) {
	_, ts, _ := newTestServer(t, bridge.ModeLive, &stubEndpoints{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "live", health["mode"])
	assert.Equal(t, 0.0, health["sessions"])

	resp, err = http.Get(ts.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "UPGRADE_FAILED")

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "mediabridge_session_errors_total")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	s := bridge.NewSession(&nopConn{}, &stubEndpoints{}, bridge.Options{}, nil)

	canceled := false
	require.True(t, r.Add(s, func() { canceled = true }))
	got, ok := r.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, r.Len())

	r.CancelAll()
	assert.True(t, canceled)

	late := bridge.NewSession(&nopConn{}, &stubEndpoints{}, bridge.Options{}, nil)
	assert.False(t, r.Add(late, func() {}), "no sessions are admitted after CancelAll")
	_, ok = r.Get(late.ID)
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Wait(ctx), context.DeadlineExceeded)

	r.Remove(s.ID)
	r.Remove(s.ID)
	assert.Zero(t, r.Len())
	assert.NoError(t, r.Wait(context.Background()))
}

type nopConn struct{}

func (nopConn) Send(context.Context, protocol.Message) error { return nil }
func (nopConn) Receive(ctx context.Context) (protocol.Message, error) {
	<-ctx.Done()
	return protocol.Message{}, ctx.Err()
}
func (nopConn) RemoteAddr() string { return "test" }
func (nopConn) Close() error { return nil }
