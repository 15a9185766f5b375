package bridge

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/LingByte/LingMediaBridge/pkg/errors"
	"github.com/LingByte/LingMediaBridge/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func liveEndpoints() *fakeEndpoints {
	return &fakeEndpoints{capture: newFakeCapture(), playback: &fakeSink{}}
}

func assertReleasedOnce(t *testing.T, conn *fakeConn, ep *fakeEndpoints) {
	t.Helper()
	if ep.capture != nil {
		assert.Equal(t, int32(1), ep.capture.closes.Load(), "capture closes")
	}
	if ep.playback != nil {
		assert.Equal(t, int32(1), ep.playback.closes.Load(), "playback closes")
	}
	if ep.replay != nil {
		assert.Equal(t, int32(1), ep.replay.closes.Load(), "replay closes")
	}
	assert.Equal(t, int32(1), conn.closes.Load(), "conn closes")
}

func TestSessionLiveBridge(t *testing.T) {
	conn := newFakeConn()
	ep := liveEndpoints()
	s := NewSession(conn, ep, Options{Mode: ModeLive, AnswerDelay: testDelay}, nil)
	assert.Equal(t, StateConnecting, s.State())
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "127.0.0.1:40000", s.Peer)

	var toPlayback [][]byte
	for i := 0; i < 10; i++ {
		frame := make([]byte, DefaultFrameBytes)
		frame[0], frame[639] = byte(i), byte(i)
		toPlayback = append(toPlayback, frame)
	}
	start := time.Now()
	conn.push(protocol.Text("MEDIA_START;callid=1"))
	for _, f := range toPlayback {
		conn.push(protocol.Binary(f))
	}

	done := runAsync(context.Background(), s.Run)
	require.Eventually(t, func() bool { return s.State() == StateStreaming }, time.Second, time.Millisecond)

	var toPeer [][]byte
	for i := 0; i < 3; i++ {
		f := make([]byte, DefaultFrameBytes)
		f[10] = byte(100 + i)
		toPeer = append(toPeer, f)
		ep.capture.frames <- f
	}

	require.Eventually(t, func() bool { return len(ep.playback.written()) == 10 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, toPlayback, ep.playback.written())
	require.Eventually(t, func() bool { return len(conn.binaries()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, toPeer, conn.binaries())

	require.Eventually(t, func() bool { return conn.countText(protocol.Answer) == 1 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, conn.firstSentAt(protocol.Answer).Sub(start), testDelay)

	conn.hangup()
	require.NoError(t, waitResult(t, done))
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, TaskReceive, s.Result().FirstTask)
	assert.NoError(t, s.Result().Cause)
	assert.Positive(t, s.Result().Duration)
	assertReleasedOnce(t, conn, ep)
}

func TestSessionDuplicateMediaStartAnswersOnce(t *testing.T) {
	conn := newFakeConn()
	s := NewSession(conn, liveEndpoints(), Options{AnswerDelay: testDelay}, nil)

	conn.push(protocol.Text("MEDIA_START"), protocol.Text("MEDIA_START;callid=2"), protocol.Text("MEDIA_START"))
	done := runAsync(context.Background(), s.Run)

	require.Eventually(t, func() bool { return conn.countText(protocol.Answer) == 1 }, time.Second, 5*time.Millisecond)
	conn.push(protocol.Text("MEDIA_START"))
	time.Sleep(3 * testDelay)
	assert.Equal(t, 1, conn.countText(protocol.Answer))

	conn.hangup()
	require.NoError(t, waitResult(t, done))
}

func TestSessionNoAnswerAfterEnd(t *testing.T) {
	conn := newFakeConn()
	conn.acceptLate = true
	ep := liveEndpoints()
	s := NewSession(conn, ep, Options{AnswerDelay: testDelay}, nil)

	conn.push(protocol.Text("MEDIA_START;callid=3"))
	done := runAsync(context.Background(), s.Run)
	time.Sleep(testDelay / 3)

	close(ep.capture.frames) // capture failure ends the session before the delay expires
	err := waitResult(t, done)
	assert.ErrorIs(t, err, ErrDeviceError)
	assert.Equal(t, SignalCanceled, s.answer.State())

	time.Sleep(3 * testDelay)
	assert.Zero(t, conn.countText(protocol.Answer))
}

func TestSessionDeviceFailureEndsBothTasks(t *testing.T) {
	conn := newFakeConn()
	ep := liveEndpoints()
	s := NewSession(conn, ep, Options{}, nil)

	close(ep.capture.frames)
	err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrDeviceError)
	assert.Equal(t, apperrors.ErrCodeDeviceError, apperrors.CodeOf(err))
	assert.Equal(t, TaskSend, s.Result().FirstTask)
	assert.Equal(t, StateClosed, s.State())
	assertReleasedOnce(t, conn, ep)
}

func TestSessionAcquisitionFailureReleasesPartial(t *testing.T) {
	conn := newFakeConn()
	ep := liveEndpoints()
	ep.playbackErr = errFakeDevice
	s := NewSession(conn, ep, Options{}, nil)

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrDeviceError)
	assert.ErrorIs(t, err, errFakeDevice)
	assert.Equal(t, int32(1), ep.capture.closes.Load())
	assert.Zero(t, ep.playback.closes.Load(), "never opened, never closed")
	assert.Equal(t, int32(1), conn.closes.Load())
	assert.Empty(t, conn.messages())
	assert.Equal(t, StateClosed, s.State())
}

func TestSessionCanceledByCaller(t *testing.T) {
	conn := newFakeConn()
	ep := liveEndpoints()
	s := NewSession(conn, ep, Options{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s.Run)
	require.Eventually(t, func() bool { return s.State() == StateStreaming }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, waitResult(t, done), context.Canceled)
	assertReleasedOnce(t, conn, ep)
}

func TestSessionBufferedReplayWithFlowControl(t *testing.T) {
	data := testPattern(4200)
	conn := newFakeConn()
	ep := &fakeEndpoints{playback: &fakeSink{}, replay: newFakeChunks(data)}
	s := NewSession(conn, ep, Options{Mode: ModeBuffered, ChunkSize: 1000}, nil)

	// The peer answers the opening bracket with XOFF. Hold the sender inside
	// Send until the receive side has applied it.
	conn.setOnSend(func(m protocol.Message) {
		if m.Kind != protocol.KindText || m.Text != protocol.StartMediaBuffering {
			return
		}
		conn.push(protocol.Text(protocol.MediaXOFF))
		deadline := time.Now().Add(time.Second)
		for s.gate.Allowed() && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	})

	done := runAsync(context.Background(), s.Run)
	require.Eventually(t, func() bool { return !s.gate.Allowed() }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, conn.binaries(), "no chunk may be sent while paused")

	conn.push(protocol.Text(protocol.MediaXON))
	require.NoError(t, waitResult(t, done))

	msgs := conn.messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, protocol.Text(protocol.StartMediaBuffering), msgs[0])
	assert.Equal(t, protocol.Text(protocol.StopMediaBuffering), msgs[len(msgs)-1])
	assert.Equal(t, data, joined(conn.binaries()))
	assert.Equal(t, TaskSend, s.Result().FirstTask)
	assertReleasedOnce(t, conn, ep)
}

func TestSessionBufferedReplayMissing(t *testing.T) {
	conn := newFakeConn()
	ep := &fakeEndpoints{
		playback:  &fakeSink{},
		replayErr: apperrors.NewAppError(apperrors.ErrCodeNotFound, "replay file not found"),
	}
	s := NewSession(conn, ep, Options{Mode: ModeBuffered}, nil)

	err := s.Run(context.Background())
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.CodeOf(err))
	assert.Empty(t, conn.messages())
	assert.Equal(t, int32(1), conn.closes.Load())
	assert.Zero(t, ep.playback.closes.Load())
}
