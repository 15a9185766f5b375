// Command peer emulates the media server side of the bridge: it sends
// MEDIA_START, streams a WAV prompt in real time and records whatever the
// bridge sends back.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/LingByte/LingMediaBridge/pkg/bridge"
	"github.com/LingByte/LingMediaBridge/pkg/logger"
	"github.com/LingByte/LingMediaBridge/pkg/protocol"
	"github.com/LingByte/LingMediaBridge/pkg/wsconn"
	"github.com/google/uuid"
	"github.com/youpy/go-wav"
	"go.uber.org/zap"
)

const (
	frameDuration = 20 * time.Millisecond
	sampleRate    = 16000
	frameBytes    = 640
)

func main() {
	url := flag.String("url", "ws://localhost:8765/", "bridge websocket url")
	prompt := flag.String("play", "", "16kHz mono 16-bit WAV streamed to the bridge")
	record := flag.String("record", "received.wav", "WAV file for audio received from the bridge")
	xoffAfter := flag.Duration("xoff-after", 0, "send MEDIA_XOFF this long after START_MEDIA_BUFFERING")
	xoffFor := flag.Duration("xoff-for", 2*time.Second, "how long to hold MEDIA_XOFF")
	flag.Parse()

	logger.Init(&logger.LogConfig{
		Daily:    true,
		Filename: "logs/peer.log",
		Level:    "debug",
		MaxAge:   7,
	}, "development")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	conn, err := wsconn.Dial(ctx, *url, wsconn.Options{WriteTimeout: 5 * time.Second})
	if err != nil {
		logger.Fatal("[Peer] connect failed", zap.Error(err))
	}
	defer conn.Close()

	callID := uuid.NewString()
	if err := conn.Send(ctx, protocol.Text(fmt.Sprintf("%s;callid=%s", protocol.MediaStart, callID))); err != nil {
		logger.Fatal("[Peer] MEDIA_START failed", zap.Error(err))
	}
	logger.Info("[Peer] media started", zap.String("callid", callID))

	if *prompt != "" {
		go func() {
			if err := streamPrompt(ctx, conn, *prompt); err != nil {
				logger.Warn("[Peer] prompt stream stopped", zap.Error(err))
			}
		}()
	}

	received, err := receive(ctx, conn, *xoffAfter, *xoffFor)
	if err != nil && !bridge.IsCanceled(err) {
		logger.Warn("[Peer] receive stopped", zap.Error(err))
	}
	if err := writeRecording(*record, received); err != nil {
		logger.Error("[Peer] write recording failed", zap.Error(err))
		return
	}
	logger.Info("[Peer] recording saved", zap.String("file", *record), zap.Int("bytes", len(received)))
}

// streamPrompt sends one frame per period, like a media server would
func streamPrompt(ctx context.Context, conn *wsconn.Conn, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := wav.NewReader(f)
	format, err := r.Format()
	if err != nil {
		return fmt.Errorf("failed to get WAV format: %w", err)
	}
	if format.SampleRate != sampleRate || format.NumChannels != 1 || format.BitsPerSample != 16 {
		return fmt.Errorf("prompt must be 16kHz mono 16-bit, got %dHz %dch %dbit",
			format.SampleRate, format.NumChannels, format.BitsPerSample)
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	frames := 0
	for {
		frame := make([]byte, frameBytes)
		n, err := io.ReadFull(r, frame)
		if n > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			if err := conn.Send(ctx, protocol.Binary(frame[:n])); err != nil {
				return err
			}
			frames++
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			logger.Info("[Peer] prompt finished", zap.Int("frames", frames))
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func receive(ctx context.Context, conn *wsconn.Conn, xoffAfter, xoffFor time.Duration) ([]byte, error) {
	var audio []byte
	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			if errors.Is(err, bridge.ErrPeerDisconnected) {
				return audio, nil
			}
			return audio, err
		}
		if msg.Kind == protocol.KindBinary {
			audio = append(audio, msg.Data...)
			continue
		}

		sig := protocol.ParseControl(msg.Text)
		logger.Info("[Peer] control signal", zap.Stringer("signal", sig.Signal), zap.String("raw", sig.Raw))
		switch sig.Signal {
		case protocol.SignalStartMediaBuffering:
			if xoffAfter > 0 {
				go holdFlow(ctx, conn, xoffAfter, xoffFor)
			}
		case protocol.SignalStopMediaBuffering:
			logger.Info("[Peer] buffered replay complete", zap.Int("bytes", len(audio)))
		}
	}
}

func holdFlow(ctx context.Context, conn *wsconn.Conn, after, hold time.Duration) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(after):
	}
	if err := conn.Send(ctx, protocol.SignalMessage(protocol.SignalMediaXOFF)); err != nil {
		return
	}
	logger.Info("[Peer] flow paused", zap.Duration("for", hold))
	select {
	case <-ctx.Done():
		return
	case <-time.After(hold):
	}
	_ = conn.Send(ctx, protocol.SignalMessage(protocol.SignalMediaXON))
	logger.Info("[Peer] flow resumed")
}

func writeRecording(path string, pcm []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := wav.NewWriter(f, uint32(len(pcm)/2), 1, sampleRate, 16)
	_, err = w.Write(pcm)
	return err
}
