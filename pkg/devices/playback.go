package devices

import (
	"sync"

	"github.com/gen2brain/malgo"
)

// playbackBufferFrames bounds queued playback; Write blocks beyond it
const playbackBufferFrames = 10

// Playback is a bridge.PlaybackSink on a malgo playback device. The device
// callback drains queued audio and plays silence when the queue is empty.
type Playback struct {
	ctx   *malgo.AllocatedContext
	dev   *malgo.Device
	queue *pcmQueue
	once  sync.Once
}

// OpenPlayback starts an S16LE playback stream on the named device
func OpenPlayback(f Format, deviceName string) (*Playback, error) {
	ctx, err := initContext()
	if err != nil {
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(f.Channels)
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.PeriodSizeInFrames = uint32(f.PeriodFrames())
	if cfg.Periods < 4 {
		cfg.Periods = 4
	}
	if err := selectDevice(ctx, &cfg, malgo.Playback, deviceName); err != nil {
		freeContext(ctx)
		return nil, err
	}

	p := &Playback{ctx: ctx, queue: newPCMQueue(playbackBufferFrames * f.FrameBytes())}
	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, _ uint32) {
			p.queue.drain(pOutput)
		},
		Stop: func() {
			p.queue.close()
		},
	}

	dev, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		freeContext(ctx)
		return nil, err
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		freeContext(ctx)
		return nil, err
	}
	p.dev = dev
	return p, nil
}

// Write queues one frame, blocking while the device is behind
func (p *Playback) Write(frame []byte) error {
	return p.queue.pushWait(frame)
}

func (p *Playback) Close() error {
	var err error
	p.once.Do(func() {
		p.queue.close()
		err = p.dev.Stop()
		p.dev.Uninit()
		freeContext(p.ctx)
	})
	return err
}

// Discard is the playback sink used in buffered mode when inbound audio is
// not played: it accepts and drops every frame.
type Discard struct {
	mu     sync.Mutex
	frames int
	bytes  int
}

func (d *Discard) Write(frame []byte) error {
	d.mu.Lock()
	d.frames++
	d.bytes += len(frame)
	d.mu.Unlock()
	return nil
}

// Stats returns how much audio was dropped
func (d *Discard) Stats() (frames, bytes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames, d.bytes
}

func (d *Discard) Close() error { return nil }
