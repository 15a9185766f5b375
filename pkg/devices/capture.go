package devices

import (
	"sync"

	"github.com/gen2brain/malgo"
)

// captureBufferFrames bounds how far capture may run ahead of the peer
const captureBufferFrames = 50

// Capture is a bridge.CaptureSource on a malgo capture device. Frames are
// delivered at the device's own pace; if the session falls behind, the
// oldest audio is dropped.
type Capture struct {
	ctx   *malgo.AllocatedContext
	dev   *malgo.Device
	queue *pcmQueue
	once  sync.Once
}

// OpenCapture starts capturing S16LE audio from the named device
func OpenCapture(f Format, deviceName string) (*Capture, error) {
	ctx, err := initContext()
	if err != nil {
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(f.Channels)
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.PeriodSizeInFrames = uint32(f.PeriodFrames())
	if err := selectDevice(ctx, &cfg, malgo.Capture, deviceName); err != nil {
		freeContext(ctx)
		return nil, err
	}

	c := &Capture{ctx: ctx, queue: newPCMQueue(captureBufferFrames * f.FrameBytes())}
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, _ uint32) {
			c.queue.push(pInput)
		},
		Stop: func() {
			c.queue.close()
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
	c.dev = dev
	return c, nil
}

// Read blocks until frameSize bytes were captured. It fails once the device
// stopped or Close was called.
func (c *Capture) Read(frameSize int) ([]byte, error) {
	return c.queue.readFull(frameSize)
}

// Dropped returns the bytes discarded since the last call
func (c *Capture) Dropped() int {
	return c.queue.takeDropped()
}

func (c *Capture) Close() error {
	var err error
	c.once.Do(func() {
		c.queue.close()
		err = c.dev.Stop()
		c.dev.Uninit()
		freeContext(c.ctx)
	})
	return err
}
