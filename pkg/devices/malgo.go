package devices

import (
	"fmt"
	"strings"

	"github.com/LingByte/LingMediaBridge/pkg/logger"
	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

// Info describes one audio device as reported by the backend
type Info struct {
	Name      string
	IsDefault bool
}

func initContext() (*malgo.AllocatedContext, error) {
	return malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", zap.String("message", strings.TrimSpace(message)))
	})
}

func freeContext(ctx *malgo.AllocatedContext) {
	if ctx == nil {
		return
	}
	_ = ctx.Uninit()
	ctx.Free()
}

// List returns the devices of one kind (malgo.Capture or malgo.Playback)
func List(kind malgo.DeviceType) ([]Info, error) {
	ctx, err := initContext()
	if err != nil {
		return nil, err
	}
	defer freeContext(ctx)

	found, err := ctx.Devices(kind)
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(found))
	for _, d := range found {
		out = append(out, Info{Name: d.Name(), IsDefault: d.IsDefault != 0})
	}
	return out, nil
}

// selectDevice points cfg at the first device whose name contains name
// (case-insensitive). An empty name keeps the backend default.
func selectDevice(ctx *malgo.AllocatedContext, cfg *malgo.DeviceConfig, kind malgo.DeviceType, name string) error {
	if name == "" {
		return nil
	}
	found, err := ctx.Devices(kind)
	if err != nil {
		return err
	}
	want := strings.ToLower(name)
	for i := range found {
		if !strings.Contains(strings.ToLower(found[i].Name()), want) {
			continue
		}
		if kind == malgo.Capture {
			cfg.Capture.DeviceID = found[i].ID.Pointer()
		} else {
			cfg.Playback.DeviceID = found[i].ID.Pointer()
		}
		return nil
	}
	return fmt.Errorf("no %s device matching %q", kindName(kind), name)
}

func kindName(kind malgo.DeviceType) string {
	if kind == malgo.Capture {
		return "capture"
	}
	return "playback"
}
