package bridge

import (
	"context"
	"errors"

	apperrors "github.com/LingByte/LingMediaBridge/pkg/errors"
)

// Session error taxonomy. Match with errors.Is; causes are attached with
// WithCause and do not affect matching.
var (
	ErrPeerDisconnected  = apperrors.NewAppError(apperrors.ErrCodePeerDisconnected, "peer disconnected")
	ErrDeviceError       = apperrors.NewAppError(apperrors.ErrCodeDeviceError, "audio device failure")
	ErrProtocolViolation = apperrors.NewAppError(apperrors.ErrCodeProtocolViolation, "unexpected message")
	ErrSchedulingRace    = apperrors.NewAppError(apperrors.ErrCodeSchedulingRace, "delayed signal already scheduled")
)

// IsCanceled reports a cooperative cancellation, as opposed to a failure
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// offload runs a blocking call on its own goroutine and waits for it or for
// ctx. On cancellation the call is abandoned; its result is dropped once the
// endpoint's Close unblocks it.
func offload[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}
