package sched

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrShutdownAborted is returned by WithTimeout when ctx is already done at
// call time (the Repo-wide cancellation signal, e.g. Disconnect having
// already fired) -- distinguished from a timeout so callers can report
// "aborted" rather than "timed out".
var ErrShutdownAborted = errors.New("wait aborted by shutdown")

// WithTimeout derives a child context bounded by d, following the
// withTimeout(future, {timeoutMs, signal}) contract: d == 0 disables the
// bound entirely (the returned context is cancelled only by parent or
// explicit cancel), and a parent ctx that is already Done rejects
// immediately rather than waiting. The returned cancel must always be
// called once the caller is done, per context.Context convention.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc, error) {
	select {
	case <-ctx.Done():
		return ctx, func() {}, errors.WithMessage(ErrShutdownAborted, ctx.Err().Error())
	default:
	}
	if d <= 0 {
		var child, cancel = context.WithCancel(ctx)
		return child, cancel, nil
	}
	var child, cancel = context.WithTimeout(ctx, d)
	return child, cancel, nil
}
