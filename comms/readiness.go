package comms

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ReadinessOptions controls WaitForService.
type ReadinessOptions struct {
	// MinLength is the shortest reply accepted as "ready".
	MinLength int
	// AttemptTimeout bounds each call.
	AttemptTimeout time.Duration
	// Interval is the pause after a failed or short attempt.
	Interval time.Duration
	// Ceiling bounds the whole wait. Zero waits until ctx ends.
	Ceiling time.Duration
	// MaxAttempts bounds the number of calls. Zero means no bound.
	MaxAttempts int
	// Probe makes each attempt a handshake-only ProbeService instead of a
	// call. Request and MinLength are then ignored; any answer is ready.
	Probe bool
	// OnAttempt, when set, sees every attempt with its reply length or error.
	OnAttempt func(attempt int, replyLen int, err error)
}

// DefaultReadinessOptions polls every 100ms with a one second call timeout
// and accepts replies of at least 50 bytes.
func DefaultReadinessOptions() ReadinessOptions {
	return ReadinessOptions{
		MinLength:      50,
		AttemptTimeout: time.Second,
		Interval:       100 * time.Millisecond,
	}
}

// WaitForService calls service until it answers with at least
// opts.MinLength bytes and returns that reply. Timeouts, transport errors
// and unknown-service errors are retried; a failure reported by the service
// itself is retried too, since a starting server may refuse early calls.
// Exhausting Ceiling or MaxAttempts yields ErrStartupTimeout. An invalid
// service name, a closed client or a canceled ctx end the wait at once.
func (c *Client) WaitForService(ctx context.Context, service string, request []byte, opts ReadinessOptions) ([]byte, error) {
	if _, err := ResolveName(service, true); err != nil {
		return nil, err
	}
	if opts.Ceiling > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Ceiling)
		defer cancel()
	}
	logger := c.logger.WithField("service", service)
	var lastErr error
	for attempt := 1; ; attempt++ {
		attemptCtx := ctx
		cancel := func() {}
		if opts.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, opts.AttemptTimeout)
		}
		var reply []byte
		var err error
		if opts.Probe {
			_, err = c.ProbeService(attemptCtx, service)
		} else {
			reply, err = c.CallContext(attemptCtx, service, request)
		}
		cancel()
		if opts.OnAttempt != nil {
			opts.OnAttempt(attempt, len(reply), err)
		}
		switch {
		case errors.Is(err, ErrClosed), errors.Is(err, ErrInvalidName):
			return nil, err
		case errors.Is(err, context.Canceled):
			return nil, errors.Wrapf(err, "waiting for %s", service)
		case err != nil:
			lastErr = err
			logger.Debugf("Readiness attempt %d failed: %v", attempt, err)
		case opts.Probe, len(reply) >= opts.MinLength:
			logger.Debugf("Ready after %d attempt(s)", attempt)
			return reply, nil
		default:
			lastErr = errors.Errorf("reply of %d bytes is shorter than %d", len(reply), opts.MinLength)
			logger.Debugf("Readiness attempt %d: %v", attempt, lastErr)
		}

		if opts.MaxAttempts > 0 && attempt >= opts.MaxAttempts {
			return nil, errors.Wrapf(ErrStartupTimeout, "%s after %d attempts: %v", service, attempt, lastErr)
		}
		select {
		case <-ctx.Done():
			if opts.Ceiling > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, errors.Wrapf(ErrStartupTimeout, "%s after %v: %v", service, opts.Ceiling, lastErr)
			}
			return nil, errors.Wrapf(ctx.Err(), "waiting for %s", service)
		case <-time.After(opts.Interval):
		}
	}
}
