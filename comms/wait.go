package comms

import (
	"context"
	"time"
)

// WaitFor polls predicate up to maxIterations times, sleeping interval
// between checks. It returns true as soon as predicate does.
func WaitFor(predicate func() bool, maxIterations int, interval time.Duration) bool {
	for i := 0; i < maxIterations; i++ {
		if predicate() {
			return true
		}
		if i < maxIterations-1 {
			time.Sleep(interval)
		}
	}
	return false
}

// WaitForSignal waits for signal to be closed or to deliver a value, for at
// most maxIterations*interval. onTick, if not nil, runs once per elapsed
// interval with the number of intervals waited so far. Like WaitFor, a
// budget of zero iterations never succeeds, and a non-positive interval
// checks without waiting.
func WaitForSignal(signal <-chan struct{}, maxIterations int, interval time.Duration, onTick func(i int)) bool {
	return WaitForSignalContext(context.Background(), signal, maxIterations, interval, onTick)
}

// WaitForSignalContext is WaitForSignal that also gives up, returning false,
// when ctx is done.
func WaitForSignalContext(ctx context.Context, signal <-chan struct{}, maxIterations int, interval time.Duration, onTick func(i int)) bool {
	if maxIterations <= 0 {
		return false
	}
	if interval <= 0 {
		select {
		case <-signal:
			return true
		default:
			return false
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.NewTimer(time.Duration(maxIterations) * interval)
	defer deadline.Stop()
	ticks := 0
	for {
		select {
		case <-signal:
			return true
		case <-ctx.Done():
			return false
		case <-deadline.C:
			select {
			case <-signal:
				return true
			default:
				return false
			}
		case <-ticker.C:
			ticks++
			if onTick != nil {
				onTick(ticks)
			}
		}
	}
}
