package comms

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitForExhaustsBudget(t *testing.T) {
	calls := 0
	start := time.Now()
	ok := WaitFor(func() bool {
		calls++
		return false
	}, 5, 20*time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.Equal(t, 5, calls)
	assert.GreaterOrEqual(t, elapsed, 4*20*time.Millisecond)
	assert.Less(t, elapsed, 5*20*time.Millisecond+500*time.Millisecond)
}

func TestWaitForReturnsEarly(t *testing.T) {
	calls := 0
	ok := WaitFor(func() bool {
		calls++
		return calls == 3
	}, 100, time.Millisecond)
	assert.True(t, ok)
	assert.Equal(t, 3, calls)
}

func TestWaitForZeroIterations(t *testing.T) {
	assert.False(t, WaitFor(func() bool { return true }, 0, time.Second))
}

func TestWaitForSignal(t *testing.T) {
	signal := make(chan struct{})
	go func() {
		time.Sleep(30 * time.Millisecond)
		close(signal)
	}()
	start := time.Now()
	assert.True(t, WaitForSignal(signal, 100, 100*time.Millisecond, nil))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWaitForSignalTimeout(t *testing.T) {
	ticks := 0
	start := time.Now()
	ok := WaitForSignal(make(chan struct{}), 5, 20*time.Millisecond, func(i int) {
		ticks = i
	})
	elapsed := time.Since(start)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, 5*20*time.Millisecond)
	assert.Less(t, elapsed, 5*20*time.Millisecond+500*time.Millisecond)
	assert.LessOrEqual(t, ticks, 5)
}

func TestWaitForSignalAlreadySignalled(t *testing.T) {
	signal := make(chan struct{})
	close(signal)
	assert.True(t, WaitForSignal(signal, 3, time.Second, nil))
}

func TestWaitForSignalZeroIterations(t *testing.T) {
	signal := make(chan struct{})
	close(signal)
	assert.Equal(t, WaitFor(func() bool { return true }, 0, time.Second), WaitForSignal(signal, 0, time.Second, nil))
	assert.False(t, WaitForSignal(signal, 0, time.Second, nil))
}

func TestWaitForSignalZeroInterval(t *testing.T) {
	signal := make(chan struct{})
	start := time.Now()
	assert.NotPanics(t, func() {
		assert.False(t, WaitForSignal(signal, 3, 0, nil))
	})
	assert.Less(t, time.Since(start), time.Second)

	close(signal)
	assert.True(t, WaitForSignal(signal, 3, 0, nil))
	assert.True(t, WaitFor(func() bool { return true }, 3, 0))
}

func TestWaitForSignalContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	assert.False(t, WaitForSignalContext(ctx, make(chan struct{}), 100, 100*time.Millisecond, nil))
	assert.Less(t, time.Since(start), 2*time.Second)
}
