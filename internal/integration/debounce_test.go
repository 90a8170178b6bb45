package integration

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncer_Burst(t *testing.T) {
	mock := clock.NewMock()
	var calls atomic.Int32

	d := NewDebouncer(100*time.Millisecond, func() { calls.Add(1) }, WithClock(mock))

	for i := 0; i < 10; i++ {
		d.Call()
		mock.Add(10 * time.Millisecond)
	}
	assert.Equal(t, int32(0), calls.Load(), "still inside the quiet window")

	mock.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	assert.False(t, d.IsPending())
}

func TestDebouncer_SpacedCalls(t *testing.T) {
	mock := clock.NewMock()
	var calls atomic.Int32

	d := NewDebouncer(50*time.Millisecond, func() { calls.Add(1) }, WithClock(mock))

	for i := 1; i <= 3; i++ {
		d.Call()
		mock.Add(60 * time.Millisecond)
		want := int32(i)
		require.Eventually(t, func() bool { return calls.Load() == want }, time.Second, time.Millisecond)
	}
}

func TestDebouncer_Cancel(t *testing.T) {
	mock := clock.NewMock()
	var calls atomic.Int32

	d := NewDebouncer(50*time.Millisecond, func() { calls.Add(1) }, WithClock(mock))
	d.Call()
	assert.True(t, d.IsPending())
	d.Cancel()

	mock.Add(time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestDebouncer_Flush(t *testing.T) {
	mock := clock.NewMock()
	var calls atomic.Int32

	d := NewDebouncer(50*time.Millisecond, func() { calls.Add(1) }, WithClock(mock))
	d.Call()
	d.Flush()
	assert.Equal(t, int32(1), calls.Load())

	mock.Add(time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "scheduled call was consumed by Flush")

	d.Flush()
	assert.Equal(t, int32(1), calls.Load(), "nothing pending")
}

func TestDebouncer_DisposeRejectsCalls(t *testing.T) {
	mock := clock.NewMock()
	var calls atomic.Int32

	d := NewDebouncer(50*time.Millisecond, func() { calls.Add(1) }, WithClock(mock))
	d.Call()
	d.Dispose()
	d.Call()

	assert.False(t, d.IsPending())
	mock.Add(time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}
