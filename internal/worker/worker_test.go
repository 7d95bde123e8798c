package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerRunsUntilStopped(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	w := New("count", func() bool {
		calls.Add(1)
		return calls.Load() < 100
	})
	w.Start()

	require.Eventually(t, func() bool { return calls.Load() >= 100 }, time.Second, time.Millisecond)
	w.Stop()
	assert.Equal(t, StateStopped, w.State())

	n := calls.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, calls.Load(), "no invocations after Stop returns")
}

func TestWorkerIdleWakesOnNotify(t *testing.T) {
	t.Parallel()

	var pending atomic.Int64
	var done atomic.Int64
	w := New("notify", func() bool {
		if pending.Load() == 0 {
			return false
		}
		pending.Add(-1)
		done.Add(1)
		return true
	})
	w.Start()
	defer w.Stop()

	for i := 0; i < 5; i++ {
		pending.Add(1)
		w.Notify()
		want := int64(i + 1)
		require.Eventually(t, func() bool { return done.Load() == want }, time.Second, time.Millisecond)
	}
}

func TestWorkerPauseBlocksInvocation(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	w := New("pause", func() bool {
		calls.Add(1)
		time.Sleep(time.Millisecond)
		return true
	})
	w.Start()
	require.Eventually(t, func() bool { return calls.Load() > 0 }, time.Second, time.Millisecond)

	w.Pause()
	assert.Equal(t, StatePaused, w.State())
	time.Sleep(5 * time.Millisecond) // let the in-flight iteration finish
	n := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, calls.Load(), "paused worker must not invoke its work function")

	w.Resume()
	require.Eventually(t, func() bool { return calls.Load() > n }, time.Second, time.Millisecond)
	w.Stop()
}

func TestWorkerPausesItself(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	var w *Worker
	w = New("self-pause", func() bool {
		if calls.Add(1) == 3 {
			w.Pause()
		}
		return true
	})
	w.Start()
	require.Eventually(t, func() bool { return w.State() == StatePaused }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int64(3), calls.Load())
	w.Stop()
}

func TestWorkerServicesTimersWhileIdle(t *testing.T) {
	t.Parallel()

	w := New("timers", nil)
	w.Start()
	defer w.Stop()

	start := time.Now()
	fired := make(chan time.Time, 1)
	w.Timers().RunAfter(15*time.Millisecond, func() { fired <- time.Now() })

	select {
	case at := <-fired:
		assert.GreaterOrEqual(t, at.Sub(start), 15*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire on idle worker")
	}
}

func TestWorkerIdleWaitFollowsInjectedClock(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	w := New("fake-clock", nil, WithClock(clk))
	w.Start()
	defer w.Stop()

	fired := make(chan struct{}, 1)
	w.Timers().RunAfter(time.Hour, func() { fired <- struct{}{} })
	require.Eventually(t, func() bool { return clk.Waiting() > 0 }, time.Second, time.Millisecond)

	select {
	case <-fired:
		t.Fatal("timer fired before the clock reached its expiry")
	case <-time.After(20 * time.Millisecond):
	}

	clk.Advance(time.Hour)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("advancing the clock did not wake the idle worker")
	}
}

func TestWorkerStopFromOwnGoroutinePanics(t *testing.T) {
	t.Parallel()

	recovered := make(chan any, 1)
	var w *Worker
	w = New("self-join", func() bool {
		defer func() {
			recovered <- recover()
		}()
		w.Pause()
		w.Stop()
		return false
	})
	w.Start()

	select {
	case r := <-recovered:
		assert.NotNil(t, r, "Stop from the worker goroutine must panic")
	case <-time.After(time.Second):
		t.Fatal("work function never ran")
	}
	w.Stop()
}

func TestWorkerStopIdempotentAndNeverStarted(t *testing.T) {
	t.Parallel()

	w := New("never", func() bool { return false })
	w.Stop()
	w.Stop()
	w.Start()
	assert.Equal(t, StateStopped, w.State(), "a stopped worker cannot be restarted")
}
