package wsrpc

import (
	"sync"
	"time"
)

type mockHandler struct {
	RoutesFunc func() Routes
}

func (m *mockHandler) Routes() Routes {
	return m.RoutesFunc()
}

// ackRecorder collects every invocation of the Ack it hands out.
type ackRecorder struct {
	mu    sync.Mutex
	calls [][]any
	done  chan struct{}
}

func newAckRecorder() *ackRecorder {
	return &ackRecorder{done: make(chan struct{}, 16)}
}

func (r *ackRecorder) ack() Ack {
	return func(args ...any) {
		r.mu.Lock()
		r.calls = append(r.calls, args)
		r.mu.Unlock()
		r.done <- struct{}{}
	}
}

func (r *ackRecorder) Calls() [][]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([][]any, len(r.calls))
	copy(out, r.calls)
	return out
}

type fakeTimer struct {
	clock   *fakeClock
	delay   time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	was := !t.stopped
	t.stopped = true
	return was
}

// fakeClock is a TimerFunc whose timers only fire through Fire.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{clock: c, delay: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]time.Duration, len(c.timers))
	for i, t := range c.timers {
		out[i] = t.delay
	}
	return out
}

// Fire runs every pending timer once.
func (c *fakeClock) Fire() int {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped {
			t.stopped = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
	return len(due)
}
