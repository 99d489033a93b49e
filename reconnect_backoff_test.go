package wsrpc

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Add(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestExponentialBackoffSeconds(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 0},
		{1, 500 * time.Millisecond},
		{2, 1500 * time.Millisecond},
		{3, 3500 * time.Millisecond},
		{4, 7500 * time.Millisecond},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ExponentialBackoffSeconds(tt.attempts), "attempts %d", tt.attempts)
	}
}

func TestRetryTransport(t *testing.T) {
	clock := &fakeClock{}
	now := &fakeNow{t: time.Unix(0, 0)}
	sock := newMockSocket("c1")
	sock.Mock.On("Connect", mock.Anything).Return(errors.Wrap(ErrCannotConnect, "refused")).Twice()
	sock.Mock.On("Connect", mock.Anything).Return(nil)

	RetryTransport(context.Background(), sock, BackoffConfig{Enabled: true, HealthyAfter: time.Minute},
		WithTimerFunc(clock.AfterFunc),
		WithNow(now.Now),
	)

	now.Add(2 * time.Minute)
	sock.drop(ReasonTransportClose)
	clock.Fire()
	clock.Fire()
	clock.Fire()

	assert.Equal(t, []time.Duration{0, 500 * time.Millisecond, 1500 * time.Millisecond}, clock.Delays(),
		"a healthy connection is retried at once, failures back off")
	sock.AssertNumberOfCalls(t, "Connect", 3)
	assert.True(t, sock.Connected())

	now.Add(time.Second)
	sock.drop(ReasonTransportClose)
	assert.Equal(t, 3500*time.Millisecond, clock.Delays()[3], "a connection that died young keeps backing off")
}

func TestRetryTransportIgnoresOtherReasons(t *testing.T) {
	for _, reason := range []string{ReasonServerDisconnect, ReasonClientDisconnect} {
		t.Run(reason, func(t *testing.T) {
			clock := &fakeClock{}
			sock := newMockSocket("c1")

			RetryTransport(context.Background(), sock, BackoffConfig{Enabled: true}, WithTimerFunc(clock.AfterFunc))
			sock.drop(reason)

			assert.Empty(t, clock.Delays())
		})
	}
}

func TestRetryTransportCapsDelay(t *testing.T) {
	clock := &fakeClock{}
	sock := newMockSocket("c1")
	sock.Mock.On("Connect", mock.Anything).Return(errors.Wrap(ErrCannotConnect, "refused"))

	r := RetryTransport(context.Background(), sock, BackoffConfig{Enabled: true, MaxDelay: 2 * time.Second},
		WithTimerFunc(clock.AfterFunc),
		WithBackoffFunc(func(attempts int) time.Duration { return time.Duration(attempts) * time.Second }),
	)
	defer r.Stop()

	sock.drop(ReasonTransportClose)
	for i := 0; i < 3; i++ {
		clock.Fire()
	}

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second}, clock.Delays())
}

func TestExponentialBackoffSaturates(t *testing.T) {
	for _, attempts := range []int{35, 64, 1100} {
		assert.Equal(t, time.Duration(math.MaxInt64), ExponentialBackoffSeconds(attempts), "attempts %d", attempts)
	}
}

func TestRetryTransportNeverGoesNegative(t *testing.T) {
	b := &backoff{
		calc:         ExponentialBackoffSeconds,
		healthyAfter: time.Minute,
		maxDelay:     30 * time.Second,
		now:          time.Now,
	}
	for i := 1; i <= 40; i++ {
		d := b.next()
		require.GreaterOrEqual(t, d, time.Duration(0), "attempt %d", i)
		require.LessOrEqual(t, d, 30*time.Second, "attempt %d", i)
	}
	assert.Equal(t, 30*time.Second, b.next())

	b.calc = func(int) time.Duration { return -time.Second }
	assert.Equal(t, 30*time.Second, b.next(), "a broken backoff func never fires at once")
}
