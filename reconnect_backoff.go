package wsrpc

import (
	"context"
	"math"
	"sync"
	"time"
)

const (
	DefaultBackoffHealthyAfter = 30 * time.Second
	DefaultBackoffMaxDelay     = 30 * time.Second
)

// BackoffFunc maps the number of consecutive failed attempts to a wait.
type BackoffFunc func(attempts int) time.Duration

// BackoffConfig configures RetryTransport.
type BackoffConfig struct {
	Enabled bool `yaml:"enabled"`
	// HealthyAfter is how long a connection must stay up for its loss to be
	// retried at once.
	HealthyAfter time.Duration `yaml:"healthy_after"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

func (c BackoffConfig) normalized() BackoffConfig {
	if c.HealthyAfter <= 0 {
		c.HealthyAfter = DefaultBackoffHealthyAfter
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultBackoffMaxDelay
	}
	return c
}

func ExponentialBackoff(attempts int) float64 {
	return (math.Pow(2.0, float64(attempts)) - 1) / 2
}

// ExponentialBackoffSeconds waits 0s, 0.5s, 1.5s, 3.5s... after 0, 1, 2, 3... attempts.
// Waits past the range of time.Duration saturate at its maximum.
func ExponentialBackoffSeconds(attempts int) time.Duration {
	nanos := ExponentialBackoff(attempts) * float64(time.Second)
	if nanos >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(nanos)
}

type backoff struct {
	calc         BackoffFunc
	healthyAfter time.Duration
	maxDelay     time.Duration
	now          func() time.Time

	mu       sync.Mutex
	attempts int
	// upSince is when the current connection was established, zero when down.
	upSince time.Time
}

func (b *backoff) connected() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.upSince = b.now()
}

func (b *backoff) next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.upSince.IsZero() && b.now().Sub(b.upSince) >= b.healthyAfter {
		// The connection was healthy and died naturally.
		b.attempts = 0
	} else {
		b.attempts++
	}
	b.upSince = time.Time{}

	delay := b.calc(b.attempts)
	if delay < 0 || delay > b.maxDelay {
		delay = b.maxDelay
	}
	return delay
}

// RetryTransport reconnects sock after it lost its transport. The first attempt
// after a healthy connection is immediate, then the wait grows exponentially
// while connections keep failing or dying young.
func RetryTransport(ctx context.Context, sock ClientSocket, cfg BackoffConfig, opts ...ReconnectOption) *Reconnector {
	cfg = cfg.normalized()

	r := newReconnector(ctx, sock, ReasonTransportClose, opts)
	calc := r.backoffFunc
	if calc == nil {
		calc = ExponentialBackoffSeconds
	}
	r.backoff = &backoff{
		calc:         calc,
		healthyAfter: cfg.HealthyAfter,
		maxDelay:     cfg.MaxDelay,
		now:          r.now,
	}
	if sock.Connected() {
		r.backoff.connected()
	}

	sock.On(EventConnect, func([]any, Ack) { r.backoff.connected() })
	r.watch()
	return r
}
