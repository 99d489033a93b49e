package wsrpc

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultReconnectMinDelay = 2 * time.Second
	DefaultReconnectMaxDelay = 5 * time.Second
)

type (
	// ReconnectConfig bounds the random delay before reconnecting.
	ReconnectConfig struct {
		MinDelay time.Duration `yaml:"min_delay"`
		MaxDelay time.Duration `yaml:"max_delay"`
	}

	// Timer is the part of *time.Timer the reconnector needs.
	Timer interface {
		Stop() bool
	}

	// TimerFunc schedules f after d, like time.AfterFunc.
	TimerFunc func(d time.Duration, f func()) Timer

	ReconnectOption func(*Reconnector)
)

func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MinDelay: DefaultReconnectMinDelay,
		MaxDelay: DefaultReconnectMaxDelay,
	}
}

func (c ReconnectConfig) normalized() ReconnectConfig {
	if c.MinDelay <= 0 && c.MaxDelay <= 0 {
		return DefaultReconnectConfig()
	}
	if c.MinDelay < 0 {
		c.MinDelay = 0
	}
	if c.MaxDelay < c.MinDelay {
		c.MaxDelay = c.MinDelay
	}
	return c
}

func WithReconnectLogger(l Logger) ReconnectOption {
	return func(r *Reconnector) { r.logger = orNop(l) }
}

func WithReconnectMetrics(m *Metrics) ReconnectOption {
	return func(r *Reconnector) { r.metrics = m }
}

// WithRandom replaces the source of the uniform [0, 1) value used to pick delays.
func WithRandom(fn func() float64) ReconnectOption {
	return func(r *Reconnector) { r.random = fn }
}

// WithNow replaces time.Now, used to tell how long a connection stayed up.
func WithNow(fn func() time.Time) ReconnectOption {
	return func(r *Reconnector) { r.now = fn }
}

// WithBackoffFunc replaces the backoff of transport retries.
func WithBackoffFunc(fn BackoffFunc) ReconnectOption {
	return func(r *Reconnector) { r.backoffFunc = fn }
}

// WithTimerFunc replaces time.AfterFunc.
func WithTimerFunc(fn TimerFunc) ReconnectOption {
	return func(r *Reconnector) { r.afterFunc = fn }
}

// Reconnector re-establishes a client socket after disconnects of a single reason.
// There is no retry cap: the server may keep refusing until it is ready.
type Reconnector struct {
	sock      ClientSocket
	reason    string
	cfg       ReconnectConfig
	backoff   *backoff
	logger    Logger
	metrics   *Metrics
	random    func() float64
	afterFunc TimerFunc

	now         func() time.Time
	backoffFunc BackoffFunc

	ctx    context.Context
	mu     sync.Mutex
	timers map[Timer]struct{}
	closed bool
}

// AutoReconnect watches the disconnect event of sock and reconnects after the
// server deliberately dropped the session. Transport losses and local disconnects
// are left alone.
func AutoReconnect(ctx context.Context, sock ClientSocket, cfg ReconnectConfig, opts ...ReconnectOption) *Reconnector {
	r := newReconnector(ctx, sock, ReasonServerDisconnect, opts)
	r.cfg = cfg.normalized()
	r.watch()
	return r
}

func newReconnector(ctx context.Context, sock ClientSocket, reason string, opts []ReconnectOption) *Reconnector {
	r := &Reconnector{
		sock:   sock,
		reason: reason,
		logger: NopLogger(),
		random: rand.Float64,
		now:    time.Now,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		ctx:    ctx,
		timers: make(map[Timer]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithField("type", "reconnector").WithField("reason", reason)
	return r
}

func (r *Reconnector) watch() {
	r.sock.On(EventDisconnect, func(args []any, _ Ack) {
		reason, _ := firstArg(args).(string)
		r.onDisconnect(reason)
	})
}

func (r *Reconnector) onDisconnect(reason string) {
	if reason != r.reason {
		r.logger.Debugf("disconnected due to %q, not reconnecting", reason)
		return
	}
	r.schedule()
}

// Delay picks the wait before the next attempt: a uniformly random delay in
// [MinDelay, MaxDelay], or the backoff of a transport retry.
func (r *Reconnector) Delay() time.Duration {
	if r.backoff != nil {
		return r.backoff.next()
	}
	span := r.cfg.MaxDelay - r.cfg.MinDelay
	if span <= 0 {
		return r.cfg.MinDelay
	}
	return r.cfg.MinDelay + time.Duration(r.random()*float64(span))
}

func (r *Reconnector) schedule() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	delay := r.Delay()
	r.logger.Infof("disconnected due to %s, reconnecting in %s", r.reason, delay)
	r.metrics.reconnectScheduled()

	var t Timer
	t = r.afterFunc(delay, func() {
		r.mu.Lock()
		delete(r.timers, t)
		closed := r.closed
		r.mu.Unlock()

		if closed {
			return
		}
		r.reconnect()
	})
	r.timers[t] = struct{}{}
}

func (r *Reconnector) reconnect() {
	if r.sock.Connected() {
		return
	}
	if err := r.sock.Connect(r.ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		// A refused dial produces no disconnect event, so retry on our own.
		r.logger.Warnf("reconnection failed due to %s", err)
		r.schedule()
		return
	}
	if r.backoff != nil {
		r.backoff.connected()
	}
}

// Stop cancels pending reconnections. Later disconnects are ignored.
func (r *Reconnector) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	for t := range r.timers {
		t.Stop()
	}
	r.timers = make(map[Timer]struct{})
}

func firstArg(args []any) any {
	if len(args) == 0 {
		return nil
	}
	return args[0]
}
