package wsrpc

import (
	"context"
	"sync"
)

type reply struct {
	result any
	err    error
}

// Caller turns the emit-with-callback pattern of a Socket into blocking calls.
// Pending calls are rejected with ErrConnectionClosed when the socket disconnects.
type Caller struct {
	sock   Socket
	logger Logger

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]chan reply
}

type CallerOption func(*Caller)

func WithCallerLogger(l Logger) CallerOption {
	return func(c *Caller) { c.logger = orNop(l) }
}

// NewCaller wraps sock. It subscribes to the socket's disconnect event.
func NewCaller(sock Socket, opts ...CallerOption) *Caller {
	c := &Caller{
		sock:    sock,
		logger:  NopLogger(),
		pending: make(map[uint64]chan reply),
	}
	for _, opt := range opts {
		opt(c)
	}
	sock.On(EventDisconnect, func(_ []any, _ Ack) {
		c.rejectAll(ErrConnectionClosed)
	})
	return c
}

// EmitAsync emits name with args and waits for the reply. It returns the result
// slot when the error slot is empty or falsy, and a *RemoteError carrying the error
// slot otherwise. No timeout is imposed; cancel ctx to stop waiting.
func (c *Caller) EmitAsync(ctx context.Context, name string, args ...any) (any, error) {
	ch := make(chan reply, 1)

	c.mu.Lock()
	c.seq++
	id := c.seq
	c.pending[id] = ch
	c.mu.Unlock()

	ack := func(replyArgs ...any) {
		if !c.settle(id) {
			c.logger.Debugf("%s: late or duplicated reply dropped", name)
			return
		}
		ch <- decodeReply(name, replyArgs)
	}

	if err := c.sock.EmitWithAck(name, ack, args...); err != nil {
		c.settle(id)
		return nil, err
	}

	select {
	case r := <-ch:
		return r.result, r.err
	case <-ctx.Done():
		c.settle(id)
		return nil, ctx.Err()
	}
}

// Pending returns the number of calls waiting for a reply.
func (c *Caller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

// settle removes the pending call and reports whether it was still pending.
func (c *Caller) settle(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

func (c *Caller) rejectAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]chan reply)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- reply{err: err}
	}
}

func decodeReply(name string, args []any) reply {
	if len(args) > 0 && truthy(args[0]) {
		return reply{err: &RemoteError{Name: name, Value: args[0]}}
	}
	if len(args) > 1 {
		return reply{result: args[1]}
	}
	return reply{}
}

// truthy follows the loose convention of the reply protocol: nil, false, zero
// and the empty string leave the error slot empty.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return true
	}
}

type asyncOptions struct {
	logger     Logger
	mapErrors  func(error) any
	concurrent bool
}

type AsyncOption func(*asyncOptions)

// WithErrorMapper transforms handler errors before they are replied.
func WithErrorMapper(fn func(error) any) AsyncOption {
	return func(o *asyncOptions) { o.mapErrors = fn }
}

func WithAsyncLogger(l Logger) AsyncOption {
	return func(o *asyncOptions) { o.logger = orNop(l) }
}

// WithConcurrentReplies runs fn on its own goroutine so the socket keeps
// delivering events while the reply is computed.
func WithConcurrentReplies() AsyncOption {
	return func(o *asyncOptions) { o.concurrent = true }
}

// OnAsync registers fn as the receiver of event. The trailing callback of the
// event is replied with (nil, result) or (error). Events without a callback are
// logged and not replied.
func OnAsync(ctx context.Context, sock Socket, event string, fn func(ctx context.Context, args []any) (any, error), opts ...AsyncOption) {
	o := asyncOptions{logger: NopLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	sock.On(event, func(args []any, ack Ack) {
		if ack == nil {
			o.logger.Errorf("invalid callback: %s called %s with args %v", sock.ID(), event, args)
			return
		}
		reply := onceAck(ack, event, o.logger)

		run := func() {
			result, err := safeCall(ctx, fn, args)
			if err != nil {
				if o.mapErrors != nil {
					reply(o.mapErrors(err))
					return
				}
				reply(err)
				return
			}
			reply(nil, result)
		}

		if o.concurrent {
			go run()
			return
		}
		run()
	})
}

func safeCall(ctx context.Context, fn func(context.Context, []any) (any, error), args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = wrapPanic(r)
		}
	}()
	return fn(ctx, args)
}
