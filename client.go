package wsrpc

import (
	"context"
	"sync"

	"github.com/sonirico/wsrpc/shape"
)

// General messages every client socket emits locally, whatever the schema.
var (
	Connect      = generalMessage(EventConnect, shape.Trusted[any]())
	Disconnect   = generalMessage(EventDisconnect, shape.String())
	SocketError  = generalMessage(EventError, shape.Trusted[any]())
	ConnectError = generalMessage(EventConnectError, shape.Trusted[any]())

	generalMessages = map[string]Validator{
		EventConnect:      Connect.validator(),
		EventDisconnect:   Disconnect.validator(),
		EventError:        SocketError.validator(),
		EventConnectError: ConnectError.validator(),
	}
)

func generalMessage[T any](name string, payload shape.Shape[T]) Notification[T] {
	return Notification[T]{name: name, category: CategoryGeneral, payload: payload}
}

type (
	// Listener declares the server messages a client listens to. Every route must
	// name a server message of the schema or a general message.
	Listener interface {
		Routes() Routes
	}

	ClientOption func(*Client)
)

func WithClientLogger(l Logger) ClientOption {
	return func(c *Client) { c.logger = orNop(l) }
}

func WithReconnectConfig(cfg ReconnectConfig) ClientOption {
	return func(c *Client) { c.reconnectCfg = cfg }
}

// WithReconnectOptions forwards options to the reconnectors of the client.
func WithReconnectOptions(opts ...ReconnectOption) ClientOption {
	return func(c *Client) { c.reconnectOpts = append(c.reconnectOpts, opts...) }
}

// WithTransportRetry reconnects with a backoff after transport losses. It is off
// unless cfg.Enabled.
func WithTransportRetry(cfg BackoffConfig) ClientOption {
	return func(c *Client) { c.transportRetry = cfg }
}

func WithClientMetrics(m *Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// Client binds a Listener to a ClientSocket, exposes promisified RPCs through its
// Caller and reconnects after the server drops the session. Transport losses are
// only retried with WithTransportRetry.
type Client struct {
	sock          ClientSocket
	schema        *Schema
	logger        Logger
	metrics       *Metrics
	reconnectCfg  ReconnectConfig
	reconnectOpts []ReconnectOption

	transportRetry BackoffConfig

	caller      *Caller
	reconnector *Reconnector
	retrier     *Reconnector

	closeOnce sync.Once
}

// NewClient validates listener against schema, subscribes its routes and connects
// sock. A route that does not resolve to an invocable server message listener is a
// misconfiguration: NewClient fails and the socket is never connected.
func NewClient(ctx context.Context, sock ClientSocket, schema *Schema, listener Listener, opts ...ClientOption) (*Client, error) {
	c := &Client{
		sock:         sock,
		schema:       schema,
		logger:       NopLogger(),
		reconnectCfg: DefaultReconnectConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithField("type", "wsrpc_client")

	routes := listener.Routes()
	bindings := make(map[string]Validator, len(routes))
	for _, name := range sortedKeys(routes) {
		route := routes[name]
		if !route.Valid() {
			return nil, wrapMisconfigured("invalid listener for message %s", name)
		}
		validator, err := c.listenerValidator(name, route)
		if err != nil {
			return nil, err
		}
		bindings[name] = validator
	}

	for name, validator := range bindings {
		c.subscribe(ctx, routes[name], validator)
	}
	if _, ok := routes[EventError]; !ok {
		sock.On(EventError, func(args []any, _ Ack) {
			c.logger.Errorf("socket error %v", firstArg(args))
		})
	}

	c.caller = NewCaller(sock, WithCallerLogger(c.logger))
	reconnectOpts := append([]ReconnectOption{
		WithReconnectLogger(c.logger),
		WithReconnectMetrics(c.metrics),
	}, c.reconnectOpts...)
	c.reconnector = AutoReconnect(ctx, sock, c.reconnectCfg, reconnectOpts...)
	if c.transportRetry.Enabled {
		c.retrier = RetryTransport(ctx, sock, c.transportRetry, reconnectOpts...)
	}

	if !sock.Connected() {
		if err := sock.Connect(ctx); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

func (c *Client) listenerValidator(name string, route Route) (Validator, error) {
	if v, ok := generalMessages[name]; ok {
		if route.category != CategoryGeneral {
			return nil, wrapMisconfigured("listener for %s must be bound to the general message", name)
		}
		return v, nil
	}

	v, ok := c.schema.ServerMessages[name]
	if !ok {
		return nil, wrapMisconfigured("invalid listener for message %s: not a server message", name)
	}
	if route.category != CategoryServerMessage {
		return nil, wrapMisconfigured("listener for %s is a %s", name, route.category)
	}
	return v, nil
}

func (c *Client) subscribe(ctx context.Context, route Route, validator Validator) {
	c.sock.On(route.name, func(args []any, _ Ack) {
		res := Validate(validator, firstArg(args))
		if !res.OK {
			c.logger.Errorf("%s: Type Error: %s", route.name, res.Diagnostics)
			return
		}
		if _, err := safeInvoke(ctx, route, res.Value); err != nil {
			c.logger.Errorf("%s: %s", route.name, err)
		}
	})
}

// Socket returns the underlying socket.
func (c *Client) Socket() ClientSocket { return c.sock }

// Caller returns the promisified view of the socket, to be used with RPC.Call.
func (c *Client) Caller() *Caller { return c.caller }

// EmitAsync is a shortcut for c.Caller().EmitAsync.
func (c *Client) EmitAsync(ctx context.Context, name string, args ...any) (any, error) {
	return c.caller.EmitAsync(ctx, name, args...)
}

// Close removes every listener, stops reconnecting, rejects pending calls and
// disconnects.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.reconnector.Stop()
		if c.retrier != nil {
			c.retrier.Stop()
		}
		c.sock.RemoveAllListeners()
		c.caller.rejectAll(ErrConnectionClosed)
		c.sock.Disconnect()
	})
}

func safeInvoke(ctx context.Context, route Route, value any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = wrapPanic(r)
		}
	}()
	return route.invoke(ctx, value)
}
