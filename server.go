package wsrpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sonirico/wsrpc/shape"
)

const tracerName = "github.com/sonirico/wsrpc"

// State is the lifecycle stage of a connection as seen by the Server.
type State uint8

const (
	StateConnecting State = iota + 1
	StateAccepted
	StateBound
	StateRejected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAccepted:
		return "accepted"
	case StateBound:
		return "bound"
	case StateRejected:
		return "rejected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

type (
	// AcceptFunc builds the Handler of a new connection. Returning nil refuses the
	// connection, which is then disconnected.
	AcceptFunc func(sock Socket) Handler

	// ServerConfig holds the construction time switches of a Server.
	ServerConfig struct {
		// AllowMissingHandlers silences the warning emitted when a handler lacks an
		// operation for a schema entry.
		AllowMissingHandlers bool
		// LogUnsendableErrors logs RPC errors that cannot be replied because the
		// peer gave no callback.
		LogUnsendableErrors bool
	}

	// Hooks customise how faults are reported. Nil fields use the defaults.
	Hooks struct {
		// OnClientMessageTypeError is called when a client notification has the
		// wrong arity or fails validation. Default: log "<id>: <name>: <diagnostic>".
		OnClientMessageTypeError func(sock Socket, name, diagnostic string)
		// OnClientRPCTypeError returns the reply error for an RPC with a bad
		// request. Default: "<name>: <diagnostic>".
		OnClientRPCTypeError func(sock Socket, name, diagnostic string) any
		// OnClientRPCRejection maps a handler failure to the reply error.
		// Default: the error itself, sent as its message.
		OnClientRPCRejection func(sock Socket, name string, err error) any
	}

	ServerOption func(*Server)
)

// DefaultServerConfig warns about missing handlers and logs unsendable errors.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		AllowMissingHandlers: false,
		LogUnsendableErrors:  true,
	}
}

func WithServerConfig(cfg ServerConfig) ServerOption {
	return func(s *Server) { s.config = cfg }
}

func WithAllowMissingHandlers(allow bool) ServerOption {
	return func(s *Server) { s.config.AllowMissingHandlers = allow }
}

func WithLogUnsendableErrors(log bool) ServerOption {
	return func(s *Server) { s.config.LogUnsendableErrors = log }
}

func WithHooks(h Hooks) ServerOption {
	return func(s *Server) { s.hooks = h }
}

func WithServerLogger(l Logger) ServerOption {
	return func(s *Server) { s.logger = orNop(l) }
}

func WithServerMetrics(m *Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

func WithTracer(t trace.Tracer) ServerOption {
	return func(s *Server) { s.tracer = t }
}

// WithBaseContext sets the parent of every per-connection context.
func WithBaseContext(ctx context.Context) ServerOption {
	return func(s *Server) { s.baseCtx = ctx }
}

// Server binds sockets of a namespace to handlers, validating every inbound
// client message and RPC against its Schema.
type Server struct {
	schema  *Schema
	accept  AcceptFunc
	config  ServerConfig
	hooks   Hooks
	logger  Logger
	metrics *Metrics
	tracer  trace.Tracer
	baseCtx context.Context

	statesMu sync.RWMutex
	states   map[string]State

	inflight sync.WaitGroup
}

func NewServer(schema *Schema, accept AcceptFunc, opts ...ServerOption) *Server {
	s := &Server{
		schema:  schema,
		accept:  accept,
		config:  DefaultServerConfig(),
		logger:  NopLogger(),
		baseCtx: context.Background(),
		states:  make(map[string]State),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	s.logger = s.logger.WithField("type", "wsrpc_server")
	return s
}

// Listen binds every socket ns accepts from now on.
func (s *Server) Listen(ns Namespace) {
	ns.OnConnection(func(sock Socket) {
		s.Bind(sock)
	})
}

// State returns the lifecycle stage of the connection with the given id. Closed
// connections are forgotten.
func (s *Server) State(id string) (State, bool) {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()

	st, ok := s.states[id]
	return st, ok
}

// Wait blocks until every handler operation queued so far has returned.
func (s *Server) Wait() {
	s.inflight.Wait()
}

func (s *Server) setState(id string, st State) {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()

	if st == StateClosed {
		delete(s.states, id)
		return
	}
	s.states[id] = st
}

// Bind runs the accept hook for sock and subscribes the handler's operations. It
// returns the state the connection ended up in: StateBound or StateClosed when
// refused.
func (s *Server) Bind(sock Socket) State {
	id := sock.ID()
	logger := s.logger.WithField("socket", id)

	s.setState(id, StateConnecting)

	handler := s.safeAccept(sock, logger)
	if handler == nil {
		s.setState(id, StateRejected)
		s.metrics.rejected()
		logger.Debugf("connection refused")
		sock.Disconnect()
		s.setState(id, StateClosed)
		return StateClosed
	}

	s.setState(id, StateAccepted)
	s.metrics.accepted()

	ctx, cancel := context.WithCancel(s.baseCtx)
	queue := &invocationQueue{}
	sock.On(EventDisconnect, func(args []any, _ Ack) {
		cancel()
		s.setState(id, StateClosed)
		s.metrics.closed()
		logger.Debugf("connection closed: %v", args)
	})

	routes := handler.Routes()

	for _, name := range sortedKeys(s.schema.ClientMessages) {
		name := name
		route, ok := s.lookupRoute(routes, name, CategoryClientMessage, logger)
		if !ok {
			continue
		}
		validator := s.schema.ClientMessages[name]
		sock.On(name, s.guard(sock, name, func(args []any, ack Ack) {
			s.handleClientMessage(ctx, queue, sock, route, validator, Event{Name: name, Args: args, Ack: ack})
		}))
	}

	for _, name := range sortedKeys(s.schema.ClientRPCs) {
		name := name
		route, ok := s.lookupRoute(routes, name, CategoryClientRPC, logger)
		if !ok {
			continue
		}
		validator := s.schema.ClientRPCs[name].Request
		sock.On(name, s.guard(sock, name, func(args []any, ack Ack) {
			s.handleClientRPC(ctx, queue, sock, route, validator, Event{Name: name, Args: args, Ack: ack})
		}))
	}

	for _, name := range sortedKeys(routes) {
		if cat, ok := s.schema.Lookup(name); !ok || cat == CategoryServerMessage {
			logger.Warnf("handler operation %s is not a client message nor a client RPC of the schema", name)
		}
	}

	s.setState(id, StateBound)
	return StateBound
}

func (s *Server) safeAccept(sock Socket, logger Logger) (h Handler) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("accept hook panicked, refusing connection: %v", r)
			h = nil
		}
	}()
	if s.accept == nil {
		return nil
	}
	return s.accept(sock)
}

func (s *Server) lookupRoute(routes Routes, name string, category Category, logger Logger) (Route, bool) {
	route, ok := routes[name]
	if ok && route.Valid() && route.category == category {
		return route, true
	}

	s.metrics.missing(name)
	if ok && route.category != category {
		logger.Warnf("handler operation for %s is a %s, the schema declares a %s", name, route.category, category)
		return Route{}, false
	}
	if !s.config.AllowMissingHandlers {
		logger.Warnf("No handler for %s", name)
	}
	return Route{}, false
}

// guard keeps a fault raised while dispatching one event from reaching the socket.
func (s *Server) guard(sock Socket, name string, listener EventListener) EventListener {
	return func(args []any, ack Ack) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.WithField("socket", sock.ID()).Errorf("%s: dispatch failed: %v", name, r)
			}
		}()
		listener(args, ack)
	}
}

func (s *Server) handleClientMessage(ctx context.Context, queue *invocationQueue, sock Socket, route Route, validator Validator, ev Event) {
	if n := ev.arity(); n != 1 {
		s.metrics.event(CategoryClientMessage, ev.Name, OutcomeArityError)
		s.clientMessageTypeError(sock, ev.Name, fmt.Sprintf("Invalid argument: passed %d, expected 1", n))
		return
	}
	if ev.Ack != nil {
		// The only argument is a callback, which no payload shape accepts.
		s.metrics.event(CategoryClientMessage, ev.Name, OutcomeTypeError)
		s.clientMessageTypeError(sock, ev.Name,
			fmt.Sprintf("Type Error: Invalid value <callback> supplied to %s: expected %s", shape.Root, validatorName(validator)))
		return
	}

	res := Validate(validator, ev.Args[0])
	if !res.OK {
		s.metrics.event(CategoryClientMessage, ev.Name, OutcomeTypeError)
		s.clientMessageTypeError(sock, ev.Name, "Type Error: "+res.Diagnostics)
		return
	}

	s.enqueue(queue, func() {
		if _, err := s.invoke(ctx, sock, route, res.Value); err != nil {
			s.metrics.event(CategoryClientMessage, ev.Name, OutcomeHandlerFault)
			s.logger.WithField("socket", sock.ID()).Errorf("%s: %s", ev.Name, err)
			return
		}
		s.metrics.event(CategoryClientMessage, ev.Name, OutcomeOK)
	})
}

func (s *Server) enqueue(queue *invocationQueue, job func()) {
	s.inflight.Add(1)
	queue.submit(func() {
		defer s.inflight.Done()
		job()
	})
}

func validatorName(v Validator) string {
	if v == nil {
		return "any"
	}
	return v.Name()
}

// invoke runs the route's operation inside a span. Panics become errors.
func (s *Server) invoke(ctx context.Context, sock Socket, route Route, value any) (result any, err error) {
	ctx, span := s.tracer.Start(ctx, route.category.String()+" "+route.name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("wsrpc.socket", sock.ID()),
			attribute.String("wsrpc.message", route.name),
		),
	)
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = wrapPanic(r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.metrics.handled(route.category, route.name, started)
	}()

	return route.invoke(ctx, value)
}

func (s *Server) clientMessageTypeError(sock Socket, name, diagnostic string) {
	if s.hooks.OnClientMessageTypeError != nil {
		s.hooks.OnClientMessageTypeError(sock, name, diagnostic)
		return
	}
	s.logger.Errorf("%s: %s: %s", sock.ID(), name, diagnostic)
}

func (s *Server) clientRPCTypeError(sock Socket, name, diagnostic string) any {
	if s.hooks.OnClientRPCTypeError != nil {
		return s.hooks.OnClientRPCTypeError(sock, name, diagnostic)
	}
	return name + ": " + diagnostic
}

func (s *Server) clientRPCRejection(sock Socket, name string, err error) any {
	if s.hooks.OnClientRPCRejection != nil {
		return s.hooks.OnClientRPCRejection(sock, name, err)
	}
	return err
}
