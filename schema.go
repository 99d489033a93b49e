package wsrpc

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/sonirico/wsrpc/shape"
)

type Category uint8

const (
	// CategoryServerMessage is a server to client notification.
	CategoryServerMessage Category = iota + 1
	// CategoryClientMessage is a client to server notification.
	CategoryClientMessage
	// CategoryClientRPC is a client to server call expecting exactly one reply.
	CategoryClientRPC
	// CategoryGeneral are the pseudo-events every client socket emits locally.
	CategoryGeneral
)

func (c Category) String() string {
	switch c {
	case CategoryServerMessage:
		return "server_message"
	case CategoryClientMessage:
		return "client_message"
	case CategoryClientRPC:
		return "client_rpc"
	case CategoryGeneral:
		return "general"
	default:
		return fmt.Sprintf("category(%d)", uint8(c))
	}
}

// Entry is a message definition that can be part of a Schema.
type Entry interface {
	Name() string
	Category() Category
}

// RPCShape holds the request and response validators of a client RPC.
type RPCShape struct {
	Request  Validator
	Response Validator
}

// Schema declares every message a namespace exchanges. A name belongs to exactly
// one of the three maps.
type Schema struct {
	ServerMessages map[string]Validator
	ClientMessages map[string]Validator
	ClientRPCs     map[string]RPCShape
}

// NewSchema collects the given definitions.
func NewSchema(entries ...Entry) (*Schema, error) {
	s := &Schema{
		ServerMessages: make(map[string]Validator),
		ClientMessages: make(map[string]Validator),
		ClientRPCs:     make(map[string]RPCShape),
	}
	for _, e := range entries {
		if err := s.add(e); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on error. Meant for package level schemas.
func MustSchema(entries ...Entry) *Schema {
	s, err := NewSchema(entries...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) add(e Entry) error {
	name := e.Name()
	if name == "" {
		return errors.New("message name cannot be empty")
	}
	if s.Has(name) {
		return errors.Wrap(ErrDuplicateMessage, name)
	}

	switch def := e.(type) {
	case interface{ validator() Validator }:
		switch e.Category() {
		case CategoryServerMessage:
			s.ServerMessages[name] = def.validator()
		case CategoryClientMessage:
			s.ClientMessages[name] = def.validator()
		default:
			return errors.Errorf("%s: %s cannot be declared in a schema", name, e.Category())
		}
	case interface{ shapes() RPCShape }:
		s.ClientRPCs[name] = def.shapes()
	default:
		return errors.Errorf("%s: unsupported entry %T", name, e)
	}
	return nil
}

// Has reports whether name is declared in any category.
func (s *Schema) Has(name string) bool {
	_, ok := s.Lookup(name)
	return ok
}

// Lookup returns the category name belongs to.
func (s *Schema) Lookup(name string) (Category, bool) {
	if _, ok := s.ServerMessages[name]; ok {
		return CategoryServerMessage, true
	}
	if _, ok := s.ClientMessages[name]; ok {
		return CategoryClientMessage, true
	}
	if _, ok := s.ClientRPCs[name]; ok {
		return CategoryClientRPC, true
	}
	return 0, false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Notification is a one-way message definition carrying a T.
type Notification[T any] struct {
	name     string
	category Category
	payload  shape.Shape[T]
}

// ServerMessage declares a server to client notification.
func ServerMessage[T any](name string, payload shape.Shape[T]) Notification[T] {
	return Notification[T]{name: name, category: CategoryServerMessage, payload: payload}
}

// ClientMessage declares a client to server notification.
func ClientMessage[T any](name string, payload shape.Shape[T]) Notification[T] {
	return Notification[T]{name: name, category: CategoryClientMessage, payload: payload}
}

func (n Notification[T]) Name() string            { return n.name }
func (n Notification[T]) Category() Category      { return n.category }
func (n Notification[T]) Payload() shape.Shape[T] { return n.payload }
func (n Notification[T]) validator() Validator    { return ValidatorOf(n.payload) }

// Handle binds fn as the receiver of this notification.
func (n Notification[T]) Handle(fn func(ctx context.Context, msg T) error) Route {
	if fn == nil {
		return Route{name: n.name, category: n.category}
	}
	return Route{
		name:      n.name,
		category:  n.category,
		validator: n.validator(),
		invoke: func(ctx context.Context, value any) (any, error) {
			msg, ok := value.(T)
			if !ok && value != nil {
				return nil, errors.Errorf("%s: unexpected payload type %T", n.name, value)
			}
			return nil, fn(ctx, msg)
		},
	}
}

// Emit sends msg to the peer of sock.
func (n Notification[T]) Emit(sock Socket, msg T) error {
	return sock.Emit(n.name, msg)
}

// Broadcast sends msg to every socket of b.
func (n Notification[T]) Broadcast(b Broadcaster, msg T) error {
	return b.Emit(n.name, msg)
}

// RPC is a client to server call definition.
type RPC[Req, Res any] struct {
	name     string
	request  shape.Shape[Req]
	response shape.Shape[Res]
}

// ClientRPC declares a client to server call.
func ClientRPC[Req, Res any](name string, request shape.Shape[Req], response shape.Shape[Res]) RPC[Req, Res] {
	return RPC[Req, Res]{name: name, request: request, response: response}
}

func (r RPC[Req, Res]) Name() string               { return r.name }
func (r RPC[Req, Res]) Category() Category         { return CategoryClientRPC }
func (r RPC[Req, Res]) Request() shape.Shape[Req]  { return r.request }
func (r RPC[Req, Res]) Response() shape.Shape[Res] { return r.response }
func (r RPC[Req, Res]) shapes() RPCShape {
	return RPCShape{Request: ValidatorOf(r.request), Response: ValidatorOf(r.response)}
}

// Handle binds fn as the implementation of this call.
func (r RPC[Req, Res]) Handle(fn func(ctx context.Context, req Req) (Res, error)) Route {
	if fn == nil {
		return Route{name: r.name, category: CategoryClientRPC}
	}
	return Route{
		name:      r.name,
		category:  CategoryClientRPC,
		validator: ValidatorOf(r.request),
		invoke: func(ctx context.Context, value any) (any, error) {
			req, ok := value.(Req)
			if !ok && value != nil {
				return nil, errors.Errorf("%s: unexpected request type %T", r.name, value)
			}
			return fn(ctx, req)
		},
	}
}

// Call performs the RPC through c and decodes the result with the response shape.
func (r RPC[Req, Res]) Call(ctx context.Context, c *Caller, req Req) (Res, error) {
	var zero Res

	raw, err := c.EmitAsync(ctx, r.name, req)
	if err != nil {
		return zero, err
	}

	res, violations := shape.Decode(r.response, raw)
	if len(violations) > 0 {
		return zero, &TypeError{Name: r.name, Diagnostics: violations.String()}
	}
	return res, nil
}

// Route is a handler operation bound to a message name. Routes are only created
// through Notification.Handle and RPC.Handle.
type Route struct {
	name      string
	category  Category
	validator Validator
	invoke    func(ctx context.Context, value any) (any, error)
}

func (r Route) Name() string       { return r.name }
func (r Route) Category() Category { return r.category }

// Valid reports whether the route has an operation to invoke.
func (r Route) Valid() bool { return r.invoke != nil }

// Routes maps message names to their operations.
type Routes map[string]Route

// NewRoutes indexes routes by name. A later route replaces an earlier one with
// the same name.
func NewRoutes(routes ...Route) Routes {
	out := make(Routes, len(routes))
	for _, r := range routes {
		out[r.name] = r
	}
	return out
}

// Handler is the per-connection object serving client messages and RPCs.
type Handler interface {
	Routes() Routes
}

// HandlerFunc adapts a function returning routes to Handler.
type HandlerFunc func() Routes

func (f HandlerFunc) Routes() Routes { return f() }
