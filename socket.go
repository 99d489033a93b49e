package wsrpc

import "context"

// Disconnect reasons delivered as the single argument of the local "disconnect" event.
const (
	// ReasonServerDisconnect is seen by a client when the server deliberately ended the session.
	ReasonServerDisconnect = "io server disconnect"
	// ReasonClientDisconnect is seen by a client that called Disconnect itself.
	ReasonClientDisconnect = "io client disconnect"
	// ReasonTransportClose means the underlying connection was lost.
	ReasonTransportClose = "transport close"
	// ReasonServerNamespaceDisconnect is seen by a server socket that called Disconnect.
	ReasonServerNamespaceDisconnect = "server namespace disconnect"
	// ReasonClientNamespaceDisconnect is seen by a server socket whose client left.
	ReasonClientNamespaceDisconnect = "client namespace disconnect"
)

// Local pseudo-events, emitted by the socket itself rather than by the peer.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventError        = "error"
	EventConnectError = "connect_error"
	EventConnection   = "connection"
)

type (
	// Ack is the reply continuation attached to an inbound event. A nil Ack means the
	// peer expects no reply.
	Ack func(args ...any)

	// EventListener receives the positional arguments of an event and its Ack, if any.
	EventListener func(args []any, ack Ack)

	// Event is an inbound named event.
	Event struct {
		Name string
		Args []any
		Ack  Ack
	}

	// Socket is one side of a bidirectional, event based connection.
	Socket interface {
		ID() string
		On(event string, listener EventListener)
		RemoveAllListeners()
		// Emit sends a named event expecting no reply.
		Emit(event string, args ...any) error
		// EmitWithAck sends a named event and registers ack as its reply callback.
		EmitWithAck(event string, ack Ack, args ...any) error
		Disconnect()
		Connected() bool
	}

	// ClientSocket is a Socket that can (re)establish its connection.
	ClientSocket interface {
		Socket
		Connect(ctx context.Context) error
	}

	// Namespace announces accepted sockets.
	Namespace interface {
		OnConnection(fn func(Socket))
	}

	// Broadcaster emits an event to every socket of a namespace.
	Broadcaster interface {
		Emit(event string, args ...any) error
	}

	CloseChan chan struct{}
)

// arity counts the positional arguments of an event the way the peer sent them,
// the reply callback included.
func (e Event) arity() int {
	if e.Ack != nil {
		return len(e.Args) + 1
	}
	return len(e.Args)
}
