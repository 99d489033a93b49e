package wsrpc

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// MemoryNamespace is an in-process Namespace. Clients created with NewClient
// connect to it without any network; arguments still go through the wire codec.
type MemoryNamespace struct {
	logger      Logger
	connections *EventEmitter[string, Socket]

	mu      sync.Mutex
	sockets map[string]*memorySocket
	closed  bool
}

func NewMemoryNamespace(logger Logger) *MemoryNamespace {
	return &MemoryNamespace{
		logger:      orNop(logger).WithField("net", "memory"),
		connections: NewEventEmitter[string, Socket](),
		sockets:     make(map[string]*memorySocket),
	}
}

func (n *MemoryNamespace) OnConnection(fn func(Socket)) {
	n.connections.On(EventConnection, fn)
}

// Emit broadcasts to every connected socket.
func (n *MemoryNamespace) Emit(event string, args ...any) error {
	n.mu.Lock()
	targets := make([]*memorySocket, 0, len(n.sockets))
	for _, s := range n.sockets {
		targets = append(targets, s)
	}
	n.mu.Unlock()

	var firstErr error
	for _, s := range targets {
		if err := s.Emit(event, args...); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Sockets returns the number of server side sockets currently connected.
func (n *MemoryNamespace) Sockets() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.sockets)
}

// Close refuses further connections and disconnects every socket.
func (n *MemoryNamespace) Close() {
	n.mu.Lock()
	n.closed = true
	targets := make([]*memorySocket, 0, len(n.sockets))
	for _, s := range n.sockets {
		targets = append(targets, s)
	}
	n.mu.Unlock()

	for _, s := range targets {
		s.Disconnect()
	}
}

// NewClient returns a disconnected client socket bound to n.
func (n *MemoryNamespace) NewClient() *MemoryClientSocket {
	return &MemoryClientSocket{
		memorySocket: newMemorySocket(n.logger, ReasonClientDisconnect, ReasonServerDisconnect),
		ns:           n,
	}
}

func (n *MemoryNamespace) accept(client *memorySocket) error {
	server := newMemorySocket(n.logger, ReasonServerNamespaceDisconnect, ReasonClientNamespaceDisconnect)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return errors.Wrap(ErrCannotConnect, "namespace closed")
	}
	n.sockets[server.id] = server
	n.mu.Unlock()

	link(server, client)
	server.On(EventDisconnect, func([]any, Ack) {
		n.mu.Lock()
		delete(n.sockets, server.id)
		n.mu.Unlock()
	})

	// Listeners are bound before the client can emit anything.
	n.connections.Emit(EventConnection, server)
	return nil
}

// memorySocket is one end of an in-process connection.
type memorySocket struct {
	id        string
	logger    Logger
	listeners *EventEmitter[string, Event]

	// localReason is emitted when this end disconnects, peerReason when the other does.
	localReason string
	peerReason  string

	mu        sync.Mutex
	peer      *memorySocket
	connected bool
}

func newMemorySocket(logger Logger, localReason, peerReason string) *memorySocket {
	id := NewSocketID()
	return &memorySocket{
		id:          id,
		logger:      logger.WithField("socket", id),
		listeners:   NewEventEmitter[string, Event](),
		localReason: localReason,
		peerReason:  peerReason,
	}
}

func link(a, b *memorySocket) {
	a.mu.Lock()
	a.peer, a.connected = b, true
	a.mu.Unlock()

	b.mu.Lock()
	b.peer, b.connected = a, true
	b.mu.Unlock()
}

func (s *memorySocket) ID() string { return s.id }

func (s *memorySocket) On(event string, listener EventListener) {
	s.listeners.On(event, func(e Event) { listener(e.Args, e.Ack) })
}

func (s *memorySocket) RemoveAllListeners() {
	s.listeners.Close()
}

func (s *memorySocket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connected
}

func (s *memorySocket) Emit(event string, args ...any) error {
	return s.send(event, nil, args)
}

func (s *memorySocket) EmitWithAck(event string, ack Ack, args ...any) error {
	if ack == nil {
		return errors.Wrap(ErrMissingCallback, event)
	}
	return s.send(event, ack, args)
}

func (s *memorySocket) send(event string, ack Ack, args []any) error {
	s.mu.Lock()
	peer, connected := s.peer, s.connected
	s.mu.Unlock()

	if !connected || peer == nil {
		return errors.Wrap(ErrNotConnected, event)
	}

	wire, err := transcode(args)
	if err != nil {
		return err
	}

	var remoteAck Ack
	if ack != nil {
		remoteAck = func(replyArgs ...any) {
			back, err := transcode(replyArgs)
			if err != nil {
				s.logger.Errorf("cannot deliver reply to %s: %s", event, err)
				return
			}
			ack(back...)
		}
	}

	s.logger.Debugf("=> [EVENT] %s", event)
	peer.listeners.Emit(event, Event{Name: event, Args: wire, Ack: remoteAck})
	return nil
}

func (s *memorySocket) Disconnect() {
	s.drop(s.localReason, true)
}

// drop tears the link down once, reporting localReason here and the peer's own
// reason on the other end (or reason on both ends when transport is set).
func (s *memorySocket) drop(reason string, announce bool) {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return
	}
	peer := s.peer
	s.connected, s.peer = false, nil
	s.mu.Unlock()

	peerReason := ReasonTransportClose
	if peer != nil {
		peer.mu.Lock()
		wasConnected := peer.connected
		peer.connected, peer.peer = false, nil
		peer.mu.Unlock()
		if announce {
			peerReason = peer.peerReason
		}
		if wasConnected {
			defer peer.listeners.Emit(EventDisconnect, Event{Name: EventDisconnect, Args: []any{peerReason}})
		}
	}

	s.listeners.Emit(EventDisconnect, Event{Name: EventDisconnect, Args: []any{reason}})
}

// MemoryClientSocket is the client end of a MemoryNamespace connection.
type MemoryClientSocket struct {
	*memorySocket
	ns *MemoryNamespace
}

// Connect links the socket to a fresh server side socket. The accept hook runs
// before Connect returns.
func (c *MemoryClientSocket) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.Connected() {
		return nil
	}
	if err := c.ns.accept(c.memorySocket); err != nil {
		c.listeners.Emit(EventConnectError, Event{Name: EventConnectError, Args: []any{err.Error()}})
		return err
	}
	if c.Connected() {
		c.listeners.Emit(EventConnect, Event{Name: EventConnect})
	}
	return nil
}

// DropTransport simulates a lost connection: both ends see "transport close".
func (c *MemoryClientSocket) DropTransport() {
	c.drop(ReasonTransportClose, false)
}
