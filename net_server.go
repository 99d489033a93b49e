package wsrpc

import (
	"context"
	"net/http"
	"sync"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
)

type (
	// WebsocketNamespace upgrades HTTP requests to websocket sockets and announces
	// them to its connection listeners. It implements Namespace and Broadcaster.
	WebsocketNamespace struct {
		upgrader    websocket.Upgrader
		logger      Logger
		keepAlive   KeepAlive
		ctx         context.Context
		connections *EventEmitter[string, Socket]

		mu      sync.RWMutex
		sockets map[string]*websocketServerSocket
	}

	WebsocketNamespaceOption func(*WebsocketNamespace)
)

func WithUpgrader(u websocket.Upgrader) WebsocketNamespaceOption {
	return func(n *WebsocketNamespace) { n.upgrader = u }
}

// WithNamespaceKeepAlive enables pings and the idle timeout on every accepted socket.
func WithNamespaceKeepAlive(k KeepAlive) WebsocketNamespaceOption {
	return func(n *WebsocketNamespace) { n.keepAlive = k }
}

// NewWebsocketNamespace returns a namespace whose sockets end when ctx is done.
func NewWebsocketNamespace(ctx context.Context, logger Logger, opts ...WebsocketNamespaceOption) *WebsocketNamespace {
	n := &WebsocketNamespace{
		logger:      orNop(logger).WithField("net", "ws_namespace"),
		ctx:         ctx,
		connections: NewEventEmitter[string, Socket](),
		sockets:     make(map[string]*websocketServerSocket),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *WebsocketNamespace) OnConnection(fn func(Socket)) {
	n.connections.On(EventConnection, fn)
}

// ServeHTTP upgrades the request and serves the socket until it disconnects.
func (n *WebsocketNamespace) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.logger.Warnf("cannot upgrade connection from %s: %s", r.RemoteAddr, err)
		return
	}

	sock := &websocketServerSocket{
		id:        NewSocketID(),
		listeners: NewEventEmitter[string, Event](),
	}
	sock.conn = newWsConn(conn, n.logger.WithField("socket", sock.id), n.keepAlive,
		ReasonClientNamespaceDisconnect,
		func(e Event) { sock.listeners.Emit(e.Name, e) },
		func(reason string) { n.remove(sock, reason) },
	)

	n.mu.Lock()
	n.sockets[sock.id] = sock
	n.mu.Unlock()

	// Listeners are bound before the first frame is read.
	n.connections.Emit(EventConnection, sock)
	if !sock.Connected() {
		return
	}

	sock.conn.start(n.ctx)
	<-sock.conn.CloseChan()
}

func (n *WebsocketNamespace) remove(sock *websocketServerSocket, reason string) {
	n.mu.Lock()
	delete(n.sockets, sock.id)
	n.mu.Unlock()

	n.logger.Debugf("socket %s closed: %s", sock.id, reason)
	sock.listeners.Emit(EventDisconnect, Event{Name: EventDisconnect, Args: []any{reason}})
}

// Emit broadcasts to every connected socket.
func (n *WebsocketNamespace) Emit(event string, args ...any) error {
	n.mu.RLock()
	targets := make([]*websocketServerSocket, 0, len(n.sockets))
	for _, s := range n.sockets {
		targets = append(targets, s)
	}
	n.mu.RUnlock()

	var firstErr error
	for _, s := range targets {
		if err := s.Emit(event, args...); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Sockets returns the number of connected sockets.
func (n *WebsocketNamespace) Sockets() int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return len(n.sockets)
}

type websocketServerSocket struct {
	id        string
	conn      *wsConn
	listeners *EventEmitter[string, Event]
}

func (s *websocketServerSocket) ID() string { return s.id }

func (s *websocketServerSocket) On(event string, listener EventListener) {
	s.listeners.On(event, func(e Event) { listener(e.Args, e.Ack) })
}

func (s *websocketServerSocket) RemoveAllListeners() {
	s.listeners.Close()
}

func (s *websocketServerSocket) Connected() bool {
	return !s.conn.closed()
}

func (s *websocketServerSocket) Emit(event string, args ...any) error {
	return s.conn.emit(event, nil, args)
}

func (s *websocketServerSocket) EmitWithAck(event string, ack Ack, args ...any) error {
	if ack == nil {
		return errors.Wrap(ErrMissingCallback, event)
	}
	return s.conn.emit(event, ack, args)
}

// Disconnect tells the client the server ended the session, then closes.
func (s *websocketServerSocket) Disconnect() {
	if s.conn.closed() {
		return
	}
	s.conn.disconnect(ReasonServerNamespaceDisconnect)
}
