package wsrpc

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
)

type (
	openConnectionParamsRepo interface {
		Get(ctx context.Context) (OpenConnectionParams, error)
	}

	OpenConnectionParams struct {
		URL    url.URL
		Header http.Header
	}

	ErrAdapter func(*websocket.Conn, *http.Response, error) error

	ErrorAdapters struct {
		OnDial ErrAdapter
	}

	outgoing struct {
		data []byte
		// closeAfter ends the connection once data has been written.
		closeAfter bool
	}

	// wsConn runs the read and write loops of one websocket connection, encoding
	// events, acks and disconnects as frames.
	wsConn struct {
		conn      *websocket.Conn
		logger    Logger
		keepAlive KeepAlive
		send      chan outgoing
		closeChan CloseChan
		closeOnce sync.Once
		started   atomic.Bool

		closeReason     string
		closeReasonOnce sync.Once
		// peerReason is reported when the peer sends a disconnect frame.
		peerReason string

		ackSeq atomic.Uint64
		acksMu sync.Mutex
		acks   map[uint64]Ack

		onEvent func(e Event)
		onClose func(reason string)
	}
)

var (
	NoopOpenConnectionParams = OpenConnectionParams{}
)

func newWsConn(
	conn *websocket.Conn,
	logger Logger,
	keepAlive KeepAlive,
	peerReason string,
	onEvent func(Event),
	onClose func(string),
) *wsConn {
	return &wsConn{
		conn:       conn,
		logger:     logger.WithField("net", "ws_connection"),
		keepAlive:  keepAlive,
		peerReason: peerReason,
		send:       make(chan outgoing, 32),
		closeChan:  make(CloseChan),
		acks:       make(map[uint64]Ack),
		onEvent:    onEvent,
		onClose:    onClose,
	}
}

func (w *wsConn) start(ctx context.Context) {
	w.started.Store(true)
	w.keepAlive.install(w.conn, w.logger)
	go w.read(ctx)
	go w.write(ctx)
}

// CloseChan returns a channel that will be closed when the connection is closed.
func (w *wsConn) CloseChan() CloseChan {
	return w.closeChan
}

func (w *wsConn) closed() bool {
	select {
	case <-w.closeChan:
		return true
	default:
		return false
	}
}

func (w *wsConn) emit(name string, ack Ack, args []any) error {
	f := Frame{Type: EventFrame, Name: name, Args: args}
	if ack != nil {
		f.Ack = w.ackSeq.Add(1)
		w.acksMu.Lock()
		w.acks[f.Ack] = ack
		w.acksMu.Unlock()
	}
	if err := w.enqueue(f, false); err != nil {
		if ack != nil {
			w.takeAck(f.Ack)
		}
		return err
	}
	return nil
}

func (w *wsConn) enqueue(f Frame, closeAfter bool) error {
	bts, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	select {
	case <-w.closeChan:
		return errors.Wrap(ErrConnectionClosed, f.Name)
	case w.send <- outgoing{data: bts, closeAfter: closeAfter}:
		return nil
	}
}

// disconnect announces the end of the session to the peer, then closes.
func (w *wsConn) disconnect(reason string) {
	w.setCloseReason(reason)
	if !w.started.Load() {
		if bts, err := EncodeFrame(Frame{Type: DisconnectFrame}); err == nil {
			_ = w.conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = w.conn.WriteMessage(websocket.TextMessage, bts)
		}
		w.safeClose()
		return
	}
	if err := w.enqueue(Frame{Type: DisconnectFrame}, true); err != nil {
		w.safeClose()
	}
}

func (w *wsConn) takeAck(id uint64) Ack {
	w.acksMu.Lock()
	defer w.acksMu.Unlock()

	ack := w.acks[id]
	delete(w.acks, id)
	return ack
}

func (w *wsConn) replier(id uint64) Ack {
	return func(args ...any) {
		if err := w.enqueue(Frame{Type: AckFrame, Ack: id, Args: args}, false); err != nil {
			w.logger.Errorf("cannot send ack %d: %s", id, err)
		}
	}
}

func (w *wsConn) read(ctx context.Context) {
	defer w.safeClose()

	for {
		select {
		case <-w.closeChan:
			return
		case <-ctx.Done():
			w.setCloseReason(ReasonTransportClose)
			return
		default:
			_, bts, err := w.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					w.logger.Errorf("error occurred on websocket read: %s", err)
				}
				w.setCloseReason(ReasonTransportClose)
				return
			}
			w.keepAlive.touch(w.conn)

			f, err := DecodeFrame(bts)
			if err != nil {
				w.logger.Warnf("dropping frame: %s", err)
				continue
			}

			switch f.Type {
			case EventFrame:
				w.logger.Debugf("<= [EVENT] %s", f.Name)
				var ack Ack
				if f.Ack != 0 {
					ack = w.replier(f.Ack)
				}
				w.onEvent(Event{Name: f.Name, Args: f.Args, Ack: ack})
			case AckFrame:
				w.logger.Debugf("<= [ACK] %d", f.Ack)
				if ack := w.takeAck(f.Ack); ack != nil {
					ack(f.Args...)
				} else {
					w.logger.Warnf("ack %d matches no pending call", f.Ack)
				}
			case DisconnectFrame:
				w.logger.Debugln("<= [DISCONNECT]")
				w.setCloseReason(w.peerReason)
				return
			}
		}
	}
}

func (w *wsConn) write(ctx context.Context) {
	defer w.safeClose()

	pings, stop := w.keepAlive.pinger()
	defer stop()

	for {
		select {
		case <-w.closeChan:
			return
		case <-ctx.Done():
			w.setCloseReason(ReasonTransportClose)
			return
		case <-pings:
			if err := w.keepAlive.ping(w.conn); err != nil {
				w.logger.Errorf("cannot ping: %s", err)
				w.setCloseReason(ReasonTransportClose)
				return
			}
		case msg := <-w.send:
			_ = w.conn.SetWriteDeadline(time.Now().Add(time.Second))

			if err := w.conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
				w.logger.Errorf("error occurred on websocket write: %s", err)
				w.setCloseReason(ReasonTransportClose)
				return
			}
			w.logger.Debugf("=> %s", msg.data)

			if msg.closeAfter {
				_ = w.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second),
				)
				return
			}
		}
	}
}

func (w *wsConn) safeClose() {
	w.closeOnce.Do(w.close)
}

func (w *wsConn) close() {
	w.setCloseReason(ReasonTransportClose)
	close(w.closeChan)
	_ = w.conn.Close()

	w.acksMu.Lock()
	w.acks = make(map[uint64]Ack)
	w.acksMu.Unlock()

	w.onClose(w.closeReason)
}

func (w *wsConn) setCloseReason(reason string) {
	w.closeReasonOnce.Do(func() {
		w.closeReason = reason
	})
}

// WebsocketClientSocket is a ClientSocket over a websocket dialed with the params
// of an OpenConnectionParamsRepo. Listeners survive reconnections.
type WebsocketClientSocket struct {
	errAdapters              ErrorAdapters
	openConnectionParamsRepo openConnectionParamsRepo
	dialer                   *websocket.Dialer
	logger                   Logger
	keepAlive                KeepAlive
	listeners                *EventEmitter[string, Event]

	mu   sync.RWMutex
	id   string
	conn *wsConn
	// closeC, when set, is closed by the connection's read or write loop exit.
	closeC CloseChan
}

type WebsocketClientOption func(*WebsocketClientSocket)

// WithKeepAlive enables pings and the idle timeout on every dialed connection.
func WithKeepAlive(k KeepAlive) WebsocketClientOption {
	return func(s *WebsocketClientSocket) { s.keepAlive = k }
}

func WithErrorAdapters(adapters ErrorAdapters) WebsocketClientOption {
	return func(s *WebsocketClientSocket) { s.errAdapters = adapters }
}

func NewWebsocketClientSocket(
	dialer *websocket.Dialer,
	openParamsRepo OpenConnectionParamsRepo,
	logger Logger,
	opts ...WebsocketClientOption,
) *WebsocketClientSocket {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	s := &WebsocketClientSocket{
		dialer:                   dialer,
		openConnectionParamsRepo: openParamsRepo,
		logger:                   orNop(logger).WithField("net", "ws_client"),
		listeners:                NewEventEmitter[string, Event](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *WebsocketClientSocket) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.id
}

func (s *WebsocketClientSocket) On(event string, listener EventListener) {
	s.listeners.On(event, func(e Event) { listener(e.Args, e.Ack) })
}

func (s *WebsocketClientSocket) RemoveAllListeners() {
	s.listeners.Close()
}

func (s *WebsocketClientSocket) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.conn != nil && !s.conn.closed()
}

// CloseChan returns a channel closed when the current connection ends, or nil
// when not connected.
func (s *WebsocketClientSocket) CloseChan() CloseChan {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.closeC
}

// Connect dials the server. It blocks until the handshake completes or fails.
func (s *WebsocketClientSocket) Connect(ctx context.Context) error {
	if s.Connected() {
		return nil
	}

	p, err := s.openConnectionParamsRepo.Get(ctx)
	if err != nil {
		s.logger.Errorf("cannot get connection params due to %s: ", err)
		return err
	}

	conn, resp, err := s.dialer.DialContext(ctx, p.URL.String(), p.Header)
	if err = s.handleDialError(conn, resp, err); err != nil {
		s.logger.Errorf("connection err to %s: %s", p.URL.String(), err)
		s.listeners.Emit(EventConnectError, Event{Name: EventConnectError, Args: []any{err.Error()}})
		return err
	}

	s.logger.Debugf("success opening connection to %s", p.URL.String())

	var wc *wsConn
	wc = newWsConn(conn, s.logger, s.keepAlive, ReasonServerDisconnect,
		func(e Event) { s.listeners.Emit(e.Name, e) },
		func(reason string) { s.onClose(wc, reason) },
	)

	s.mu.Lock()
	s.id = NewSocketID()
	s.conn = wc
	s.closeC = wc.CloseChan()
	s.mu.Unlock()

	// The connection outlives the dial context.
	wc.start(context.WithoutCancel(ctx))
	s.listeners.Emit(EventConnect, Event{Name: EventConnect})
	return nil
}

func (s *WebsocketClientSocket) onClose(wc *wsConn, reason string) {
	s.mu.Lock()
	if s.conn == wc {
		s.conn = nil
	}
	s.mu.Unlock()

	s.logger.Infof("disconnected: %s", reason)
	s.listeners.Emit(EventDisconnect, Event{Name: EventDisconnect, Args: []any{reason}})
}

func (s *WebsocketClientSocket) current() (*wsConn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return nil, ErrNotConnected
	}
	return s.conn, nil
}

func (s *WebsocketClientSocket) Emit(event string, args ...any) error {
	wc, err := s.current()
	if err != nil {
		return errors.Wrap(err, event)
	}
	return wc.emit(event, nil, args)
}

func (s *WebsocketClientSocket) EmitWithAck(event string, ack Ack, args ...any) error {
	if ack == nil {
		return errors.Wrap(ErrMissingCallback, event)
	}
	wc, err := s.current()
	if err != nil {
		return errors.Wrap(err, event)
	}
	return wc.emit(event, ack, args)
}

// Disconnect ends the session deliberately. Local listeners see "io client disconnect".
func (s *WebsocketClientSocket) Disconnect() {
	wc, err := s.current()
	if err != nil {
		return
	}
	wc.disconnect(ReasonClientDisconnect)
}

func (s *WebsocketClientSocket) handleDialError(conn *websocket.Conn, resp *http.Response, err error) error {
	if s.errAdapters.OnDial != nil {
		return s.errAdapters.OnDial(conn, resp, err)
	}

	// 1. Check HTTP errors first
	var msg string

	if resp != nil {
		if resp.Body != nil {
			bts, err := io.ReadAll(resp.Body)
			if err == nil {
				msg = string(bts)
			}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return errors.Wrap(ErrRateLimit, msg)
		}
	}

	// 2. Network errors
	if err != nil {
		return errors.Wrap(ErrCannotConnect, err.Error())
	}

	return nil
}
