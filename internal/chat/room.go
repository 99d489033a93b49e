package chat

import (
	"context"
	"sync"

	"github.com/sonirico/wsrpc"
)

const DefaultHistorySize = 50

// Room keeps the latest messages and relays posts to every member.
type Room struct {
	members wsrpc.Broadcaster
	logger  wsrpc.Logger
	size    int

	mu      sync.RWMutex
	history []Message
}

func NewRoom(members wsrpc.Broadcaster, logger wsrpc.Logger, historySize int) *Room {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	if logger == nil {
		logger = wsrpc.NopLogger()
	}
	return &Room{members: members, logger: logger, size: historySize}
}

// Accept greets a new member with the history and serves its posts.
func (r *Room) Accept(sock wsrpc.Socket) wsrpc.Handler {
	if err := History.Emit(sock, r.History()); err != nil {
		r.logger.Warnf("cannot send history to %s: %s", sock.ID(), err)
	}
	return &member{room: r, sock: sock}
}

// History returns a copy of the stored messages, oldest first.
func (r *Room) History() []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Message, len(r.history))
	copy(out, r.history)
	return out
}

func (r *Room) post(msg Message) error {
	r.mu.Lock()
	r.history = append(r.history, msg)
	if len(r.history) > r.size {
		r.history = r.history[len(r.history)-r.size:]
	}
	r.mu.Unlock()

	return ChatMessage.Broadcast(r.members, msg)
}

type member struct {
	room *Room
	sock wsrpc.Socket
}

func (m *member) Routes() wsrpc.Routes {
	return wsrpc.NewRoutes(
		PostMessage.Handle(m.postMessage),
	)
}

func (m *member) postMessage(_ context.Context, req PostRequest) (string, error) {
	err := m.room.post(Message{
		Sender:  m.sock.ID(),
		Message: req.Message,
		Channel: req.Channel,
	})
	if err != nil {
		return "", err
	}
	return ResponseOK, nil
}
