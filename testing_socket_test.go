package wsrpc

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

// mockSocket is a ClientSocket whose inbound events are driven by the test through
// deliver. Connect and Disconnect go through the mock.
type mockSocket struct {
	mock.Mock

	id        string
	listeners *EventEmitter[string, Event]

	mu        sync.Mutex
	connected bool
	emitted   []Event

	tapConnect func()
}

func newMockSocket(id string) *mockSocket {
	return &mockSocket{
		id:        id,
		listeners: NewEventEmitter[string, Event](),
		connected: true,
	}
}

func (m *mockSocket) ID() string { return m.id }

func (m *mockSocket) On(event string, listener EventListener) {
	m.listeners.On(event, func(e Event) { listener(e.Args, e.Ack) })
}

func (m *mockSocket) RemoveAllListeners() {
	m.listeners.Close()
}

func (m *mockSocket) Emit(event string, args ...any) error {
	return m.record(Event{Name: event, Args: args})
}

func (m *mockSocket) EmitWithAck(event string, ack Ack, args ...any) error {
	return m.record(Event{Name: event, Args: args, Ack: ack})
}

func (m *mockSocket) record(e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrNotConnected
	}
	m.emitted = append(m.emitted, e)
	return nil
}

func (m *mockSocket) Disconnect() {
	m.Called()
	m.setConnected(false)
}

func (m *mockSocket) Connect(ctx context.Context) error {
	if m.tapConnect != nil {
		m.tapConnect()
	}
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return err
	}
	m.setConnected(true)
	return nil
}

func (m *mockSocket) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.connected
}

func (m *mockSocket) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

// deliver plays an inbound event and reports whether anything listened to it.
func (m *mockSocket) deliver(event string, ack Ack, args ...any) bool {
	return m.listeners.Emit(event, Event{Name: event, Args: args, Ack: ack})
}

// drop marks the socket disconnected and emits the local disconnect event.
func (m *mockSocket) drop(reason string) {
	m.setConnected(false)
	m.listeners.Emit(EventDisconnect, Event{Name: EventDisconnect, Args: []any{reason}})
}

func (m *mockSocket) sent() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Event, len(m.emitted))
	copy(out, m.emitted)
	return out
}
