package wsrpc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sonirico/wsrpc/shape"
)

var (
	testScore = ServerMessage("score", shape.Int())

	clientTestSchema = MustSchema(testPostMessage, testPing, testAnnounce, testScore)
)

type recordingListener struct {
	mu        sync.Mutex
	announces []string
	scores    []int64
	connects  int
	reasons   []string
}

func (l *recordingListener) Routes() Routes {
	return NewRoutes(
		testAnnounce.Handle(func(_ context.Context, msg string) error {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.announces = append(l.announces, msg)
			return nil
		}),
		testScore.Handle(func(_ context.Context, score int64) error {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.scores = append(l.scores, score)
			return nil
		}),
		Connect.Handle(func(context.Context, any) error {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.connects++
			return nil
		}),
		Disconnect.Handle(func(_ context.Context, reason string) error {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.reasons = append(l.reasons, reason)
			return nil
		}),
	)
}

func (l *recordingListener) snapshot() recordingListener {
	l.mu.Lock()
	defer l.mu.Unlock()

	return recordingListener{
		announces: append([]string(nil), l.announces...),
		scores:    append([]int64(nil), l.scores...),
		connects:  l.connects,
		reasons:   append([]string(nil), l.reasons...),
	}
}

// chatFixture is a server bound to a memory namespace that greets every socket.
type chatFixture struct {
	ns     *MemoryNamespace
	server *Server
	h      *chatHandler

	mu      sync.Mutex
	sockets []Socket
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()

	f := &chatFixture{ns: NewMemoryNamespace(nil), h: &chatHandler{}}
	f.server = NewServer(clientTestSchema, func(sock Socket) Handler {
		f.mu.Lock()
		f.sockets = append(f.sockets, sock)
		f.mu.Unlock()

		require.NoError(t, testAnnounce.Emit(sock, "welcome"))
		return f.h
	}, WithAllowMissingHandlers(true))
	f.server.Listen(f.ns)
	return f
}

func (f *chatFixture) serverSocket(i int) Socket {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.sockets[i]
}

func TestClientReceivesServerMessagesAndCalls(t *testing.T) {
	f := newChatFixture(t)
	listener := &recordingListener{}

	client, err := NewClient(context.Background(), f.ns.NewClient(), clientTestSchema, listener)
	require.NoError(t, err)
	defer client.Close()

	got := listener.snapshot()
	assert.Equal(t, []string{"welcome"}, got.announces)
	assert.Equal(t, 1, got.connects)

	require.NoError(t, testScore.Broadcast(f.ns, 42))
	assert.Equal(t, []int64{42}, listener.snapshot().scores)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := testPostMessage.Call(ctx, client.Caller(), testPost{Message: "hi", Channel: "ru"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res)

	raw, err := client.EmitAsync(ctx, "postMessage", post("again", "en"))
	require.NoError(t, err)
	assert.Equal(t, "ok", raw)
}

func TestClientDropsInvalidServerMessages(t *testing.T) {
	f := newChatFixture(t)
	logs := &syncBuffer{}
	listener := &recordingListener{}

	client, err := NewClient(context.Background(), f.ns.NewClient(), clientTestSchema, listener,
		WithClientLogger(NewWriterLogger(logs)))
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, f.ns.Emit("score", "many"))
	require.NoError(t, f.ns.Emit("score", 7))

	assert.Equal(t, []int64{7}, listener.snapshot().scores)
	assert.Contains(t, logs.String(), `score: Type Error: Invalid value "many" supplied to $: expected integer`)
}

func TestClientMisconfiguration(t *testing.T) {
	unknown := ServerMessage("bogus", shape.String())

	tests := []struct {
		name   string
		routes Routes
	}{
		{name: "unknown message", routes: NewRoutes(unknown.Handle(func(context.Context, string) error { return nil }))},
		{name: "nil operation", routes: NewRoutes(testAnnounce.Handle(nil))},
		{name: "client message", routes: NewRoutes(testPing.Handle(func(context.Context, string) error { return nil }))},
		{name: "rpc", routes: NewRoutes(testPostMessage.Handle(func(context.Context, testPost) (string, error) { return "", nil }))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ns := NewMemoryNamespace(nil)
			sock := ns.NewClient()
			listener := &mockHandler{RoutesFunc: func() Routes { return tt.routes }}

			client, err := NewClient(context.Background(), sock, clientTestSchema, listener)

			assert.Nil(t, client)
			assert.ErrorIs(t, err, ErrMisconfigured)
			assert.False(t, sock.Connected())
			assert.Zero(t, ns.Sockets())
		})
	}
}

func TestClientReconnectsAfterServerDisconnect(t *testing.T) {
	f := newChatFixture(t)
	clock := &fakeClock{}
	listener := &recordingListener{}

	sock := f.ns.NewClient()
	client, err := NewClient(context.Background(), sock, clientTestSchema, listener,
		WithReconnectConfig(ReconnectConfig{MinDelay: 100 * time.Millisecond, MaxDelay: 100 * time.Millisecond}),
		WithReconnectOptions(WithTimerFunc(clock.AfterFunc)),
	)
	require.NoError(t, err)
	defer client.Close()

	f.serverSocket(0).Disconnect()

	assert.False(t, sock.Connected())
	assert.Equal(t, []string{ReasonServerDisconnect}, listener.snapshot().reasons)
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, clock.Delays())

	clock.Fire()

	assert.True(t, sock.Connected())
	assert.Equal(t, 1, f.ns.Sockets())
	got := listener.snapshot()
	assert.Equal(t, 2, got.connects)
	assert.Equal(t, []string{"welcome", "welcome"}, got.announces)
}

func TestClientDoesNotReconnectAfterTransportDrop(t *testing.T) {
	f := newChatFixture(t)
	clock := &fakeClock{}

	sock := f.ns.NewClient()
	client, err := NewClient(context.Background(), sock, clientTestSchema, &recordingListener{},
		WithReconnectOptions(WithTimerFunc(clock.AfterFunc)))
	require.NoError(t, err)
	defer client.Close()

	sock.DropTransport()

	assert.False(t, sock.Connected())
	assert.Empty(t, clock.Delays())
}

func TestClientClose(t *testing.T) {
	f := newChatFixture(t)
	clock := &fakeClock{}
	listener := &recordingListener{}

	sock := f.ns.NewClient()
	client, err := NewClient(context.Background(), sock, clientTestSchema, listener,
		WithReconnectOptions(WithTimerFunc(clock.AfterFunc)))
	require.NoError(t, err)

	serverID := f.serverSocket(0).ID()
	_, bound := f.server.State(serverID)
	require.True(t, bound)

	client.Close()
	client.Close()

	assert.False(t, sock.Connected())
	assert.Zero(t, f.ns.Sockets())
	_, bound = f.server.State(serverID)
	assert.False(t, bound)
	assert.Empty(t, clock.Delays())
	assert.Empty(t, listener.snapshot().reasons, "listeners are removed before disconnecting")

	_, err = client.EmitAsync(context.Background(), "postMessage", post("hi", "en"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClientRejectsPendingCallsOnClose(t *testing.T) {
	sock := newMockSocket("c1")
	sock.Mock.On("Disconnect").Return()

	client, err := NewClient(context.Background(), sock, clientTestSchema, &recordingListener{})
	require.NoError(t, err)

	res := callAsync(context.Background(), client.Caller(), "postMessage", post("hi", "en"))
	waitForEmit(t, sock, 1)

	client.Close()

	r := waitResult(t, res)
	assert.ErrorIs(t, r.err, ErrConnectionClosed)
	sock.AssertCalled(t, "Disconnect")
	sock.AssertNotCalled(t, "Connect", mock.Anything)
}

func TestClientLogsSocketErrors(t *testing.T) {
	logs := &syncBuffer{}
	sock := newMockSocket("c1")
	sock.Mock.On("Disconnect").Return()

	client, err := NewClient(context.Background(), sock, clientTestSchema, &recordingListener{},
		WithClientLogger(NewWriterLogger(logs)))
	require.NoError(t, err)
	defer client.Close()

	sock.deliver(EventError, nil, "handshake failed")

	assert.Contains(t, logs.String(), "socket error handshake failed")
}

func TestClientRetriesTransportWhenEnabled(t *testing.T) {
	f := newChatFixture(t)
	clock := &fakeClock{}
	listener := &recordingListener{}

	sock := f.ns.NewClient()
	client, err := NewClient(context.Background(), sock, clientTestSchema, listener,
		WithTransportRetry(BackoffConfig{Enabled: true, HealthyAfter: time.Hour}),
		WithReconnectOptions(WithTimerFunc(clock.AfterFunc)),
	)
	require.NoError(t, err)
	defer client.Close()

	sock.DropTransport()
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, clock.Delays())

	clock.Fire()

	assert.True(t, sock.Connected())
	assert.Equal(t, 1, f.ns.Sockets())
	got := listener.snapshot()
	assert.Equal(t, 2, got.connects)
	assert.Equal(t, []string{ReasonTransportClose}, got.reasons)
}
