package chat

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonirico/wsrpc"
)

func startRoom(t *testing.T, historySize int) (*wsrpc.MemoryNamespace, *Room, *wsrpc.Server) {
	t.Helper()

	ns := wsrpc.NewMemoryNamespace(nil)
	room := NewRoom(ns, nil, historySize)
	srv := wsrpc.NewServer(Schema, room.Accept)
	srv.Listen(ns)
	return ns, room, srv
}

func join(t *testing.T, ns *wsrpc.MemoryNamespace, out *bytes.Buffer) (*wsrpc.Client, *wsrpc.MemoryClientSocket) {
	t.Helper()

	sock := ns.NewClient()
	client, err := wsrpc.NewClient(context.Background(), sock, Schema, NewPrinter(out))
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client, sock
}

func TestSchema(t *testing.T) {
	assert.ElementsMatch(t, []string{"chatMessage", "history"}, keys(Schema.ServerMessages))
	assert.ElementsMatch(t, []string{"postMessage"}, keys(Schema.ClientRPCs))
	assert.Empty(t, Schema.ClientMessages)
	assert.Equal(t, `PostRequest {message: string, channel: "en" | "ru"}`, Schema.ClientRPCs["postMessage"].Request.Name())
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestPostMessage(t *testing.T) {
	ns, room, _ := startRoom(t, 0)

	var aliceOut, bobOut bytes.Buffer
	alice, aliceSock := join(t, ns, &aliceOut)
	join(t, ns, &bobOut)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := PostMessage.Call(ctx, alice.Caller(), PostRequest{Message: "Hello World", Channel: ChannelEN})
	require.NoError(t, err)
	assert.Equal(t, ResponseOK, res)

	want := "English: " + onlySender(t, room) + ": Hello World\n"
	assert.Equal(t, want, aliceOut.String())
	assert.Equal(t, want, bobOut.String())
	assert.True(t, aliceSock.Connected())
}

// onlySender returns the sender of the only stored message.
func onlySender(t *testing.T, room *Room) string {
	t.Helper()

	history := room.History()
	require.Len(t, history, 1)
	return history[0].Sender
}

func TestPostMessageRejectsUnknownChannel(t *testing.T) {
	ns, room, _ := startRoom(t, 0)

	var out bytes.Buffer
	client, _ := join(t, ns, &out)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := client.EmitAsync(ctx, PostMessage.Name(), map[string]any{"message": "hi", "channel": "fr"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "$.channel")

	_, err = client.EmitAsync(ctx, PostMessage.Name(), map[string]any{"message": "hi", "channel": "en", "extra": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "$.extra")

	assert.Empty(t, room.History())
	assert.Empty(t, out.String())
}

func TestNewMembersReceiveHistory(t *testing.T) {
	ns, room, _ := startRoom(t, 2)

	var first bytes.Buffer
	client, _ := join(t, ns, &first)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, msg := range []string{"one", "two", "three"} {
		_, err := PostMessage.Call(ctx, client.Caller(), PostRequest{Message: msg, Channel: ChannelRU})
		require.NoError(t, err)
	}

	history := room.History()
	require.Len(t, history, 2)
	assert.Equal(t, "two", history[0].Message)
	assert.Equal(t, "three", history[1].Message)

	var late bytes.Buffer
	join(t, ns, &late)

	sender := history[0].Sender
	assert.Equal(t, "Russian: "+sender+": two\nRussian: "+sender+": three\n", late.String())
}

func TestPrinterReportsDisconnect(t *testing.T) {
	ns, _, _ := startRoom(t, 0)

	var out bytes.Buffer
	_, sock := join(t, ns, &out)

	sock.DropTransport()

	assert.Equal(t, "disconnected: transport close\n", out.String())
}

func TestChannelDisplayName(t *testing.T) {
	assert.Equal(t, "English", ChannelEN.DisplayName())
	assert.Equal(t, "Russian", ChannelRU.DisplayName())
	assert.Equal(t, "fr", Channel("fr").DisplayName())
}
