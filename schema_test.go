package wsrpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonirico/wsrpc/shape"
)

func TestNewSchema(t *testing.T) {
	s, err := NewSchema(testPostMessage, testPing, testAnnounce)
	require.NoError(t, err)

	assert.Equal(t, []string{"announce"}, sortedKeys(s.ServerMessages))
	assert.Equal(t, []string{"ping"}, sortedKeys(s.ClientMessages))
	assert.Equal(t, []string{"postMessage"}, sortedKeys(s.ClientRPCs))

	cat, ok := s.Lookup("postMessage")
	assert.True(t, ok)
	assert.Equal(t, CategoryClientRPC, cat)
	assert.False(t, s.Has("missing"))

	assert.Equal(t, shape.KindTrusted, s.ServerMessages["announce"].Kind())
	assert.Equal(t, shape.KindChecked, s.ClientRPCs["postMessage"].Request.Kind())
	assert.Equal(t, `Post {message: string, channel: "en" | "ru"}`, s.ClientRPCs["postMessage"].Request.Name())
}

func TestNewSchemaRejectsDuplicates(t *testing.T) {
	_, err := NewSchema(testPing, ServerMessage("ping", shape.String()))
	assert.ErrorIs(t, err, ErrDuplicateMessage)

	_, err = NewSchema(ClientMessage("", shape.String()))
	assert.Error(t, err)

	_, err = NewSchema(Connect)
	assert.Error(t, err, "general messages are implicit")

	assert.Panics(t, func() { MustSchema(testPing, testPing) })
}

func TestValidate(t *testing.T) {
	v := ValidatorOf(testPostShape)

	res := Validate(v, post("hi", "en"))
	require.True(t, res.OK)
	assert.Equal(t, testPost{Message: "hi", Channel: "en"}, res.Value)
	assert.Empty(t, res.Diagnostics)

	res = Validate(v, "hi")
	assert.False(t, res.OK)
	assert.Nil(t, res.Value)
	assert.Equal(t, `Invalid value "hi" supplied to $: expected Post {message: string, channel: "en" | "ru"}`, res.Diagnostics)

	res = Validate(nil, 12.0)
	assert.True(t, res.OK)
	assert.Equal(t, 12.0, res.Value)
}

func TestValidateIsDeterministic(t *testing.T) {
	v := ValidatorOf(testPostShape)
	raw := map[string]any{"message": false, "channel": 3.0}

	first := Validate(v, raw)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Validate(v, raw))
	}
	assert.Equal(t, map[string]any{"message": false, "channel": 3.0}, raw)
}

func TestRoutes(t *testing.T) {
	route := testPing.Handle(func(context.Context, string) error { return nil })
	assert.True(t, route.Valid())
	assert.Equal(t, "ping", route.Name())
	assert.Equal(t, CategoryClientMessage, route.Category())

	assert.False(t, testPing.Handle(nil).Valid())
	assert.False(t, testPostMessage.Handle(nil).Valid())

	routes := HandlerFunc(func() Routes { return NewRoutes(route) }).Routes()
	assert.Contains(t, routes, "ping")
}

func TestRouteRejectsForeignValue(t *testing.T) {
	route := testPing.Handle(func(context.Context, string) error { return nil })

	_, err := route.invoke(context.Background(), 12)
	assert.Error(t, err)
}
