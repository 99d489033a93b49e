// Package chat is a small multi channel chat room served over wsrpc.
package chat

import (
	"github.com/sonirico/wsrpc"
	"github.com/sonirico/wsrpc/shape"
)

type Channel string

const (
	ChannelEN Channel = "en"
	ChannelRU Channel = "ru"
)

var channelNames = map[Channel]string{
	ChannelEN: "English",
	ChannelRU: "Russian",
}

func (c Channel) DisplayName() string {
	if n, ok := channelNames[c]; ok {
		return n
	}
	return string(c)
}

type (
	Message struct {
		Sender  string  `json:"sender"`
		Message string  `json:"message"`
		Channel Channel `json:"channel"`
	}

	PostRequest struct {
		Message string  `json:"message"`
		Channel Channel `json:"channel"`
	}
)

const ResponseOK = "ok"

var postRequest = shape.Object("PostRequest", func(f *shape.Fields) PostRequest {
	return PostRequest{
		Message: shape.Field(f, "message", shape.String()),
		Channel: shape.Field(f, "channel", shape.Enum(ChannelEN, ChannelRU)),
	}
}, shape.Strict())

// Server messages are trusted: the client does not check what the server sends.
var (
	ChatMessage = wsrpc.ServerMessage("chatMessage", shape.Trusted[Message]())
	History     = wsrpc.ServerMessage("history", shape.Trusted[[]Message]())

	PostMessage = wsrpc.ClientRPC("postMessage", postRequest, shape.Literal(ResponseOK))

	Schema = wsrpc.MustSchema(ChatMessage, History, PostMessage)
)
