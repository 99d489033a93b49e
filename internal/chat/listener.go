package chat

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/sonirico/wsrpc"
)

// Printer is a client Listener writing every received message to out.
type Printer struct {
	mu  sync.Mutex
	out io.Writer
}

func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

func (p *Printer) Routes() wsrpc.Routes {
	return wsrpc.NewRoutes(
		ChatMessage.Handle(p.chatMessage),
		History.Handle(p.history),
		wsrpc.Disconnect.Handle(p.disconnect),
	)
}

func (p *Printer) chatMessage(_ context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, err := fmt.Fprintf(p.out, "%s: %s: %s\n", msg.Channel.DisplayName(), msg.Sender, msg.Message)
	return err
}

func (p *Printer) history(ctx context.Context, msgs []Message) error {
	for _, msg := range msgs {
		if err := p.chatMessage(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (p *Printer) disconnect(_ context.Context, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, err := fmt.Fprintf(p.out, "disconnected: %s\n", reason)
	return err
}
