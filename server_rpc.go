package wsrpc

import (
	"context"
	"fmt"
	"sync/atomic"
)

// onceAck guards ack so that the peer observes at most one reply. Later calls
// are dropped and logged.
func onceAck(ack Ack, name string, logger Logger) Ack {
	var called atomic.Bool
	return func(args ...any) {
		if !called.CompareAndSwap(false, true) {
			logger.Errorf("%s: %s, dropping reply %v", name, ErrAckAlreadyCalled, args)
			return
		}
		ack(wireArgs(args)...)
	}
}

func (s *Server) handleClientRPC(ctx context.Context, queue *invocationQueue, sock Socket, route Route, validator Validator, ev Event) {
	if n := ev.arity(); n != 2 {
		s.metrics.event(CategoryClientRPC, ev.Name, OutcomeArityError)
		s.unsendable(sock, ev.Name, fmt.Sprintf("Invalid arguments: passed %d, expected (argument, callback)", n))
		return
	}
	if ev.Ack == nil {
		s.metrics.event(CategoryClientRPC, ev.Name, OutcomeNoCallback)
		s.unsendable(sock, ev.Name, "No callback")
		return
	}

	reply := onceAck(ev.Ack, ev.Name, s.logger.WithField("socket", sock.ID()))

	res := Validate(validator, ev.Args[0])
	if !res.OK {
		s.metrics.event(CategoryClientRPC, ev.Name, OutcomeTypeError)
		reply(s.clientRPCTypeError(sock, ev.Name, "Type Error: "+res.Diagnostics))
		return
	}

	// The reply waits for the handler while further events of this socket keep
	// being read and queued.
	s.enqueue(queue, func() {
		result, err := s.invoke(ctx, sock, route, res.Value)
		if err != nil {
			s.metrics.event(CategoryClientRPC, ev.Name, OutcomeHandlerFault)
			reply(s.clientRPCRejection(sock, ev.Name, err))
			return
		}
		s.metrics.event(CategoryClientRPC, ev.Name, OutcomeOK)
		reply(nil, result)
	})
}

// unsendable computes the error an RPC would have been replied with and, since
// there is no callback to send it through, logs it.
func (s *Server) unsendable(sock Socket, name, diagnostic string) {
	errValue := s.clientRPCTypeError(sock, name, diagnostic)
	if s.config.LogUnsendableErrors {
		s.logger.WithField("socket", sock.ID()).Errorf("%s: unsendable error: %v", name, wireValue(errValue))
	}
}
