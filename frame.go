package wsrpc

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

type FrameType string

const (
	// EventFrame carries a named event. A non-zero Ack asks the peer for a reply.
	EventFrame FrameType = "event"
	// AckFrame carries the reply to the event with the same Ack id.
	AckFrame FrameType = "ack"
	// DisconnectFrame announces that the sender deliberately ends the session.
	DisconnectFrame FrameType = "disconnect"
)

func (t FrameType) Is(other FrameType) bool {
	return t == other
}

// Frame is the unit written to the wire, one per websocket text message.
type Frame struct {
	Type FrameType `json:"type"`
	Name string    `json:"name,omitempty"`
	Args []any     `json:"args,omitempty"`
	Ack  uint64    `json:"ack,omitempty"`
}

func (f Frame) String() string {
	return fmt.Sprintf("Frame{type=%s,name=%s,ack=%d,args=%d}", f.Type, f.Name, f.Ack, len(f.Args))
}

var codec = sonic.ConfigStd

// EncodeFrame serialises f. Error arguments are sent as their message.
func EncodeFrame(f Frame) ([]byte, error) {
	f.Args = wireArgs(f.Args)
	bts, err := codec.Marshal(f)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot encode %s", f)
	}
	return bts, nil
}

// DecodeFrame parses a frame. Arguments decode into generic values (nil, bool,
// float64, string, []any, map[string]any).
func DecodeFrame(bts []byte) (Frame, error) {
	var f Frame
	if err := codec.Unmarshal(bts, &f); err != nil {
		return Frame{}, errors.Wrap(err, "cannot decode frame")
	}
	switch f.Type {
	case EventFrame:
		if f.Name == "" {
			return Frame{}, errors.New("event frame without name")
		}
	case AckFrame:
		if f.Ack == 0 {
			return Frame{}, errors.New("ack frame without id")
		}
	case DisconnectFrame:
	default:
		return Frame{}, errors.Errorf("unknown frame type %q", f.Type)
	}
	return f, nil
}

func wireValue(v any) any {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return v
}

func wireArgs(args []any) []any {
	if len(args) == 0 {
		return args
	}
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = wireValue(a)
	}
	return out
}

// transcode round-trips args through the codec so that in-process peers observe
// exactly what a remote one would.
func transcode(args []any) ([]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	bts, err := codec.Marshal(wireArgs(args))
	if err != nil {
		return nil, errors.Wrap(err, "cannot encode arguments")
	}
	var out []any
	if err := codec.Unmarshal(bts, &out); err != nil {
		return nil, errors.Wrap(err, "cannot decode arguments")
	}
	return out, nil
}
