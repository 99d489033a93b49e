package wsrpc

import (
	"time"

	"github.com/fasthttp/websocket"
)

const keepAliveWriteWait = time.Second

// KeepAlive configures liveness checks of a websocket connection. Both sides are
// optional: a zero PingInterval sends no pings, a zero IdleTimeout never expires.
type KeepAlive struct {
	// PingInterval actively pings the peer.
	PingInterval time.Duration `yaml:"ping_interval"`
	// IdleTimeout passively closes the connection when nothing, control frames
	// included, was read for that long.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// pinger returns the channel the write loop pings on, nil when pings are off.
func (k KeepAlive) pinger() (<-chan time.Time, func()) {
	if k.PingInterval <= 0 {
		return nil, func() {}
	}
	ticker := time.NewTicker(k.PingInterval)
	return ticker.C, ticker.Stop
}

func (k KeepAlive) ping(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(keepAliveWriteWait))
}

// install arms the read deadline and pushes it forward on every ping and pong.
func (k KeepAlive) install(conn *websocket.Conn, logger Logger) {
	if k.IdleTimeout <= 0 {
		return
	}

	k.touch(conn)
	conn.SetPongHandler(func(string) error {
		logger.Debugln("<= [PONG]")
		k.touch(conn)
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		logger.Debugln("<= [PING]")
		k.touch(conn)
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(keepAliveWriteWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
}

// touch extends the read deadline after some traffic was seen.
func (k KeepAlive) touch(conn *websocket.Conn) {
	if k.IdleTimeout <= 0 {
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(k.IdleTimeout))
}
