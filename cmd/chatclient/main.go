package main

import (
	"bufio"
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/sonirico/wsrpc"
	"github.com/sonirico/wsrpc/internal/chat"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	channel := flag.String("channel", string(chat.ChannelEN), "channel to post to (en or ru)")
	flag.Parse()

	cfg := wsrpc.DefaultConfig()
	if *configPath != "" {
		loaded, err := wsrpc.LoadConfig(*configPath)
		if err != nil {
			stderrLog := zerolog.New(os.Stderr)
			stderrLog.Fatal().Err(err).Msg("cannot load config")
		}
		cfg = loaded
	}
	if host := flag.Arg(0); host != "" {
		cfg.Client.URL = host
	}

	logger, zl := cfg.Logging.NewLogger(os.Stderr)

	u, err := cfg.ClientURL()
	if err != nil {
		zl.Fatal().Err(err).Msg("invalid url")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sock := wsrpc.NewWebsocketClientSocket(
		websocket.DefaultDialer,
		wsrpc.StaticOpenConnectionParams(logger, u),
		logger,
		wsrpc.WithKeepAlive(cfg.Client.KeepAlive),
	)

	client, err := wsrpc.NewClient(ctx, sock, chat.Schema, chat.NewPrinter(os.Stdout),
		wsrpc.WithClientLogger(logger),
		wsrpc.WithReconnectConfig(cfg.Reconnect),
		wsrpc.WithTransportRetry(cfg.Client.TransportRetry),
	)
	if err != nil {
		zl.Fatal().Err(err).Msg("cannot start client")
	}
	defer client.Close()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			res, err := chat.PostMessage.Call(ctx, client.Caller(), chat.PostRequest{
				Message: line,
				Channel: chat.Channel(*channel),
			})
			if err != nil {
				zl.Error().Err(err).Msg("postMessage failed")
				continue
			}
			zl.Debug().Str("response", res).Msg("posted")
		}
	}
}
