package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sonirico/wsrpc"
	"github.com/sonirico/wsrpc/internal/chat"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
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

	logger, zl := cfg.Logging.NewLogger(os.Stdout)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var metrics *wsrpc.Metrics
	if cfg.Metrics.Enabled {
		metrics = wsrpc.NewMetrics(prometheus.DefaultRegisterer)
		if err := metrics.Register(); err != nil {
			zl.Fatal().Err(err).Msg("cannot register metrics")
		}
	}

	ns := wsrpc.NewWebsocketNamespace(ctx, logger,
		wsrpc.WithNamespaceKeepAlive(cfg.Server.KeepAlive),
	)
	room := chat.NewRoom(ns, logger.WithField("component", "room"), chat.DefaultHistorySize)

	server := wsrpc.NewServer(chat.Schema, room.Accept,
		wsrpc.WithServerConfig(cfg.ServerConfig()),
		wsrpc.WithServerLogger(logger),
		wsrpc.WithServerMetrics(metrics),
		wsrpc.WithBaseContext(ctx),
	)
	server.Listen(ns)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Handle(cfg.Server.Path, ns)
	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, promhttp.Handler())
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			zl.Error().Err(err).Msg("shutdown")
		}
	}()

	zl.Info().Str("address", cfg.Server.Address).Str("path", cfg.Server.Path).Msg("chat server listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zl.Fatal().Err(err).Msg("server failed")
	}

	server.Wait()
	zl.Info().Msg("chat server stopped")
}
