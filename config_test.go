package wsrpc

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(""))
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Server.Address)
	assert.Equal(t, "/ws", cfg.Server.Path)
	assert.Equal(t, DefaultReconnectConfig(), cfg.Reconnect)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, DefaultServerConfig(), cfg.ServerConfig())
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParseConfig(t *testing.T) {
	t.Setenv("WSRPC_TEST_HOST", "chat.example.com")

	cfg, err := ParseConfig([]byte(`
server:
  address: ":8001"
  path: /chat
  allow_missing_handlers: true
  log_unsendable_errors: false
  ping_interval: 15s
client:
  url: wss://${WSRPC_TEST_HOST}/chat
  idle_timeout: 1m
  transport_retry:
    enabled: true
    max_delay: 10s
reconnect:
  min_delay: 100ms
  max_delay: 250ms
logging:
  level: debug
  format: console
metrics:
  enabled: true
`))
	require.NoError(t, err)

	assert.Equal(t, ":8001", cfg.Server.Address)
	assert.Equal(t, "/chat", cfg.Server.Path)
	assert.Equal(t, KeepAlive{PingInterval: 15 * time.Second}, cfg.Server.KeepAlive)
	assert.Equal(t, KeepAlive{IdleTimeout: time.Minute}, cfg.Client.KeepAlive)
	assert.Equal(t, BackoffConfig{Enabled: true, HealthyAfter: DefaultBackoffHealthyAfter, MaxDelay: 10 * time.Second}, cfg.Client.TransportRetry)
	assert.Equal(t, ServerConfig{AllowMissingHandlers: true, LogUnsendableErrors: false}, cfg.ServerConfig())
	assert.Equal(t, ReconnectConfig{MinDelay: 100 * time.Millisecond, MaxDelay: 250 * time.Millisecond}, cfg.Reconnect)
	assert.True(t, cfg.Metrics.Enabled)

	u, err := cfg.ClientURL()
	require.NoError(t, err)
	assert.Equal(t, "wss", u.Scheme)
	assert.Equal(t, "chat.example.com", u.Host)
	assert.Equal(t, "/chat", u.Path)
}

func TestParseConfigErrors(t *testing.T) {
	for name, raw := range map[string]string{
		"syntax":        "server: [",
		"relative path": "server:\n  path: ws\n",
		"http url":      "client:\n  url: http://localhost:3000/ws\n",
		"bad level":     "logging:\n  level: loud\n",
		"bad format":    "logging:\n  format: xml\n",
		"bad duration":  "reconnect:\n  min_delay: soon\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wsrpc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  address: \":9000\"\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Address)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoggingConfigNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := LoggingConfig{Level: "warn", Format: "json"}.NewLogger(&buf)

	logger.Infof("hidden %d", 1)
	logger.WithField("socket", "s1").Warnf("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"message":"shown 2"`)
	assert.Contains(t, out, `"socket":"s1"`)
	assert.Contains(t, out, `"level":"warn"`)
}
