package wsrpc

import (
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type (
	// Config is the file configuration of the chat commands.
	Config struct {
		Server    ServerFileConfig `yaml:"server"`
		Client    ClientFileConfig `yaml:"client"`
		Reconnect ReconnectConfig  `yaml:"reconnect"`
		Logging   LoggingConfig    `yaml:"logging"`
		Metrics   MetricsConfig    `yaml:"metrics"`
	}

	ServerFileConfig struct {
		Address              string `yaml:"address"`
		Path                 string `yaml:"path"`
		AllowMissingHandlers bool   `yaml:"allow_missing_handlers"`
		LogUnsendableErrors  *bool  `yaml:"log_unsendable_errors"`
		KeepAlive            `yaml:",inline"`
	}

	ClientFileConfig struct {
		URL       string `yaml:"url"`
		KeepAlive `yaml:",inline"`
		// TransportRetry reconnects after transport losses when enabled.
		TransportRetry BackoffConfig `yaml:"transport_retry"`
	}

	LoggingConfig struct {
		Level  string `yaml:"level"`  // debug, info, warn, error
		Format string `yaml:"format"` // json or console
	}

	MetricsConfig struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	}
)

// LoadConfig reads a YAML configuration file. Environment variables in the file
// are expanded.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration and applies defaults.
func ParseConfig(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}
	return &cfg, nil
}

// DefaultConfig is the configuration of an empty file.
func DefaultConfig() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

func (c *Config) setDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":3000"
	}
	if c.Server.Path == "" {
		c.Server.Path = "/ws"
	}
	if c.Server.LogUnsendableErrors == nil {
		yes := true
		c.Server.LogUnsendableErrors = &yes
	}
	if c.Client.URL == "" {
		c.Client.URL = "ws://localhost:3000/ws"
	}
	c.Client.TransportRetry = c.Client.TransportRetry.normalized()
	c.Reconnect = c.Reconnect.normalized()
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func (c *Config) validate() error {
	if !strings.HasPrefix(c.Server.Path, "/") {
		return errors.Errorf("server.path must start with /: %q", c.Server.Path)
	}
	if _, err := c.ClientURL(); err != nil {
		return err
	}
	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		return errors.Wrapf(err, "logging.level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return errors.Errorf("logging.format must be json or console: %q", c.Logging.Format)
	}
	return nil
}

// ClientURL parses client.url, which must use the ws or wss scheme.
func (c *Config) ClientURL() (url.URL, error) {
	u, err := url.Parse(c.Client.URL)
	if err != nil {
		return url.URL{}, errors.Wrap(err, "client.url")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return url.URL{}, errors.Errorf("client.url scheme must be ws or wss: %q", c.Client.URL)
	}
	return *u, nil
}

// ServerConfig returns the dispatcher switches of the file.
func (c *Config) ServerConfig() ServerConfig {
	cfg := DefaultServerConfig()
	cfg.AllowMissingHandlers = c.Server.AllowMissingHandlers
	if c.Server.LogUnsendableErrors != nil {
		cfg.LogUnsendableErrors = *c.Server.LogUnsendableErrors
	}
	return cfg
}

// NewLogger builds a zerolog backed Logger writing to w.
func (c LoggingConfig) NewLogger(w io.Writer) (Logger, zerolog.Logger) {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	if c.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return NewZerologLogger(zl), zl
}
