package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"storypoints/internal/journal"
	"storypoints/pkg/types"
)

const (
	envPrefix = "STORYPOINTS_"

	// EnvConfigFile names a YAML or JSON file applied after the environment.
	EnvConfigFile = envPrefix + "CONFIG_FILE"
)

type Config struct {
	HTTP      HTTPConfig      `json:"http" yaml:"http"`
	WebSocket WebSocketConfig `json:"websocket" yaml:"websocket"`
	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	Timer     TimerConfig     `json:"timer" yaml:"timer"`
	Voting    VotingConfig    `json:"voting" yaml:"voting"`
	Journal   journal.Config  `json:"journal" yaml:"journal"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

type HTTPConfig struct {
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `json:"allowed_origins" yaml:"allowed_origins"`
}

// Addr returns host:port for http.Server.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

type WebSocketConfig struct {
	PingInterval    time.Duration `json:"ping_interval" yaml:"ping_interval"`
	PongWait        time.Duration `json:"pong_wait" yaml:"pong_wait"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	SendBuffer      int           `json:"send_buffer" yaml:"send_buffer"`
	ReadLimit       int64         `json:"read_limit" yaml:"read_limit"`
	EventsPerMinute int           `json:"events_per_minute" yaml:"events_per_minute"`
}

// AuthConfig holds the shared room secret. An empty secret disables the check.
type AuthConfig struct {
	Secret string `json:"secret" yaml:"secret"`
}

type TimerConfig struct {
	TickInterval time.Duration `json:"tick_interval" yaml:"tick_interval"`
}

type VotingConfig struct {
	Scale []string `json:"scale" yaml:"scale"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval:    30 * time.Second,
			PongWait:        60 * time.Second,
			WriteTimeout:    5 * time.Second,
			SendBuffer:      100,
			ReadLimit:       64 * 1024,
			EventsPerMinute: 300,
		},
		Timer:   TimerConfig{TickInterval: time.Second},
		Voting:  VotingConfig{Scale: append([]string(nil), types.DefaultScale...)},
		Journal: journal.DefaultConfig(),
		Log:     LogConfig{Level: "info", Format: "json"},
	}
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	// Port 0 binds an ephemeral port.
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("HTTP shutdown timeout must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.PongWait <= c.WebSocket.PingInterval {
		return errors.New("WebSocket pong wait must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return errors.New("WebSocket send buffer must be positive")
	}
	if c.WebSocket.ReadLimit <= 0 {
		return errors.New("WebSocket read limit must be positive")
	}
	if c.WebSocket.EventsPerMinute < 0 {
		return errors.New("WebSocket events per minute cannot be negative")
	}

	if c.Timer.TickInterval <= 0 {
		return errors.New("timer tick interval must be positive")
	}
	if _, err := types.NewScale(c.Voting.Scale); err != nil {
		return fmt.Errorf("voting scale: %w", err)
	}
	if err := c.Journal.Validate(); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

// Load builds the configuration from defaults, then the environment, then the file
// named by STORYPOINTS_CONFIG_FILE when set, and validates the result.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyFile overlays the YAML or JSON document at path. Keys absent from the file
// keep their current values.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from STORYPOINTS_* variables.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("HTTP_HOST", &c.HTTP.Host)
	e.integer("HTTP_PORT", &c.HTTP.Port)
	e.duration("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	e.duration("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)
	e.duration("HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout)
	e.list("ALLOWED_ORIGINS", &c.HTTP.AllowedOrigins)

	e.duration("WEBSOCKET_PING_INTERVAL", &c.WebSocket.PingInterval)
	e.duration("WEBSOCKET_PONG_WAIT", &c.WebSocket.PongWait)
	e.duration("WEBSOCKET_WRITE_TIMEOUT", &c.WebSocket.WriteTimeout)
	e.integer("WEBSOCKET_SEND_BUFFER", &c.WebSocket.SendBuffer)
	e.integer("WEBSOCKET_EVENTS_PER_MINUTE", &c.WebSocket.EventsPerMinute)

	e.str("SECRET", &c.Auth.Secret)
	e.duration("TIMER_TICK_INTERVAL", &c.Timer.TickInterval)
	e.list("VOTING_SCALE", &c.Voting.Scale)

	e.str("JOURNAL_BACKEND", &c.Journal.Backend)
	e.integer("JOURNAL_QUEUE_SIZE", &c.Journal.QueueSize)
	if c.Journal.SQLite != nil {
		e.str("JOURNAL_SQLITE_PATH", &c.Journal.SQLite.Path)
	}
	e.str("JOURNAL_NATS_URL", &c.Journal.NATS.URL)
	e.str("JOURNAL_NATS_SUBJECT_PREFIX", &c.Journal.NATS.SubjectPrefix)

	e.str("LOG_LEVEL", &c.Log.Level)
	e.str("LOG_FORMAT", &c.Log.Format)

	return errors.Join(e.errs...)
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(envPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return
	}
	*dst = n
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return
	}
	*dst = d
}

// list splits a comma-separated value, dropping empty items.
func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var items []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*dst = items
}
