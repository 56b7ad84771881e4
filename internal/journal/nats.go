package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"storypoints/pkg/interfaces"
	"storypoints/pkg/types"
)

var ErrNATSDisconnected = errors.New("nats connection is not connected")

type NATSConfig struct {
	URL           string        `json:"url" yaml:"url"`
	SubjectPrefix string        `json:"subject_prefix" yaml:"subject_prefix"`
	MaxReconnects int           `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultNATSConfig returns settings for a local NATS server.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "storypoints.activity",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       2 * time.Second,
	}
}

// publisher is the subset of *nats.Conn the journal uses.
type publisher interface {
	PublishMsg(msg *nats.Msg) error
	IsConnected() bool
	Drain() error
}

// NATS publishes each entry to <prefix>.<kind>. Entries are fire-and-forget and
// cannot be read back.
type NATS struct {
	conn   publisher
	prefix string

	mu     sync.RWMutex
	closed bool
}

// ConnectNATS dials the server and returns a publishing journal.
func ConnectNATS(cfg NATSConfig) (*NATS, error) {
	opts := []nats.Option{
		nats.Name("storypoints"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, nats.Timeout(cfg.Timeout))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return newNATS(nc, cfg.SubjectPrefix), nil
}

func newNATS(conn publisher, prefix string) *NATS {
	if prefix == "" {
		prefix = DefaultNATSConfig().SubjectPrefix
	}
	return &NATS{conn: conn, prefix: prefix}
}

func (j *NATS) subject(kind types.ActivityKind) string {
	return j.prefix + "." + string(kind)
}

// Record publishes entry on the subject for its kind.
func (j *NATS) Record(entry types.ActivityEntry) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode journal entry")
		return
	}

	// Room names may contain subject separators, so the room travels in a header.
	msg := &nats.Msg{
		Subject: j.subject(entry.Kind),
		Data:    data,
		Header: nats.Header{
			"Entry-ID": []string{entry.ID},
			"Room":     []string{entry.Room},
		},
	}
	if err := j.conn.PublishMsg(msg); err != nil {
		log.Warn().Err(err).Str("subject", msg.Subject).Msg("failed to publish journal entry")
	}
}

func (j *NATS) Recent(context.Context, string, int) ([]types.ActivityEntry, error) {
	return nil, interfaces.ErrJournalUnreadable
}

// HealthCheck fails while the connection is down.
func (j *NATS) HealthCheck(context.Context) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return interfaces.ErrJournalClosed
	}
	if !j.conn.IsConnected() {
		return ErrNATSDisconnected
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (j *NATS) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.conn.Drain(); err != nil {
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
