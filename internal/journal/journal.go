// Package journal records room lifecycle and membership activity to an optional sink.
package journal

import (
	"fmt"
	"time"

	"storypoints/pkg/database"
	"storypoints/pkg/interfaces"
)

const (
	BackendNone   = "none"
	BackendSQLite = "sqlite"
	BackendNATS   = "nats"
)

type Config struct {
	Backend    string           `json:"backend" yaml:"backend"`
	QueueSize  int              `json:"queue_size" yaml:"queue_size"`
	RetryDelay time.Duration    `json:"retry_delay" yaml:"retry_delay"`
	SQLite     *database.Config `json:"sqlite" yaml:"sqlite"`
	NATS       NATSConfig       `json:"nats" yaml:"nats"`
}

// DefaultConfig returns a disabled journal.
func DefaultConfig() Config {
	return Config{
		Backend:    BackendNone,
		QueueSize:  DefaultQueueSize,
		RetryDelay: DefaultRetryDelay,
		SQLite:     database.DefaultConfig(),
		NATS:       DefaultNATSConfig(),
	}
}

// Validate checks the settings of the selected backend.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendNone, "":
		return nil
	case BackendSQLite:
		if c.SQLite == nil {
			return fmt.Errorf("sqlite journal requires sqlite settings")
		}
		return c.SQLite.Validate()
	case BackendNATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("nats journal requires a url")
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}
}

// Open builds the journal selected by cfg.Backend.
func Open(cfg Config) (interfaces.Journal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case BackendSQLite:
		j, err := OpenSQLite(cfg.SQLite, SQLiteOptions{QueueSize: cfg.QueueSize, RetryDelay: cfg.RetryDelay})
		if err != nil {
			return nil, err
		}
		return j, nil
	case BackendNATS:
		j, err := ConnectNATS(cfg.NATS)
		if err != nil {
			return nil, err
		}
		return j, nil
	default:
		return Nop{}, nil
	}
}
