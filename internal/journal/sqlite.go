package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"storypoints/pkg/database"
	"storypoints/pkg/interfaces"
	"storypoints/pkg/types"
)

const (
	DefaultQueueSize  = 256
	DefaultRetryDelay = 5 * time.Second
)

// writeOperation is either an entry to insert or, when entry is nil, a flush barrier.
type writeOperation struct {
	entry *types.ActivityEntry
	done  chan struct{}
}

// SQLite journals entries into the activity table. All inserts go through one writer
// goroutine; reads use the connection pool directly.
type SQLite struct {
	db         *sql.DB
	writes     chan writeOperation
	shutdown   chan struct{}
	wg         sync.WaitGroup
	clock      clockwork.Clock
	retryDelay time.Duration

	mu     sync.RWMutex
	closed bool
}

type SQLiteOptions struct {
	QueueSize  int
	RetryDelay time.Duration
	Clock      clockwork.Clock
}

// OpenSQLite opens the database described by cfg, applies pending migrations and
// starts the writer.
func OpenSQLite(cfg *database.Config, opts SQLiteOptions) (*SQLite, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}

	applied, err := database.NewMigrationManager(db).ApplyMigrations()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	if err := database.NewSchemaValidator(db).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema invalid: %w", err)
	}
	if len(applied) > 0 {
		log.Info().Strs("versions", applied).Str("path", cfg.Path).Msg("applied journal migrations")
	}

	return newSQLite(db, opts), nil
}

func newSQLite(db *sql.DB, opts SQLiteOptions) *SQLite {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	j := &SQLite{
		db:         db,
		writes:     make(chan writeOperation, opts.QueueSize),
		shutdown:   make(chan struct{}),
		clock:      opts.Clock,
		retryDelay: opts.RetryDelay,
	}
	j.wg.Add(1)
	go j.writeLoop()
	return j
}

// Record queues entry for insertion. Entries are dropped when the queue is full or
// the journal is closed.
func (j *SQLite) Record(entry types.ActivityEntry) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}

	select {
	case j.writes <- writeOperation{entry: &entry}:
	default:
		log.Warn().Str("room", entry.Room).Str("kind", string(entry.Kind)).Msg("journal queue full, dropping entry")
	}
}

// Flush blocks until every entry queued before the call has been written.
func (j *SQLite) Flush(ctx context.Context) error {
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return interfaces.ErrJournalClosed
	}
	barrier := writeOperation{done: make(chan struct{})}
	select {
	case j.writes <- barrier:
	case <-ctx.Done():
		j.mu.RUnlock()
		return ctx.Err()
	}
	j.mu.RUnlock()

	select {
	case <-barrier.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *SQLite) writeLoop() {
	defer j.wg.Done()

	for {
		select {
		case op := <-j.writes:
			j.apply(op)
		case <-j.shutdown:
			for {
				select {
				case op := <-j.writes:
					j.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (j *SQLite) apply(op writeOperation) {
	if op.entry == nil {
		close(op.done)
		return
	}

	err := j.insert(op.entry)
	if err != nil {
		log.Warn().Err(err).Dur("retry_in", j.retryDelay).Msg("journal write failed, retrying")
		j.clock.Sleep(j.retryDelay)
		err = j.insert(op.entry)
	}
	if err != nil {
		log.Error().Err(err).Str("room", op.entry.Room).Str("kind", string(op.entry.Kind)).Msg("journal write failed after retry")
	}
}

func (j *SQLite) insert(entry *types.ActivityEntry) error {
	_, err := j.db.Exec(
		"INSERT INTO activity (id, room, kind, user_name, created_at) VALUES (?, ?, ?, ?, ?)",
		entry.ID, entry.Room, string(entry.Kind), entry.User, entry.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}
	return nil
}

// Recent returns up to limit entries for room, newest first.
func (j *SQLite) Recent(ctx context.Context, room string, limit int) ([]types.ActivityEntry, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if j.isClosed() {
		return nil, interfaces.ErrJournalClosed
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, room, kind, user_name, created_at
		FROM activity
		WHERE room = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, room, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]types.ActivityEntry, 0, limit)
	for rows.Next() {
		var (
			entry types.ActivityEntry
			kind  string
		)
		if err := rows.Scan(&entry.ID, &entry.Room, &kind, &entry.User, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan activity row: %w", err)
		}
		entry.Kind = types.ActivityKind(kind)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity rows: %w", err)
	}
	return entries, nil
}

// HealthCheck pings the database.
func (j *SQLite) HealthCheck(ctx context.Context) error {
	if j.isClosed() {
		return interfaces.ErrJournalClosed
	}
	if err := j.db.PingContext(ctx); err != nil {
		return fmt.Errorf("journal ping failed: %w", err)
	}
	var count int
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM activity").Scan(&count); err != nil {
		return fmt.Errorf("journal read test failed: %w", err)
	}
	return nil
}

// Close writes out queued entries and closes the database. It is safe to call twice.
func (j *SQLite) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	close(j.shutdown)
	j.wg.Wait()

	if err := j.db.Close(); err != nil {
		return fmt.Errorf("failed to close journal database: %w", err)
	}
	return nil
}

func (j *SQLite) isClosed() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.closed
}
