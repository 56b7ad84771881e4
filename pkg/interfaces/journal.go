package interfaces

import (
	"context"

	"storypoints/pkg/types"
)

// Journal records room lifecycle and membership activity.
type Journal interface {
	// Record queues an entry. It never blocks; entries may be dropped under load.
	Record(entry types.ActivityEntry)

	// Recent returns up to limit entries for room, newest first. Sinks that cannot be
	// read back return ErrJournalUnreadable.
	Recent(ctx context.Context, room string, limit int) ([]types.ActivityEntry, error)

	// HealthCheck reports whether the sink is reachable.
	HealthCheck(ctx context.Context) error

	// Close flushes queued entries and releases the sink.
	Close() error
}
