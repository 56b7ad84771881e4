package journal

import (
	"context"

	"storypoints/pkg/interfaces"
	"storypoints/pkg/types"
)

// Nop discards every entry.
type Nop struct{}

func (Nop) Record(types.ActivityEntry) {}

func (Nop) Recent(context.Context, string, int) ([]types.ActivityEntry, error) {
	return nil, interfaces.ErrJournalUnreadable
}

func (Nop) HealthCheck(context.Context) error { return nil }

func (Nop) Close() error { return nil }
