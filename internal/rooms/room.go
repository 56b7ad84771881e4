package rooms

import (
	"sync"

	"storypoints/internal/session"
	"storypoints/internal/timer"
	"storypoints/pkg/types"
)

// Room pairs one session store with one countdown under a single lock.
// Store and Timer must only be touched while the room is locked.
type Room struct {
	Name  string
	Store *session.Store
	Timer *timer.Countdown

	mu     sync.Mutex
	closed bool
}

func (r *Room) Lock()   { r.mu.Lock() }
func (r *Room) Unlock() { r.mu.Unlock() }

// Closed reports whether the room has been removed from its registry. A closed
// room must not be mutated; callers re-acquire by name instead.
func (r *Room) Closed() bool {
	return r.closed
}

// Summary describes the room without selection values. Caller holds the lock.
func (r *Room) Summary() types.RoomSummary {
	return types.RoomSummary{
		Name:       r.Name,
		Members:    r.Store.MemberCount(),
		Visibility: r.Store.Visibility(),
		Timer:      r.Timer.State(),
	}
}
