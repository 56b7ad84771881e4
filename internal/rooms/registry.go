package rooms

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"storypoints/internal/session"
	"storypoints/internal/timer"
	"storypoints/pkg/types"
)

// Observer is told when rooms come and go. Calls are made with registry state
// locked and must return quickly.
type Observer interface {
	RoomCreated(name string)
	RoomClosed(name string)
}

// TimerFunc receives every countdown update of a room. It runs under the room lock.
type TimerFunc func(room string, state types.TimerState)

type Options struct {
	Clock        clockwork.Clock
	TickInterval time.Duration
	OnTimer      TimerFunc
	Observer     Observer
}

// Registry owns every live room and the connection-to-room back references used
// to resolve disconnects.
//
// The registry lock is never held while a room lock is being acquired, so code
// holding a room lock may call into the registry.
type Registry struct {
	mu          sync.RWMutex
	rooms       map[string]*Room
	connections map[string]string // connectionID -> room name

	clock    clockwork.Clock
	interval time.Duration
	onTimer  TimerFunc
	observer Observer
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = timer.DefaultInterval
	}
	return &Registry{
		rooms:       make(map[string]*Room),
		connections: make(map[string]string),
		clock:       opts.Clock,
		interval:    opts.TickInterval,
		onTimer:     opts.OnTimer,
		observer:    opts.Observer,
	}
}

// GetOrCreateRoom returns the room called name, creating it on first reference.
// The returned room is not locked and may be closed by the time the caller locks
// it; use Acquire for mutation.
func (reg *Registry) GetOrCreateRoom(name string) *Room {
	reg.mu.RLock()
	room, exists := reg.rooms[name]
	reg.mu.RUnlock()
	if exists {
		return room
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if room, exists = reg.rooms[name]; exists {
		return room
	}

	room = &Room{Name: name, Store: session.NewStore()}
	room.Timer = timer.New(room, reg.clock, reg.interval, name, func(state types.TimerState) {
		if reg.onTimer != nil {
			reg.onTimer(name, state)
		}
	})
	reg.rooms[name] = room

	log.Info().Str("room", name).Msg("room created")
	if reg.observer != nil {
		reg.observer.RoomCreated(name)
	}
	return room
}

// Acquire returns the room called name locked, creating it if needed. The room is
// guaranteed open; a room that was cleaned up between lookup and lock is replaced.
func (reg *Registry) Acquire(name string) *Room {
	for {
		room := reg.GetOrCreateRoom(name)
		room.Lock()
		if !room.closed {
			return room
		}
		room.Unlock()
	}
}

// AcquireExisting is Acquire without creation.
func (reg *Registry) AcquireExisting(name string) (*Room, bool) {
	for {
		reg.mu.RLock()
		room, exists := reg.rooms[name]
		reg.mu.RUnlock()
		if !exists {
			return nil, false
		}
		room.Lock()
		if !room.closed {
			return room, true
		}
		room.Unlock()
	}
}

// HasRoom reports whether name currently exists.
func (reg *Registry) HasRoom(name string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	_, exists := reg.rooms[name]
	return exists
}

// Count returns the number of live rooms and bound connections.
func (reg *Registry) Count() (rooms, connections int) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms), len(reg.connections)
}

// Summary describes one room.
func (reg *Registry) Summary(name string) (types.RoomSummary, error) {
	room, ok := reg.AcquireExisting(name)
	if !ok {
		return types.RoomSummary{}, ErrRoomNotFound
	}
	defer room.Unlock()
	return room.Summary(), nil
}

// Rooms describes every live room, sorted by name.
func (reg *Registry) Rooms() []types.RoomSummary {
	reg.mu.RLock()
	live := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		live = append(live, room)
	}
	reg.mu.RUnlock()

	summaries := make([]types.RoomSummary, 0, len(live))
	for _, room := range live {
		room.Lock()
		if !room.closed {
			summaries = append(summaries, room.Summary())
		}
		room.Unlock()
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries
}

// BindConnection records that connectionID belongs to room and returns the room it
// was bound to before, if any.
func (reg *Registry) BindConnection(connectionID, room string) (string, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	previous, had := reg.connections[connectionID]
	reg.connections[connectionID] = room
	return previous, had
}

// UnbindConnection forgets connectionID and returns the room it was bound to.
func (reg *Registry) UnbindConnection(connectionID string) (string, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room, had := reg.connections[connectionID]
	delete(reg.connections, connectionID)
	return room, had
}

// RoomForConnection returns the room connectionID is bound to.
func (reg *Registry) RoomForConnection(connectionID string) (string, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	room, had := reg.connections[connectionID]
	return room, had
}

// CleanupIfEmpty destroys room when it has no members left: its countdown stops,
// it is marked closed and removed together with any connection bindings that still
// point at it. The caller must hold the room lock. Reports whether the room was
// destroyed.
func (reg *Registry) CleanupIfEmpty(room *Room) bool {
	if room.closed || room.Store.MemberCount() > 0 {
		return false
	}

	room.Timer.Stop()
	room.closed = true

	reg.mu.Lock()
	if reg.rooms[room.Name] == room {
		delete(reg.rooms, room.Name)
	}
	for connectionID, name := range reg.connections {
		if name == room.Name {
			delete(reg.connections, connectionID)
		}
	}
	if reg.observer != nil {
		reg.observer.RoomClosed(room.Name)
	}
	reg.mu.Unlock()

	log.Info().Str("room", room.Name).Msg("room closed")
	return true
}

// Close stops every countdown and forgets all rooms. Used on shutdown.
func (reg *Registry) Close() {
	reg.mu.Lock()
	live := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		live = append(live, room)
	}
	reg.rooms = make(map[string]*Room)
	reg.connections = make(map[string]string)
	reg.mu.Unlock()

	for _, room := range live {
		room.Lock()
		room.Timer.Stop()
		room.closed = true
		room.Unlock()
	}
}
