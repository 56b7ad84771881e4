package journal

import (
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"storypoints/pkg/interfaces"
	"storypoints/pkg/types"
)

// Recorder turns gateway activity and room lifecycle callbacks into journal entries.
// It satisfies gateway.ActivityRecorder and rooms.Observer.
type Recorder struct {
	journal interfaces.Journal
	clock   clockwork.Clock
}

// NewRecorder stamps entries for journal using clock.
func NewRecorder(journal interfaces.Journal, clock clockwork.Clock) *Recorder {
	if journal == nil {
		journal = Nop{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Recorder{journal: journal, clock: clock}
}

// Record journals one membership change.
func (r *Recorder) Record(room string, kind types.ActivityKind, user string) {
	r.journal.Record(types.ActivityEntry{
		ID:        uuid.NewString(),
		Room:      room,
		Kind:      kind,
		User:      user,
		Timestamp: r.clock.Now().UTC(),
	})
}

// RoomCreated journals a new room.
func (r *Recorder) RoomCreated(name string) {
	r.Record(name, types.ActivityRoomCreated, "")
}

// RoomClosed journals a removed room.
func (r *Recorder) RoomClosed(name string) {
	r.Record(name, types.ActivityRoomClosed, "")
}
