package types

import "time"

// ActivityKind names a room lifecycle or membership event written to the journal.
type ActivityKind string

const (
	ActivityRoomCreated      ActivityKind = "room_created"
	ActivityRoomClosed       ActivityKind = "room_closed"
	ActivityUserJoined       ActivityKind = "user_joined"
	ActivityJoinRejected     ActivityKind = "join_rejected"
	ActivityUserLeft         ActivityKind = "user_left"
	ActivityUserDisconnected ActivityKind = "user_disconnected"
)

// IsValid reports whether k is one of the known kinds.
func (k ActivityKind) IsValid() bool {
	switch k {
	case ActivityRoomCreated, ActivityRoomClosed, ActivityUserJoined,
		ActivityJoinRejected, ActivityUserLeft, ActivityUserDisconnected:
		return true
	}
	return false
}

// ActivityEntry is one journal record. Selection values are never journaled.
type ActivityEntry struct {
	ID        string       `json:"id"`
	Room      string       `json:"room"`
	Kind      ActivityKind `json:"kind"`
	User      string       `json:"user,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// RoomSummary is the public view of a room served by the HTTP API.
type RoomSummary struct {
	Name       string     `json:"name"`
	Members    int        `json:"members"`
	Visibility bool       `json:"visibility"`
	Timer      TimerState `json:"timer"`
}
