package types

import (
	"encoding/json"
)

// Inbound event names. Every event except join is dropped silently when it fails
// authorization; join answers with ReplyJoinFailed instead.
const (
	EventJoin            = "join"
	EventLeave           = "leave"
	EventSetSelection    = "set_selection"
	EventSetQA           = "set_qa"
	EventSetVisibility   = "set_visibility"
	EventResetSelections = "reset_selections"
	EventNextStory       = "next_story"
	EventStartTimer      = "start_timer"
	EventPauseTimer      = "pause_timer"
	EventContinueTimer   = "continue_timer"
	EventResetTimer      = "reset_timer"
	EventHardResetTimer  = "hard_reset_timer"
	EventGetTimerState   = "get_timer_state"
)

// Outbound event names.
const (
	EventAck         = "ack"
	EventStateUpdate = "state_update"
	EventTimerUpdate = "timer_update"
)

// Reply signals carried inside an ack.
const (
	ReplyJoined       = "joined"
	ReplyJoinFailed   = "join_failed"
	ReplyDisconnected = "disconnected"
)

// Envelope is the frame format on the websocket in both directions.
// ID is only set by clients that expect a reply; the server echoes it on the ack.
type Envelope struct {
	Event string          `json:"event"`
	ID    *int64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is what the server writes. Data is marshalled as-is.
type Outbound struct {
	Event string      `json:"event"`
	ID    *int64      `json:"id,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

// UserState is one entry of RoomState.Users. Value is nil while the user has not
// picked anything.
type UserState struct {
	Value *Selection `json:"value,omitempty"`
	IsQA  bool       `json:"isQA"`
}

// RoomState is broadcast to the room group after every state-affecting operation.
// Reset is only set on the broadcast that follows a reset or next-story.
type RoomState struct {
	Users      map[string]UserState `json:"users"`
	Visibility bool                 `json:"visibility"`
	Reset      bool                 `json:"reset,omitempty"`
}

// TimerState is broadcast on every timer transition and tick.
type TimerState struct {
	Time      int  `json:"time"`
	Paused    bool `json:"paused"`
	ShowTimer bool `json:"showTimer"`
}

// Auth carries the shared secret and the room every room-scoped request names.
type Auth struct {
	Secret string `json:"secret"`
	Room   string `json:"room"`
}

type JoinRequest struct {
	Auth
	Name  string `json:"name"`
	Token string `json:"token,omitempty"`
	IsQA  bool   `json:"isQA,omitempty"`
}

type LeaveRequest struct {
	Auth
	Name string `json:"name"`
}

type SelectionRequest struct {
	Auth
	Name  string    `json:"name"`
	Value Selection `json:"value"`
}

type QARequest struct {
	Auth
	Name string `json:"name"`
	IsQA bool   `json:"isQA"`
}

type VisibilityRequest struct {
	Auth
	Visibility bool `json:"visibility"`
}

type StartTimerRequest struct {
	Auth
	Time int `json:"time"`
}

// JoinReply answers a join. Token is empty when Event is ReplyJoinFailed.
type JoinReply struct {
	Event string `json:"event"`
	Token string `json:"token,omitempty"`
}
