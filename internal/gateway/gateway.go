package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"storypoints/internal/rooms"
	"storypoints/pkg/interfaces"
	"storypoints/pkg/types"
)

// ActivityRecorder receives membership activity. Implementations must not block.
type ActivityRecorder interface {
	Record(room string, kind types.ActivityKind, user string)
}

type Options struct {
	Registry    *rooms.Registry
	Broadcaster interfaces.Broadcaster
	Authorizer  Authorizer
	Scale       *types.Scale
	Activity    ActivityRecorder
}

// Gateway turns inbound client events into room mutations and broadcasts the
// resulting state to the room's group. Every mutation and the broadcast that
// follows it happen under the room lock.
type Gateway struct {
	registry    *rooms.Registry
	broadcaster interfaces.Broadcaster
	auth        Authorizer
	scale       *types.Scale
	activity    ActivityRecorder
}

type nopRecorder struct{}

func (nopRecorder) Record(string, types.ActivityKind, string) {}

// New creates a gateway. A nil Authorizer admits every secret and a nil Activity
// records nothing.
func New(opts Options) *Gateway {
	g := &Gateway{
		registry:    opts.Registry,
		broadcaster: opts.Broadcaster,
		auth:        opts.Authorizer,
		scale:       opts.Scale,
		activity:    opts.Activity,
	}
	if g.auth == nil {
		g.auth = NewSecretAuthorizer("")
	}
	if g.activity == nil {
		g.activity = nopRecorder{}
	}
	return g
}

// TimerBroadcast returns the registry hook that forwards countdown updates to the
// room group.
func TimerBroadcast(b interfaces.Broadcaster) rooms.TimerFunc {
	return func(room string, state types.TimerState) {
		b.EmitToGroup(room, types.EventTimerUpdate, state)
	}
}

// HandleEvent processes one inbound event from connectionID and returns the reply
// for the requester, or nil when the event has none.
func (g *Gateway) HandleEvent(connectionID, event string, data json.RawMessage) interface{} {
	switch event {
	case types.EventJoin:
		return g.join(connectionID, data)
	case types.EventLeave:
		g.leave(connectionID, data)
	case types.EventSetSelection:
		return g.setSelection(data)
	case types.EventSetQA:
		g.setQA(data)
	case types.EventSetVisibility:
		g.setVisibility(data)
	case types.EventResetSelections:
		g.resetSelections(data, false)
	case types.EventNextStory:
		g.resetSelections(data, true)
	case types.EventStartTimer:
		g.startTimer(data)
	case types.EventPauseTimer, types.EventContinueTimer, types.EventResetTimer, types.EventHardResetTimer:
		g.timerTransition(event, data)
	case types.EventGetTimerState:
		return g.timerState(data)
	default:
		log.Debug().Str("connection", connectionID).Str("event", event).Err(ErrUnknownEvent).Msg("dropping event")
	}
	return nil
}

// Disconnect removes whatever user connectionID spoke for. It is called by the
// transport once the connection is gone, whether or not the user left first.
func (g *Gateway) Disconnect(connectionID string) {
	name, bound := g.registry.UnbindConnection(connectionID)
	if !bound {
		return
	}
	g.detach(connectionID, name, types.ActivityUserDisconnected)
}

func (g *Gateway) join(connectionID string, data json.RawMessage) interface{} {
	failed := types.JoinReply{Event: types.ReplyJoinFailed}

	var req types.JoinRequest
	if err := g.admit(data, &req, &req.Auth); err != nil {
		log.Debug().Str("connection", connectionID).Err(err).Msg("join refused")
		return failed
	}
	if err := req.Validate(); err != nil {
		log.Debug().Str("connection", connectionID).Err(err).Msg("join refused")
		return failed
	}

	room := g.registry.Acquire(req.Room)
	token, err := room.Store.Join(req.Name, req.Token, connectionID, req.IsQA)
	if err != nil {
		log.Info().Str("room", req.Room).Str("name", req.Name).Err(err).Msg("join rejected")
		g.activity.Record(req.Room, types.ActivityJoinRejected, req.Name)
		g.cleanupIfEmpty(room)
		room.Unlock()
		return failed
	}

	previous, hadPrevious := g.registry.BindConnection(connectionID, req.Room)
	g.broadcaster.JoinGroup(connectionID, req.Room)
	g.activity.Record(req.Room, types.ActivityUserJoined, req.Name)
	g.broadcastState(room, false)
	room.Unlock()

	log.Info().Str("room", req.Room).Str("name", req.Name).Bool("qa", req.IsQA).Msg("user joined")

	// A connection belongs to one room; its user in the old room goes away.
	if hadPrevious && previous != req.Room {
		g.detach(connectionID, previous, types.ActivityUserLeft)
	}

	return types.JoinReply{Event: types.ReplyJoined, Token: token}
}

func (g *Gateway) leave(connectionID string, data json.RawMessage) {
	var req types.LeaveRequest
	if !g.accept(data, &req, &req.Auth, req.Validate) {
		return
	}

	room, ok := g.registry.AcquireExisting(req.Room)
	if !ok {
		return
	}
	defer room.Unlock()

	requesterLeaves := false
	if name, bound := room.Store.UserForConnection(connectionID); bound && name == req.Name {
		requesterLeaves = true
	}

	live := room.Store.HasUser(req.Name)
	room.Store.LeaveByName(req.Name)
	if live {
		g.activity.Record(req.Room, types.ActivityUserLeft, req.Name)
		log.Info().Str("room", req.Room).Str("name", req.Name).Msg("user left")
	}
	g.broadcastState(room, false)

	if requesterLeaves {
		g.registry.UnbindConnection(connectionID)
		g.broadcaster.LeaveGroup(connectionID, req.Room)
	}
	g.cleanupIfEmpty(room)
}

func (g *Gateway) setSelection(data json.RawMessage) interface{} {
	var req types.SelectionRequest
	if !g.accept(data, &req, &req.Auth, req.Validate) {
		return nil
	}

	room, ok := g.registry.AcquireExisting(req.Room)
	if !ok {
		return types.ReplyDisconnected
	}
	defer room.Unlock()

	if !room.Store.HasUser(req.Name) {
		return types.ReplyDisconnected
	}
	if err := req.ValidateValue(g.scale); err != nil {
		log.Debug().Str("room", req.Room).Err(err).Msg("event dropped")
		return nil
	}

	if req.Value.IsClear() {
		room.Store.ClearSelection(req.Name)
	} else {
		room.Store.SetSelection(req.Name, req.Value)
	}
	g.broadcastState(room, false)
	return nil
}

func (g *Gateway) setQA(data json.RawMessage) {
	var req types.QARequest
	if !g.accept(data, &req, &req.Auth, req.Validate) {
		return
	}
	g.withRoom(req.Room, func(room *rooms.Room) {
		room.Store.SetQAFlag(req.Name, req.IsQA)
		g.broadcastState(room, false)
	})
}

func (g *Gateway) setVisibility(data json.RawMessage) {
	var req types.VisibilityRequest
	if !g.accept(data, &req, &req.Auth, func() error { return req.Auth.Validate() }) {
		return
	}
	g.withRoom(req.Room, func(room *rooms.Room) {
		room.Store.SetVisibility(req.Visibility)
		g.broadcastState(room, false)
	})
}

// resetSelections clears every pick. nextStory also hides the selections.
func (g *Gateway) resetSelections(data json.RawMessage, nextStory bool) {
	var req types.Auth
	if !g.accept(data, &req, &req, func() error { return req.Validate() }) {
		return
	}
	g.withRoom(req.Room, func(room *rooms.Room) {
		room.Store.ResetSelections()
		if nextStory {
			room.Store.SetVisibility(false)
		}
		g.broadcastState(room, true)
	})
}

func (g *Gateway) startTimer(data json.RawMessage) {
	var req types.StartTimerRequest
	if !g.accept(data, &req, &req.Auth, req.Validate) {
		return
	}
	g.withRoom(req.Room, func(room *rooms.Room) {
		if !room.Timer.Start(req.Time) {
			log.Debug().Str("room", req.Room).Str("phase", room.Timer.Phase().String()).Msg("start ignored")
		}
	})
}

func (g *Gateway) timerTransition(event string, data json.RawMessage) {
	var req types.Auth
	if !g.accept(data, &req, &req, func() error { return req.Validate() }) {
		return
	}
	g.withRoom(req.Room, func(room *rooms.Room) {
		applied := true
		switch event {
		case types.EventPauseTimer:
			applied = room.Timer.Pause()
		case types.EventContinueTimer:
			applied = room.Timer.Continue()
		case types.EventResetTimer:
			applied = room.Timer.Reset()
		case types.EventHardResetTimer:
			room.Timer.HardReset()
		}
		if !applied {
			log.Debug().Str("room", req.Room).Str("event", event).Str("phase", room.Timer.Phase().String()).Msg("timer transition ignored")
		}
	})
}

func (g *Gateway) timerState(data json.RawMessage) interface{} {
	var req types.Auth
	if !g.accept(data, &req, &req, func() error { return req.Validate() }) {
		return nil
	}
	room, ok := g.registry.AcquireExisting(req.Room)
	if !ok {
		return types.TimerState{}
	}
	defer room.Unlock()
	return room.Timer.State()
}

// detach removes the user connectionID speaks for from roomName and drops the
// connection from that room's group.
func (g *Gateway) detach(connectionID, roomName string, kind types.ActivityKind) {
	room, ok := g.registry.AcquireExisting(roomName)
	if !ok {
		return
	}
	defer room.Unlock()

	name, bound := room.Store.UserForConnection(connectionID)
	if room.Store.LeaveByConnection(connectionID) {
		g.activity.Record(roomName, kind, name)
		log.Info().Str("room", roomName).Str("name", name).Str("reason", string(kind)).Msg("user removed")
		g.broadcastState(room, false)
	} else if !bound {
		log.Debug().Str("room", roomName).Str("connection", connectionID).Msg("connection had no user")
	}
	g.broadcaster.LeaveGroup(connectionID, roomName)
	g.cleanupIfEmpty(room)
}

// withRoom runs fn on an existing room with its lock held. Events naming a room
// that does not exist have nobody to act on and are dropped.
func (g *Gateway) withRoom(name string, fn func(room *rooms.Room)) {
	room, ok := g.registry.AcquireExisting(name)
	if !ok {
		log.Debug().Str("room", name).Msg("event for unknown room dropped")
		return
	}
	defer room.Unlock()
	fn(room)
}

func (g *Gateway) broadcastState(room *rooms.Room, reset bool) {
	g.broadcaster.EmitToGroup(room.Name, types.EventStateUpdate, room.Store.Snapshot(reset))
}

// cleanupIfEmpty drops the group before the room leaves the registry, while no
// join to a room of the same name can run.
func (g *Gateway) cleanupIfEmpty(room *rooms.Room) {
	if room.Store.MemberCount() > 0 {
		return
	}
	g.broadcaster.DropGroup(room.Name)
	g.registry.CleanupIfEmpty(room)
}

// admit decodes data into v and checks the secret carried in auth.
func (g *Gateway) admit(data json.RawMessage, v interface{}, auth *types.Auth) error {
	if len(data) == 0 {
		return ErrMalformedPayload
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if !g.auth.Authorize(auth.Secret) {
		return ErrUnauthorized
	}
	return nil
}

// accept is admit followed by validate, logging and reporting whether the event
// may proceed.
func (g *Gateway) accept(data json.RawMessage, v interface{}, auth *types.Auth, validate func() error) bool {
	err := g.admit(data, v, auth)
	if err == nil {
		err = validate()
	}
	if err != nil {
		log.Debug().Str("room", auth.Room).Err(err).Msg("event dropped")
		return false
	}
	return true
}
