package websocket

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"storypoints/pkg/types"
)

// Registry tracks live connections and the broadcast groups they belong to.
// It implements interfaces.Broadcaster.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection            // connectionID -> Connection
	groups      map[string]map[string]*Connection // group -> connectionID -> Connection
	memberships map[string]map[string]struct{}    // connectionID -> groups
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		groups:      make(map[string]map[string]*Connection),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Register adds conn under its id.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.ID()] = conn
	return nil
}

// Unregister removes conn and all of its group memberships. It only acts when conn
// is the instance registered under its id.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if registered, exists := r.connections[id]; !exists || registered != conn {
		return
	}
	delete(r.connections, id)

	for group := range r.memberships[id] {
		r.removeMember(group, id)
	}
	delete(r.memberships, id)
}

// Get returns the connection registered under connectionID.
func (r *Registry) Get(connectionID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, exists := r.connections[connectionID]
	return conn, exists
}

// JoinGroup adds a registered connection to group. Unknown connections are ignored.
func (r *Registry) JoinGroup(connectionID, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.connections[connectionID]
	if !exists {
		return
	}
	if r.groups[group] == nil {
		r.groups[group] = make(map[string]*Connection)
	}
	r.groups[group][connectionID] = conn

	if r.memberships[connectionID] == nil {
		r.memberships[connectionID] = make(map[string]struct{})
	}
	r.memberships[connectionID][group] = struct{}{}
}

// LeaveGroup removes connectionID from group.
func (r *Registry) LeaveGroup(connectionID, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeMember(group, connectionID)
	if groups, exists := r.memberships[connectionID]; exists {
		delete(groups, group)
		if len(groups) == 0 {
			delete(r.memberships, connectionID)
		}
	}
}

// DropGroup removes group and all of its memberships.
func (r *Registry) DropGroup(group string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for connectionID := range r.groups[group] {
		if groups, exists := r.memberships[connectionID]; exists {
			delete(groups, group)
			if len(groups) == 0 {
				delete(r.memberships, connectionID)
			}
		}
	}
	delete(r.groups, group)
}

// EmitToGroup encodes the event once and queues it on every member. A member whose
// queue is full is closed; its reader then runs the disconnect path.
func (r *Registry) EmitToGroup(group, event string, data interface{}) {
	frame, err := json.Marshal(types.Outbound{Event: event, Data: data})
	if err != nil {
		log.Error().Err(err).Str("group", group).Str("event", event).Msg("failed to encode broadcast")
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, conn := range r.groups[group] {
		err := conn.Send(frame)
		if errors.Is(err, ErrSendQueueFull) {
			log.Warn().Str("connection", id).Str("group", group).Msg("send queue full, closing slow connection")
			_ = conn.Close()
		}
	}
}

// GroupSize returns the number of connections in group.
func (r *Registry) GroupSize(group string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[group])
}

// GetStats returns registry statistics for the health endpoint.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"total_connections": len(r.connections),
		"active_groups":     len(r.groups),
	}
}

// CloseAll closes every registered connection. Readers then unregister them.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

// removeMember requires r.mu held for writing.
func (r *Registry) removeMember(group, connectionID string) {
	members, exists := r.groups[group]
	if !exists {
		return
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(r.groups, group)
	}
}
