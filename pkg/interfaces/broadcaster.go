package interfaces

// Broadcaster delivers server-originated events to groups of connections.
// Groups are named after rooms. Implementations must not block the caller: the
// gateway emits while holding a room lock.
type Broadcaster interface {
	// JoinGroup adds a connection to a group. Joining twice is a no-op.
	JoinGroup(connectionID, group string)

	// LeaveGroup removes a connection from a group if it is a member.
	LeaveGroup(connectionID, group string)

	// DropGroup forgets a group and all of its memberships.
	DropGroup(group string)

	// EmitToGroup queues event for every member of group, in call order per member.
	EmitToGroup(group, event string, data interface{})
}
