package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"

	"storypoints/pkg/types"
)

// TokenBytes is the amount of entropy in a reconnect token before hex encoding.
const TokenBytes = 256

// user is one joined participant.
type user struct {
	value        *types.Selection
	isQA         bool
	connectionID string
}

// Store holds the membership and voting state of a single room.
//
// Store is not safe for concurrent use. The owning room serializes access.
type Store struct {
	users      map[string]*user
	visibility bool

	// Reconnect tokens outlive membership: a token stays valid after its user is
	// removed so that a reconnecting client can present it.
	tokens map[string]string

	connections map[string]string // connectionID -> name

	random io.Reader
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		users:       make(map[string]*user),
		tokens:      make(map[string]string),
		connections: make(map[string]string),
		random:      rand.Reader,
	}
}

// Join adds name to the room and binds it to connectionID.
//
// A name that is already live can only be taken over by presenting the token issued
// on its last join. A name that is not live always joins, whatever token is sent.
// Every successful join rotates the token.
func (s *Store) Join(name, token, connectionID string, isQA bool) (string, error) {
	if connectionID == "" {
		return "", ErrConnectionNeeded
	}

	if existing, live := s.users[name]; live {
		if !tokensMatch(s.tokens[name], token) {
			return "", ErrNameTaken
		}
		if existing.connectionID != "" {
			delete(s.connections, existing.connectionID)
		}
	}

	fresh, err := s.newToken()
	if err != nil {
		return "", err
	}

	// A connection speaks for one user at a time.
	if previous, bound := s.connections[connectionID]; bound && previous != name {
		s.removeUser(previous)
	}

	s.users[name] = &user{isQA: isQA, connectionID: connectionID}
	s.connections[connectionID] = name
	s.tokens[name] = fresh

	return fresh, nil
}

// LeaveByName removes name and its connection binding. Absent names are ignored.
func (s *Store) LeaveByName(name string) {
	s.removeUser(name)
}

// LeaveByConnection removes whichever user connectionID is bound to and reports
// whether a user was removed.
func (s *Store) LeaveByConnection(connectionID string) bool {
	name, bound := s.connections[connectionID]
	if !bound {
		return false
	}
	s.removeUser(name)
	return true
}

// HasUser reports whether name is live.
func (s *Store) HasUser(name string) bool {
	_, ok := s.users[name]
	return ok
}

// UserForConnection returns the name bound to connectionID.
func (s *Store) UserForConnection(connectionID string) (string, bool) {
	name, ok := s.connections[connectionID]
	return name, ok
}

// SetSelection records name's pick. It returns false when name is not live.
func (s *Store) SetSelection(name string, value types.Selection) bool {
	u, ok := s.users[name]
	if !ok {
		return false
	}
	v := value
	u.value = &v
	return true
}

// ClearSelection withdraws name's pick. It returns false when name is not live.
func (s *Store) ClearSelection(name string) bool {
	u, ok := s.users[name]
	if !ok {
		return false
	}
	u.value = nil
	return true
}

// SetQAFlag marks name as QA or not. It returns false when name is not live.
func (s *Store) SetQAFlag(name string, isQA bool) bool {
	u, ok := s.users[name]
	if !ok {
		return false
	}
	u.isQA = isQA
	return true
}

// SetVisibility shows or hides selections for the whole room.
func (s *Store) SetVisibility(visible bool) {
	s.visibility = visible
}

// Visibility reports whether selections are shown.
func (s *Store) Visibility() bool {
	return s.visibility
}

// ResetSelections clears every pick. QA flags and visibility are kept.
func (s *Store) ResetSelections() {
	for _, u := range s.users {
		u.value = nil
	}
}

// Snapshot copies the current state. With reset set, the copy carries the one-shot
// reset marker; the stored state is not touched.
func (s *Store) Snapshot(reset bool) types.RoomState {
	users := make(map[string]types.UserState, len(s.users))
	for name, u := range s.users {
		entry := types.UserState{IsQA: u.isQA}
		if u.value != nil {
			v := *u.value
			entry.Value = &v
		}
		users[name] = entry
	}
	return types.RoomState{
		Users:      users,
		Visibility: s.visibility,
		Reset:      reset,
	}
}

// MemberCount returns the number of live users.
func (s *Store) MemberCount() int {
	return len(s.users)
}

func (s *Store) removeUser(name string) {
	u, ok := s.users[name]
	if !ok {
		return
	}
	if u.connectionID != "" && s.connections[u.connectionID] == name {
		delete(s.connections, u.connectionID)
	}
	delete(s.users, name)
}

func (s *Store) newToken() (string, error) {
	buf := make([]byte, TokenBytes)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenGeneration, err)
	}
	return hex.EncodeToString(buf), nil
}

func tokensMatch(stored, presented string) bool {
	if stored == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}
