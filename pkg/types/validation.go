package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

const (
	MaxNameLength = 64
	MaxRoomLength = 128
)

// DefaultScale is the story point scale offered by the voting UI.
var DefaultScale = []string{"?", "0", "0.5", "1", "2", "3", "5", "8", "13", "21", "34", "55"}

// NoSelection is the placeholder option the voting UI lists above the scale.
// Picking it withdraws the user's selection.
const NoSelection = "Select a story point..."

// Selection is a scale entry. Clients send either a JSON string ("5", "?") or a
// JSON number (5, 0.5); both decode to the same decimal string. null decodes to
// the empty selection.
type Selection string

// IsClear reports whether s withdraws a pick rather than making one.
func (s Selection) IsClear() bool {
	return s == "" || s == NoSelection
}

func (s *Selection) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = Selection(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSelection, string(data))
	}
	*s = Selection(num.String())
	return nil
}

// Scale is the set of selections a room accepts.
type Scale struct {
	values []string
	index  map[string]struct{}
}

// NewScale builds a Scale, rejecting empty or duplicated entries.
func NewScale(values []string) (*Scale, error) {
	if len(values) == 0 {
		return nil, ErrEmptyScale
	}
	index := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			return nil, ErrEmptyScale
		}
		if _, dup := index[v]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateScale, v)
		}
		index[v] = struct{}{}
	}
	return &Scale{values: append([]string(nil), values...), index: index}, nil
}

// Contains reports whether sel is on the scale.
func (s *Scale) Contains(sel Selection) bool {
	_, ok := s.index[string(sel)]
	return ok
}

// Values returns a copy of the scale in display order.
func (s *Scale) Values() []string {
	return append([]string(nil), s.values...)
}

// Validate checks the fields every room-scoped request needs. The secret is not
// checked here; that is the authorizer's job.
func (a Auth) Validate() error {
	if a.Room == "" {
		return ErrMissingRoom
	}
	if utf8.RuneCountInString(a.Room) > MaxRoomLength {
		return ErrInvalidRoom
	}
	return nil
}

func (r *JoinRequest) Validate() error {
	if err := r.Auth.Validate(); err != nil {
		return err
	}
	return ValidateName(r.Name)
}

func (r *LeaveRequest) Validate() error {
	if err := r.Auth.Validate(); err != nil {
		return err
	}
	return ValidateName(r.Name)
}

// Validate checks room and name. The value is checked separately, once the
// user is known to be live.
func (r *SelectionRequest) Validate() error {
	if err := r.Auth.Validate(); err != nil {
		return err
	}
	return ValidateName(r.Name)
}

// ValidateValue checks the value against scale. A clear is always accepted.
func (r *SelectionRequest) ValidateValue(scale *Scale) error {
	if r.Value.IsClear() || scale == nil || scale.Contains(r.Value) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidSelection, string(r.Value))
}

func (r *QARequest) Validate() error {
	if err := r.Auth.Validate(); err != nil {
		return err
	}
	return ValidateName(r.Name)
}

func (r *StartTimerRequest) Validate() error {
	if err := r.Auth.Validate(); err != nil {
		return err
	}
	if r.Time < 0 {
		return ErrInvalidTime
	}
	return nil
}

// ValidateName checks a user name. Names are taken literally: no trimming and no
// case folding.
func ValidateName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < 1 || n > MaxNameLength {
		return ErrInvalidName
	}
	return nil
}
