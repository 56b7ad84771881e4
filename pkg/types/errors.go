package types

import "errors"

var (
	ErrMissingRoom      = errors.New("room is required")
	ErrInvalidRoom      = errors.New("room name must be 1-128 characters")
	ErrInvalidName      = errors.New("name must be 1-64 characters")
	ErrInvalidSelection = errors.New("selection is not on the voting scale")
	ErrInvalidTime      = errors.New("timer duration must be zero or positive")
	ErrEmptyScale       = errors.New("voting scale cannot be empty")
	ErrDuplicateScale   = errors.New("voting scale contains duplicate values")
)
