package session

import "errors"

var (
	ErrNameTaken        = errors.New("name is already live in this room")
	ErrTokenGeneration  = errors.New("failed to generate session token")
	ErrConnectionNeeded = errors.New("connection id is required")
)
