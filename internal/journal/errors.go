package journal

import "errors"

var (
	ErrUnknownBackend = errors.New("unknown journal backend")
	ErrInvalidLimit   = errors.New("limit must be positive")
)
