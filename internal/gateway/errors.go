package gateway

import "errors"

var (
	ErrUnauthorized     = errors.New("secret does not match")
	ErrMalformedPayload = errors.New("malformed event payload")
	ErrUnknownEvent     = errors.New("unknown event")
)
