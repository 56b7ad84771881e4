package rooms

import "errors"

var ErrRoomNotFound = errors.New("room not found")
