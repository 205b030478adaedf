package roomdir

import "errors"

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomFull          = errors.New("room is full")
	ErrDuplicateRoomCode = errors.New("room code already taken")
	ErrInvalidSpec       = errors.New("invalid room spec")
	ErrNotMember         = errors.New("not a room member")
)
