package protocol

import "errors"

var ErrSessionGone = errors.New("session has no live socket")

// Sender delivers one event to one live session. Implemented by the gateway
// session hub; kept here so coordination components never import transport.
type Sender interface {
	Send(sessionID SessionID, event string, payload any) error
}
