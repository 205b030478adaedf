package protocol

type (
	SessionID = string
	UserID    = string
	RoomID    = string
	PeerID    = string
)
