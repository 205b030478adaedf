package protocol

import "encoding/json"

// Inbound events, read from the client socket.
const (
	EventRoomJoin       = "room:join"
	EventRoomLeave      = "room:leave"
	EventRoomMediaState = "room:media-state"

	EventWebrtcOffer        = "webrtc:offer"
	EventWebrtcAnswer       = "webrtc:answer"
	EventWebrtcICECandidate = "webrtc:ice-candidate"

	EventChatMessage     = "chat:message"
	EventChatTypingStart = "chat:typing-start"
	EventChatTypingStop  = "chat:typing-stop"
	EventChatReaction    = "chat:reaction"

	EventGestureRecognize = "gesture:recognize"

	EventScreenShareStart = "screen-share:start"
	EventScreenShareStop  = "screen-share:stop"
)

// Outbound events, written to client sockets.
const (
	EventRoomJoined           = "room:joined"
	EventRoomUserJoined       = "room:user-joined"
	EventRoomUserLeft         = "room:user-left"
	EventRoomHostChanged      = "room:host-changed"
	EventRoomUserMediaChanged = "room:user-media-changed"
	EventRoomEnded            = "room:ended"

	EventChatNewMessage = "chat:new-message"
	EventChatUserTyping = "chat:user-typing"

	EventGestureResult = "gesture:result"

	EventScreenShareChanged = "screen-share:changed"

	EventRoomError    = "room:error"
	EventChatError    = "chat:error"
	EventGestureError = "gesture:error"
)

// SocketMessage is the wire envelope for every socket event. Data carries
// the JSON-encoded payload of the event.
type SocketMessage struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

func NewSocketMessage(event string, payload any) (*SocketMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &SocketMessage{Event: event, Data: string(data)}, nil
}
