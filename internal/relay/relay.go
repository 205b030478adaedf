package relay

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/signbridge/signaling-server/internal/registry"
	"github.com/signbridge/signaling-server/internal/roomdir"
	"github.com/signbridge/signaling-server/pkg/protocol"
	"go.uber.org/atomic"
	"go.uber.org/fx"
)

const (
	KindOffer        = "offer"
	KindAnswer       = "answer"
	KindICECandidate = "ice-candidate"
)

var kindEvents = map[string]string{
	KindOffer:        protocol.EventWebrtcOffer,
	KindAnswer:       protocol.EventWebrtcAnswer,
	KindICECandidate: protocol.EventWebrtcICECandidate,
}

type envelopePayload struct {
	From    protocol.UserID `json:"from"`
	RoomID  protocol.RoomID `json:"roomId"`
	Payload json.RawMessage `json:"payload"`
}

type screenSharePayload struct {
	UserID protocol.UserID `json:"userId"`
	RoomID protocol.RoomID `json:"roomId"`
	Active bool            `json:"active"`
}

// Relay forwards opaque signaling payloads to every live session of the
// target user. No validation, no acknowledgment, no retry: the media
// negotiation protocol above carries its own timeout semantics.
type Relay struct {
	registry  *registry.Registry
	directory *roomdir.Directory
	sender    protocol.Sender
	log       *slog.Logger
	delivered atomic.Int64
}

type NewRelayParams struct {
	fx.In

	Registry  *registry.Registry
	Directory *roomdir.Directory
	Sender    protocol.Sender
	Logger    *slog.Logger
}

func NewRelay(params NewRelayParams) *Relay {
	return &Relay{
		registry:  params.Registry,
		directory: params.Directory,
		sender:    params.Sender,
		log:       params.Logger,
	}
}

// Relay fans the envelope out to the target's sessions and returns the count
// delivered. Zero is not an error: signaling legitimately races connection
// teardown.
func (r *Relay) Relay(from, to protocol.UserID, kind string, payload json.RawMessage, roomID protocol.RoomID) int {
	event, known := kindEvents[kind]
	if !known {
		r.log.Debug("dropping unknown signaling kind", slog.String("kind", kind))
		return 0
	}

	envelope := envelopePayload{
		From:    from,
		RoomID:  roomdir.NormalizeCode(roomID),
		Payload: payload,
	}

	delivered := 0
	for _, sessionID := range r.registry.SessionsForUser(to) {
		if err := r.sender.Send(sessionID, event, envelope); err != nil {
			r.log.Debug("signaling delivery failed",
				slog.String("session", sessionID), slog.String("err", err.Error()))
			continue
		}
		delivered++
	}
	r.delivered.Add(int64(delivered))
	return delivered
}

// Delivered reports the total envelopes delivered since boot.
func (r *Relay) Delivered() int64 {
	return r.delivered.Load()
}

// BroadcastScreenShare tells the room a user started or stopped sharing.
// Best-effort and room-scoped, same as signaling itself.
func (r *Relay) BroadcastScreenShare(ctx context.Context, userID protocol.UserID, roomID protocol.RoomID, active bool) {
	room, err := r.directory.FindActiveRoom(ctx, roomID)
	if err != nil {
		r.log.Debug("screen share broadcast skipped", slog.String("room", roomID), slog.String("err", err.Error()))
		return
	}

	payload := screenSharePayload{UserID: userID, RoomID: room.RoomID, Active: active}
	for _, p := range room.OnlineParticipants() {
		if p.UserID == userID {
			continue
		}
		for _, sessionID := range r.registry.SessionsForUser(p.UserID) {
			if err := r.sender.Send(sessionID, protocol.EventScreenShareChanged, payload); err != nil {
				r.log.Debug("screen share delivery failed",
					slog.String("session", sessionID), slog.String("err", err.Error()))
			}
		}
	}
}
