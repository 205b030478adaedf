package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/signbridge/signaling-server/internal/registry"
	"github.com/signbridge/signaling-server/internal/roomdir"
	"github.com/signbridge/signaling-server/pkg/protocol"
	"github.com/signbridge/signaling-server/pkg/syncutil"
	"go.uber.org/atomic"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
)

var (
	ErrPermissionDenied = errors.New("chat permission denied")
	ErrEmptyMessage     = errors.New("empty message")
)

type ChatInput struct {
	Type    roomdir.MessageType `json:"type"`
	Content string              `json:"content"`
	ReplyTo string              `json:"replyTo,omitempty"`
}

type typingPayload struct {
	UserID   protocol.UserID `json:"userId"`
	RoomID   protocol.RoomID `json:"roomId"`
	IsTyping bool            `json:"isTyping"`
}

type gesturePayload struct {
	UserID     protocol.UserID `json:"userId"`
	RoomID     protocol.RoomID `json:"roomId"`
	Gesture    string          `json:"gesture"`
	Confidence float64         `json:"confidence"`
}

type reactionPayload struct {
	MessageID string          `json:"messageId"`
	UserID    protocol.UserID `json:"userId"`
	Emoji     string          `json:"emoji"`
}

// Bus broadcasts in-room traffic in submission order. Publishes for one room
// are serialized on the room's publish lock; the fan-out for a single event
// runs in parallel across sessions and completes before the lock releases,
// which is what gives every member the same total order per room.
type Bus struct {
	registry  *registry.Registry
	directory *roomdir.Directory
	sender    protocol.Sender
	log       *slog.Logger
	locks     *syncutil.KeyedMutex
	delivered atomic.Int64
}

type NewBusParams struct {
	fx.In

	Registry  *registry.Registry
	Directory *roomdir.Directory
	Sender    protocol.Sender
	Logger    *slog.Logger
}

func NewBus(params NewBusParams) *Bus {
	return &Bus{
		registry:  params.Registry,
		directory: params.Directory,
		sender:    params.Sender,
		log:       params.Logger,
		locks:     syncutil.NewKeyedMutex(),
	}
}

// newMessageID yields time-ordered ids with a random suffix. Monotonic
// enough for display ordering, not globally comparable.
func newMessageID() string {
	return ulid.Make().String()
}

// PublishChat validates the sender, persists the message and broadcasts it.
// A failed append degrades to delivered-but-not-retained instead of failing
// the broadcast.
func (b *Bus) PublishChat(
	ctx context.Context,
	roomID protocol.RoomID,
	senderSessionID protocol.SessionID,
	input ChatInput,
) (*roomdir.Message, error) {
	roomID = roomdir.NormalizeCode(roomID)

	unlock := b.locks.Lock(roomID)
	defer unlock()

	room, err := b.directory.FindActiveRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	userID := b.registry.UserOf(senderSessionID)
	participant := room.Participant(userID)
	if userID == "" || participant == nil || !participant.IsOnline {
		return nil, ErrPermissionDenied
	}
	if !participant.Permissions.CanChat {
		return nil, ErrPermissionDenied
	}

	if strings.TrimSpace(input.Content) == "" {
		return nil, ErrEmptyMessage
	}
	if input.Type == "" {
		input.Type = roomdir.MessageText
	}

	message := roomdir.Message{
		ID:        newMessageID(),
		SenderID:  userID,
		Type:      input.Type,
		Content:   input.Content,
		ReplyTo:   input.ReplyTo,
		Timestamp: time.Now().UTC(),
	}

	if err := b.directory.AppendMessage(ctx, roomID, message); err != nil {
		b.log.Warn("message delivered but not retained",
			slog.String("room", roomID), slog.String("err", err.Error()))
	}

	b.fanout(room, "", protocol.EventChatNewMessage, message)
	return &message, nil
}

// PublishTyping is ephemeral: broadcast only, never persisted, no ordering
// lock needed.
func (b *Bus) PublishTyping(ctx context.Context, roomID protocol.RoomID, senderSessionID protocol.SessionID, isTyping bool) error {
	room, err := b.directory.FindActiveRoom(ctx, roomID)
	if err != nil {
		return err
	}

	userID := b.registry.UserOf(senderSessionID)
	if userID == "" || room.Participant(userID) == nil {
		return nil
	}

	b.fanout(room, userID, protocol.EventChatUserTyping, typingPayload{
		UserID:   userID,
		RoomID:   room.RoomID,
		IsTyping: isTyping,
	})
	return nil
}

// PublishGestureResult relays an externally produced recognition result.
// Rooms that keep gesture recognition off never see these.
func (b *Bus) PublishGestureResult(
	ctx context.Context,
	roomID protocol.RoomID,
	senderSessionID protocol.SessionID,
	gesture string,
	confidence float64,
) error {
	room, err := b.directory.FindActiveRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.Settings.GestureRecognition {
		b.log.Debug("gesture result dropped, recognition disabled", slog.String("room", room.RoomID))
		return nil
	}

	userID := b.registry.UserOf(senderSessionID)
	b.fanout(room, "", protocol.EventGestureResult, gesturePayload{
		UserID:     userID,
		RoomID:     room.RoomID,
		Gesture:    gesture,
		Confidence: confidence,
	})
	return nil
}

// PublishReaction is ephemeral UI feedback, not recorded on the message.
func (b *Bus) PublishReaction(
	ctx context.Context,
	roomID protocol.RoomID,
	messageID string,
	senderSessionID protocol.SessionID,
	emoji string,
) error {
	room, err := b.directory.FindActiveRoom(ctx, roomID)
	if err != nil {
		return err
	}

	userID := b.registry.UserOf(senderSessionID)
	if userID == "" || room.Participant(userID) == nil {
		return nil
	}

	b.fanout(room, "", protocol.EventChatReaction, reactionPayload{
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
	})
	return nil
}

// Delivered reports the total events delivered since boot.
func (b *Bus) Delivered() int64 {
	return b.delivered.Load()
}

// fanout delivers one event to every session of every online participant,
// in parallel, and waits for all writes before returning.
func (b *Bus) fanout(room *roomdir.Room, exclude protocol.UserID, event string, payload any) {
	group := errgroup.Group{}

	for _, p := range room.OnlineParticipants() {
		if exclude != "" && p.UserID == exclude {
			continue
		}
		for _, sessionID := range b.registry.SessionsForUser(p.UserID) {
			sessionID := sessionID
			group.Go(func() error {
				if err := b.sender.Send(sessionID, event, payload); err != nil {
					b.log.Debug("event delivery failed",
						slog.String("session", sessionID), slog.String("err", err.Error()))
					return nil
				}
				b.delivered.Inc()
				return nil
			})
		}
	}
	_ = group.Wait()
}
