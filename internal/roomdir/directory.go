package roomdir

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/signbridge/signaling-server/pkg/protocol"
	"github.com/signbridge/signaling-server/pkg/variables"
	"go.uber.org/fx"
)

// errUnchanged aborts a store update that turned out to be a no-op, so
// idempotent retries never rewrite state or fan out twice.
var errUnchanged = errors.New("room state unchanged")

const createAttempts = 5

type CreateSpec struct {
	Name               string          `json:"name" validate:"required,min=1,max=64"`
	Description        string          `json:"description" validate:"max=280"`
	Type               RoomType        `json:"type"`
	Tags               []string        `json:"tags"`
	MaxParticipants    int             `json:"maxParticipants" validate:"gte=2,lte=50"`
	RequireApproval    bool            `json:"requireApproval"`
	AutoTranslation    bool            `json:"autoTranslation"`
	GestureRecognition bool            `json:"gestureRecognition"`
	CreatorID          protocol.UserID `json:"-"`
}

type SearchFilter struct {
	Type     RoomType
	CallerID protocol.UserID
}

type Directory struct {
	store    Store
	log      *slog.Logger
	validate *validator.Validate
	window   int
}

type NewDirectoryParams struct {
	fx.In

	Store  Store
	Logger *slog.Logger
}

func NewDirectory(params NewDirectoryParams) *Directory {
	return newDirectory(
		params.Store,
		params.Logger,
		variables.EnvInt(variables.MESSAGE_WINDOW_NAME, variables.MESSAGE_WINDOW_DEFAULT),
	)
}

func newDirectory(store Store, log *slog.Logger, window int) *Directory {
	return &Directory{
		store:    store,
		log:      log,
		validate: validator.New(),
		window:   window,
	}
}

func (d *Directory) MessageWindow() int { return d.window }

func (d *Directory) CreateRoom(ctx context.Context, spec CreateSpec) (*Room, error) {
	if err := d.validate.Struct(spec); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSpec, err)
	}
	if spec.Type == "" {
		spec.Type = RoomPublic
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		room := &Room{
			RoomID:      generateCode(),
			Name:        strings.TrimSpace(spec.Name),
			Description: strings.TrimSpace(spec.Description),
			Type:        spec.Type,
			Tags:        spec.Tags,
			Settings: Settings{
				MaxParticipants:    spec.MaxParticipants,
				RequireApproval:    spec.RequireApproval,
				AutoTranslation:    spec.AutoTranslation,
				GestureRecognition: spec.GestureRecognition,
			},
			HostID:       spec.CreatorID,
			Participants: []Participant{},
			Messages:     []Message{},
			IsActive:     true,
			CreatedAt:    time.Now().UTC(),
		}

		err := d.store.Create(ctx, room)
		if errors.Is(err, ErrDuplicateRoomCode) {
			d.log.Warn("room code collision, regenerating", slog.String("room", room.RoomID))
			continue
		}
		if err != nil {
			return nil, err
		}
		return room, nil
	}
	return nil, ErrDuplicateRoomCode
}

func (d *Directory) FindActiveRoom(ctx context.Context, roomID protocol.RoomID) (*Room, error) {
	room, err := d.store.Get(ctx, NormalizeCode(roomID))
	if err != nil {
		return nil, err
	}
	if !room.IsActive {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

func matchesQuery(room *Room, query string) bool {
	if query == "" {
		return true
	}
	if strings.Contains(strings.ToLower(room.Name), query) ||
		strings.Contains(strings.ToLower(room.Description), query) {
		return true
	}
	return lo.SomeBy(room.Tags, func(tag string) bool {
		return strings.Contains(strings.ToLower(tag), query)
	})
}

// SearchRooms matches active rooms by a case-insensitive substring over
// name, description and tags. Private rooms are visible only to their own
// participants.
func (d *Directory) SearchRooms(ctx context.Context, query string, filter SearchFilter) ([]*Room, error) {
	rooms, err := d.store.ActiveRooms(ctx)
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(strings.TrimSpace(query))

	return lo.Filter(rooms, func(room *Room, _ int) bool {
		if filter.Type != "" && room.Type != filter.Type {
			return false
		}
		if room.Type == RoomPrivate && (filter.CallerID == "" || room.Participant(filter.CallerID) == nil) {
			return false
		}
		return matchesQuery(room, query)
	}), nil
}

// AtomicAddParticipant is the single check-and-append closing the join race:
// the capacity check and the append run inside one store update, so two
// simultaneous joins can never both pass a K-1 count. A known user rejoining
// within the offline grace window is reactivated in place, keeping JoinedAt —
// an offline slot holds no online capacity, so the rejoin still has to win
// a free slot back.
func (d *Directory) AtomicAddParticipant(ctx context.Context, roomID protocol.RoomID, p Participant) (*Room, error) {
	return d.store.Update(ctx, NormalizeCode(roomID), func(room *Room) error {
		if !room.IsActive {
			return ErrRoomNotFound
		}

		if existing := room.Participant(p.UserID); existing != nil {
			if !existing.IsOnline && room.OnlineCount() >= room.Settings.MaxParticipants {
				return ErrRoomFull
			}
			existing.SessionID = p.SessionID
			existing.PeerID = p.PeerID
			existing.IsOnline = true
			if room.HostID == existing.UserID {
				existing.Role = RoleHost
			}
			return nil
		}

		if room.OnlineCount() >= room.Settings.MaxParticipants {
			return ErrRoomFull
		}

		p.IsOnline = true
		if p.JoinedAt.IsZero() {
			p.JoinedAt = time.Now().UTC()
		}
		if room.OnlineCount() == 0 {
			p.Role = RoleHost
			room.HostID = p.UserID
		} else if p.Role == "" {
			p.Role = RoleMember
		}

		room.Participants = append(room.Participants, p)
		return nil
	})
}

// AtomicRemoveParticipant is idempotent: removing a non-member succeeds and
// returns the room untouched.
func (d *Directory) AtomicRemoveParticipant(ctx context.Context, roomID protocol.RoomID, userID protocol.UserID) (*Room, error) {
	roomID = NormalizeCode(roomID)

	room, err := d.store.Update(ctx, roomID, func(room *Room) error {
		if room.Participant(userID) == nil {
			return errUnchanged
		}
		room.Participants = lo.Reject(room.Participants, func(p Participant, _ int) bool {
			return p.UserID == userID
		})
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return d.store.Get(ctx, roomID)
	}
	return room, err
}

// MarkOffline flags the participant offline without removing them, keeping
// the roster slot for a reconnect inside the grace window. The session id
// must still match: a stale disconnect must not knock out a fresh rejoin
// from another socket.
func (d *Directory) MarkOffline(ctx context.Context, roomID protocol.RoomID, userID protocol.UserID, sessionID protocol.SessionID) (*Room, bool, error) {
	room, err := d.store.Update(ctx, NormalizeCode(roomID), func(room *Room) error {
		p := room.Participant(userID)
		if p == nil || !p.IsOnline || p.SessionID != sessionID {
			return errUnchanged
		}
		p.IsOnline = false
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return room, true, nil
}

// ExpireOffline removes a participant whose grace window lapsed without a
// reconnect. No-op when the user came back or already left.
func (d *Directory) ExpireOffline(ctx context.Context, roomID protocol.RoomID, userID protocol.UserID, sessionID protocol.SessionID) (*Room, bool, error) {
	room, err := d.store.Update(ctx, NormalizeCode(roomID), func(room *Room) error {
		p := room.Participant(userID)
		if p == nil || p.IsOnline || p.SessionID != sessionID {
			return errUnchanged
		}
		room.Participants = lo.Reject(room.Participants, func(candidate Participant, _ int) bool {
			return candidate.UserID == userID
		})
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return room, true, nil
}

// AppendMessage appends to the room log. History truncation runs off the
// append path so a deep log never slows delivery down.
func (d *Directory) AppendMessage(ctx context.Context, roomID protocol.RoomID, msg Message) error {
	roomID = NormalizeCode(roomID)

	room, err := d.store.Update(ctx, roomID, func(room *Room) error {
		if !room.IsActive {
			return ErrRoomNotFound
		}
		room.Messages = append(room.Messages, msg)
		return nil
	})
	if err != nil {
		return err
	}

	if len(room.Messages) > d.window {
		go d.truncateMessages(roomID)
	}
	return nil
}

func (d *Directory) truncateMessages(roomID protocol.RoomID) {
	_, err := d.store.Update(context.Background(), roomID, func(room *Room) error {
		if len(room.Messages) <= d.window {
			return errUnchanged
		}
		room.Messages = append([]Message(nil), room.Messages[len(room.Messages)-d.window:]...)
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		d.log.Warn("message truncation failed", slog.String("room", roomID), slog.String("err", err.Error()))
	}
}

func (d *Directory) SetHost(ctx context.Context, roomID protocol.RoomID, userID protocol.UserID) (*Room, error) {
	return d.store.Update(ctx, NormalizeCode(roomID), func(room *Room) error {
		if !room.IsActive {
			return ErrRoomNotFound
		}
		room.HostID = userID
		for i := range room.Participants {
			if room.Participants[i].UserID == userID {
				room.Participants[i].Role = RoleHost
			} else if room.Participants[i].Role == RoleHost {
				room.Participants[i].Role = RoleMember
			}
		}
		return nil
	})
}

func (d *Directory) SetMediaState(ctx context.Context, roomID protocol.RoomID, userID protocol.UserID, state MediaState) (*Room, error) {
	room, err := d.store.Update(ctx, NormalizeCode(roomID), func(room *Room) error {
		if !room.IsActive {
			return ErrRoomNotFound
		}
		p := room.Participant(userID)
		if p == nil || !p.IsOnline {
			return ErrNotMember
		}
		p.MediaState = state
		return nil
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

// EndRoom archives the room. Records stay behind for audit.
func (d *Directory) EndRoom(ctx context.Context, roomID protocol.RoomID) error {
	_, err := d.store.Update(ctx, NormalizeCode(roomID), func(room *Room) error {
		if !room.IsActive {
			return errUnchanged
		}
		room.IsActive = false
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}
