package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/signbridge/signaling-server/internal/profile"
	"github.com/signbridge/signaling-server/internal/registry"
	"github.com/signbridge/signaling-server/internal/roomdir"
	"github.com/signbridge/signaling-server/pkg/protocol"
	"github.com/signbridge/signaling-server/pkg/syncutil"
	"github.com/signbridge/signaling-server/pkg/variables"
	"go.uber.org/fx"
)

type RoomView struct {
	RoomID      protocol.RoomID  `json:"roomId"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Type        roomdir.RoomType `json:"type"`
	Tags        []string         `json:"tags,omitempty"`
	Settings    roomdir.Settings `json:"settings"`
	HostID      protocol.UserID  `json:"hostId"`
	CreatedAt   time.Time        `json:"createdAt"`
}

type ParticipantInfo struct {
	roomdir.Participant
	Username string `json:"username"`
}

// RoomSnapshot is what a joining session receives: the room, the current
// roster and the recent message history.
type RoomSnapshot struct {
	Room         RoomView          `json:"room"`
	Participants []ParticipantInfo `json:"participants"`
	Messages     []roomdir.Message `json:"messages"`
}

type userJoinedPayload struct {
	UserID     protocol.UserID    `json:"userId"`
	Username   string             `json:"username"`
	PeerID     protocol.PeerID    `json:"peerId"`
	Role       roomdir.Role       `json:"role"`
	MediaState roomdir.MediaState `json:"mediaState"`
}

type userLeftPayload struct {
	UserID   protocol.UserID `json:"userId"`
	Username string          `json:"username"`
}

type hostChangedPayload struct {
	RoomID    protocol.RoomID `json:"roomId"`
	NewHostID protocol.UserID `json:"newHostId"`
}

type mediaChangedPayload struct {
	UserID     protocol.UserID    `json:"userId"`
	MediaState roomdir.MediaState `json:"mediaState"`
}

// Coordinator drives every room lifecycle transition. It is the only writer
// of roster state: all mutations go through the directory's atomic
// operations under a per-room lock, and the session->rooms index lives here
// rather than being mirrored on both sides of the relationship.
type Coordinator struct {
	registry  *registry.Registry
	directory *roomdir.Directory
	profiles  profile.Store
	sender    protocol.Sender
	log       *slog.Logger
	grace     time.Duration

	locks *syncutil.KeyedMutex

	mu           sync.Mutex
	sessionRooms map[protocol.SessionID]map[protocol.RoomID]struct{}
}

type NewCoordinatorParams struct {
	fx.In

	Registry  *registry.Registry
	Directory *roomdir.Directory
	Profiles  profile.Store
	Sender    protocol.Sender
	Logger    *slog.Logger
}

func NewCoordinator(params NewCoordinatorParams) *Coordinator {
	return newCoordinator(
		params.Registry,
		params.Directory,
		params.Profiles,
		params.Sender,
		params.Logger,
		variables.EnvDuration(variables.OFFLINE_GRACE_NAME, variables.OFFLINE_GRACE_DEFAULT),
	)
}

func newCoordinator(
	reg *registry.Registry,
	directory *roomdir.Directory,
	profiles profile.Store,
	sender protocol.Sender,
	log *slog.Logger,
	grace time.Duration,
) *Coordinator {
	return &Coordinator{
		registry:     reg,
		directory:    directory,
		profiles:     profiles,
		sender:       sender,
		log:          log,
		grace:        grace,
		locks:        syncutil.NewKeyedMutex(),
		sessionRooms: make(map[protocol.SessionID]map[protocol.RoomID]struct{}),
	}
}

func (c *Coordinator) indexAdd(sessionID protocol.SessionID, roomID protocol.RoomID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rooms, exist := c.sessionRooms[sessionID]
	if !exist {
		rooms = make(map[protocol.RoomID]struct{})
		c.sessionRooms[sessionID] = rooms
	}
	rooms[roomID] = struct{}{}
}

// indexRemove reports whether the membership was present, which makes leave
// idempotent without consulting storage.
func (c *Coordinator) indexRemove(sessionID protocol.SessionID, roomID protocol.RoomID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	rooms, exist := c.sessionRooms[sessionID]
	if !exist {
		return false
	}
	if _, member := rooms[roomID]; !member {
		return false
	}
	delete(rooms, roomID)
	if len(rooms) == 0 {
		delete(c.sessionRooms, sessionID)
	}
	return true
}

// RoomsOf returns the rooms the session is currently a member of.
func (c *Coordinator) RoomsOf(sessionID protocol.SessionID) []protocol.RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]protocol.RoomID, 0, len(c.sessionRooms[sessionID]))
	for roomID := range c.sessionRooms[sessionID] {
		result = append(result, roomID)
	}
	return result
}

func (c *Coordinator) isMember(sessionID protocol.SessionID, roomID protocol.RoomID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, member := c.sessionRooms[sessionID][roomID]
	return member
}

// Join adds the session's user to the room and returns the snapshot for the
// joining session only. Existing members get a room:user-joined broadcast.
func (c *Coordinator) Join(
	ctx context.Context,
	sessionID protocol.SessionID,
	userID protocol.UserID,
	roomID protocol.RoomID,
	peerID protocol.PeerID,
) (*RoomSnapshot, error) {
	roomID = roomdir.NormalizeCode(roomID)

	unlock := c.locks.Lock(roomID)
	defer unlock()

	room, err := c.directory.AtomicAddParticipant(ctx, roomID, roomdir.Participant{
		UserID:      userID,
		SessionID:   sessionID,
		PeerID:      peerID,
		MediaState:  roomdir.MediaState{Video: true, Audio: true},
		Permissions: roomdir.Permissions{CanChat: true},
	})
	if err != nil {
		return nil, err
	}

	c.indexAdd(sessionID, roomID)

	// A host that dropped offline and never returned must not hold the room
	// hostless once someone is online again.
	if host := room.Participant(room.HostID); host == nil || !host.IsOnline {
		if migrated, err := c.migrateHost(ctx, room); err != nil {
			c.log.Warn("host migration on join failed", slog.String("room", roomID), slog.String("err", err.Error()))
		} else if migrated != nil {
			room = migrated
		}
	}

	username := profile.DisplayName(ctx, c.profiles, userID)
	joined := room.Participant(userID)
	payload := userJoinedPayload{
		UserID:     userID,
		Username:   username,
		PeerID:     peerID,
		Role:       joined.Role,
		MediaState: joined.MediaState,
	}
	c.broadcast(room, userID, protocol.EventRoomUserJoined, payload)

	return c.snapshot(ctx, room), nil
}

func (c *Coordinator) snapshot(ctx context.Context, room *roomdir.Room) *RoomSnapshot {
	participants := make([]ParticipantInfo, 0, len(room.Participants))
	for _, p := range room.OnlineParticipants() {
		participants = append(participants, ParticipantInfo{
			Participant: p,
			Username:    profile.DisplayName(ctx, c.profiles, p.UserID),
		})
	}

	return &RoomSnapshot{
		Room: RoomView{
			RoomID:      room.RoomID,
			Name:        room.Name,
			Description: room.Description,
			Type:        room.Type,
			Tags:        room.Tags,
			Settings:    room.Settings,
			HostID:      room.HostID,
			CreatedAt:   room.CreatedAt,
		},
		Participants: participants,
		Messages:     room.RecentMessages(c.directory.MessageWindow()),
	}
}

// Leave removes the user from the room. Leaving a room the session is not a
// member of is a no-op success, and never re-broadcasts room:user-left.
func (c *Coordinator) Leave(ctx context.Context, sessionID protocol.SessionID, roomID protocol.RoomID) error {
	roomID = roomdir.NormalizeCode(roomID)

	unlock := c.locks.Lock(roomID)
	defer unlock()

	// Resolve the user before touching the index: a session that is already
	// unregistered must not shed its membership while the roster entry stays.
	userID := c.registry.UserOf(sessionID)
	if userID == "" {
		return nil
	}

	if !c.indexRemove(sessionID, roomID) {
		return nil
	}

	room, err := c.directory.AtomicRemoveParticipant(ctx, roomID, userID)
	if err != nil {
		// Membership was already dropped from the index; restore nothing,
		// surface the failed critical write so the client can retry.
		c.indexAdd(sessionID, roomID)
		return err
	}

	c.broadcast(room, userID, protocol.EventRoomUserLeft, userLeftPayload{
		UserID:   userID,
		Username: profile.DisplayName(ctx, c.profiles, userID),
	})

	if len(room.Participants) == 0 {
		if err := c.directory.EndRoom(ctx, roomID); err != nil {
			return err
		}
		c.log.Info("room ended, last participant left", slog.String("room", roomID))
		return nil
	}

	if room.HostID == userID && room.OnlineCount() > 0 {
		if _, err := c.migrateHost(ctx, room); err != nil {
			return err
		}
	}
	return nil
}

// migrateHost deterministically promotes the online participant with the
// earliest JoinedAt; a timestamp collision falls back to roster order.
func (c *Coordinator) migrateHost(ctx context.Context, room *roomdir.Room) (*roomdir.Room, error) {
	online := room.OnlineParticipants()
	if len(online) == 0 {
		return nil, nil
	}

	next := online[0]
	for _, candidate := range online[1:] {
		if candidate.JoinedAt.Before(next.JoinedAt) {
			next = candidate
		}
	}

	updated, err := c.directory.SetHost(ctx, room.RoomID, next.UserID)
	if err != nil {
		return nil, err
	}

	payload := hostChangedPayload{RoomID: room.RoomID, NewHostID: next.UserID}
	for _, sessionID := range c.registry.SessionsForUser(next.UserID) {
		if err := c.sender.Send(sessionID, protocol.EventRoomHostChanged, payload); err != nil {
			c.log.Debug("host-changed delivery failed",
				slog.String("session", sessionID), slog.String("err", err.Error()))
		}
	}
	return updated, nil
}

// Disconnect tears down every room membership of a dying session. Rooms are
// processed independently: one failing room is logged and the rest still
// get cleaned up.
func (c *Coordinator) Disconnect(ctx context.Context, sessionID protocol.SessionID) {
	userID := c.registry.UserOf(sessionID)

	for _, roomID := range c.RoomsOf(sessionID) {
		if err := c.disconnectRoom(ctx, sessionID, userID, roomID); err != nil {
			c.log.Error("disconnect cleanup failed",
				slog.String("session", sessionID),
				slog.String("room", roomID),
				slog.String("err", err.Error()))
		}
	}
}

func (c *Coordinator) disconnectRoom(
	ctx context.Context,
	sessionID protocol.SessionID,
	userID protocol.UserID,
	roomID protocol.RoomID,
) error {
	unlock := c.locks.Lock(roomID)
	defer unlock()

	if !c.indexRemove(sessionID, roomID) {
		return nil
	}
	if userID == "" {
		return nil
	}

	room, changed, err := c.directory.MarkOffline(ctx, roomID, userID, sessionID)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	c.broadcast(room, userID, protocol.EventRoomUserLeft, userLeftPayload{
		UserID:   userID,
		Username: profile.DisplayName(ctx, c.profiles, userID),
	})

	if room.HostID == userID && room.OnlineCount() > 0 {
		if _, err := c.migrateHost(ctx, room); err != nil {
			return err
		}
	}

	time.AfterFunc(c.grace, func() {
		c.expireOffline(roomID, userID, sessionID)
	})
	return nil
}

// expireOffline fires once the grace window lapses. It checks state at fire
// time instead of tracking timers: a user who rejoined is online again and
// the expiry is a no-op.
func (c *Coordinator) expireOffline(roomID protocol.RoomID, userID protocol.UserID, sessionID protocol.SessionID) {
	ctx := context.Background()

	unlock := c.locks.Lock(roomID)
	defer unlock()

	room, removed, err := c.directory.ExpireOffline(ctx, roomID, userID, sessionID)
	if err != nil {
		c.log.Warn("offline expiry failed", slog.String("room", roomID), slog.String("err", err.Error()))
		return
	}
	if !removed {
		return
	}

	if room.IsActive && len(room.Participants) == 0 {
		if err := c.directory.EndRoom(ctx, roomID); err != nil {
			c.log.Warn("room archive failed", slog.String("room", roomID), slog.String("err", err.Error()))
			return
		}
		c.log.Info("room ended, grace window lapsed", slog.String("room", roomID))
	}
}

// UpdateMediaState updates the participant's media flags and broadcasts the
// change to the room.
func (c *Coordinator) UpdateMediaState(
	ctx context.Context,
	sessionID protocol.SessionID,
	roomID protocol.RoomID,
	state roomdir.MediaState,
) error {
	roomID = roomdir.NormalizeCode(roomID)

	if !c.isMember(sessionID, roomID) {
		return roomdir.ErrNotMember
	}

	unlock := c.locks.Lock(roomID)
	defer unlock()

	userID := c.registry.UserOf(sessionID)
	room, err := c.directory.SetMediaState(ctx, roomID, userID, state)
	if err != nil {
		return err
	}

	c.broadcast(room, userID, protocol.EventRoomUserMediaChanged, mediaChangedPayload{
		UserID:     userID,
		MediaState: state,
	})
	return nil
}

// broadcast fans one event out to every session of every online participant,
// excluding the originating user.
func (c *Coordinator) broadcast(room *roomdir.Room, exclude protocol.UserID, event string, payload any) {
	for _, p := range room.OnlineParticipants() {
		if p.UserID == exclude {
			continue
		}
		for _, sessionID := range c.registry.SessionsForUser(p.UserID) {
			if err := c.sender.Send(sessionID, event, payload); err != nil {
				c.log.Debug("room broadcast delivery failed",
					slog.String("session", sessionID), slog.String("err", err.Error()))
			}
		}
	}
}
