package roomdir

import (
	"time"

	"github.com/signbridge/signaling-server/pkg/protocol"
)

type Role string

const (
	RoleHost   Role = "host"
	RoleMember Role = "member"
)

type MessageType string

const (
	MessageText       MessageType = "text"
	MessageSignToText MessageType = "sign_to_text"
	MessageSystem     MessageType = "system"
)

type RoomType string

const (
	RoomPublic  RoomType = "public"
	RoomPrivate RoomType = "private"
)

type Settings struct {
	MaxParticipants    int  `json:"maxParticipants"`
	RequireApproval    bool `json:"requireApproval"`
	AutoTranslation    bool `json:"autoTranslation"`
	GestureRecognition bool `json:"gestureRecognition"`
}

type MediaState struct {
	Video       bool `json:"video"`
	Audio       bool `json:"audio"`
	ScreenShare bool `json:"screenShare"`
}

type Permissions struct {
	CanChat bool `json:"canChat"`
}

type Participant struct {
	UserID      protocol.UserID    `json:"userId"`
	SessionID   protocol.SessionID `json:"sessionId"`
	PeerID      protocol.PeerID    `json:"peerId"`
	Role        Role               `json:"role"`
	MediaState  MediaState         `json:"mediaState"`
	Permissions Permissions        `json:"permissions"`
	IsOnline    bool               `json:"isOnline"`
	JoinedAt    time.Time          `json:"joinedAt"`
}

type Message struct {
	ID        string          `json:"id"`
	SenderID  protocol.UserID `json:"senderId"`
	Type      MessageType     `json:"type"`
	Content   string          `json:"content"`
	ReplyTo   string          `json:"replyTo,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Room is the persisted record. Participants order is insertion order and is
// the tie-break for host migration.
type Room struct {
	RoomID       protocol.RoomID `json:"roomId"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Type         RoomType        `json:"type"`
	Tags         []string        `json:"tags,omitempty"`
	Settings     Settings        `json:"settings"`
	HostID       protocol.UserID `json:"hostId"`
	Participants []Participant   `json:"participants"`
	Messages     []Message       `json:"messages"`
	IsActive     bool            `json:"isActive"`
	CreatedAt    time.Time       `json:"createdAt"`
}

func (r *Room) Participant(userID protocol.UserID) *Participant {
	for i := range r.Participants {
		if r.Participants[i].UserID == userID {
			return &r.Participants[i]
		}
	}
	return nil
}

func (r *Room) OnlineCount() int {
	n := 0
	for i := range r.Participants {
		if r.Participants[i].IsOnline {
			n++
		}
	}
	return n
}

func (r *Room) OnlineParticipants() []Participant {
	result := make([]Participant, 0, len(r.Participants))
	for i := range r.Participants {
		if r.Participants[i].IsOnline {
			result = append(result, r.Participants[i])
		}
	}
	return result
}

// RecentMessages returns up to window messages from the tail of the log,
// oldest first.
func (r *Room) RecentMessages(window int) []Message {
	if window <= 0 || len(r.Messages) <= window {
		out := make([]Message, len(r.Messages))
		copy(out, r.Messages)
		return out
	}
	out := make([]Message, window)
	copy(out, r.Messages[len(r.Messages)-window:])
	return out
}

func (r *Room) Clone() *Room {
	clone := *r
	clone.Tags = append([]string(nil), r.Tags...)
	clone.Participants = append([]Participant(nil), r.Participants...)
	clone.Messages = append([]Message(nil), r.Messages...)
	return &clone
}
