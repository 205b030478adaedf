package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	echo "github.com/labstack/echo/v4"
	"github.com/signbridge/signaling-server/internal/eventbus"
	"github.com/signbridge/signaling-server/internal/gesture"
	"github.com/signbridge/signaling-server/internal/identity"
	"github.com/signbridge/signaling-server/internal/presence"
	"github.com/signbridge/signaling-server/internal/profile"
	"github.com/signbridge/signaling-server/internal/registry"
	"github.com/signbridge/signaling-server/internal/relay"
	"github.com/signbridge/signaling-server/internal/roomdir"
	"github.com/signbridge/signaling-server/pkg/protocol"
	"github.com/stretchr/testify/require"
)

func TestUserMessage_Never_Leaks_Internals(t *testing.T) {
	req := require.New(t)

	req.Equal("room not found", userMessage(roomdir.ErrRoomNotFound))
	req.Equal("room is full", userMessage(roomdir.ErrRoomFull))
	req.Equal("not a room member", userMessage(roomdir.ErrNotMember))
	req.Equal("permission denied", userMessage(eventbus.ErrPermissionDenied))
	req.Equal("empty message", userMessage(eventbus.ErrEmptyMessage))
	req.Equal("gesture recognition unavailable", userMessage(gesture.ErrEngineUnavailable))
	req.Equal("internal error", userMessage(context.DeadlineExceeded))
}

func TestDecode_Rejects_Malformed_Payload(t *testing.T) {
	req := require.New(t)

	_, err := decode[joinPayload]([]byte(`{"roomId": 42}`))
	req.Error(err)

	payload, err := decode[joinPayload]([]byte(`{"roomId":"ABC234","peerId":"p-1"}`))
	req.NoError(err)
	req.Equal("ABC234", payload.RoomID)
	req.Equal("p-1", payload.PeerID)
}

func TestDispatchTable_Covers_Every_Inbound_Event(t *testing.T) {
	req := require.New(t)
	ctrl := &socketController{}
	ctrl.buildDispatchTable()

	for _, event := range []string{
		protocol.EventRoomJoin,
		protocol.EventRoomLeave,
		protocol.EventRoomMediaState,
		protocol.EventWebrtcOffer,
		protocol.EventWebrtcAnswer,
		protocol.EventWebrtcICECandidate,
		protocol.EventChatMessage,
		protocol.EventChatTypingStart,
		protocol.EventChatTypingStop,
		protocol.EventChatReaction,
		protocol.EventGestureRecognize,
		protocol.EventScreenShareStart,
		protocol.EventScreenShareStop,
	} {
		req.Contains(ctrl.handlers, event)
	}
}

type socketFixture struct {
	server    *httptest.Server
	directory *roomdir.Directory
	registry  *registry.Registry
	ctrl      *socketController
}

func newSocketFixture(t *testing.T) *socketFixture {
	t.Helper()

	reg := registry.New()
	directory := roomdir.NewDirectory(roomdir.NewDirectoryParams{
		Store:  roomdir.NewMemoryStore(),
		Logger: slog.Default(),
	})
	hub := NewSessionHub()
	coordinator := presence.NewCoordinator(presence.NewCoordinatorParams{
		Registry:  reg,
		Directory: directory,
		Profiles:  staticProfiles{},
		Sender:    hub,
		Logger:    slog.Default(),
	})
	ctrl := NewSocketController(NewSocketControllerParams{
		Resolver: identity.InsecureResolver{},
		Registry: reg,
		Presence: coordinator,
		Relay: relay.NewRelay(relay.NewRelayParams{
			Registry:  reg,
			Directory: directory,
			Sender:    hub,
			Logger:    slog.Default(),
		}),
		Bus: eventbus.NewBus(eventbus.NewBusParams{
			Registry:  reg,
			Directory: directory,
			Sender:    hub,
			Logger:    slog.Default(),
		}),
		Engine: failingEngine{},
		Hub:    hub,
		Logger: slog.Default(),
	})

	router := echo.New()
	require.NoError(t, ctrl.Resolve(router))

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &socketFixture{server: server, directory: directory, registry: reg, ctrl: ctrl}
}

type staticProfiles struct{}

func (staticProfiles) Profile(_ context.Context, userID protocol.UserID) (*profile.Profile, error) {
	return &profile.Profile{UserID: userID}, nil
}

type failingEngine struct{}

func (failingEngine) Recognize(context.Context, gesture.Request) (*gesture.Result, error) {
	return nil, gesture.ErrEngineUnavailable
}

func (f *socketFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	// The handshake completes before the server registers the session;
	// wait for it so the first frame cannot outrun registration.
	require.Eventually(t, func() bool {
		return len(f.registry.SessionsForUser(userID)) > 0
	}, 2*time.Second, 5*time.Millisecond)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	message, err := protocol.NewSocketMessage(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(message))
}

func read(t *testing.T, conn *websocket.Conn) *protocol.SocketMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	message := &protocol.SocketMessage{}
	require.NoError(t, conn.ReadJSON(message))
	return message
}

func TestSocket_Rejects_Missing_Credentials(t *testing.T) {
	req := require.New(t)
	f := newSocketFixture(t)

	response, err := http.Get(f.server.URL + "/ws")
	req.NoError(err)
	defer response.Body.Close()
	req.Equal(http.StatusUnauthorized, response.StatusCode)
}

func TestSocket_Join_And_Chat_Round_Trip(t *testing.T) {
	req := require.New(t)
	f := newSocketFixture(t)

	room, err := f.directory.CreateRoom(context.Background(), roomdir.CreateSpec{
		Name: "practice", MaxParticipants: 10,
	})
	req.NoError(err)

	alice := f.dial(t, "alice")
	send(t, alice, protocol.EventRoomJoin, map[string]string{"roomId": room.RoomID})

	joined := read(t, alice)
	req.Equal(protocol.EventRoomJoined, joined.Event)

	snapshot := presence.RoomSnapshot{}
	req.NoError(json.Unmarshal([]byte(joined.Data), &snapshot))
	req.Equal(room.RoomID, snapshot.Room.RoomID)
	req.Len(snapshot.Participants, 1)

	bob := f.dial(t, "bob")
	send(t, bob, protocol.EventRoomJoin, map[string]string{"roomId": room.RoomID})
	req.Equal(protocol.EventRoomJoined, read(t, bob).Event)

	// Alice hears the join, then the message bob publishes.
	req.Equal(protocol.EventRoomUserJoined, read(t, alice).Event)

	send(t, bob, protocol.EventChatMessage, map[string]string{
		"roomId":  room.RoomID,
		"content": "hello alice",
	})

	chat := read(t, alice)
	req.Equal(protocol.EventChatNewMessage, chat.Event)

	message := roomdir.Message{}
	req.NoError(json.Unmarshal([]byte(chat.Data), &message))
	req.Equal("bob", message.SenderID)
	req.Equal("hello alice", message.Content)
}

func TestSocket_Unknown_Event_Yields_Room_Error(t *testing.T) {
	req := require.New(t)
	f := newSocketFixture(t)

	conn := f.dial(t, "alice")
	send(t, conn, "room:teleport", map[string]string{})

	response := read(t, conn)
	req.Equal(protocol.EventRoomError, response.Event)

	payload := errorPayload{}
	req.NoError(json.Unmarshal([]byte(response.Data), &payload))
	req.Equal("unknown event", payload.Message)
}

func TestSocket_Missed_Pongs_Force_Disconnect(t *testing.T) {
	req := require.New(t)
	f := newSocketFixture(t)
	f.ctrl.pingInterval = 20 * time.Millisecond
	f.ctrl.pongWait = 60 * time.Millisecond

	room, err := f.directory.CreateRoom(context.Background(), roomdir.CreateSpec{
		Name: "practice", MaxParticipants: 10,
	})
	req.NoError(err)

	conn := f.dial(t, "alice")
	send(t, conn, protocol.EventRoomJoin, map[string]string{"roomId": room.RoomID})
	req.Equal(protocol.EventRoomJoined, read(t, conn).Event)

	// Stop reading: pings go unanswered, the pong deadline lapses, the read
	// loop fails and the deferred disconnect tears the session down.
	req.Eventually(func() bool {
		return len(f.registry.SessionsForUser("alice")) == 0
	}, 2*time.Second, 10*time.Millisecond)

	current, err := f.directory.FindActiveRoom(context.Background(), room.RoomID)
	req.NoError(err)
	req.NotNil(current.Participant("alice"))
	req.False(current.Participant("alice").IsOnline)
}

func TestSocket_Signaling_Relays_Between_Sessions(t *testing.T) {
	req := require.New(t)
	f := newSocketFixture(t)

	alice := f.dial(t, "alice")
	bob := f.dial(t, "bob")

	send(t, alice, protocol.EventWebrtcOffer, map[string]any{
		"to":      "bob",
		"roomId":  "ABC234",
		"payload": map[string]string{"type": "offer", "sdp": "v=0..."},
	})

	received := read(t, bob)
	req.Equal(protocol.EventWebrtcOffer, received.Event)

	envelope := struct {
		From    protocol.UserID `json:"from"`
		RoomID  protocol.RoomID `json:"roomId"`
		Payload json.RawMessage `json:"payload"`
	}{}
	req.NoError(json.Unmarshal([]byte(received.Data), &envelope))
	req.Equal("alice", envelope.From)
	req.Equal("ABC234", envelope.RoomID)
	req.JSONEq(`{"type":"offer","sdp":"v=0..."}`, string(envelope.Payload))
}

func TestSocket_Gesture_Failure_Maps_To_Gesture_Error(t *testing.T) {
	req := require.New(t)
	f := newSocketFixture(t)

	conn := f.dial(t, "alice")
	send(t, conn, protocol.EventGestureRecognize, map[string]any{
		"gestureData": map[string]string{"landmarks": "..."},
	})

	response := read(t, conn)
	req.Equal(protocol.EventGestureError, response.Event)

	payload := errorPayload{}
	req.NoError(json.Unmarshal([]byte(response.Data), &payload))
	req.Equal("gesture recognition unavailable", payload.Message)
}
