package roomapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	echo "github.com/labstack/echo/v4"
	"github.com/signbridge/signaling-server/internal/identity"
	"github.com/signbridge/signaling-server/internal/roomdir"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	server    *httptest.Server
	directory *roomdir.Directory
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	directory := roomdir.NewDirectory(roomdir.NewDirectoryParams{
		Store:  roomdir.NewMemoryStore(),
		Logger: slog.Default(),
	})
	ctrl := NewRoomController(NewRoomControllerParams{
		Directory: directory,
		Resolver:  identity.InsecureResolver{},
		Logger:    slog.Default(),
	})

	router := echo.New()
	require.NoError(t, ctrl.Resolve(router))

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &apiFixture{server: server, directory: directory}
}

func (f *apiFixture) request(t *testing.T, method, path, token, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	request, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		request.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	if body != "" {
		request.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}

	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	defer response.Body.Close()

	payload, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	return response, payload
}

func TestRoomAPI_Create_Requires_Credentials(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)

	response, _ := f.request(t, http.MethodPost, "/rooms", "", `{"name":"study","maxParticipants":5}`)
	req.Equal(http.StatusUnauthorized, response.StatusCode)
}

func TestRoomAPI_Create_Room(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)

	response, payload := f.request(t, http.MethodPost, "/rooms", "alice",
		`{"name":"study","maxParticipants":5,"gestureRecognition":true}`)
	req.Equal(http.StatusCreated, response.StatusCode)

	created := roomResponse{}
	req.NoError(json.Unmarshal(payload, &created))
	req.Len(created.RoomID, 6)
	req.Equal("study", created.Name)
	req.Equal(roomdir.RoomPublic, created.Type)
	req.Equal("alice", created.HostID)
	req.True(created.Settings.GestureRecognition)

	stored, err := f.directory.FindActiveRoom(context.Background(), created.RoomID)
	req.NoError(err)
	req.Equal("alice", stored.HostID)
}

func TestRoomAPI_Create_Rejects_Invalid_Spec(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)

	response, _ := f.request(t, http.MethodPost, "/rooms", "alice", `{"name":"","maxParticipants":5}`)
	req.Equal(http.StatusBadRequest, response.StatusCode)

	response, _ = f.request(t, http.MethodPost, "/rooms", "alice", `{"name":"solo","maxParticipants":1}`)
	req.Equal(http.StatusBadRequest, response.StatusCode)
}

func TestRoomAPI_Search_Respects_Visibility(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)

	_, err := f.directory.CreateRoom(context.Background(), roomdir.CreateSpec{
		Name: "Open Practice", MaxParticipants: 10,
	})
	req.NoError(err)
	private, err := f.directory.CreateRoom(context.Background(), roomdir.CreateSpec{
		Name: "Private Practice", Type: roomdir.RoomPrivate, MaxParticipants: 10,
	})
	req.NoError(err)
	_, err = f.directory.AtomicAddParticipant(context.Background(), private.RoomID, roomdir.Participant{
		UserID: "alice", SessionID: "s-alice",
	})
	req.NoError(err)

	// Anonymous search sees the public room only.
	response, payload := f.request(t, http.MethodGet, "/rooms?q=practice", "", "")
	req.Equal(http.StatusOK, response.StatusCode)

	listing := roomListResponse{}
	req.NoError(json.Unmarshal(payload, &listing))
	req.Len(listing.Rooms, 1)
	req.Equal("Open Practice", listing.Rooms[0].Name)

	// A member of the private room sees both.
	_, payload = f.request(t, http.MethodGet, "/rooms?q=practice", "alice", "")
	req.NoError(json.Unmarshal(payload, &listing))
	req.Len(listing.Rooms, 2)
}

func TestRoomAPI_Get_Room_By_Code(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)

	room, err := f.directory.CreateRoom(context.Background(), roomdir.CreateSpec{
		Name: "study", MaxParticipants: 10,
	})
	req.NoError(err)

	response, payload := f.request(t, http.MethodGet, "/rooms/"+room.RoomID, "", "")
	req.Equal(http.StatusOK, response.StatusCode)

	fetched := roomResponse{}
	req.NoError(json.Unmarshal(payload, &fetched))
	req.Equal(room.RoomID, fetched.RoomID)

	response, _ = f.request(t, http.MethodGet, "/rooms/ZZZZZZ", "", "")
	req.Equal(http.StatusNotFound, response.StatusCode)
}

func TestRoomAPI_ICE_Servers(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)

	response, payload := f.request(t, http.MethodGet, "/ice-servers", "", "")
	req.Equal(http.StatusOK, response.StatusCode)

	servers := iceServersResponse{}
	req.NoError(json.Unmarshal(payload, &servers))
	req.NotEmpty(servers.ICEServers)
	req.Contains(servers.ICEServers[0].URLs, "stun:stun.l.google.com:19302")
}
