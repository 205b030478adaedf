package roomapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
	webrtc "github.com/pion/webrtc/v4"
	"github.com/signbridge/signaling-server/internal/identity"
	"github.com/signbridge/signaling-server/internal/roomdir"
	"github.com/signbridge/signaling-server/pkg/protocol"
	"github.com/signbridge/signaling-server/pkg/variables"
	"go.uber.org/fx"
)

type errResponse struct {
	Message string `json:"message"`
}

type roomResponse struct {
	RoomID      protocol.RoomID  `json:"roomId"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Type        roomdir.RoomType `json:"type"`
	Tags        []string         `json:"tags,omitempty"`
	Settings    roomdir.Settings `json:"settings"`
	HostID      protocol.UserID  `json:"hostId"`
	Online      int              `json:"online"`
}

type roomListResponse struct {
	Rooms []roomResponse `json:"rooms"`
}

type iceServersResponse struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

func toRoomResponse(room *roomdir.Room) roomResponse {
	return roomResponse{
		RoomID:      room.RoomID,
		Name:        room.Name,
		Description: room.Description,
		Type:        room.Type,
		Tags:        room.Tags,
		Settings:    room.Settings,
		HostID:      room.HostID,
		Online:      room.OnlineCount(),
	}
}

type roomController struct {
	directory *roomdir.Directory
	resolver  identity.Resolver
	logger    *slog.Logger
}

func (ctrl *roomController) createRoom(c echo.Context) error {
	ident := withIdentity(c)

	spec := roomdir.CreateSpec{}
	if err := c.Bind(&spec); err != nil {
		return c.JSON(http.StatusBadRequest, errResponse{Message: "wrong data format"})
	}
	spec.CreatorID = ident.UserID

	room, err := ctrl.directory.CreateRoom(c.Request().Context(), spec)
	if err != nil {
		if errors.Is(err, roomdir.ErrInvalidSpec) {
			return c.JSON(http.StatusBadRequest, errResponse{Message: "invalid room spec"})
		}
		return err
	}
	return c.JSON(http.StatusCreated, toRoomResponse(room))
}

func (ctrl *roomController) searchRooms(c echo.Context) error {
	filter := roomdir.SearchFilter{
		Type: roomdir.RoomType(c.QueryParam("type")),
	}
	if ident := withIdentity(c); ident != nil {
		filter.CallerID = ident.UserID
	}

	rooms, err := ctrl.directory.SearchRooms(c.Request().Context(), c.QueryParam("q"), filter)
	if err != nil {
		return err
	}

	response := roomListResponse{Rooms: make([]roomResponse, 0, len(rooms))}
	for _, room := range rooms {
		response.Rooms = append(response.Rooms, toRoomResponse(room))
	}
	return c.JSON(http.StatusOK, response)
}

func (ctrl *roomController) getRoom(c echo.Context) error {
	room, err := ctrl.directory.FindActiveRoom(c.Request().Context(), c.Param("roomId"))
	if err != nil {
		if errors.Is(err, roomdir.ErrRoomNotFound) {
			return c.JSON(http.StatusNotFound, errResponse{Message: "room not found"})
		}
		return err
	}
	return c.JSON(http.StatusOK, toRoomResponse(room))
}

// iceServers hands clients the STUN/TURN set to bootstrap their peer
// connections. Media never touches this service.
func (ctrl *roomController) iceServers(c echo.Context) error {
	servers := []webrtc.ICEServer{}

	if stunURLs := variables.Env(variables.STUN_URLS_NAME, variables.STUN_URLS_DEFAULT); stunURLs != "" {
		servers = append(servers, webrtc.ICEServer{URLs: strings.Split(stunURLs, ",")})
	}
	if turnURL := variables.Env(variables.TURN_URL_NAME, variables.TURN_URL_DEFAULT); turnURL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{turnURL},
			Username:   variables.Env(variables.TURN_USERNAME_NAME, variables.TURN_USERNAME_DEFAULT),
			Credential: variables.Env(variables.TURN_CREDENTIAL_NAME, variables.TURN_CREDENTIAL_DEFAULT),
		})
	}

	return c.JSON(http.StatusOK, iceServersResponse{ICEServers: servers})
}

func (ctrl *roomController) Resolve(router protocol.HttpRouter) error {
	router.POST("/rooms", ctrl.createRoom, identityWall(ctrl.resolver))
	router.GET("/rooms", ctrl.searchRooms, softIdentity(ctrl.resolver))
	router.GET("/rooms/:roomId", ctrl.getRoom, softIdentity(ctrl.resolver))
	router.GET("/ice-servers", ctrl.iceServers)
	return nil
}

var _ protocol.HttpResolvable = (*roomController)(nil)

type NewRoomControllerParams struct {
	fx.In

	Directory *roomdir.Directory
	Resolver  identity.Resolver
	Logger    *slog.Logger
}

func NewRoomController(params NewRoomControllerParams) *roomController {
	return &roomController{
		directory: params.Directory,
		resolver:  params.Resolver,
		logger:    params.Logger,
	}
}
