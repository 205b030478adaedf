package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	echo "github.com/labstack/echo/v4"
	"github.com/signbridge/signaling-server/internal/eventbus"
	"github.com/signbridge/signaling-server/internal/gesture"
	"github.com/signbridge/signaling-server/internal/identity"
	"github.com/signbridge/signaling-server/internal/presence"
	"github.com/signbridge/signaling-server/internal/registry"
	"github.com/signbridge/signaling-server/internal/relay"
	"github.com/signbridge/signaling-server/internal/roomdir"
	"github.com/signbridge/signaling-server/pkg/protocol"
	"github.com/signbridge/signaling-server/pkg/variables"
	"github.com/signbridge/signaling-server/pkg/wsutils"
	"go.uber.org/fx"
)

type clientContext struct {
	ctx       context.Context
	sessionID protocol.SessionID
	userID    protocol.UserID
	username  string
}

type eventHandler func(client *clientContext, data []byte) error

type socketController struct {
	resolver identity.Resolver
	registry *registry.Registry
	presence *presence.Coordinator
	relay    *relay.Relay
	bus      *eventbus.Bus
	engine   gesture.Engine
	hub      *SessionHub
	logger   *slog.Logger
	upgrader websocket.Upgrader

	handlers map[string]eventHandler

	pingInterval time.Duration
	pongWait     time.Duration
}

type joinPayload struct {
	RoomID protocol.RoomID `json:"roomId"`
	PeerID protocol.PeerID `json:"peerId"`
}

type roomOnlyPayload struct {
	RoomID protocol.RoomID `json:"roomId"`
}

type mediaStatePayload struct {
	RoomID     protocol.RoomID    `json:"roomId"`
	MediaState roomdir.MediaState `json:"mediaState"`
}

type signalPayload struct {
	To      protocol.UserID `json:"to"`
	RoomID  protocol.RoomID `json:"roomId"`
	Payload json.RawMessage `json:"payload"`
}

type chatPayload struct {
	RoomID  protocol.RoomID     `json:"roomId"`
	Type    roomdir.MessageType `json:"type"`
	Content string              `json:"content"`
	ReplyTo string              `json:"replyTo,omitempty"`
}

type reactionInPayload struct {
	RoomID    protocol.RoomID `json:"roomId"`
	MessageID string          `json:"messageId"`
	Emoji     string          `json:"emoji"`
}

type gestureInPayload struct {
	RoomID        protocol.RoomID `json:"roomId,omitempty"`
	GestureData   json.RawMessage `json:"gestureData"`
	TargetGesture string          `json:"targetGesture,omitempty"`
}

type gestureResultPayload struct {
	Gesture    string  `json:"gesture"`
	Confidence float64 `json:"confidence"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func (ctrl *socketController) Resolve(router protocol.HttpRouter) error {
	router.GET("/ws", ctrl.handleSocket)
	return nil
}

func bearerToken(c echo.Context) string {
	if token := c.QueryParam("token"); token != "" {
		return token
	}
	authorization := c.Request().Header.Get(echo.HeaderAuthorization)
	return strings.TrimPrefix(authorization, "Bearer ")
}

func (ctrl *socketController) handleSocket(c echo.Context) error {
	ident, err := ctrl.resolver.Resolve(c.Request().Context(), bearerToken(c))
	if err != nil {
		ctrl.logger.Warn("connection rejected", slog.String("err", err.Error()))
		return c.JSON(http.StatusUnauthorized, errorPayload{Message: "invalid credentials"})
	}

	conn, err := ctrl.upgrader.Upgrade(c.Response().Writer, c.Request(), nil)
	if err != nil {
		ctrl.logger.Error(fmt.Sprintf("unable upgrade request %s", c.Request().RemoteAddr))
		return err
	}

	w := wsutils.NewThreadSafeWriter(conn)
	defer w.Close()

	sessionID := uuid.NewString()
	ctrl.registry.Register(ident.UserID, sessionID)
	ctrl.hub.Attach(sessionID, w)
	defer func() {
		ctrl.presence.Disconnect(context.Background(), sessionID)
		ctrl.hub.Detach(sessionID)
		ctrl.registry.Unregister(sessionID)
	}()

	ctrl.logger.Info("session connected",
		slog.String("session", sessionID), slog.String("user", ident.UserID))

	client := &clientContext{
		ctx:       c.Request().Context(),
		sessionID: sessionID,
		userID:    ident.UserID,
		username:  ident.Username,
	}

	done := make(chan struct{})
	defer close(done)
	go ctrl.heartbeat(w, done)

	if err := conn.SetReadDeadline(time.Now().Add(ctrl.pongWait)); err != nil {
		ctrl.logger.Warn("unable arm read deadline", slog.String("session", sessionID), slog.String("err", err.Error()))
		return nil
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(ctrl.pongWait))
	})

	message := &protocol.SocketMessage{}
	for {
		if err := w.ReadJSON(message); err != nil {
			ctrl.logger.Debug("session read loop closed",
				slog.String("session", sessionID), slog.String("err", err.Error()))
			return nil
		}

		handler, known := ctrl.handlers[message.Event]
		if !known {
			ctrl.sendError(client, protocol.EventRoomError, "unknown event")
			continue
		}
		if err := handler(client, []byte(message.Data)); err != nil {
			ctrl.logger.Debug("handler failed",
				slog.String("session", sessionID),
				slog.String("event", message.Event),
				slog.String("err", err.Error()))
		}
	}
}

// heartbeat forces unresponsive sessions out: a missed pong overruns the
// read deadline, the read loop fails and the deferred disconnect runs.
func (ctrl *socketController) heartbeat(w *wsutils.ThreadSafeWriter, done <-chan struct{}) {
	ticker := time.NewTicker(ctrl.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := w.Ping(time.Now().Add(ctrl.pingInterval)); err != nil {
				return
			}
		}
	}
}

func (ctrl *socketController) sendError(client *clientContext, errEvent, message string) {
	if err := ctrl.hub.Send(client.sessionID, errEvent, errorPayload{Message: message}); err != nil {
		ctrl.logger.Debug("error event delivery failed", slog.String("session", client.sessionID))
	}
}

// userMessage maps internal errors onto short, non-leaking client strings.
func userMessage(err error) string {
	switch {
	case errors.Is(err, roomdir.ErrRoomNotFound):
		return "room not found"
	case errors.Is(err, roomdir.ErrRoomFull):
		return "room is full"
	case errors.Is(err, roomdir.ErrNotMember):
		return "not a room member"
	case errors.Is(err, eventbus.ErrPermissionDenied):
		return "permission denied"
	case errors.Is(err, eventbus.ErrEmptyMessage):
		return "empty message"
	case errors.Is(err, gesture.ErrEngineUnavailable):
		return "gesture recognition unavailable"
	default:
		return "internal error"
	}
}

func (ctrl *socketController) fail(client *clientContext, errEvent string, err error) error {
	ctrl.sendError(client, errEvent, userMessage(err))
	return err
}

func decode[T any](data []byte) (*T, error) {
	payload := new(T)
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (ctrl *socketController) onRoomJoin(client *clientContext, data []byte) error {
	payload, err := decode[joinPayload](data)
	if err != nil {
		ctrl.sendError(client, protocol.EventRoomError, "wrong data format")
		return err
	}
	if payload.PeerID == "" {
		payload.PeerID = uuid.NewString()
	}

	snapshot, err := ctrl.presence.Join(client.ctx, client.sessionID, client.userID, payload.RoomID, payload.PeerID)
	if err != nil {
		return ctrl.fail(client, protocol.EventRoomError, err)
	}
	return ctrl.hub.Send(client.sessionID, protocol.EventRoomJoined, snapshot)
}

func (ctrl *socketController) onRoomLeave(client *clientContext, data []byte) error {
	payload, err := decode[roomOnlyPayload](data)
	if err != nil {
		ctrl.sendError(client, protocol.EventRoomError, "wrong data format")
		return err
	}

	if err := ctrl.presence.Leave(client.ctx, client.sessionID, payload.RoomID); err != nil {
		return ctrl.fail(client, protocol.EventRoomError, err)
	}
	return nil
}

func (ctrl *socketController) onMediaState(client *clientContext, data []byte) error {
	payload, err := decode[mediaStatePayload](data)
	if err != nil {
		ctrl.sendError(client, protocol.EventRoomError, "wrong data format")
		return err
	}

	if err := ctrl.presence.UpdateMediaState(client.ctx, client.sessionID, payload.RoomID, payload.MediaState); err != nil {
		return ctrl.fail(client, protocol.EventRoomError, err)
	}
	return nil
}

func (ctrl *socketController) onSignal(kind string) eventHandler {
	return func(client *clientContext, data []byte) error {
		payload, err := decode[signalPayload](data)
		if err != nil {
			ctrl.sendError(client, protocol.EventRoomError, "wrong data format")
			return err
		}
		ctrl.relay.Relay(client.userID, payload.To, kind, payload.Payload, payload.RoomID)
		return nil
	}
}

func (ctrl *socketController) onChatMessage(client *clientContext, data []byte) error {
	payload, err := decode[chatPayload](data)
	if err != nil {
		ctrl.sendError(client, protocol.EventChatError, "wrong data format")
		return err
	}

	input := eventbus.ChatInput{Type: payload.Type, Content: payload.Content, ReplyTo: payload.ReplyTo}
	if _, err := ctrl.bus.PublishChat(client.ctx, payload.RoomID, client.sessionID, input); err != nil {
		return ctrl.fail(client, protocol.EventChatError, err)
	}
	return nil
}

func (ctrl *socketController) onTyping(isTyping bool) eventHandler {
	return func(client *clientContext, data []byte) error {
		payload, err := decode[roomOnlyPayload](data)
		if err != nil {
			ctrl.sendError(client, protocol.EventChatError, "wrong data format")
			return err
		}
		return ctrl.bus.PublishTyping(client.ctx, payload.RoomID, client.sessionID, isTyping)
	}
}

func (ctrl *socketController) onReaction(client *clientContext, data []byte) error {
	payload, err := decode[reactionInPayload](data)
	if err != nil {
		ctrl.sendError(client, protocol.EventChatError, "wrong data format")
		return err
	}
	return ctrl.bus.PublishReaction(client.ctx, payload.RoomID, payload.MessageID, client.sessionID, payload.Emoji)
}

// onGestureRecognize calls the external engine under its bounded timeout.
// With a room id the result reaches the whole room; without one it is a
// practice request answered to the requesting session only.
func (ctrl *socketController) onGestureRecognize(client *clientContext, data []byte) error {
	payload, err := decode[gestureInPayload](data)
	if err != nil {
		ctrl.sendError(client, protocol.EventGestureError, "wrong data format")
		return err
	}

	result, err := ctrl.engine.Recognize(client.ctx, gesture.Request{
		GestureData:   payload.GestureData,
		TargetGesture: payload.TargetGesture,
	})
	if err != nil {
		return ctrl.fail(client, protocol.EventGestureError, err)
	}

	if payload.RoomID == "" {
		return ctrl.hub.Send(client.sessionID, protocol.EventGestureResult, gestureResultPayload{
			Gesture:    result.PredictedGesture,
			Confidence: result.Confidence,
		})
	}

	if err := ctrl.bus.PublishGestureResult(client.ctx, payload.RoomID, client.sessionID, result.PredictedGesture, result.Confidence); err != nil {
		return ctrl.fail(client, protocol.EventGestureError, err)
	}
	return nil
}

func (ctrl *socketController) onScreenShare(active bool) eventHandler {
	return func(client *clientContext, data []byte) error {
		payload, err := decode[roomOnlyPayload](data)
		if err != nil {
			ctrl.sendError(client, protocol.EventRoomError, "wrong data format")
			return err
		}
		ctrl.relay.BroadcastScreenShare(client.ctx, client.userID, payload.RoomID, active)
		return nil
	}
}

func (ctrl *socketController) buildDispatchTable() {
	ctrl.handlers = map[string]eventHandler{
		protocol.EventRoomJoin:       ctrl.onRoomJoin,
		protocol.EventRoomLeave:      ctrl.onRoomLeave,
		protocol.EventRoomMediaState: ctrl.onMediaState,

		protocol.EventWebrtcOffer:        ctrl.onSignal(relay.KindOffer),
		protocol.EventWebrtcAnswer:       ctrl.onSignal(relay.KindAnswer),
		protocol.EventWebrtcICECandidate: ctrl.onSignal(relay.KindICECandidate),

		protocol.EventChatMessage:     ctrl.onChatMessage,
		protocol.EventChatTypingStart: ctrl.onTyping(true),
		protocol.EventChatTypingStop:  ctrl.onTyping(false),
		protocol.EventChatReaction:    ctrl.onReaction,

		protocol.EventGestureRecognize: ctrl.onGestureRecognize,

		protocol.EventScreenShareStart: ctrl.onScreenShare(true),
		protocol.EventScreenShareStop:  ctrl.onScreenShare(false),
	}
}

var _ protocol.HttpResolvable = (*socketController)(nil)

type NewSocketControllerParams struct {
	fx.In

	Resolver identity.Resolver
	Registry *registry.Registry
	Presence *presence.Coordinator
	Relay    *relay.Relay
	Bus      *eventbus.Bus
	Engine   gesture.Engine
	Hub      *SessionHub
	Logger   *slog.Logger
}

func NewSocketController(params NewSocketControllerParams) *socketController {
	ctrl := &socketController{
		resolver: params.Resolver,
		registry: params.Registry,
		presence: params.Presence,
		relay:    params.Relay,
		bus:      params.Bus,
		engine:   params.Engine,
		hub:      params.Hub,
		logger:   params.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pingInterval: variables.EnvDuration(variables.HEARTBEAT_INTERVAL_NAME, variables.HEARTBEAT_INTERVAL_DEFAULT),
		pongWait:     variables.EnvDuration(variables.HEARTBEAT_TIMEOUT_NAME, variables.HEARTBEAT_TIMEOUT_DEFAULT),
	}
	ctrl.buildDispatchTable()
	return ctrl
}
