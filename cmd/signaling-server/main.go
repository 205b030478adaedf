package main

import (
	"github.com/signbridge/signaling-server/internal/eventbus"
	"github.com/signbridge/signaling-server/internal/gateway"
	"github.com/signbridge/signaling-server/internal/gesture"
	"github.com/signbridge/signaling-server/internal/identity"
	"github.com/signbridge/signaling-server/internal/presence"
	"github.com/signbridge/signaling-server/internal/profile"
	"github.com/signbridge/signaling-server/internal/registry"
	"github.com/signbridge/signaling-server/internal/relay"
	"github.com/signbridge/signaling-server/internal/roomapi"
	"github.com/signbridge/signaling-server/internal/roomdir"
	"github.com/signbridge/signaling-server/pkg/protocol"
	"github.com/signbridge/signaling-server/pkg/service"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		fx.Provide(
			registry.New,

			fx.Annotate(roomdir.NewBadgerStore, fx.As(new(roomdir.Store))),
			roomdir.NewDirectory,

			identity.NewResolver,
			profile.NewStore,
			gesture.NewEngine,

			gateway.NewSessionHub,
			func(hub *gateway.SessionHub) protocol.Sender { return hub },

			presence.NewCoordinator,
			relay.NewRelay,
			eventbus.NewBus,

			protocol.AsHttpController(gateway.NewSocketController),
			protocol.AsHttpController(roomapi.NewRoomController),
		),

		service.LoggerModule,
		service.DatabaseModule,
		service.HttpModule,
	).Run()
}
