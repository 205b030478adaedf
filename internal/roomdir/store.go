package roomdir

import (
	"context"

	"github.com/signbridge/signaling-server/pkg/protocol"
)

// Store is the consistency contract every room backend must honor: Update
// applies mutate atomically against the latest persisted state, so a
// capacity check and the append it guards cannot interleave with another
// writer. Mutate returning an error aborts the update with nothing written.
type Store interface {
	Create(ctx context.Context, room *Room) error
	Get(ctx context.Context, roomID protocol.RoomID) (*Room, error)
	Update(ctx context.Context, roomID protocol.RoomID, mutate func(*Room) error) (*Room, error)
	ActiveRooms(ctx context.Context) ([]*Room, error)
}
