package roomdir

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/signbridge/signaling-server/pkg/protocol"
)

const roomKeyPrefix = "room:"

// Transactions are serializable; commits racing on the same key fail with
// ErrConflict, so losers re-run mutate against the winner's state.
const updateAttempts = 5

// BadgerStore persists rooms as JSON records keyed by "room:<CODE>".
type BadgerStore struct {
	db  *badger.DB
	log *slog.Logger
}

func NewBadgerStore(db *badger.DB, log *slog.Logger) *BadgerStore {
	return &BadgerStore{db: db, log: log}
}

func roomKey(roomID protocol.RoomID) []byte {
	return []byte(roomKeyPrefix + roomID)
}

func decodeRoom(value []byte) (*Room, error) {
	room := &Room{}
	if err := json.Unmarshal(value, room); err != nil {
		return nil, err
	}
	return room, nil
}

func (s *BadgerStore) Create(_ context.Context, room *Room) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := roomKey(room.RoomID)
		if _, err := txn.Get(key); err == nil {
			return ErrDuplicateRoomCode
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		value, err := json.Marshal(room)
		if err != nil {
			return err
		}
		return txn.Set(key, value)
	})
}

func (s *BadgerStore) Get(_ context.Context, roomID protocol.RoomID) (*Room, error) {
	var room *Room
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(roomKey(roomID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrRoomNotFound
		} else if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			room, err = decodeRoom(value)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

func (s *BadgerStore) Update(_ context.Context, roomID protocol.RoomID, mutate func(*Room) error) (*Room, error) {
	var updated *Room

	for attempt := 0; attempt < updateAttempts; attempt++ {
		err := s.db.Update(func(txn *badger.Txn) error {
			key := roomKey(roomID)
			item, err := txn.Get(key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrRoomNotFound
			} else if err != nil {
				return err
			}

			var room *Room
			if err = item.Value(func(value []byte) error {
				room, err = decodeRoom(value)
				return err
			}); err != nil {
				return err
			}

			if err = mutate(room); err != nil {
				return err
			}

			value, err := json.Marshal(room)
			if err != nil {
				return err
			}
			if err = txn.Set(key, value); err != nil {
				return err
			}
			updated = room
			return nil
		})
		if errors.Is(err, badger.ErrConflict) {
			s.log.Debug("room update conflict, retrying", slog.String("room", roomID))
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, badger.ErrConflict
}

func (s *BadgerStore) ActiveRooms(_ context.Context) ([]*Room, error) {
	var result []*Room
	err := s.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Prefix = []byte(roomKeyPrefix)
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				room, err := decodeRoom(value)
				if err != nil {
					return err
				}
				if room.IsActive {
					result = append(result, room)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
