package roomdir

import (
	"context"
	"sync"

	"github.com/signbridge/signaling-server/pkg/protocol"
)

type memoryEntry struct {
	mu   sync.Mutex
	room *Room
}

// MemoryStore keeps rooms in process memory. Every mutation for one room is
// serialized on the room's own mutex, different rooms proceed in parallel.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[protocol.RoomID]*memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[protocol.RoomID]*memoryEntry)}
}

func (s *MemoryStore) Create(_ context.Context, room *Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exist := s.rooms[room.RoomID]; exist {
		return ErrDuplicateRoomCode
	}
	s.rooms[room.RoomID] = &memoryEntry{room: room.Clone()}
	return nil
}

func (s *MemoryStore) entry(roomID protocol.RoomID) (*memoryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, exist := s.rooms[roomID]
	return entry, exist
}

func (s *MemoryStore) Get(_ context.Context, roomID protocol.RoomID) (*Room, error) {
	entry, exist := s.entry(roomID)
	if !exist {
		return nil, ErrRoomNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.room.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, roomID protocol.RoomID, mutate func(*Room) error) (*Room, error) {
	entry, exist := s.entry(roomID)
	if !exist {
		return nil, ErrRoomNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	next := entry.room.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	entry.room = next
	return next.Clone(), nil
}

func (s *MemoryStore) ActiveRooms(_ context.Context) ([]*Room, error) {
	s.mu.RLock()
	entries := make([]*memoryEntry, 0, len(s.rooms))
	for _, entry := range s.rooms {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	result := make([]*Room, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		if entry.room.IsActive {
			result = append(result, entry.room.Clone())
		}
		entry.mu.Unlock()
	}
	return result, nil
}
