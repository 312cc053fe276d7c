package relay

import (
	"fmt"
	"sync"

	"callroom/native/internal/domain"

	"github.com/google/uuid"
)

// Store keeps rooms in memory. A room is Open until its callee joins, Full
// while both participants are in it, and Closed once either side leaves.
type Store struct {
	mu    sync.Mutex
	rooms map[string]*domain.Room
}

func NewStore() *Store {
	return &Store{rooms: make(map[string]*domain.Room)}
}

// Create opens a room owned by callerEmail.
func (s *Store) Create(callerEmail string) domain.Room {
	room := &domain.Room{
		RoomID:      uuid.NewString(),
		CallerEmail: callerEmail,
		State:       domain.RoomOpen,
	}

	s.mu.Lock()
	s.rooms[room.RoomID] = room
	s.mu.Unlock()
	return *room
}

// Join adds the callee. Closed rooms are reported as not found.
func (s *Store) Join(roomID, calleeEmail string) (domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok || room.State == domain.RoomClosed {
		return domain.Room{}, fmt.Errorf("%w: %s", domain.ErrRoomNotFound, roomID)
	}
	if room.State == domain.RoomFull {
		return domain.Room{}, fmt.Errorf("%w: %s", domain.ErrRoomFull, roomID)
	}

	email := calleeEmail
	room.CalleeEmail = &email
	room.State = domain.RoomFull
	return *room, nil
}

// Close marks a room closed. It reports whether the room was still live.
func (s *Store) Close(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok || room.State == domain.RoomClosed {
		return false
	}
	room.State = domain.RoomClosed
	return true
}

func (s *Store) Get(roomID string) (domain.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return domain.Room{}, false
	}
	return *room, true
}
