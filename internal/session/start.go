package session

import (
	"context"
	"fmt"

	"callroom/native/internal/domain"
)

// Create makes a new room as the caller and returns a caller session for it.
func Create(ctx context.Context, rooms domain.RoomLifecycle, email string, deps Deps, opts ...Option) (*Session, *domain.Assignment, error) {
	a, err := rooms.CreateRoom(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("create room: %w", err)
	}
	if a.Role != domain.RoleCaller {
		return nil, nil, fmt.Errorf("create room: room service assigned role %q", a.Role)
	}
	s, err := New(a, deps, opts...)
	if err != nil {
		return nil, nil, err
	}
	return s, a, nil
}

// Join enters an existing room as the callee. Room lifecycle failures such
// as domain.ErrRoomNotFound and domain.ErrRoomFull are returned before any
// session is built.
func Join(ctx context.Context, rooms domain.RoomLifecycle, roomID, email string, deps Deps, opts ...Option) (*Session, *domain.Assignment, error) {
	a, err := rooms.JoinRoom(ctx, roomID, email)
	if err != nil {
		return nil, nil, fmt.Errorf("join room %s: %w", roomID, err)
	}
	if a.Role != domain.RoleCallee {
		return nil, nil, fmt.Errorf("join room: room service assigned role %q", a.Role)
	}
	s, err := New(a, deps, opts...)
	if err != nil {
		return nil, nil, err
	}
	return s, a, nil
}
