package domain

// Role is the side a participant plays in a call. It is fixed by the room
// lifecycle call that produced it and never changes afterwards.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

func (r Role) Valid() bool {
	return r == RoleCaller || r == RoleCallee
}

// RoomState tracks a room on the room service.
type RoomState string

const (
	RoomOpen   RoomState = "open"
	RoomFull   RoomState = "full"
	RoomClosed RoomState = "closed"
)

// Room is owned by the room service; clients only learn their role from it.
type Room struct {
	RoomID      string    `json:"roomId"`
	CallerEmail string    `json:"callerEmail"`
	CalleeEmail *string   `json:"calleeEmail"`
	State       RoomState `json:"state"`
}

// Participant is one side of a room.
type Participant struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Assignment is the resolved outcome of creating or joining a room.
type Assignment struct {
	Role          Role
	RoomID        string
	RoomURL       string
	StatusMessage string
	Email         string
}
