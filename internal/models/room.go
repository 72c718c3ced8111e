package models

import (
	"time"

	"github.com/google/uuid"
)

// Role defines a participant's role within a room.
type Role string

const (
	RoleParticipant Role = "participant"
	RoleAdmin       Role = "admin"
)

// Room represents an estimation workspace containing tasks and participants.
// Rooms are created and destroyed by the membership layer; the engine only
// reads them.
type Room struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	InviteCode string    `json:"invite_code"`
	CreatorID  uuid.UUID `json:"creator_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Participant is a user resolved to have access to a room, either directly
// or through group membership.
type Participant struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Role Role      `json:"role"`
}
