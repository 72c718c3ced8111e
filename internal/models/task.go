package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus defines where a task sits in its estimation lifecycle.
type TaskStatus string

const (
	TaskStatusDraft     TaskStatus = "draft"
	TaskStatusActive    TaskStatus = "active"
	TaskStatusRevealed  TaskStatus = "revealed"
	TaskStatusCompleted TaskStatus = "completed"
)

// Task represents a unit of work being estimated. At most one task per room
// is active at any time; the session hub enforces that, not the store.
type Task struct {
	ID          uuid.UUID  `json:"id"`
	RoomID      uuid.UUID  `json:"room_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	StoryPoints *int       `json:"story_points,omitempty"` // set on finalize only
	CreatedBy   uuid.UUID  `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
