// Package events holds the wire types pushed to room subscribers and the
// snapshot returned by the reconciliation read path. Every event carries the
// room's sequence number; a client that has already applied a sequence
// ignores a repeat, and a client that observes a gap reconciles from a
// snapshot instead of waiting for the missing push.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/pointdeck/pointdeck/internal/models"
)

// Kind identifies the type of a room event.
type Kind string

const (
	KindTaskActivated     Kind = "task-activated"
	KindTaskDeactivated   Kind = "task-deactivated"
	KindVoteRecorded      Kind = "vote-recorded"
	KindVotesRevealed     Kind = "votes-revealed"
	KindVotesCleared      Kind = "votes-cleared"
	KindTaskFinalized     Kind = "task-finalized"
	KindTaskDeleted       Kind = "task-deleted"
	KindMembershipChanged Kind = "membership-changed"
)

// RoomEvent is one sequence-tagged state change for a room. Sequence numbers
// are scoped per room, increase by exactly one per accepted mutation, and
// impose a total order on that room's events.
type RoomEvent struct {
	RoomID    uuid.UUID       `json:"room_id"`
	Seq       uint64          `json:"seq"`
	Kind      Kind            `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewRoomEvent marshals payload into a sequence-tagged event.
func NewRoomEvent(roomID uuid.UUID, seq uint64, kind Kind, at time.Time, payload any) (RoomEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return RoomEvent{}, err
	}
	return RoomEvent{
		RoomID:    roomID,
		Seq:       seq,
		Kind:      kind,
		Timestamp: at,
		Payload:   data,
	}, nil
}

// TaskActivatedPayload announces the room's new active task with an empty
// tally.
type TaskActivatedPayload struct {
	TaskID            uuid.UUID `json:"task_id"`
	Title             string    `json:"title"`
	VoteCount         int       `json:"vote_count"`
	TotalParticipants int       `json:"total_participants"`
}

type TaskDeactivatedPayload struct {
	TaskID uuid.UUID `json:"task_id"`
}

// VoteRecordedPayload carries the new total count only. Per-voter detail is
// withheld until reveal to preserve blind voting.
type VoteRecordedPayload struct {
	TaskID            uuid.UUID `json:"task_id"`
	VoteCount         int       `json:"vote_count"`
	TotalParticipants int       `json:"total_participants"`
}

// RevealedVote is one participant's estimate, visible after reveal.
type RevealedVote struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	Name          string    `json:"name"`
	Estimate      int       `json:"estimate"`
}

type VotesRevealedPayload struct {
	TaskID     uuid.UUID             `json:"task_id"`
	Votes      []RevealedVote        `json:"votes"`
	Statistics models.VoteStatistics `json:"statistics"`
}

type VotesClearedPayload struct {
	TaskID       uuid.UUID `json:"task_id"`
	DeletedCount int       `json:"deleted_count"`
}

type TaskFinalizedPayload struct {
	TaskID      uuid.UUID `json:"task_id"`
	StoryPoints int       `json:"story_points"`
}

type TaskDeletedPayload struct {
	TaskID uuid.UUID `json:"task_id"`
}

// MembershipChangedPayload is an opaque trigger: clients re-fetch room
// metadata rather than applying a delta.
type MembershipChangedPayload struct {
	RoomID uuid.UUID `json:"room_id"`
}

// ParticipantStatus reports whether a participant has voted on the active
// task. Identity only, never the estimate.
type ParticipantStatus struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	HasVoted bool      `json:"has_voted"`
}

// TaskSummary is a per-task line in a room snapshot.
type TaskSummary struct {
	TaskID      uuid.UUID         `json:"task_id"`
	Title       string            `json:"title"`
	Status      models.TaskStatus `json:"status"`
	StoryPoints *int              `json:"story_points,omitempty"`
	VoteCount   int               `json:"vote_count"`
}

// ActiveTaskView describes the room's current task for reconciliation.
// Votes and Statistics are populated only once the task is revealed.
type ActiveTaskView struct {
	TaskID     uuid.UUID              `json:"task_id"`
	Title      string                 `json:"title"`
	Revealed   bool                   `json:"revealed"`
	VoteCount  int                    `json:"vote_count"`
	Votes      []RevealedVote         `json:"votes,omitempty"`
	Statistics *models.VoteStatistics `json:"statistics,omitempty"`
}

// RoomSnapshot is the authoritative current state of a room. A reconnecting
// client replaces its local view with the snapshot wholesale and resumes
// applying pushes from Seq forward.
type RoomSnapshot struct {
	RoomID            uuid.UUID           `json:"room_id"`
	Seq               uint64              `json:"seq"`
	ActiveTask        *ActiveTaskView     `json:"active_task,omitempty"`
	Tasks             []TaskSummary       `json:"tasks"`
	Participants      []ParticipantStatus `json:"participants"`
	TotalParticipants int                 `json:"total_participants"`
}
