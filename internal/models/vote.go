package models

import (
	"time"

	"github.com/google/uuid"
)

// Vote is one participant's estimate for a task. The (task, participant)
// pair is unique; resubmission overwrites.
type Vote struct {
	TaskID        uuid.UUID `json:"task_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
	Estimate      int       `json:"estimate"`
	VotedAt       time.Time `json:"voted_at"`
}

// VoteStatistics summarizes the revealed votes for a task. All values are
// recomputed from the vote rows; the engine never trusts a client-reported
// count.
type VoteStatistics struct {
	Count   int     `json:"count"`
	Min     int     `json:"min"`
	Max     int     `json:"max"`
	Average float64 `json:"average"` // rounded to one decimal
	Median  float64 `json:"median"`
	Mode    int     `json:"mode"` // ties broken toward the smaller value
}
