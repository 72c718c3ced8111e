package vote

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/pointdeck/pointdeck/internal/models"
	"github.com/pointdeck/pointdeck/internal/task"
)

// Store defines what the ledger needs from vote persistence.
type Store interface {
	UpsertVote(ctx context.Context, v models.Vote) (int, error)
	DeleteVote(ctx context.Context, taskID, participantID uuid.UUID) (int, error)
	ClearVotes(ctx context.Context, taskID uuid.UUID) (int, error)
	ListVotes(ctx context.Context, taskID uuid.UUID) ([]models.Vote, error)
}

// Ledger enforces at-most-one-vote-per-participant-per-task and computes
// aggregate statistics. Counts it reports always come from the store, never
// from a cached counter.
type Ledger struct {
	store Store
	clock clockwork.Clock
}

func NewLedger(store Store, clock clockwork.Clock) *Ledger {
	return &Ledger{store: store, clock: clock}
}

// Submit upserts the participant's estimate for an active task and returns
// the task's new total vote count.
func (l *Ledger) Submit(ctx context.Context, t *models.Task, participantID uuid.UUID, estimate int) (int, error) {
	if estimate < 0 {
		return 0, fmt.Errorf("estimate must be a non-negative integer: %w", models.ErrInvalidInput)
	}
	if err := task.EnsureVotable(t); err != nil {
		return 0, err
	}

	count, err := l.store.UpsertVote(ctx, models.Vote{
		TaskID:        t.ID,
		ParticipantID: participantID,
		Estimate:      estimate,
		VotedAt:       l.clock.Now(),
	})
	if err != nil {
		return 0, err
	}

	log.Debug().
		Str("task_id", t.ID.String()).
		Str("participant_id", participantID.String()).
		Int("count", count).
		Msg("vote recorded")
	return count, nil
}

// Delete removes the participant's own vote while the task is still active.
// Deleting after reveal is rejected so the revealed tally stays frozen.
func (l *Ledger) Delete(ctx context.Context, t *models.Task, participantID uuid.UUID) (int, error) {
	if err := task.EnsureVotable(t); err != nil {
		return 0, err
	}
	return l.store.DeleteVote(ctx, t.ID, participantID)
}

// ClearAll deletes every vote for the task. Admin only; the caller pairs it
// with the reset-to-active transition.
func (l *Ledger) ClearAll(ctx context.Context, taskID uuid.UUID) (int, error) {
	return l.store.ClearVotes(ctx, taskID)
}

// Statistics recomputes the aggregate for the task's current vote rows.
func (l *Ledger) Statistics(ctx context.Context, taskID uuid.UUID) (models.VoteStatistics, []models.Vote, error) {
	votes, err := l.store.ListVotes(ctx, taskID)
	if err != nil {
		return models.VoteStatistics{}, nil, err
	}
	estimates := make([]int, len(votes))
	for i, v := range votes {
		estimates[i] = v.Estimate
	}
	return ComputeStatistics(estimates), votes, nil
}
