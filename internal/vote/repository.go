package vote

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/pointdeck/pointdeck/internal/models"
	"github.com/pointdeck/pointdeck/internal/sqlutil"
)

// Repository persists votes. Every write recomputes the task's vote count in
// the same transaction, so the count a caller broadcasts can never diverge
// from the rows.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UpsertVote inserts or overwrites the (task, participant) vote and returns
// the task's new total vote count.
func (r *Repository) UpsertVote(ctx context.Context, v models.Vote) (int, error) {
	var count int
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO votes (task_id, participant_id, estimate, voted_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (task_id, participant_id)
			DO UPDATE SET estimate = $3, voted_at = $4
		`, v.TaskID, v.ParticipantID, v.Estimate, v.VotedAt); err != nil {
			return fmt.Errorf("failed to upsert vote: %w", err)
		}
		return tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM votes WHERE task_id = $1`, v.TaskID).Scan(&count)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteVote removes the participant's vote and returns the new total count.
func (r *Repository) DeleteVote(ctx context.Context, taskID, participantID uuid.UUID) (int, error) {
	var count int
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM votes WHERE task_id = $1 AND participant_id = $2`, taskID, participantID); err != nil {
			return fmt.Errorf("failed to delete vote: %w", err)
		}
		return tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM votes WHERE task_id = $1`, taskID).Scan(&count)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ClearVotes deletes every vote for the task and returns how many were
// removed.
func (r *Repository) ClearVotes(ctx context.Context, taskID uuid.UUID) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM votes WHERE task_id = $1`, taskID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear votes: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared votes: %w", err)
	}
	return int(deleted), nil
}

func (r *Repository) ListVotes(ctx context.Context, taskID uuid.UUID) ([]models.Vote, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT task_id, participant_id, estimate, voted_at
		FROM votes
		WHERE task_id = $1
		ORDER BY voted_at ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	defer rows.Close()

	var votes []models.Vote
	for rows.Next() {
		var v models.Vote
		if err := rows.Scan(&v.TaskID, &v.ParticipantID, &v.Estimate, &v.VotedAt); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read votes: %w", err)
	}
	return votes, nil
}
