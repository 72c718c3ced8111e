package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pointdeck/pointdeck/internal/models"
	"github.com/pointdeck/pointdeck/internal/sqlutil"
)

// Repository persists task lifecycle changes. Multi-statement transitions run
// inside a single transaction so a failed mutation leaves the room unchanged.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const taskColumns = `id, room_id, title, description, status, story_points, created_by, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	var t models.Task
	var description sql.NullString
	var points sql.NullInt64
	err := row.Scan(&t.ID, &t.RoomID, &t.Title, &description, &t.Status, &points, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Description = description.String
	if points.Valid {
		p := int(points.Int64)
		t.StoryPoints = &p
	}
	return &t, nil
}

func (r *Repository) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// FindActiveTask returns the room's active task, or nil when no task is
// active. Used by the session hub to rebuild its pointer after a restart.
func (r *Repository) FindActiveTask(ctx context.Context, roomID uuid.UUID) (*models.Task, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE room_id = $1 AND status IN ('active', 'revealed') LIMIT 1`, roomID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active task: %w", err)
	}
	return t, nil
}

// ActivateExclusive promotes the target task to active in one transaction:
// every other active or revealed task in the room drops back to draft, and
// any stale votes on the target from a prior activation are cleared.
func (r *Repository) ActivateExclusive(ctx context.Context, roomID, taskID uuid.UUID) (*models.Task, error) {
	var activated *models.Task
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = 'draft', updated_at = NOW()
			WHERE room_id = $1 AND status IN ('active', 'revealed') AND id <> $2
		`, roomID, taskID); err != nil {
			return fmt.Errorf("failed to demote active tasks: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM votes WHERE task_id = $1`, taskID); err != nil {
			return fmt.Errorf("failed to clear stale votes: %w", err)
		}

		// The status condition backstops the caller's guard: a task completed
		// by a concurrent finalize must never be silently re-opened.
		row := tx.QueryRowContext(ctx, `
			UPDATE tasks SET status = 'active', updated_at = NOW()
			WHERE id = $1 AND room_id = $2 AND status <> 'completed'
			RETURNING `+taskColumns, taskID, roomID)
		t, err := scanTask(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("task %s in room %s cannot be activated: %w", taskID, roomID, models.ErrInvalidState)
		}
		if err != nil {
			return fmt.Errorf("failed to activate task: %w", err)
		}
		activated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return activated, nil
}

func (r *Repository) UpdateStatus(ctx context.Context, taskID uuid.UUID, status models.TaskStatus) (*models.Task, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE tasks SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+taskColumns, taskID, status)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update task status: %w", err)
	}
	return t, nil
}

// Finalize stores the agreed points and marks the task completed.
func (r *Repository) Finalize(ctx context.Context, taskID uuid.UUID, points int) (*models.Task, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE tasks SET status = 'completed', story_points = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+taskColumns, taskID, points)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to finalize task: %w", err)
	}
	return t, nil
}

// ResetToActive clears every vote for the task and returns it to active, in
// one transaction.
func (r *Repository) ResetToActive(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	var reset *models.Task
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM votes WHERE task_id = $1`, taskID); err != nil {
			return fmt.Errorf("failed to clear votes: %w", err)
		}
		row := tx.QueryRowContext(ctx, `
			UPDATE tasks SET status = 'active', updated_at = NOW()
			WHERE id = $1
			RETURNING `+taskColumns, taskID)
		t, err := scanTask(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to reset task: %w", err)
		}
		reset = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reset, nil
}

// TaskTally is a per-task vote count used in room snapshots and the
// consolidation summary.
type TaskTally struct {
	TaskID      uuid.UUID         `json:"task_id"`
	Title       string            `json:"title"`
	Status      models.TaskStatus `json:"status"`
	StoryPoints *int              `json:"story_points,omitempty"`
	VoteCount   int               `json:"vote_count"`
}

// TasksWithCounts lists every task in the room with its current vote count,
// recomputed from the vote rows.
func (r *Repository) TasksWithCounts(ctx context.Context, roomID uuid.UUID) ([]TaskTally, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.id, t.title, t.status, t.story_points, COUNT(v.participant_id)
		FROM tasks t
		LEFT JOIN votes v ON t.id = v.task_id
		WHERE t.room_id = $1
		GROUP BY t.id
		ORDER BY t.created_at DESC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list room tasks: %w", err)
	}
	defer rows.Close()

	var tallies []TaskTally
	for rows.Next() {
		var tt TaskTally
		var points sql.NullInt64
		if err := rows.Scan(&tt.TaskID, &tt.Title, &tt.Status, &points, &tt.VoteCount); err != nil {
			return nil, fmt.Errorf("failed to scan task tally: %w", err)
		}
		if points.Valid {
			p := int(points.Int64)
			tt.StoryPoints = &p
		}
		tallies = append(tallies, tt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read task tallies: %w", err)
	}
	return tallies, nil
}
