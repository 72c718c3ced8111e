package bridge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pointdeck/pointdeck/internal/models"
)

// Reader is the issue-tracker bridge's view of the engine: pure reads over
// finalized estimation results. The bridge never gets write access to vote
// or activation state.
type Reader struct {
	db *sql.DB
}

func NewReader(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// ExportTask is a task as the bridge sees it when syncing points outward.
type ExportTask struct {
	TaskID      uuid.UUID `json:"task_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StoryPoints *int      `json:"story_points,omitempty"`
}

// FinalizedTask returns the task's title, description, and current point
// value for export.
func (r *Reader) FinalizedTask(ctx context.Context, taskID uuid.UUID) (*ExportTask, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, title, description, story_points
		FROM tasks
		WHERE id = $1
	`, taskID)

	var t ExportTask
	var description sql.NullString
	var points sql.NullInt64
	err := row.Scan(&t.TaskID, &t.Title, &description, &points)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task for export: %w", err)
	}
	t.Description = description.String
	if points.Valid {
		p := int(points.Int64)
		t.StoryPoints = &p
	}
	return &t, nil
}

// Consolidation summarizes a room's estimated story points.
type Consolidation struct {
	RoomName           string       `json:"room_name"`
	TotalTasks         int          `json:"total_tasks"`
	CompletedTasks     int          `json:"completed_tasks"`
	TotalStoryPoints   int          `json:"total_story_points"`
	AverageStoryPoints float64      `json:"average_story_points"`
	Tasks              []ExportTask `json:"tasks"`
}

// ConsolidatedSummary aggregates story points across the room's tasks,
// listing only tasks that have been assigned points.
func (r *Reader) ConsolidatedSummary(ctx context.Context, roomID uuid.UUID) (*Consolidation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN story_points IS NOT NULL THEN 1 END),
			COALESCE(SUM(story_points), 0),
			COALESCE(AVG(story_points), 0)
		FROM tasks
		WHERE room_id = $1
	`, roomID)

	var summary Consolidation
	if err := row.Scan(&summary.TotalTasks, &summary.CompletedTasks,
		&summary.TotalStoryPoints, &summary.AverageStoryPoints); err != nil {
		return nil, fmt.Errorf("failed to read consolidation summary: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, description, story_points
		FROM tasks
		WHERE room_id = $1 AND story_points IS NOT NULL
		ORDER BY created_at
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pointed tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t ExportTask
		var description sql.NullString
		var points sql.NullInt64
		if err := rows.Scan(&t.TaskID, &t.Title, &description, &points); err != nil {
			return nil, fmt.Errorf("failed to scan pointed task: %w", err)
		}
		t.Description = description.String
		if points.Valid {
			p := int(points.Int64)
			t.StoryPoints = &p
		}
		summary.Tasks = append(summary.Tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pointed tasks: %w", err)
	}
	return &summary, nil
}
