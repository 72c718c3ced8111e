package task

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pointdeck/pointdeck/internal/models"
)

func taskIn(status models.TaskStatus) *models.Task {
	return &models.Task{Status: status}
}

func TestLifecycleGuards(t *testing.T) {
	all := []models.TaskStatus{
		models.TaskStatusDraft,
		models.TaskStatusActive,
		models.TaskStatusRevealed,
		models.TaskStatusCompleted,
	}

	tests := []struct {
		name    string
		guard   func(*models.Task) error
		allowed map[models.TaskStatus]bool
	}{
		{
			name:  "activate",
			guard: EnsureActivatable,
			allowed: map[models.TaskStatus]bool{
				models.TaskStatusDraft:    true,
				models.TaskStatusActive:   true,
				models.TaskStatusRevealed: true,
			},
		},
		{
			name:    "deactivate",
			guard:   EnsureDeactivatable,
			allowed: map[models.TaskStatus]bool{models.TaskStatusActive: true},
		},
		{
			name:    "reveal",
			guard:   EnsureRevealable,
			allowed: map[models.TaskStatus]bool{models.TaskStatusActive: true},
		},
		{
			name:  "finalize",
			guard: EnsureFinalizable,
			allowed: map[models.TaskStatus]bool{
				models.TaskStatusActive:   true,
				models.TaskStatusRevealed: true,
			},
		},
		{
			name:    "reset",
			guard:   EnsureResettable,
			allowed: map[models.TaskStatus]bool{models.TaskStatusRevealed: true},
		},
		{
			name:    "vote",
			guard:   EnsureVotable,
			allowed: map[models.TaskStatus]bool{models.TaskStatusActive: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, status := range all {
				err := tt.guard(taskIn(status))
				if tt.allowed[status] {
					assert.NoError(t, err, "%s from %s", tt.name, status)
				} else {
					assert.ErrorIs(t, err, models.ErrInvalidState, "%s from %s", tt.name, status)
				}
			}
		})
	}
}
