package task

import (
	"fmt"

	"github.com/pointdeck/pointdeck/internal/models"
)

// Lifecycle guards. Each returns a taxonomy error carrying the specific
// reason, so callers surface "task is not active for voting" rather than a
// generic failure.
//
//	draft --activate--> active --reveal--> revealed --finalize--> completed
//	active --deactivate--> draft
//	revealed --reset--> active (clears votes)
//
// Finalize is additionally allowed straight from active: an admin may assign
// points without revealing.

// EnsureActivatable rejects activation of completed tasks. Re-activating a
// task that is already active is permitted and idempotent apart from the
// vote clear.
func EnsureActivatable(t *models.Task) error {
	if t.Status == models.TaskStatusCompleted {
		return fmt.Errorf("completed task cannot be activated: %w", models.ErrInvalidState)
	}
	return nil
}

func EnsureDeactivatable(t *models.Task) error {
	if t.Status != models.TaskStatusActive {
		return fmt.Errorf("task is not active: %w", models.ErrInvalidState)
	}
	return nil
}

func EnsureRevealable(t *models.Task) error {
	if t.Status != models.TaskStatusActive {
		return fmt.Errorf("only an active task can be revealed: %w", models.ErrInvalidState)
	}
	return nil
}

func EnsureFinalizable(t *models.Task) error {
	if t.Status != models.TaskStatusActive && t.Status != models.TaskStatusRevealed {
		return fmt.Errorf("task must be active or revealed to finalize: %w", models.ErrInvalidState)
	}
	return nil
}

func EnsureResettable(t *models.Task) error {
	if t.Status != models.TaskStatusRevealed {
		return fmt.Errorf("only a revealed task can be reset: %w", models.ErrInvalidState)
	}
	return nil
}

// EnsureVotable guards vote submission and deletion. Votes are only
// meaningful while the task is active; after reveal the tally is frozen.
func EnsureVotable(t *models.Task) error {
	if t.Status != models.TaskStatusActive {
		return fmt.Errorf("task is not active for voting: %w", models.ErrInvalidState)
	}
	return nil
}
