package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/pointdeck/pointdeck/internal/events"
	"github.com/pointdeck/pointdeck/internal/models"
)

// SnapshotFetcher pulls the room's authoritative state. Client-side this is
// an HTTP call to the snapshot endpoint; in tests it talks to the engine
// directly.
type SnapshotFetcher func(ctx context.Context) (*events.RoomSnapshot, error)

// Applier is the reference client-side view maintainer. It applies pushed
// events strictly in sequence order: a repeat of an already-applied sequence
// number is ignored, and on a gap the local view is replaced wholesale by a
// fresh snapshot instead of waiting for the missing push. Servers stay
// at-least-once/best-effort; the applier is what makes that idempotent.
type Applier struct {
	mu    sync.Mutex
	state *events.RoomSnapshot
	fetch SnapshotFetcher
}

func NewApplier(fetch SnapshotFetcher) *Applier {
	return &Applier{fetch: fetch}
}

// Reconcile replaces the local view with the authoritative snapshot. Called
// on connect, reconnect, and on any detected sequence gap.
func (a *Applier) Reconcile(ctx context.Context) error {
	snap, err := a.fetch(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.state = snap
	a.mu.Unlock()
	return nil
}

// Apply folds one pushed event into the local view, reconciling first when
// the event is not exactly one past the last applied sequence number.
func (a *Applier) Apply(ctx context.Context, evt events.RoomEvent) error {
	a.mu.Lock()
	if a.state != nil {
		if evt.Seq <= a.state.Seq {
			// Duplicate push; already applied.
			a.mu.Unlock()
			return nil
		}
		if evt.Seq == a.state.Seq+1 {
			err := a.applyLocked(evt)
			a.mu.Unlock()
			return err
		}
	}
	a.mu.Unlock()

	// Gap, or no state yet: the snapshot already includes this event's
	// effect (its seq is >= evt.Seq), so applying it afterwards would be a
	// duplicate.
	return a.Reconcile(ctx)
}

// Seq returns the last applied sequence number.
func (a *Applier) Seq() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == nil {
		return 0
	}
	return a.state.Seq
}

// State returns a deep copy of the local view.
func (a *Applier) State() *events.RoomSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == nil {
		return nil
	}
	data, err := json.Marshal(a.state)
	if err != nil {
		return nil
	}
	var out events.RoomSnapshot
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return &out
}

func (a *Applier) applyLocked(evt events.RoomEvent) error {
	switch evt.Kind {
	case events.KindTaskActivated:
		var p events.TaskActivatedPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", evt.Kind, err)
		}
		for i := range a.state.Tasks {
			if a.state.Tasks[i].Status == models.TaskStatusActive {
				a.state.Tasks[i].Status = models.TaskStatusDraft
			}
		}
		a.setTask(p.TaskID, func(t *events.TaskSummary) {
			t.Status = models.TaskStatusActive
			t.VoteCount = 0
		})
		a.state.ActiveTask = &events.ActiveTaskView{TaskID: p.TaskID, Title: p.Title}
		a.state.TotalParticipants = p.TotalParticipants
		a.clearVotedFlags()

	case events.KindTaskDeactivated:
		var p events.TaskDeactivatedPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", evt.Kind, err)
		}
		a.setTask(p.TaskID, func(t *events.TaskSummary) { t.Status = models.TaskStatusDraft })
		a.state.ActiveTask = nil
		a.clearVotedFlags()

	case events.KindVoteRecorded:
		var p events.VoteRecordedPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", evt.Kind, err)
		}
		if a.state.ActiveTask != nil && a.state.ActiveTask.TaskID == p.TaskID {
			a.state.ActiveTask.VoteCount = p.VoteCount
		}
		a.setTask(p.TaskID, func(t *events.TaskSummary) { t.VoteCount = p.VoteCount })
		a.state.TotalParticipants = p.TotalParticipants
		// Per-voter flags are blind mid-round; only the count is pushed.

	case events.KindVotesRevealed:
		var p events.VotesRevealedPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", evt.Kind, err)
		}
		if a.state.ActiveTask != nil && a.state.ActiveTask.TaskID == p.TaskID {
			a.state.ActiveTask.Revealed = true
			a.state.ActiveTask.Votes = p.Votes
			stats := p.Statistics
			a.state.ActiveTask.Statistics = &stats
			a.state.ActiveTask.VoteCount = p.Statistics.Count
		}
		a.setTask(p.TaskID, func(t *events.TaskSummary) { t.Status = models.TaskStatusRevealed })
		voted := make(map[string]bool, len(p.Votes))
		for _, v := range p.Votes {
			voted[v.ParticipantID.String()] = true
		}
		for i := range a.state.Participants {
			a.state.Participants[i].HasVoted = voted[a.state.Participants[i].ID.String()]
		}

	case events.KindVotesCleared:
		var p events.VotesClearedPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", evt.Kind, err)
		}
		a.setTask(p.TaskID, func(t *events.TaskSummary) {
			t.Status = models.TaskStatusActive
			t.VoteCount = 0
		})
		if a.state.ActiveTask == nil || a.state.ActiveTask.TaskID != p.TaskID {
			a.state.ActiveTask = &events.ActiveTaskView{TaskID: p.TaskID}
			if title, ok := a.taskTitle(p.TaskID); ok {
				a.state.ActiveTask.Title = title
			}
		}
		a.state.ActiveTask.Revealed = false
		a.state.ActiveTask.Votes = nil
		a.state.ActiveTask.Statistics = nil
		a.state.ActiveTask.VoteCount = 0
		a.clearVotedFlags()

	case events.KindTaskFinalized:
		var p events.TaskFinalizedPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", evt.Kind, err)
		}
		points := p.StoryPoints
		a.setTask(p.TaskID, func(t *events.TaskSummary) {
			t.Status = models.TaskStatusCompleted
			t.StoryPoints = &points
		})
		if a.state.ActiveTask != nil && a.state.ActiveTask.TaskID == p.TaskID {
			a.state.ActiveTask = nil
			a.clearVotedFlags()
		}

	case events.KindTaskDeleted:
		var p events.TaskDeletedPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", evt.Kind, err)
		}
		tasks := a.state.Tasks[:0]
		for _, t := range a.state.Tasks {
			if t.TaskID != p.TaskID {
				tasks = append(tasks, t)
			}
		}
		a.state.Tasks = tasks
		if a.state.ActiveTask != nil && a.state.ActiveTask.TaskID == p.TaskID {
			a.state.ActiveTask = nil
			a.clearVotedFlags()
		}

	case events.KindMembershipChanged:
		// Opaque trigger: room metadata is re-fetched out of band, the
		// local view has nothing to fold in.

	default:
		return fmt.Errorf("unknown event kind %q: %w", evt.Kind, models.ErrInvalidInput)
	}

	a.state.Seq = evt.Seq
	return nil
}

func (a *Applier) setTask(taskID uuid.UUID, fn func(*events.TaskSummary)) {
	for i := range a.state.Tasks {
		if a.state.Tasks[i].TaskID == taskID {
			fn(&a.state.Tasks[i])
			return
		}
	}
}

func (a *Applier) taskTitle(taskID uuid.UUID) (string, bool) {
	for _, t := range a.state.Tasks {
		if t.TaskID == taskID {
			return t.Title, true
		}
	}
	return "", false
}

func (a *Applier) clearVotedFlags() {
	for i := range a.state.Participants {
		a.state.Participants[i].HasVoted = false
	}
}
