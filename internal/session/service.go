package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/pointdeck/pointdeck/internal/events"
	"github.com/pointdeck/pointdeck/internal/models"
	"github.com/pointdeck/pointdeck/internal/task"
)

// TaskStore defines what the service needs from task persistence.
type TaskStore interface {
	GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error)
	FindActiveTask(ctx context.Context, roomID uuid.UUID) (*models.Task, error)
	ActivateExclusive(ctx context.Context, roomID, taskID uuid.UUID) (*models.Task, error)
	UpdateStatus(ctx context.Context, taskID uuid.UUID, status models.TaskStatus) (*models.Task, error)
	Finalize(ctx context.Context, taskID uuid.UUID, points int) (*models.Task, error)
	ResetToActive(ctx context.Context, taskID uuid.UUID) (*models.Task, error)
	TasksWithCounts(ctx context.Context, roomID uuid.UUID) ([]task.TaskTally, error)
}

// Ledger defines what the service needs from the vote ledger.
type Ledger interface {
	Submit(ctx context.Context, t *models.Task, participantID uuid.UUID, estimate int) (int, error)
	Delete(ctx context.Context, t *models.Task, participantID uuid.UUID) (int, error)
	Statistics(ctx context.Context, taskID uuid.UUID) (models.VoteStatistics, []models.Vote, error)
}

// Directory resolves authorization and membership; both are owned by the
// excluded membership layer and treated as point-in-time answers.
type Directory interface {
	ResolveAccess(ctx context.Context, participantID, roomID uuid.UUID) (bool, error)
	ResolveRole(ctx context.Context, participantID, roomID uuid.UUID) (models.Role, error)
	ParticipantsOf(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error)
}

// Broadcaster pushes a room event to every subscribed client. Delivery is
// best-effort; failures are resolved by the affected client's own
// reconciliation, never reported back to the mutating caller.
type Broadcaster interface {
	Broadcast(evt events.RoomEvent)
}

// Service is the estimation-session engine: every mutating operation runs in
// the room hub's critical section, commits through the store, takes the next
// sequence number, and hands the resulting snapshot to the fan-out after the
// lock is released.
type Service struct {
	tasks       TaskStore
	ledger      Ledger
	directory   Directory
	hubs        *Registry
	broadcaster Broadcaster
	clock       clockwork.Clock
}

func NewService(tasks TaskStore, ledger Ledger, directory Directory, hubs *Registry, broadcaster Broadcaster, clock clockwork.Clock) *Service {
	return &Service{
		tasks:       tasks,
		ledger:      ledger,
		directory:   directory,
		hubs:        hubs,
		broadcaster: broadcaster,
		clock:       clock,
	}
}

// Activate makes the task the room's single active task. Concurrent
// activations serialize through the hub; last writer wins, and every writer
// observes a strictly increasing sequence number.
func (s *Service) Activate(ctx context.Context, roomID, taskID, requesterID uuid.UUID) (*events.RoomSnapshot, error) {
	if err := s.requireAdmin(ctx, requesterID, roomID); err != nil {
		return nil, err
	}

	t, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.RoomID != roomID {
		return nil, fmt.Errorf("task %s does not belong to room %s: %w", taskID, roomID, models.ErrNotFound)
	}
	if err := task.EnsureActivatable(t); err != nil {
		return nil, err
	}

	hub, err := s.hubs.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}

	var evt events.RoomEvent
	var snap *events.RoomSnapshot
	_, err = hub.Mutate(s.clock.Now(), func(seq uint64, st *State) error {
		// Re-read inside the critical section; a concurrent finalize may have
		// completed the task since the pre-check.
		current, err := s.tasks.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if current.RoomID != roomID {
			return fmt.Errorf("task %s does not belong to room %s: %w", taskID, roomID, models.ErrNotFound)
		}
		if err := task.EnsureActivatable(current); err != nil {
			return err
		}

		activated, err := s.tasks.ActivateExclusive(ctx, roomID, taskID)
		if err != nil {
			return err
		}
		id := activated.ID
		st.ActiveTaskID = &id
		st.Revealed = false

		participants, err := s.directory.ParticipantsOf(ctx, roomID)
		if err != nil {
			return err
		}
		evt, err = events.NewRoomEvent(roomID, seq, events.KindTaskActivated, s.clock.Now(), events.TaskActivatedPayload{
			TaskID:            activated.ID,
			Title:             activated.Title,
			VoteCount:         0,
			TotalParticipants: len(participants),
		})
		if err != nil {
			return err
		}
		snap, err = s.buildSnapshot(ctx, roomID, seq, *st)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.push(evt)
	return snap, nil
}

// Deactivate returns the room's active task to draft without clearing votes.
func (s *Service) Deactivate(ctx context.Context, taskID, requesterID uuid.UUID) (*events.RoomSnapshot, error) {
	return s.taskMutation(ctx, taskID, requesterID, models.RoleAdmin,
		func(seq uint64, st *State, t *models.Task) (events.RoomEvent, error) {
			if err := task.EnsureDeactivatable(t); err != nil {
				return events.RoomEvent{}, err
			}
			if _, err := s.tasks.UpdateStatus(ctx, t.ID, models.TaskStatusDraft); err != nil {
				return events.RoomEvent{}, err
			}
			st.ActiveTaskID = nil
			st.Revealed = false
			return events.NewRoomEvent(t.RoomID, seq, events.KindTaskDeactivated, s.clock.Now(),
				events.TaskDeactivatedPayload{TaskID: t.ID})
		})
}

// SubmitVote upserts the requester's estimate on an active task. The count
// it broadcasts is recomputed from the store inside the same transaction as
// the write.
func (s *Service) SubmitVote(ctx context.Context, taskID, requesterID uuid.UUID, estimate int) (*events.RoomSnapshot, error) {
	return s.taskMutation(ctx, taskID, requesterID, models.RoleParticipant,
		func(seq uint64, st *State, t *models.Task) (events.RoomEvent, error) {
			count, err := s.ledger.Submit(ctx, t, requesterID, estimate)
			if err != nil {
				return events.RoomEvent{}, err
			}
			participants, err := s.directory.ParticipantsOf(ctx, t.RoomID)
			if err != nil {
				return events.RoomEvent{}, err
			}
			return events.NewRoomEvent(t.RoomID, seq, events.KindVoteRecorded, s.clock.Now(), events.VoteRecordedPayload{
				TaskID:            t.ID,
				VoteCount:         count,
				TotalParticipants: len(participants),
			})
		})
}

// DeleteVote removes the requester's own vote from a still-active task.
func (s *Service) DeleteVote(ctx context.Context, taskID, requesterID uuid.UUID) (*events.RoomSnapshot, error) {
	return s.taskMutation(ctx, taskID, requesterID, models.RoleParticipant,
		func(seq uint64, st *State, t *models.Task) (events.RoomEvent, error) {
			count, err := s.ledger.Delete(ctx, t, requesterID)
			if err != nil {
				return events.RoomEvent{}, err
			}
			participants, err := s.directory.ParticipantsOf(ctx, t.RoomID)
			if err != nil {
				return events.RoomEvent{}, err
			}
			return events.NewRoomEvent(t.RoomID, seq, events.KindVoteRecorded, s.clock.Now(), events.VoteRecordedPayload{
				TaskID:            t.ID,
				VoteCount:         count,
				TotalParticipants: len(participants),
			})
		})
}

// Reveal flips the active task to revealed and broadcasts full per-voter
// detail with statistics. Vote data itself is untouched.
func (s *Service) Reveal(ctx context.Context, taskID, requesterID uuid.UUID) (*events.RoomSnapshot, error) {
	return s.taskMutation(ctx, taskID, requesterID, models.RoleAdmin,
		func(seq uint64, st *State, t *models.Task) (events.RoomEvent, error) {
			if err := task.EnsureRevealable(t); err != nil {
				return events.RoomEvent{}, err
			}
			if _, err := s.tasks.UpdateStatus(ctx, t.ID, models.TaskStatusRevealed); err != nil {
				return events.RoomEvent{}, err
			}
			st.Revealed = true

			stats, votes, err := s.ledger.Statistics(ctx, t.ID)
			if err != nil {
				return events.RoomEvent{}, err
			}
			named, err := s.nameVotes(ctx, t.RoomID, votes)
			if err != nil {
				return events.RoomEvent{}, err
			}
			return events.NewRoomEvent(t.RoomID, seq, events.KindVotesRevealed, s.clock.Now(), events.VotesRevealedPayload{
				TaskID:     t.ID,
				Votes:      named,
				Statistics: stats,
			})
		})
}

// Finalize records the agreed story points and completes the task. Allowed
// from active as well as revealed; completed tasks accept no further vote
// mutations.
func (s *Service) Finalize(ctx context.Context, taskID, requesterID uuid.UUID, points int) (*events.RoomSnapshot, error) {
	if points < 0 {
		return nil, fmt.Errorf("story points must be a non-negative integer: %w", models.ErrInvalidInput)
	}
	return s.taskMutation(ctx, taskID, requesterID, models.RoleAdmin,
		func(seq uint64, st *State, t *models.Task) (events.RoomEvent, error) {
			if err := task.EnsureFinalizable(t); err != nil {
				return events.RoomEvent{}, err
			}
			finalized, err := s.tasks.Finalize(ctx, t.ID, points)
			if err != nil {
				return events.RoomEvent{}, err
			}
			st.ActiveTaskID = nil
			st.Revealed = false
			return events.NewRoomEvent(t.RoomID, seq, events.KindTaskFinalized, s.clock.Now(), events.TaskFinalizedPayload{
				TaskID:      finalized.ID,
				StoryPoints: *finalized.StoryPoints,
			})
		})
}

// ResetVotes clears every vote on a revealed task and returns it to active
// for a fresh round. This is the only operation that pairs a vote clear with
// an implicit re-activate.
func (s *Service) ResetVotes(ctx context.Context, taskID, requesterID uuid.UUID) (*events.RoomSnapshot, error) {
	return s.taskMutation(ctx, taskID, requesterID, models.RoleAdmin,
		func(seq uint64, st *State, t *models.Task) (events.RoomEvent, error) {
			if err := task.EnsureResettable(t); err != nil {
				return events.RoomEvent{}, err
			}
			_, votes, err := s.ledger.Statistics(ctx, t.ID)
			if err != nil {
				return events.RoomEvent{}, err
			}
			reset, err := s.tasks.ResetToActive(ctx, t.ID)
			if err != nil {
				return events.RoomEvent{}, err
			}
			id := reset.ID
			st.ActiveTaskID = &id
			st.Revealed = false
			return events.NewRoomEvent(t.RoomID, seq, events.KindVotesCleared, s.clock.Now(), events.VotesClearedPayload{
				TaskID:       reset.ID,
				DeletedCount: len(votes),
			})
		})
}

// NotifyTaskDeleted is called by the CRUD layer after it removes a task, so
// subscribers learn about the deletion in sequence order.
func (s *Service) NotifyTaskDeleted(ctx context.Context, roomID, taskID uuid.UUID) error {
	hub, err := s.hubs.Get(ctx, roomID)
	if err != nil {
		return err
	}
	var evt events.RoomEvent
	_, err = hub.Mutate(s.clock.Now(), func(seq uint64, st *State) error {
		if st.ActiveTaskID != nil && *st.ActiveTaskID == taskID {
			st.ActiveTaskID = nil
			st.Revealed = false
		}
		var err error
		evt, err = events.NewRoomEvent(roomID, seq, events.KindTaskDeleted, s.clock.Now(),
			events.TaskDeletedPayload{TaskID: taskID})
		return err
	})
	if err != nil {
		return err
	}
	s.push(evt)
	return nil
}

// NotifyMembershipChanged is called by the membership layer; the payload is
// an opaque trigger for clients to re-fetch room metadata.
func (s *Service) NotifyMembershipChanged(ctx context.Context, roomID uuid.UUID) error {
	hub, err := s.hubs.Get(ctx, roomID)
	if err != nil {
		return err
	}
	var evt events.RoomEvent
	_, err = hub.Mutate(s.clock.Now(), func(seq uint64, st *State) error {
		var err error
		evt, err = events.NewRoomEvent(roomID, seq, events.KindMembershipChanged, s.clock.Now(),
			events.MembershipChangedPayload{RoomID: roomID})
		return err
	})
	if err != nil {
		return err
	}
	s.push(evt)
	return nil
}

// Snapshot is the reconciliation read path: the authoritative current state
// plus its sequence number, answerable without waiting on any fan-out
// delivery. A client that missed pushes replaces its view with the snapshot
// wholesale and resumes from Seq.
func (s *Service) Snapshot(ctx context.Context, roomID, requesterID uuid.UUID) (*events.RoomSnapshot, error) {
	if err := s.requireAccess(ctx, requesterID, roomID); err != nil {
		return nil, err
	}
	hub, err := s.hubs.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	var snap *events.RoomSnapshot
	err = hub.View(func(seq uint64, st State) error {
		var err error
		snap, err = s.buildSnapshot(ctx, roomID, seq, st)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// taskMutation is the shared shape of every task-scoped operation: resolve
// the task, check the requester, enter the room hub's critical section,
// re-read the task under the lock, apply, snapshot, and push after the lock
// is released.
func (s *Service) taskMutation(
	ctx context.Context,
	taskID, requesterID uuid.UUID,
	required models.Role,
	apply func(seq uint64, st *State, t *models.Task) (events.RoomEvent, error),
) (*events.RoomSnapshot, error) {
	t, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if required == models.RoleAdmin {
		err = s.requireAdmin(ctx, requesterID, t.RoomID)
	} else {
		err = s.requireAccess(ctx, requesterID, t.RoomID)
	}
	if err != nil {
		return nil, err
	}

	hub, err := s.hubs.Get(ctx, t.RoomID)
	if err != nil {
		return nil, err
	}

	var evt events.RoomEvent
	var snap *events.RoomSnapshot
	_, err = hub.Mutate(s.clock.Now(), func(seq uint64, st *State) error {
		// Re-read inside the critical section; the task may have moved
		// between the pre-check and lock acquisition.
		current, err := s.tasks.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		evt, err = apply(seq, st, current)
		if err != nil {
			return err
		}
		snap, err = s.buildSnapshot(ctx, current.RoomID, seq, *st)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.push(evt)
	return snap, nil
}

func (s *Service) buildSnapshot(ctx context.Context, roomID uuid.UUID, seq uint64, st State) (*events.RoomSnapshot, error) {
	tallies, err := s.tasks.TasksWithCounts(ctx, roomID)
	if err != nil {
		return nil, err
	}
	participants, err := s.directory.ParticipantsOf(ctx, roomID)
	if err != nil {
		return nil, err
	}

	snap := &events.RoomSnapshot{
		RoomID:            roomID,
		Seq:               seq,
		Tasks:             make([]events.TaskSummary, len(tallies)),
		TotalParticipants: len(participants),
	}
	for i, tt := range tallies {
		snap.Tasks[i] = events.TaskSummary{
			TaskID:      tt.TaskID,
			Title:       tt.Title,
			Status:      tt.Status,
			StoryPoints: tt.StoryPoints,
			VoteCount:   tt.VoteCount,
		}
	}

	status := make([]events.ParticipantStatus, len(participants))
	for i, p := range participants {
		status[i] = events.ParticipantStatus{ID: p.ID, Name: p.Name}
	}

	if st.ActiveTaskID != nil {
		stats, votes, err := s.ledger.Statistics(ctx, *st.ActiveTaskID)
		if err != nil {
			return nil, err
		}
		voted := make(map[uuid.UUID]bool, len(votes))
		for _, v := range votes {
			voted[v.ParticipantID] = true
		}
		for i := range status {
			status[i].HasVoted = voted[status[i].ID]
		}

		view := &events.ActiveTaskView{
			TaskID:    *st.ActiveTaskID,
			Revealed:  st.Revealed,
			VoteCount: len(votes),
		}
		for _, tt := range tallies {
			if tt.TaskID == *st.ActiveTaskID {
				view.Title = tt.Title
			}
		}
		if st.Revealed {
			named, err := s.nameVotes(ctx, roomID, votes)
			if err != nil {
				return nil, err
			}
			view.Votes = named
			view.Statistics = &stats
		}
		snap.ActiveTask = view
	}
	snap.Participants = status

	return snap, nil
}

// nameVotes joins vote rows with the participant directory for revealed
// per-voter detail.
func (s *Service) nameVotes(ctx context.Context, roomID uuid.UUID, votes []models.Vote) ([]events.RevealedVote, error) {
	participants, err := s.directory.ParticipantsOf(ctx, roomID)
	if err != nil {
		return nil, err
	}
	names := make(map[uuid.UUID]string, len(participants))
	for _, p := range participants {
		names[p.ID] = p.Name
	}
	named := make([]events.RevealedVote, len(votes))
	for i, v := range votes {
		named[i] = events.RevealedVote{
			ParticipantID: v.ParticipantID,
			Name:          names[v.ParticipantID],
			Estimate:      v.Estimate,
		}
	}
	return named, nil
}

func (s *Service) requireAccess(ctx context.Context, participantID, roomID uuid.UUID) error {
	allowed, err := s.directory.ResolveAccess(ctx, participantID, roomID)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("participant %s has no access to room %s: %w", participantID, roomID, models.ErrForbidden)
	}
	return nil
}

func (s *Service) requireAdmin(ctx context.Context, participantID, roomID uuid.UUID) error {
	role, err := s.directory.ResolveRole(ctx, participantID, roomID)
	if err != nil {
		return err
	}
	if role != models.RoleAdmin {
		return fmt.Errorf("participant %s is not a room admin: %w", participantID, models.ErrForbidden)
	}
	return nil
}

func (s *Service) push(evt events.RoomEvent) {
	s.broadcaster.Broadcast(evt)
	log.Debug().
		Str("room_id", evt.RoomID.String()).
		Uint64("seq", evt.Seq).
		Str("kind", string(evt.Kind)).
		Msg("room event pushed")
}
