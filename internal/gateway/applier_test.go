package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pointdeck/pointdeck/internal/events"
	"github.com/pointdeck/pointdeck/internal/models"
)

// snapshotSource hands out a settable snapshot and counts fetches.
type snapshotSource struct {
	snap  *events.RoomSnapshot
	calls int
}

func (s *snapshotSource) fetch(context.Context) (*events.RoomSnapshot, error) {
	s.calls++
	cp := *s.snap
	return &cp, nil
}

func baseSnapshot(roomID, taskA, taskB uuid.UUID, seq uint64) *events.RoomSnapshot {
	return &events.RoomSnapshot{
		RoomID: roomID,
		Seq:    seq,
		Tasks: []events.TaskSummary{
			{TaskID: taskA, Title: "task A", Status: models.TaskStatusDraft},
			{TaskID: taskB, Title: "task B", Status: models.TaskStatusDraft},
		},
		Participants: []events.ParticipantStatus{
			{ID: uuid.New(), Name: "alice"},
			{ID: uuid.New(), Name: "bob"},
		},
		TotalParticipants: 2,
	}
}

func mustEvent(t *testing.T, roomID uuid.UUID, seq uint64, kind events.Kind, payload any) events.RoomEvent {
	t.Helper()
	evt, err := events.NewRoomEvent(roomID, seq, kind, time.Now(), payload)
	require.NoError(t, err)
	return evt
}

func TestApplierReconcilesWhenEmpty(t *testing.T) {
	req := require.New(t)
	roomID, taskA, taskB := uuid.New(), uuid.New(), uuid.New()
	source := &snapshotSource{snap: baseSnapshot(roomID, taskA, taskB, 4)}
	applier := NewApplier(source.fetch)

	evt := mustEvent(t, roomID, 4, events.KindVoteRecorded,
		events.VoteRecordedPayload{TaskID: taskA, VoteCount: 1, TotalParticipants: 2})
	req.NoError(applier.Apply(context.Background(), evt))

	req.Equal(1, source.calls, "first push with no local state pulls a snapshot")
	req.Equal(uint64(4), applier.Seq())
}

func TestApplierAppliesContiguousEvents(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	roomID, taskA, taskB := uuid.New(), uuid.New(), uuid.New()
	source := &snapshotSource{snap: baseSnapshot(roomID, taskA, taskB, 0)}
	applier := NewApplier(source.fetch)
	req.NoError(applier.Reconcile(ctx))

	req.NoError(applier.Apply(ctx, mustEvent(t, roomID, 1, events.KindTaskActivated,
		events.TaskActivatedPayload{TaskID: taskA, Title: "task A", TotalParticipants: 2})))
	req.NoError(applier.Apply(ctx, mustEvent(t, roomID, 2, events.KindVoteRecorded,
		events.VoteRecordedPayload{TaskID: taskA, VoteCount: 1, TotalParticipants: 2})))

	req.Equal(1, source.calls, "contiguous events fold in without refetching")
	st := applier.State()
	req.Equal(uint64(2), st.Seq)
	req.NotNil(st.ActiveTask)
	req.Equal(taskA, st.ActiveTask.TaskID)
	req.Equal(1, st.ActiveTask.VoteCount)
	req.Equal(models.TaskStatusActive, st.Tasks[0].Status)
}

func TestApplierIgnoresDuplicatePush(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	roomID, taskA, taskB := uuid.New(), uuid.New(), uuid.New()
	source := &snapshotSource{snap: baseSnapshot(roomID, taskA, taskB, 0)}
	applier := NewApplier(source.fetch)
	req.NoError(applier.Reconcile(ctx))

	evt := mustEvent(t, roomID, 1, events.KindVoteRecorded,
		events.VoteRecordedPayload{TaskID: taskA, VoteCount: 1, TotalParticipants: 2})
	req.NoError(applier.Apply(ctx, evt))
	before := applier.State()

	// redelivery of the same sequence number is a no-op
	req.NoError(applier.Apply(ctx, evt))
	req.Equal(before, applier.State())
	req.Equal(1, source.calls)
}

func TestApplierReconcilesOnGap(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	roomID, taskA, taskB := uuid.New(), uuid.New(), uuid.New()
	source := &snapshotSource{snap: baseSnapshot(roomID, taskA, taskB, 0)}
	applier := NewApplier(source.fetch)
	req.NoError(applier.Reconcile(ctx))

	// the authoritative state has moved to seq 5 while pushes 1-4 were lost
	authoritative := baseSnapshot(roomID, taskA, taskB, 5)
	authoritative.Tasks[0].Status = models.TaskStatusActive
	authoritative.Tasks[0].VoteCount = 2
	authoritative.ActiveTask = &events.ActiveTaskView{TaskID: taskA, Title: "task A", VoteCount: 2}
	source.snap = authoritative

	evt := mustEvent(t, roomID, 5, events.KindVoteRecorded,
		events.VoteRecordedPayload{TaskID: taskA, VoteCount: 2, TotalParticipants: 2})
	req.NoError(applier.Apply(ctx, evt))

	req.Equal(2, source.calls, "gap triggers one snapshot pull")
	st := applier.State()
	req.Equal(uint64(5), st.Seq, "snapshot already covers the gapped event")
	req.Equal(2, st.ActiveTask.VoteCount)

	// the gapped event arriving late after reconciliation is a duplicate
	req.NoError(applier.Apply(ctx, evt))
	req.Equal(2, source.calls)
}

func TestApplierRevealAndReset(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	roomID, taskA, taskB := uuid.New(), uuid.New(), uuid.New()
	snap := baseSnapshot(roomID, taskA, taskB, 0)
	voterID := snap.Participants[0].ID
	source := &snapshotSource{snap: snap}
	applier := NewApplier(source.fetch)
	req.NoError(applier.Reconcile(ctx))

	req.NoError(applier.Apply(ctx, mustEvent(t, roomID, 1, events.KindTaskActivated,
		events.TaskActivatedPayload{TaskID: taskA, Title: "task A", TotalParticipants: 2})))
	req.NoError(applier.Apply(ctx, mustEvent(t, roomID, 2, events.KindVoteRecorded,
		events.VoteRecordedPayload{TaskID: taskA, VoteCount: 1, TotalParticipants: 2})))

	stats := models.VoteStatistics{Count: 1, Min: 5, Max: 5, Average: 5, Median: 5, Mode: 5}
	req.NoError(applier.Apply(ctx, mustEvent(t, roomID, 3, events.KindVotesRevealed,
		events.VotesRevealedPayload{
			TaskID:     taskA,
			Votes:      []events.RevealedVote{{ParticipantID: voterID, Name: "alice", Estimate: 5}},
			Statistics: stats,
		})))

	st := applier.State()
	req.True(st.ActiveTask.Revealed)
	req.Equal(stats, *st.ActiveTask.Statistics)
	req.True(st.Participants[0].HasVoted)
	req.False(st.Participants[1].HasVoted)

	req.NoError(applier.Apply(ctx, mustEvent(t, roomID, 4, events.KindVotesCleared,
		events.VotesClearedPayload{TaskID: taskA, DeletedCount: 1})))

	st = applier.State()
	req.False(st.ActiveTask.Revealed)
	req.Nil(st.ActiveTask.Statistics)
	req.Equal(0, st.ActiveTask.VoteCount)
	req.False(st.Participants[0].HasVoted)
	req.Equal(models.TaskStatusActive, st.Tasks[0].Status)
}

func TestApplierFinalizeAndDelete(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	roomID, taskA, taskB := uuid.New(), uuid.New(), uuid.New()
	source := &snapshotSource{snap: baseSnapshot(roomID, taskA, taskB, 0)}
	applier := NewApplier(source.fetch)
	req.NoError(applier.Reconcile(ctx))

	req.NoError(applier.Apply(ctx, mustEvent(t, roomID, 1, events.KindTaskActivated,
		events.TaskActivatedPayload{TaskID: taskA, Title: "task A", TotalParticipants: 2})))
	req.NoError(applier.Apply(ctx, mustEvent(t, roomID, 2, events.KindTaskFinalized,
		events.TaskFinalizedPayload{TaskID: taskA, StoryPoints: 8})))

	st := applier.State()
	req.Nil(st.ActiveTask)
	req.Equal(models.TaskStatusCompleted, st.Tasks[0].Status)
	req.NotNil(st.Tasks[0].StoryPoints)
	req.Equal(8, *st.Tasks[0].StoryPoints)

	req.NoError(applier.Apply(ctx, mustEvent(t, roomID, 3, events.KindTaskDeleted,
		events.TaskDeletedPayload{TaskID: taskB})))
	st = applier.State()
	req.Len(st.Tasks, 1)
	req.Equal(taskA, st.Tasks[0].TaskID)
}
