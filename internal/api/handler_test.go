package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pointdeck/pointdeck/internal/events"
	"github.com/pointdeck/pointdeck/internal/models"
)

// stubEngine returns a canned snapshot or error for every operation.
type stubEngine struct {
	snap *events.RoomSnapshot
	err  error

	lastEstimate int
	lastPoints   int
}

func (s *stubEngine) Activate(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) (*events.RoomSnapshot, error) {
	return s.snap, s.err
}

func (s *stubEngine) Deactivate(context.Context, uuid.UUID, uuid.UUID) (*events.RoomSnapshot, error) {
	return s.snap, s.err
}

func (s *stubEngine) SubmitVote(_ context.Context, _, _ uuid.UUID, estimate int) (*events.RoomSnapshot, error) {
	s.lastEstimate = estimate
	return s.snap, s.err
}

func (s *stubEngine) DeleteVote(context.Context, uuid.UUID, uuid.UUID) (*events.RoomSnapshot, error) {
	return s.snap, s.err
}

func (s *stubEngine) Reveal(context.Context, uuid.UUID, uuid.UUID) (*events.RoomSnapshot, error) {
	return s.snap, s.err
}

func (s *stubEngine) Finalize(_ context.Context, _, _ uuid.UUID, points int) (*events.RoomSnapshot, error) {
	s.lastPoints = points
	return s.snap, s.err
}

func (s *stubEngine) ResetVotes(context.Context, uuid.UUID, uuid.UUID) (*events.RoomSnapshot, error) {
	return s.snap, s.err
}

func postJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func newMux(engine Engine) *http.ServeMux {
	mux := http.NewServeMux()
	NewHandler(engine).RegisterRoutes(mux)
	return mux
}

func TestActivateReturnsSnapshot(t *testing.T) {
	req := require.New(t)
	roomID := uuid.New()
	engine := &stubEngine{snap: &events.RoomSnapshot{RoomID: roomID, Seq: 3}}
	mux := newMux(engine)

	rec := postJSON(t, mux, http.MethodPost, "/api/tasks/activate", map[string]any{
		"room_id":      roomID,
		"task_id":      uuid.New(),
		"requester_id": uuid.New(),
	})
	req.Equal(http.StatusOK, rec.Code)

	var snap events.RoomSnapshot
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &snap))
	req.Equal(roomID, snap.RoomID)
	req.Equal(uint64(3), snap.Seq)
}

func TestMissingFieldsRejected(t *testing.T) {
	req := require.New(t)
	mux := newMux(&stubEngine{snap: &events.RoomSnapshot{}})

	// no requester_id
	rec := postJSON(t, mux, http.MethodPost, "/api/tasks/activate", map[string]any{
		"room_id": uuid.New(),
		"task_id": uuid.New(),
	})
	req.Equal(http.StatusBadRequest, rec.Code)
}

func TestMalformedBodyRejected(t *testing.T) {
	req := require.New(t)
	mux := newMux(&stubEngine{snap: &events.RoomSnapshot{}})

	r := httptest.NewRequest(http.MethodPost, "/api/tasks/reveal", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, r)
	req.Equal(http.StatusBadRequest, rec.Code)
}

func TestNegativeEstimateRejectedBeforeEngine(t *testing.T) {
	req := require.New(t)
	engine := &stubEngine{snap: &events.RoomSnapshot{}, lastEstimate: -99}
	mux := newMux(engine)

	rec := postJSON(t, mux, http.MethodPost, "/api/votes", map[string]any{
		"task_id":      uuid.New(),
		"requester_id": uuid.New(),
		"estimate":     -1,
	})
	req.Equal(http.StatusBadRequest, rec.Code)
	req.Equal(-99, engine.lastEstimate, "engine must not see the invalid request")
}

func TestVoteMethodsDispatch(t *testing.T) {
	req := require.New(t)
	engine := &stubEngine{snap: &events.RoomSnapshot{}}
	mux := newMux(engine)
	body := map[string]any{
		"task_id":      uuid.New(),
		"requester_id": uuid.New(),
		"estimate":     5,
	}

	req.Equal(http.StatusOK, postJSON(t, mux, http.MethodPost, "/api/votes", body).Code)
	req.Equal(5, engine.lastEstimate)
	req.Equal(http.StatusOK, postJSON(t, mux, http.MethodDelete, "/api/votes", body).Code)
	req.Equal(http.StatusMethodNotAllowed, postJSON(t, mux, http.MethodPut, "/api/votes", body).Code)
}

func TestErrorTaxonomyMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"not found", fmt.Errorf("no such task: %w", models.ErrNotFound), http.StatusNotFound},
		{"forbidden", fmt.Errorf("not an admin: %w", models.ErrForbidden), http.StatusForbidden},
		{"invalid input", fmt.Errorf("bad estimate: %w", models.ErrInvalidInput), http.StatusBadRequest},
		{"invalid state", fmt.Errorf("task not active: %w", models.ErrInvalidState), http.StatusConflict},
		{"conflict", fmt.Errorf("concurrent update: %w", models.ErrConflict), http.StatusConflict},
		{"internal", fmt.Errorf("connection refused"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux := newMux(&stubEngine{err: tc.err})
			rec := postJSON(t, mux, http.MethodPost, "/api/tasks/reveal", map[string]any{
				"task_id":      uuid.New(),
				"requester_id": uuid.New(),
			})
			require.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestFinalizePassesStoryPoints(t *testing.T) {
	req := require.New(t)
	engine := &stubEngine{snap: &events.RoomSnapshot{}}
	mux := newMux(engine)

	rec := postJSON(t, mux, http.MethodPost, "/api/tasks/finalize", map[string]any{
		"task_id":      uuid.New(),
		"requester_id": uuid.New(),
		"story_points": 13,
	})
	req.Equal(http.StatusOK, rec.Code)
	req.Equal(13, engine.lastPoints)
}
