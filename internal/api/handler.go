package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pointdeck/pointdeck/internal/events"
	"github.com/pointdeck/pointdeck/internal/models"
)

// Engine is the mutating surface the transport exposes. Every operation
// returns the new authoritative snapshot; the engine pushes the matching
// event to subscribers itself.
type Engine interface {
	Activate(ctx context.Context, roomID, taskID, requesterID uuid.UUID) (*events.RoomSnapshot, error)
	Deactivate(ctx context.Context, taskID, requesterID uuid.UUID) (*events.RoomSnapshot, error)
	SubmitVote(ctx context.Context, taskID, requesterID uuid.UUID, estimate int) (*events.RoomSnapshot, error)
	DeleteVote(ctx context.Context, taskID, requesterID uuid.UUID) (*events.RoomSnapshot, error)
	Reveal(ctx context.Context, taskID, requesterID uuid.UUID) (*events.RoomSnapshot, error)
	Finalize(ctx context.Context, taskID, requesterID uuid.UUID, points int) (*events.RoomSnapshot, error)
	ResetVotes(ctx context.Context, taskID, requesterID uuid.UUID) (*events.RoomSnapshot, error)
}

// Handler decodes and validates mutation requests and maps engine errors to
// HTTP statuses.
type Handler struct {
	engine   Engine
	validate *validator.Validate
}

func NewHandler(engine Engine) *Handler {
	return &Handler{
		engine:   engine,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type activateRequest struct {
	RoomID      uuid.UUID `json:"room_id" validate:"required"`
	TaskID      uuid.UUID `json:"task_id" validate:"required"`
	RequesterID uuid.UUID `json:"requester_id" validate:"required"`
}

type taskRequest struct {
	TaskID      uuid.UUID `json:"task_id" validate:"required"`
	RequesterID uuid.UUID `json:"requester_id" validate:"required"`
}

type voteRequest struct {
	TaskID      uuid.UUID `json:"task_id" validate:"required"`
	RequesterID uuid.UUID `json:"requester_id" validate:"required"`
	Estimate    int       `json:"estimate" validate:"gte=0"`
}

type finalizeRequest struct {
	TaskID      uuid.UUID `json:"task_id" validate:"required"`
	RequesterID uuid.UUID `json:"requester_id" validate:"required"`
	StoryPoints int       `json:"story_points" validate:"gte=0"`
}

func (h *Handler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if !h.decode(w, r, &req) {
		return
	}
	snap, err := h.engine.Activate(r.Context(), req.RoomID, req.TaskID, req.RequesterID)
	h.respond(w, snap, err)
}

func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if !h.decode(w, r, &req) {
		return
	}
	snap, err := h.engine.Deactivate(r.Context(), req.TaskID, req.RequesterID)
	h.respond(w, snap, err)
}

// HandleVote covers both submitting (POST) and deleting (DELETE) the
// requester's own vote.
func (h *Handler) HandleVote(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req voteRequest
		if !h.decode(w, r, &req) {
			return
		}
		snap, err := h.engine.SubmitVote(r.Context(), req.TaskID, req.RequesterID, req.Estimate)
		h.respond(w, snap, err)
	case http.MethodDelete:
		var req taskRequest
		if !h.decode(w, r, &req) {
			return
		}
		snap, err := h.engine.DeleteVote(r.Context(), req.TaskID, req.RequesterID)
		h.respond(w, snap, err)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) HandleReveal(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if !h.decode(w, r, &req) {
		return
	}
	snap, err := h.engine.Reveal(r.Context(), req.TaskID, req.RequesterID)
	h.respond(w, snap, err)
}

func (h *Handler) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if !h.decode(w, r, &req) {
		return
	}
	snap, err := h.engine.Finalize(r.Context(), req.TaskID, req.RequesterID, req.StoryPoints)
	h.respond(w, snap, err)
}

func (h *Handler) HandleResetVotes(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if !h.decode(w, r, &req) {
		return
	}
	snap, err := h.engine.ResetVotes(r.Context(), req.TaskID, req.RequesterID)
	h.respond(w, snap, err)
}

// RegisterRoutes registers the mutation endpoints with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/tasks/activate", h.HandleActivate)
	mux.HandleFunc("POST /api/tasks/deactivate", h.HandleDeactivate)
	mux.HandleFunc("POST /api/tasks/reveal", h.HandleReveal)
	mux.HandleFunc("POST /api/tasks/finalize", h.HandleFinalize)
	mux.HandleFunc("POST /api/tasks/reset-votes", h.HandleResetVotes)
	mux.HandleFunc("/api/votes", h.HandleVote)
	log.Info().Msg("engine mutation routes registered")
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, snap *events.RoomSnapshot, err error) {
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		log.Error().Err(err).Msg("failed to encode snapshot response")
	}
}

// writeEngineError maps the engine taxonomy to HTTP statuses. The specific
// rejection reason always reaches the client.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, models.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, models.ErrInvalidState), errors.Is(err, models.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.Error().Err(err).Msg("engine operation failed")
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}
