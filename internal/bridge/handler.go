package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pointdeck/pointdeck/internal/models"
)

// RoomDirectory gates the consolidated summary to room admins and names the
// room in the export.
type RoomDirectory interface {
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	ResolveRole(ctx context.Context, participantID, roomID uuid.UUID) (models.Role, error)
}

// Handler exposes the bridge reads over HTTP.
type Handler struct {
	reader *Reader
	rooms  RoomDirectory
}

func NewHandler(reader *Reader, rooms RoomDirectory) *Handler {
	return &Handler{reader: reader, rooms: rooms}
}

func (h *Handler) HandleFinalizedTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(r.URL.Query().Get("task_id"))
	if err != nil {
		http.Error(w, "invalid task_id format", http.StatusBadRequest)
		return
	}
	t, err := h.reader.FinalizedTask(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, t)
}

func (h *Handler) HandleConsolidate(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(r.URL.Query().Get("room_id"))
	if err != nil {
		http.Error(w, "invalid room_id format", http.StatusBadRequest)
		return
	}
	requesterID, err := uuid.Parse(r.URL.Query().Get("requester_id"))
	if err != nil {
		http.Error(w, "invalid requester_id format", http.StatusBadRequest)
		return
	}

	room, err := h.rooms.GetRoom(r.Context(), roomID)
	if err != nil {
		writeError(w, err)
		return
	}
	role, err := h.rooms.ResolveRole(r.Context(), requesterID, roomID)
	if err != nil {
		writeError(w, err)
		return
	}
	if role != models.RoleAdmin {
		http.Error(w, "only admins can view consolidated data", http.StatusForbidden)
		return
	}

	summary, err := h.reader.ConsolidatedSummary(r.Context(), roomID)
	if err != nil {
		writeError(w, err)
		return
	}
	summary.RoomName = room.Name
	writeJSON(w, summary)
}

// RegisterRoutes registers the bridge read endpoints with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/bridge/task", h.HandleFinalizedTask)
	mux.HandleFunc("GET /api/rooms/consolidate", h.HandleConsolidate)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode bridge response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}
