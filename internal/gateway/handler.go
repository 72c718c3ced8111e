package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pointdeck/pointdeck/internal/events"
	"github.com/pointdeck/pointdeck/internal/models"
)

// SnapshotProvider serves the reconciliation read path.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, roomID, requesterID uuid.UUID) (*events.RoomSnapshot, error)
}

// Authorizer answers whether a participant may subscribe to a room.
type Authorizer interface {
	ResolveAccess(ctx context.Context, participantID, roomID uuid.UUID) (bool, error)
}

// Handler exposes the subscription upgrade, the snapshot endpoint, and
// connection stats.
type Handler struct {
	connectionManager *ConnectionManager
	snapshots         SnapshotProvider
	authorizer        Authorizer
}

func NewHandler(cm *ConnectionManager, snapshots SnapshotProvider, authorizer Authorizer) *Handler {
	return &Handler{
		connectionManager: cm,
		snapshots:         snapshots,
		authorizer:        authorizer,
	}
}

// HandleSubscribe upgrades the connection and adds the client to the room's
// subscriber set. A reconnecting client is expected to call the snapshot
// endpoint immediately afterwards.
func (h *Handler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	roomID, ok := parseUUIDParam(w, r, "room_id")
	if !ok {
		return
	}
	participantID, ok := parseUUIDParam(w, r, "participant_id")
	if !ok {
		return
	}

	allowed, err := h.authorizer.ResolveAccess(r.Context(), participantID, roomID)
	if err != nil {
		http.Error(w, "failed to resolve room access", http.StatusInternalServerError)
		return
	}
	if !allowed {
		http.Error(w, "access denied", http.StatusForbidden)
		return
	}

	if _, err := h.connectionManager.Subscribe(w, r, participantID, roomID); err != nil {
		log.Error().
			Err(err).
			Str("room_id", roomID.String()).
			Str("participant_id", participantID.String()).
			Msg("failed to upgrade subscription")
		return
	}
}

// HandleSnapshot returns the room's authoritative state with its sequence
// number. Clients call it on connect and whenever they detect a gap.
func (h *Handler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	roomID, ok := parseUUIDParam(w, r, "room_id")
	if !ok {
		return
	}
	participantID, ok := parseUUIDParam(w, r, "participant_id")
	if !ok {
		return
	}

	snap, err := h.snapshots.Snapshot(r.Context(), roomID, participantID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to encode snapshot")
	}
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetStats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers the gateway routes with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/room", h.HandleSubscribe)
	mux.HandleFunc("/api/rooms/snapshot", h.HandleSnapshot)
	mux.HandleFunc("/ws/stats", h.HandleStats)
	log.Info().Msg("gateway routes registered")
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		http.Error(w, name+" is required", http.StatusBadRequest)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "invalid "+name+" format", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
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
