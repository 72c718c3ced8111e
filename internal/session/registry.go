package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/pointdeck/pointdeck/internal/models"
)

// ActiveTaskFinder is what the registry needs to rebuild a hub's in-memory
// state from the store on cold start.
type ActiveTaskFinder interface {
	FindActiveTask(ctx context.Context, roomID uuid.UUID) (*models.Task, error)
}

// RegistryConfig tunes hub eviction.
type RegistryConfig struct {
	IdleEviction  time.Duration
	JanitorPeriod time.Duration
}

func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		IdleEviction:  15 * time.Minute,
		JanitorPeriod: time.Minute,
	}
}

// Registry creates hubs lazily on first access and evicts them after a
// period with no mutations and no connected clients. Eviction is safe at any
// time: hub state is rebuilt from the store on the next access, with the
// sequence counter restarting at zero.
type Registry struct {
	mu     sync.Mutex
	hubs   map[uuid.UUID]*Hub
	finder ActiveTaskFinder
	clock  clockwork.Clock
	config RegistryConfig

	// hasSubscribers reports whether any client is connected to the room;
	// wired to the fan-out connection manager.
	hasSubscribers func(roomID uuid.UUID) bool
}

func NewRegistry(finder ActiveTaskFinder, clock clockwork.Clock, config RegistryConfig) *Registry {
	return &Registry{
		hubs:           make(map[uuid.UUID]*Hub),
		finder:         finder,
		clock:          clock,
		config:         config,
		hasSubscribers: func(uuid.UUID) bool { return false },
	}
}

// SetSubscriberCheck wires the fan-out's subscriber presence check. Must be
// called before StartJanitor.
func (r *Registry) SetSubscriberCheck(fn func(roomID uuid.UUID) bool) {
	r.hasSubscribers = fn
}

// Get returns the room's hub, creating and rebuilding it from the store if
// needed.
func (r *Registry) Get(ctx context.Context, roomID uuid.UUID) (*Hub, error) {
	r.mu.Lock()
	if hub, ok := r.hubs[roomID]; ok {
		r.mu.Unlock()
		return hub, nil
	}
	r.mu.Unlock()

	// Rebuild outside the registry lock; store reads may block on I/O.
	initial, err := r.rebuildState(ctx, roomID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if hub, ok := r.hubs[roomID]; ok {
		// Lost the race to another creator; its rebuild is as good as ours.
		return hub, nil
	}
	hub := newHub(roomID, initial, r.clock.Now())
	r.hubs[roomID] = hub

	log.Debug().
		Str("room_id", roomID.String()).
		Bool("has_active_task", initial.ActiveTaskID != nil).
		Msg("session hub created")
	return hub, nil
}

func (r *Registry) rebuildState(ctx context.Context, roomID uuid.UUID) (State, error) {
	active, err := r.finder.FindActiveTask(ctx, roomID)
	if err != nil {
		return State{}, err
	}
	var st State
	if active != nil {
		id := active.ID
		st.ActiveTaskID = &id
		st.Revealed = active.Status == models.TaskStatusRevealed
	}
	return st, nil
}

// StartJanitor evicts idle hubs until ctx is cancelled.
func (r *Registry) StartJanitor(ctx context.Context) {
	ticker := r.clock.NewTicker(r.config.JanitorPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("hub janitor shutting down")
			return
		case <-ticker.Chan():
			r.evictIdle()
		}
	}
}

func (r *Registry) evictIdle() {
	now := r.clock.Now()

	r.mu.Lock()
	var evict []*Hub
	for _, hub := range r.hubs {
		if now.Sub(hub.idleSince()) >= r.config.IdleEviction && !r.hasSubscribers(hub.RoomID()) {
			evict = append(evict, hub)
		}
	}
	for _, hub := range evict {
		delete(r.hubs, hub.RoomID())
	}
	r.mu.Unlock()

	for _, hub := range evict {
		log.Debug().Str("room_id", hub.RoomID().String()).Msg("idle session hub evicted")
	}
}

// Len reports how many hubs are resident.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hubs)
}
