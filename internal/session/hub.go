package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the hub's in-memory view of a room. It is a cache of derivable
// state: the registry rebuilds it from the store when a hub is created, so a
// process restart loses nothing.
type State struct {
	ActiveTaskID *uuid.UUID
	Revealed     bool
}

// Hub owns a room's event sequence counter and serializes every mutating
// operation for that room into a single critical section. One hub exists per
// room, created lazily and evicted once the room has been idle with no
// subscribers.
type Hub struct {
	roomID uuid.UUID

	mu          sync.Mutex
	seq         uint64
	state       State
	lastTouched time.Time
}

func newHub(roomID uuid.UUID, initial State, now time.Time) *Hub {
	return &Hub{
		roomID:      roomID,
		state:       initial,
		lastTouched: now,
	}
}

func (h *Hub) RoomID() uuid.UUID { return h.roomID }

// Mutate runs fn inside the hub's critical section. fn receives the sequence
// number this mutation will carry and may update the hub state; the counter
// only advances if fn succeeds, so rejected operations never consume a
// sequence number.
func (h *Hub) Mutate(now time.Time, fn func(seq uint64, st *State) error) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastTouched = now
	next := h.seq + 1
	if err := fn(next, &h.state); err != nil {
		return h.seq, err
	}
	h.seq = next
	return h.seq, nil
}

// View runs fn under the same critical section without advancing the
// counter. Used by the reconciliation read path so a snapshot's sequence
// number and state are taken atomically with respect to mutations.
func (h *Hub) View(fn func(seq uint64, st State) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn(h.seq, h.state)
}

// Seq returns the last accepted sequence number.
func (h *Hub) Seq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

func (h *Hub) idleSince() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastTouched
}
