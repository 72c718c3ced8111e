package gateway

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/pointdeck/pointdeck/internal/events"
)

// Broadcast serializes the event once and queues it for fan-out. This is the
// engine-facing push entry point; it never blocks on client delivery.
func (cm *ConnectionManager) Broadcast(evt events.RoomEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal room event for broadcast")
		return
	}
	cm.Enqueue(evt.RoomID, evt.Seq, string(evt.Kind), data)
}
