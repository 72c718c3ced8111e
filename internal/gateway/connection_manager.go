package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnectionManager owns the per-room subscriber sets for event fan-out.
// Each accepted mutation is pushed once, tagged with its sequence number;
// clients that miss a push recover through the snapshot read path, so the
// manager never retries or replays.
type ConnectionManager struct {
	roomConnections map[uuid.UUID]map[*Connection]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan BroadcastMessage
}

// Connection represents one subscribed client.
type Connection struct {
	ID            string
	ParticipantID uuid.UUID
	RoomID        uuid.UUID
	Conn          *websocket.Conn
	Send          chan []byte
	Manager       *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is one event queued for fan-out, already serialized.
type BroadcastMessage struct {
	RoomID uuid.UUID
	Data   []byte
	Seq    uint64
	Kind   string
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	if config.SendBuffer <= 0 {
		config.SendBuffer = 256
	}
	return &ConnectionManager{
		roomConnections: make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start begins processing broadcast messages until ctx is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// Subscribe upgrades the HTTP request and registers the client in the room's
// subscriber set.
func (cm *ConnectionManager) Subscribe(w http.ResponseWriter, r *http.Request, participantID, roomID uuid.UUID) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:            uuid.New().String(),
		ParticipantID: participantID,
		RoomID:        roomID,
		Conn:          conn,
		Send:          make(chan []byte, cm.config.SendBuffer),
		Manager:       cm,
		ConnectedAt:   time.Now(),
		LastPing:      time.Now(),
	}

	cm.register(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("participant_id", participantID.String()).
		Str("room_id", roomID.String()).
		Msg("room subscription established")

	return connection, nil
}

// Unsubscribe removes the connection from its room's subscriber set and
// closes it. In-flight mutations the client initiated still complete and
// broadcast; reconnection is stateless.
func (cm *ConnectionManager) Unsubscribe(conn *Connection) {
	cm.unregister(conn)
	conn.Conn.Close()
}

func (cm *ConnectionManager) register(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.roomConnections[conn.RoomID] == nil {
		cm.roomConnections[conn.RoomID] = make(map[*Connection]bool)
	}
	cm.roomConnections[conn.RoomID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_id", conn.RoomID.String()).
		Int("total_connections", len(cm.roomConnections[conn.RoomID])).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregister(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if connections, exists := cm.roomConnections[conn.RoomID]; exists {
		if _, exists := connections[conn]; exists {
			delete(connections, conn)
			close(conn.Send)

			if len(connections) == 0 {
				delete(cm.roomConnections, conn.RoomID)
			}

			log.Info().
				Str("connection_id", conn.ID).
				Str("participant_id", conn.ParticipantID.String()).
				Str("room_id", conn.RoomID.String()).
				Msg("connection unregistered")
		}
	}
}

// HasSubscribers reports whether any client is subscribed to the room. Wired
// to the hub registry's idle eviction.
func (cm *ConnectionManager) HasSubscribers(roomID uuid.UUID) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.roomConnections[roomID]) > 0
}

// Enqueue queues a serialized event for fan-out to a room.
func (cm *ConnectionManager) Enqueue(roomID uuid.UUID, seq uint64, kind string, data []byte) {
	select {
	case cm.broadcastCh <- BroadcastMessage{RoomID: roomID, Seq: seq, Kind: kind, Data: data}:
	default:
		// A full queue behaves like any other missed push: affected clients
		// detect the sequence gap and reconcile.
		log.Warn().Str("room_id", roomID.String()).Uint64("seq", seq).Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.roomConnections[message.RoomID]
	if !exists {
		cm.mu.RUnlock()
		return
	}

	// Snapshot the subscriber set so the lock is not held while sending.
	targets := make([]*Connection, 0, len(connections))
	for conn := range connections {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		select {
		case conn.Send <- message.Data:
		default:
			// Slow or dead client; close it and let reconciliation catch it
			// up after reconnect.
			log.Warn().
				Str("connection_id", conn.ID).
				Str("participant_id", conn.ParticipantID.String()).
				Msg("connection send buffer full, closing connection")
			cm.unregister(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("kind", message.Kind).
		Str("room_id", message.RoomID.String()).
		Uint64("seq", message.Seq).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// Stats summarizes active subscriptions.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

func (cm *ConnectionManager) GetStats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := Stats{RoomConnections: make(map[string]int)}
	for roomID, connections := range cm.roomConnections {
		stats.TotalConnections += len(connections)
		stats.RoomConnections[roomID.String()] = len(connections)
	}
	stats.ActiveRooms = len(cm.roomConnections)
	return stats
}

// writePump handles sending messages to the WebSocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the WebSocket connection.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		// The push channel is one-way; anything a client sends is either a
		// keepalive or noise worth logging. Clients are not trusted to send
		// valid JSON.
		log.Debug().
			Str("connection_id", c.ID).
			Str("participant_id", c.ParticipantID.String()).
			Bytes("message", message).
			Msg("received client message")
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
