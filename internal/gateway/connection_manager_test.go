package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/pointdeck/pointdeck/internal/events"
)

// subscribeServer exposes the manager's Subscribe over httptest so clients
// can dial it with the real websocket handshake.
func subscribeServer(t *testing.T, cm *ConnectionManager, roomID uuid.UUID) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := cm.Subscribe(w, r, uuid.New(), roomID)
		require.NoError(t, err)
	}))
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestBroadcastReachesRoomSubscribers(t *testing.T) {
	req := require.New(t)
	cm := NewConnectionManager(DefaultConnectionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cm.Start(ctx)

	roomID := uuid.New()
	server := subscribeServer(t, cm, roomID)
	client := dial(t, server)
	waitFor(t, func() bool { return cm.HasSubscribers(roomID) }, "subscription never registered")

	evt, err := events.NewRoomEvent(roomID, 7, events.KindVoteRecorded, time.Now(),
		events.VoteRecordedPayload{TaskID: uuid.New(), VoteCount: 2, TotalParticipants: 3})
	req.NoError(err)
	cm.Broadcast(evt)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	req.NoError(err)

	var received events.RoomEvent
	req.NoError(json.Unmarshal(data, &received))
	req.Equal(roomID, received.RoomID)
	req.Equal(uint64(7), received.Seq)
	req.Equal(events.KindVoteRecorded, received.Kind)
}

func TestBroadcastIsScopedToRoom(t *testing.T) {
	req := require.New(t)
	cm := NewConnectionManager(DefaultConnectionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cm.Start(ctx)

	roomA, roomB := uuid.New(), uuid.New()
	clientA := dial(t, subscribeServer(t, cm, roomA))
	clientB := dial(t, subscribeServer(t, cm, roomB))
	waitFor(t, func() bool { return cm.HasSubscribers(roomA) && cm.HasSubscribers(roomB) }, "subscriptions never registered")

	evt, err := events.NewRoomEvent(roomA, 1, events.KindMembershipChanged, time.Now(),
		events.MembershipChangedPayload{RoomID: roomA})
	req.NoError(err)
	cm.Broadcast(evt)

	clientA.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = clientA.ReadMessage()
	req.NoError(err, "room A subscriber receives its room's event")

	clientB.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = clientB.ReadMessage()
	req.Error(err, "room B subscriber must not receive room A's event")
}

func TestClientNoiseDoesNotDisturbSubscription(t *testing.T) {
	req := require.New(t)
	cm := NewConnectionManager(DefaultConnectionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cm.Start(ctx)

	roomID := uuid.New()
	client := dial(t, subscribeServer(t, cm, roomID))
	waitFor(t, func() bool { return cm.HasSubscribers(roomID) }, "subscription never registered")

	// the push channel is one-way; junk from the client must not break it
	req.NoError(client.WriteMessage(websocket.TextMessage, []byte("{not json")))

	evt, err := events.NewRoomEvent(roomID, 1, events.KindMembershipChanged, time.Now(),
		events.MembershipChangedPayload{RoomID: roomID})
	req.NoError(err)
	cm.Broadcast(evt)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	req.NoError(err, "subscription must survive non-JSON client input")

	var received events.RoomEvent
	req.NoError(json.Unmarshal(data, &received))
	req.Equal(uint64(1), received.Seq)
	req.True(cm.HasSubscribers(roomID))
}

func TestUnsubscribeOnClientDisconnect(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cm.Start(ctx)

	roomID := uuid.New()
	client := dial(t, subscribeServer(t, cm, roomID))
	waitFor(t, func() bool { return cm.HasSubscribers(roomID) }, "subscription never registered")

	client.Close()
	waitFor(t, func() bool { return !cm.HasSubscribers(roomID) }, "disconnect never unregistered the subscription")
}

func TestGetStatsCountsRooms(t *testing.T) {
	req := require.New(t)
	cm := NewConnectionManager(DefaultConnectionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cm.Start(ctx)

	roomA, roomB := uuid.New(), uuid.New()
	serverA := subscribeServer(t, cm, roomA)
	dial(t, serverA)
	dial(t, serverA)
	dial(t, subscribeServer(t, cm, roomB))
	waitFor(t, func() bool { return cm.GetStats().TotalConnections == 3 }, "subscriptions never registered")

	stats := cm.GetStats()
	req.Equal(3, stats.TotalConnections)
	req.Equal(2, stats.ActiveRooms)
	req.Equal(2, stats.RoomConnections[roomA.String()])
	req.Equal(1, stats.RoomConnections[roomB.String()])
}
