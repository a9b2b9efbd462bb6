package realtime

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(sessionID uuid.UUID) *Client {
	return &Client{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		UserID:    uuid.New(),
		send:      make(chan WSMessage, 16),
	}
}

func recvMessage(t *testing.T, c *Client) WSMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	default:
		t.Fatal("no message queued")
		return WSMessage{}
	}
}

func TestHubBroadcastReachesAllSessionClients(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()
	a := newTestClient(sessionID)
	b := newTestClient(sessionID)
	other := newTestClient(uuid.New())
	hub.Register(a)
	hub.Register(b)
	hub.Register(other)

	hub.Broadcast(sessionID, "viewer-count", map[string]int{"count": 3})

	for _, c := range []*Client{a, b} {
		msg := recvMessage(t, c)
		assert.Equal(t, "viewer-count", msg.Event)
		var payload map[string]int
		require.NoError(t, json.Unmarshal(msg.Data, &payload))
		assert.Equal(t, 3, payload["count"])
	}
	assert.Empty(t, other.send)
}

func TestHubSendToClientTargetsOneConnection(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()
	a := newTestClient(sessionID)
	b := newTestClient(sessionID)
	hub.Register(a)
	hub.Register(b)

	hub.SendToClient(sessionID, a.ID, "joined", map[string]int{"room_number": 1})

	msg := recvMessage(t, a)
	assert.Equal(t, "joined", msg.Event)
	assert.Empty(t, b.send)
}

func TestHubUnregisterRemovesClient(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()
	a := newTestClient(sessionID)
	hub.Register(a)
	assert.Equal(t, 1, hub.ConnectionCount(sessionID))

	hub.Unregister(a)
	assert.Equal(t, 0, hub.ConnectionCount(sessionID))

	// Broadcasting into an empty session is a no-op.
	hub.Broadcast(sessionID, "viewer-count", nil)
	assert.Empty(t, a.send)
}

func TestHubSlowConsumerDoesNotBlock(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()
	c := newTestClient(sessionID)
	c.send = make(chan WSMessage) // unbuffered and never drained
	hub.Register(c)

	done := make(chan struct{})
	go func() {
		hub.Broadcast(sessionID, "stream-stats", map[string]int{"n": 1})
		close(done)
	}()
	select {
	case <-done:
	case <-c.send:
		t.Fatal("unexpected receive")
	}
}

func TestHubBroadcastSafeDuringRegistration(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			c := newTestClient(sessionID)
			hub.Register(c)
			hub.Unregister(c)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			hub.Broadcast(sessionID, "viewer-count", map[string]int{"count": i})
		}
	}()
	wg.Wait()
}

type capturePublisher struct {
	events []string
}

func (p *capturePublisher) PublishStreamEvent(_ uuid.UUID, event string, _ []byte) error {
	p.events = append(p.events, event)
	return nil
}

func TestHubBroadcastAndPublishHitsRedis(t *testing.T) {
	pub := &capturePublisher{}
	hub := NewHub(nil, pub, nil)
	sessionID := uuid.New()
	c := newTestClient(sessionID)
	hub.Register(c)

	hub.BroadcastAndPublish(sessionID, "stream-ended", nil)

	msg := recvMessage(t, c)
	assert.Equal(t, "stream-ended", msg.Event)
	assert.Equal(t, []string{"stream-ended"}, pub.events)
}

func TestHubStreamEventImplementsNotifier(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()
	c := newTestClient(sessionID)
	hub.Register(c)

	hub.StreamEvent(sessionID, "stream-paused", nil)
	msg := recvMessage(t, c)
	assert.Equal(t, "stream-paused", msg.Event)
}
