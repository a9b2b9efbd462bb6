// Package realtime is the WebSocket surface of the broadcast system: one hub
// fans events out to every listener of a session, bridged over Redis pub/sub
// so instances behind a load balancer stay in sync.
package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait drive the connection heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60
)

// Publisher publishes session events to other instances.
type Publisher interface {
	PublishStreamEvent(sessionID uuid.UUID, event string, payload []byte) error
}

// Subscriber subscribes to a session's channel and invokes the handler for
// incoming events from other instances.
type Subscriber interface {
	SubscribeStream(sessionID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains session_id -> set of connections and broadcasts messages.
// Local broadcast plus a Redis publish covers every instance.
type Hub struct {
	sessions map[uuid.UUID]map[string]*Client
	subs     map[uuid.UUID]func()
	mu       sync.RWMutex
	logger   *zap.Logger
	pub      Publisher
	sub      Subscriber
}

// NewHub creates a WebSocket hub. pub and sub may be nil for single-instance
// deployments and tests.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		sessions: make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		pub:      pub,
		sub:      sub,
	}
}

// Register adds a client to its session's connection set, starting the Redis
// subscription when it is the first local client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.sessions[c.SessionID] == nil {
		h.sessions[c.SessionID] = make(map[string]*Client)
		if h.sub != nil {
			cancel, err := h.sub.SubscribeStream(c.SessionID, func(event string, payload []byte) {
				h.Broadcast(c.SessionID, event, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Warn("stream subscribe failed", zap.Error(err), zap.String("session_id", c.SessionID.String()))
			} else {
				h.subs[c.SessionID] = cancel
			}
		}
	}
	h.sessions[c.SessionID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID.String()))
}

// Unregister removes a client, cancelling the Redis subscription when the
// last local client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.sessions[c.SessionID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.sessions, c.SessionID)
			if cancel, ok := h.subs[c.SessionID]; ok {
				cancel()
				delete(h.subs, c.SessionID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID.String()))
}

// Broadcast sends a message to every local client of a session. The client
// set is snapshotted under the read lock; a registration racing the fan-out
// must not mutate a map being ranged.
func (h *Hub) Broadcast(sessionID uuid.UUID, event string, payload interface{}) {
	data := marshalPayload(payload)
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.sessions[sessionID]))
	for _, c := range h.sessions[sessionID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			// slow consumer, drop
		}
	}
}

// BroadcastAndPublish sends to local clients and publishes to Redis so every
// other instance delivers the event too.
func (h *Hub) BroadcastAndPublish(sessionID uuid.UUID, event string, payload interface{}) {
	h.Broadcast(sessionID, event, payload)
	if h.pub != nil {
		_ = h.pub.PublishStreamEvent(sessionID, event, marshalPayload(payload))
	}
}

// SendToClient sends a message to one client of a session, used for signaling
// relays addressed to a single peer.
func (h *Hub) SendToClient(sessionID uuid.UUID, clientID, event string, payload interface{}) {
	msg := WSMessage{Event: event, Data: marshalPayload(payload)}
	h.mu.RLock()
	c := h.sessions[sessionID][clientID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// ConnectionCount returns the number of locally connected clients.
func (h *Hub) ConnectionCount(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// StreamEvent pushes a lifecycle event to every listener of a session. It is
// the hook the lifecycle coordinator calls on transitions.
func (h *Hub) StreamEvent(sessionID uuid.UUID, event string, payload interface{}) {
	h.BroadcastAndPublish(sessionID, event, payload)
}

func marshalPayload(payload interface{}) json.RawMessage {
	switch v := payload.(type) {
	case nil:
		return nil
	case []byte:
		return v
	case json.RawMessage:
		return v
	default:
		data, _ := json.Marshal(payload)
		return data
	}
}
