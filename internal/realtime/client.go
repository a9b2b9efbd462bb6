package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/metinemredonmez/podcast-app-sub001/internal/middleware"
	"github.com/metinemredonmez/podcast-app-sub001/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS policy enforced at the HTTP layer
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client is one WebSocket connection to a session. Its ID doubles as the
// connection token the room allocator tracks membership by.
type Client struct {
	ID         string
	SessionID  uuid.UUID
	UserID     uuid.UUID
	Role       string
	DeviceInfo string

	hub     *Hub
	gateway *Gateway
	conn    *websocket.Conn
	send    chan WSMessage
	logger  *zap.Logger

	// protocol state owned by the read pump
	joined bool
	isHost bool

	statsMu   sync.Mutex
	statsStop chan struct{}
}

// ServeWs upgrades the connection and runs the client loop. The JWT
// middleware must run first so the claims are in the gin context.
func ServeWs(hub *Hub, gateway *Gateway, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			response.BadRequest(c, "invalid session id")
			return
		}
		idVal, _ := c.Get(middleware.ContextUserID)
		roleVal, _ := c.Get(middleware.ContextUserRole)
		userID, _ := idVal.(uuid.UUID)
		role, _ := roleVal.(string)

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:         uuid.New().String(),
			SessionID:  sessionID,
			UserID:     userID,
			Role:       role,
			DeviceInfo: c.Request.UserAgent(),
			hub:        hub,
			gateway:    gateway,
			conn:       conn,
			send:       make(chan WSMessage, 256),
			logger:     logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.gateway.HandleDisconnect(c)
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512 * 1024) // audio frames are larger than control messages
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		switch msgType {
		case websocket.BinaryMessage:
			c.gateway.HandleBinary(c, data)
		case websocket.TextMessage:
			var msg WSMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			c.gateway.HandleMessage(c, msg)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// startStatsTicker runs fn every interval until stopStatsTicker or a second
// startStatsTicker call.
func (c *Client) startStatsTicker(interval time.Duration, fn func()) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	if c.statsStop != nil {
		close(c.statsStop)
	}
	stop := make(chan struct{})
	c.statsStop = stop
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

func (c *Client) stopStatsTicker() {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	if c.statsStop != nil {
		close(c.statsStop)
		c.statsStop = nil
	}
}
