package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/metinemredonmez/podcast-app-sub001/internal/models"
	"github.com/metinemredonmez/podcast-app-sub001/internal/rooms"
	"github.com/metinemredonmez/podcast-app-sub001/internal/streams"
)

const requestTimeout = 10 * time.Second

// SessionControl is the lifecycle coordinator surface the gateway needs.
type SessionControl interface {
	Get(ctx context.Context, sessionID uuid.UUID) (*models.StreamSession, error)
	VerifyHost(ctx context.Context, sessionID, actorID uuid.UUID, streamKey string) (*models.StreamSession, error)
	Stats(ctx context.Context, sessionID uuid.UUID) (*streams.LiveStats, error)
}

// Audience is the room allocator surface the gateway needs.
type Audience interface {
	JoinRoom(ctx context.Context, sessionID uuid.UUID, connectionToken string, userID *uuid.UUID, deviceInfo string) (*rooms.JoinResult, error)
	LeaveRoom(ctx context.Context, connectionToken string) (*rooms.LeaveResult, error)
	ViewerCount(ctx context.Context, sessionID uuid.UUID) int
}

// AudioSink receives the host's raw audio for encoding.
type AudioSink interface {
	WriteAudioData(sessionID uuid.UUID, chunk []byte)
	PlaybackURL(sessionID uuid.UUID) string
}

// Gateway implements the realtime protocol on top of the hub: listener joins
// and leaves, the host's audio ingest, stats pushes and signaling relay.
// Socket plumbing lives in Client; every protocol decision lives here.
type Gateway struct {
	control   SessionControl
	audience  Audience
	audio     AudioSink
	hub       *Hub
	logger    *zap.Logger
	statsTick time.Duration
}

// NewGateway creates the protocol handler. statsTick is the host stats push
// interval.
func NewGateway(control SessionControl, audience Audience, audio AudioSink, hub *Hub, statsTick time.Duration, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if statsTick <= 0 {
		statsTick = 5 * time.Second
	}
	return &Gateway{
		control:   control,
		audience:  audience,
		audio:     audio,
		hub:       hub,
		logger:    logger,
		statsTick: statsTick,
	}
}

type joinedPayload struct {
	RoomNumber  int                 `json:"room_number"`
	PlaybackURL string              `json:"playback_url"`
	ViewerCount int                 `json:"viewer_count"`
	Status      models.StreamStatus `json:"status"`
	Rejoined    bool                `json:"rejoined"`
}

type hostJoinPayload struct {
	StreamKey string `json:"stream_key"`
}

type audioPayload struct {
	Data string `json:"data"` // base64
}

type signalPayload struct {
	Target    string          `json:"target"` // client id to relay to
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// HandleMessage dispatches one control message from a client.
func (g *Gateway) HandleMessage(c *Client, msg WSMessage) {
	switch msg.Event {
	case "join-stream":
		g.handleJoin(c)
	case "leave-stream":
		g.handleLeave(c, true)
	case "host-join":
		g.handleHostJoin(c, msg.Data)
	case "host-leave":
		g.handleHostLeave(c)
	case "audio-data":
		g.handleAudioJSON(c, msg.Data)
	case "stream-status":
		g.handleStatus(c, msg.Data)
	case "webrtc-offer":
		g.relaySignal(c, "webrtc-offer", msg.Data, webrtc.SDPTypeOffer)
	case "webrtc-answer":
		g.relaySignal(c, "webrtc-answer", msg.Data, webrtc.SDPTypeAnswer)
	case "webrtc-ice":
		g.relayICE(c, msg.Data)
	default:
		// unknown events are ignored, not fatal
	}
}

// HandleBinary ingests a raw audio frame from the host's socket.
func (g *Gateway) HandleBinary(c *Client, data []byte) {
	if !c.isHost {
		g.sendError(c, "only the host may send audio")
		return
	}
	g.audio.WriteAudioData(c.SessionID, data)
}

// HandleDisconnect tears down everything the connection held: room
// membership, host stats ticker.
func (g *Gateway) HandleDisconnect(c *Client) {
	g.handleHostLeave(c)
	g.handleLeave(c, false)
}

func (g *Gateway) handleJoin(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	session, err := g.control.Get(ctx, c.SessionID)
	if err != nil {
		g.sendError(c, "stream not found")
		return
	}
	if session.Status != models.StatusLive && session.Status != models.StatusPaused {
		g.sendError(c, "stream is not live")
		return
	}

	var userID *uuid.UUID
	if c.UserID != uuid.Nil {
		userID = &c.UserID
	}
	res, err := g.audience.JoinRoom(ctx, c.SessionID, c.ID, userID, c.DeviceInfo)
	if err != nil {
		if errors.Is(err, rooms.ErrSessionFull) {
			g.sendError(c, "stream is full")
			return
		}
		g.logger.Error("join room", zap.Error(err), zap.String("session_id", c.SessionID.String()))
		g.sendError(c, "could not join stream")
		return
	}
	c.joined = true

	viewers := g.audience.ViewerCount(ctx, c.SessionID)
	g.hub.SendToClient(c.SessionID, c.ID, "joined", joinedPayload{
		RoomNumber:  res.RoomNumber,
		PlaybackURL: g.audio.PlaybackURL(c.SessionID),
		ViewerCount: viewers,
		Status:      session.Status,
		Rejoined:    res.Rejoined,
	})
	g.hub.BroadcastAndPublish(c.SessionID, "viewer-count", map[string]int{"count": viewers})
}

func (g *Gateway) handleLeave(c *Client, notify bool) {
	if !c.joined {
		return
	}
	c.joined = false

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if _, err := g.audience.LeaveRoom(ctx, c.ID); err != nil {
		g.logger.Warn("leave room", zap.Error(err), zap.String("session_id", c.SessionID.String()))
	}
	viewers := g.audience.ViewerCount(ctx, c.SessionID)
	if notify {
		g.hub.SendToClient(c.SessionID, c.ID, "left", nil)
	}
	g.hub.BroadcastAndPublish(c.SessionID, "viewer-count", map[string]int{"count": viewers})
}

func (g *Gateway) handleHostJoin(c *Client, data json.RawMessage) {
	var p hostJoinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.StreamKey == "" {
		g.sendError(c, "stream key required")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if _, err := g.control.VerifyHost(ctx, c.SessionID, c.UserID, p.StreamKey); err != nil {
		g.sendError(c, "host verification failed")
		return
	}
	c.isHost = true
	c.startStatsTicker(g.statsTick, func() { g.pushStats(c) })
	g.hub.SendToClient(c.SessionID, c.ID, "host-ready", nil)
	g.logger.Info("host connected", zap.String("session_id", c.SessionID.String()), zap.String("user_id", c.UserID.String()))
}

func (g *Gateway) handleHostLeave(c *Client) {
	if !c.isHost {
		return
	}
	c.isHost = false
	c.stopStatsTicker()
}

func (g *Gateway) handleAudioJSON(c *Client, data json.RawMessage) {
	if !c.isHost {
		g.sendError(c, "only the host may send audio")
		return
	}
	var p audioPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Data == "" {
		return
	}
	chunk, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		g.sendError(c, "bad audio payload")
		return
	}
	g.audio.WriteAudioData(c.SessionID, chunk)
}

// handleStatus rebroadcasts a host's status annotation to every listener of
// the session. Only the verified host may push one.
func (g *Gateway) handleStatus(c *Client, data json.RawMessage) {
	if !c.isHost {
		g.sendError(c, "only the host may update stream status")
		return
	}
	if len(data) == 0 {
		g.sendError(c, "status payload required")
		return
	}
	g.hub.BroadcastAndPublish(c.SessionID, "stream-status", data)
}

// relaySignal validates the SDP with pion types and relays it unchanged to
// the target client; the server never terminates media itself.
func (g *Gateway) relaySignal(c *Client, event string, data json.RawMessage, sdpType webrtc.SDPType) {
	var p signalPayload
	if err := json.Unmarshal(data, &p); err != nil || p.SDP == "" || p.Target == "" {
		g.sendError(c, "bad signaling payload")
		return
	}
	desc := webrtc.SessionDescription{Type: sdpType, SDP: p.SDP}
	if _, err := desc.Unmarshal(); err != nil {
		g.sendError(c, "invalid session description")
		return
	}
	g.hub.SendToClient(c.SessionID, p.Target, event, map[string]string{
		"from": c.ID,
		"sdp":  p.SDP,
	})
}

func (g *Gateway) relayICE(c *Client, data json.RawMessage) {
	var p signalPayload
	if err := json.Unmarshal(data, &p); err != nil || len(p.Candidate) == 0 || p.Target == "" {
		g.sendError(c, "bad signaling payload")
		return
	}
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(p.Candidate, &cand); err != nil || cand.Candidate == "" {
		g.sendError(c, "invalid ice candidate")
		return
	}
	g.hub.SendToClient(c.SessionID, p.Target, "webrtc-ice", map[string]interface{}{
		"from":      c.ID,
		"candidate": p.Candidate,
	})
}

// pushStats delivers the periodic dashboard to the host connection only; the
// per-room occupancy breakdown is not for the audience.
func (g *Gateway) pushStats(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	stats, err := g.control.Stats(ctx, c.SessionID)
	if err != nil {
		g.logger.Warn("stats push", zap.Error(err), zap.String("session_id", c.SessionID.String()))
		return
	}
	g.hub.SendToClient(c.SessionID, c.ID, "stream-stats", stats)
}

func (g *Gateway) sendError(c *Client, message string) {
	g.hub.SendToClient(c.SessionID, c.ID, "error", map[string]string{"message": message})
}
