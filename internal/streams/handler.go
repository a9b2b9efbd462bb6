package streams

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/metinemredonmez/podcast-app-sub001/internal/auth"
	"github.com/metinemredonmez/podcast-app-sub001/internal/middleware"
	"github.com/metinemredonmez/podcast-app-sub001/internal/models"
	"github.com/metinemredonmez/podcast-app-sub001/pkg/response"
	"github.com/metinemredonmez/podcast-app-sub001/pkg/storage"
)

// Presigner issues time-limited download URLs for stored recordings.
type Presigner interface {
	PresignedDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error)
	PresignExpire() time.Duration
}

// Handler exposes the stream lifecycle HTTP API.
type Handler struct {
	svc       *Service
	presigner Presigner
	logger    *zap.Logger
}

// NewHandler creates a streams handler. presigner may be nil, which disables
// the recording download endpoint.
func NewHandler(svc *Service, presigner Presigner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, presigner: presigner, logger: logger}
}

type createRequest struct {
	Title              string     `json:"title" binding:"required,max=200"`
	Description        string     `json:"description" binding:"max=2000"`
	Category           string     `json:"category" binding:"max=100"`
	ScheduledAt        *time.Time `json:"scheduled_at"`
	MaxDurationSeconds int        `json:"max_duration_seconds" binding:"min=0"`
	IsRecorded         bool       `json:"is_recorded"`
}

// Create handles POST /streams.
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	userID, _ := currentUser(c)
	session, err := h.svc.Create(c.Request.Context(), userID, CreateParams{
		Title:              req.Title,
		Description:        req.Description,
		Category:           req.Category,
		ScheduledAt:        req.ScheduledAt,
		MaxDurationSeconds: req.MaxDurationSeconds,
		IsRecorded:         req.IsRecorded,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.Created(c, session.ForHost())
}

// Start handles POST /streams/:id/start.
func (h *Handler) Start(c *gin.Context) { h.transition(c, h.svc.Start) }

// Pause handles POST /streams/:id/pause.
func (h *Handler) Pause(c *gin.Context) { h.transition(c, h.svc.Pause) }

// Resume handles POST /streams/:id/resume.
func (h *Handler) Resume(c *gin.Context) { h.transition(c, h.svc.Resume) }

// End handles POST /streams/:id/end.
func (h *Handler) End(c *gin.Context) { h.transition(c, h.svc.End) }

// Cancel handles POST /streams/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) { h.transition(c, h.svc.Cancel) }

type transitionFn func(ctx context.Context, sessionID, actorID uuid.UUID, privileged bool) (*models.StreamSession, error)

func (h *Handler) transition(c *gin.Context, fn transitionFn) {
	sessionID, ok := parseID(c)
	if !ok {
		return
	}
	userID, role := currentUser(c)
	session, err := fn(c.Request.Context(), sessionID, userID, role == auth.RoleAdmin)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, session.ForHost())
}

// Get handles GET /streams/:id. Hosts see their own stream key; everyone
// else gets the public view.
func (h *Handler) Get(c *gin.Context) {
	sessionID, ok := parseID(c)
	if !ok {
		return
	}
	session, err := h.svc.Get(c.Request.Context(), sessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	userID, role := currentUser(c)
	if session.HostID == userID || role == auth.RoleAdmin {
		response.OK(c, session.ForHost())
		return
	}
	response.OK(c, session)
}

// ListActive handles GET /streams/active.
func (h *Handler) ListActive(c *gin.Context) {
	sessions, err := h.svc.ListActive(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, sessions)
}

// ListScheduled handles GET /streams/scheduled.
func (h *Handler) ListScheduled(c *gin.Context) {
	sessions, err := h.svc.ListScheduled(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, sessions)
}

// ListMine handles GET /streams/mine with an optional ?status= filter.
func (h *Handler) ListMine(c *gin.Context) {
	userID, _ := currentUser(c)
	var status *models.StreamStatus
	if raw := c.Query("status"); raw != "" {
		s := models.StreamStatus(raw)
		if !s.Valid() {
			response.BadRequest(c, "unknown status filter")
			return
		}
		status = &s
	}
	sessions, err := h.svc.ListByHost(c.Request.Context(), userID, status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	hosted := make([]models.HostView, 0, len(sessions))
	for i := range sessions {
		hosted = append(hosted, sessions[i].ForHost())
	}
	response.OK(c, hosted)
}

// ListPast handles GET /streams/past with ?page= and ?limit= pagination.
func (h *Handler) ListPast(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	sessions, err := h.svc.ListRecorded(c.Request.Context(), limit, (page-1)*limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, gin.H{"page": page, "limit": limit, "sessions": sessions})
}

// Stats handles GET /streams/:id/stats.
func (h *Handler) Stats(c *gin.Context) {
	sessionID, ok := parseID(c)
	if !ok {
		return
	}
	stats, err := h.svc.Stats(c.Request.Context(), sessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, stats)
}

// RecordingURL handles GET /streams/:id/recording-url, returning a
// time-limited download URL for the session's archived recording.
func (h *Handler) RecordingURL(c *gin.Context) {
	if h.presigner == nil {
		response.NotFound(c, "recording downloads not available")
		return
	}
	sessionID, ok := parseID(c)
	if !ok {
		return
	}
	session, err := h.svc.Get(c.Request.Context(), sessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if session.RecordingURL == "" {
		response.NotFound(c, "no recording for this session")
		return
	}
	expires := h.presigner.PresignExpire()
	url, err := h.presigner.PresignedDownloadURL(c.Request.Context(),
		storage.RecordingKey(sessionID.String()), expires)
	if err != nil {
		h.logger.Error("presign recording", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "could not generate download url")
		return
	}
	response.OK(c, gin.H{"url": url, "expires_in_seconds": int(expires.Seconds())})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		response.NotFound(c, "session not found")
	case errors.Is(err, ErrNotHost):
		response.Forbidden(c, "only the session host may do this")
	case errors.Is(err, ErrActiveSessionExists):
		response.Conflict(c, "you already have an active session")
	case errors.Is(err, ErrInvalidTransition):
		response.BadRequest(c, err.Error())
	default:
		h.logger.Error("stream handler", zap.Error(err))
		response.Internal(c, "internal error")
	}
}

func currentUser(c *gin.Context) (uuid.UUID, string) {
	idVal, _ := c.Get(middleware.ContextUserID)
	roleVal, _ := c.Get(middleware.ContextUserRole)
	id, _ := idVal.(uuid.UUID)
	role, _ := roleVal.(string)
	return id, role
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}
