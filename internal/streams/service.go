package streams

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/metinemredonmez/podcast-app-sub001/internal/models"
	"github.com/metinemredonmez/podcast-app-sub001/internal/recorder"
	"github.com/metinemredonmez/podcast-app-sub001/internal/rooms"
	"github.com/metinemredonmez/podcast-app-sub001/pkg/queue"
)

// defaultRecorderStartDelay gives the encoder time to publish the first
// segments before the recorder starts pulling the live index.
const defaultRecorderStartDelay = 3 * time.Second

// SessionStore persists sessions; implemented by Repository.
type SessionStore interface {
	Create(ctx context.Context, s *models.StreamSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.StreamSession, error)
	HasOpenSession(ctx context.Context, hostID uuid.UUID) (bool, error)
	MarkLive(ctx context.Context, id uuid.UUID, playbackURL string) (bool, error)
	MarkPaused(ctx context.Context, id uuid.UUID) (bool, error)
	MarkEnded(ctx context.Context, id uuid.UUID, recordingURL string, recordingDurationSec int) (bool, error)
	MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error)
	ListActive(ctx context.Context) ([]models.StreamSession, error)
	ListScheduled(ctx context.Context) ([]models.StreamSession, error)
	ListByHost(ctx context.Context, hostID uuid.UUID, status *models.StreamStatus) ([]models.StreamSession, error)
	ListRecorded(ctx context.Context, limit, offset int) ([]models.StreamSession, error)
}

// RoomManager is the allocator surface the coordinator needs.
type RoomManager interface {
	CloseAllRooms(ctx context.Context, sessionID uuid.UUID) error
	Stats(ctx context.Context, sessionID uuid.UUID) (*rooms.SessionStats, error)
}

// MediaEncoder is the encode-and-publish pipeline surface.
type MediaEncoder interface {
	StartEncoding(ctx context.Context, sessionID uuid.UUID) (playbackURL string, err error)
	StopEncoding(sessionID uuid.UUID)
	Cleanup(ctx context.Context, sessionID uuid.UUID) error
}

// MediaRecorder is the archival recording surface.
type MediaRecorder interface {
	StartRecording(ctx context.Context, sessionID uuid.UUID, playbackURL string) error
	StopRecording(ctx context.Context, sessionID uuid.UUID) (recorder.Artifact, error)
}

// EpisodePublisher materializes a finished recording as an on-demand episode.
type EpisodePublisher interface {
	CreateFromSession(ctx context.Context, session *models.StreamSession, audioURL string, durationSeconds int) (*models.Episode, error)
}

// JobQueue defers background cleanup work; nil disables it.
type JobQueue interface {
	EnqueueSegmentPurge(ctx context.Context, payload queue.SegmentPurgePayload) error
}

// Notifier pushes lifecycle events to connected listeners; nil disables it.
type Notifier interface {
	StreamEvent(sessionID uuid.UUID, event string, payload interface{})
}

// CreateParams are the host-supplied fields for a new session.
type CreateParams struct {
	Title              string
	Description        string
	Category           string
	ScheduledAt        *time.Time
	MaxDurationSeconds int
	IsRecorded         bool
}

// LiveStats is the live audience view of one session.
type LiveStats struct {
	SessionID      uuid.UUID             `json:"session_id"`
	Status         models.StreamStatus   `json:"status"`
	ViewerCount    int                   `json:"viewer_count"`
	PeakViewers    int                   `json:"peak_viewers"`
	TotalViewers   int                   `json:"total_viewers"`
	ElapsedSeconds int                   `json:"elapsed_seconds"`
	Rooms          []rooms.RoomOccupancy `json:"rooms"`
}

// sessionTimers holds the cancellable background work scoped to one session,
// so ending the session has one place that tears everything down.
type sessionTimers struct {
	autoEnd  *time.Timer
	recStart *time.Timer
}

// Service is the stream lifecycle coordinator: it owns session state
// transitions, the auto-end deadline, and drives the allocator, encoder and
// recorder at the right transitions.
type Service struct {
	store    SessionStore
	rooms    RoomManager
	encoder  MediaEncoder
	recorder MediaRecorder
	episodes EpisodePublisher
	jobs     JobQueue
	notifier Notifier
	logger   *zap.Logger

	recorderStartDelay time.Duration
	defaultMaxDuration int // seconds; applied when the host gives none

	// Per-session mutexes serialize lifecycle transitions; operations on
	// different sessions never block each other.
	locks sync.Map // uuid.UUID -> *sync.Mutex

	timersMu sync.Mutex
	timers   map[uuid.UUID]*sessionTimers
}

// NewService creates the coordinator. episodes and jobs may be nil when the
// corresponding side effects are not wanted (e.g. tests).
func NewService(store SessionStore, roomMgr RoomManager, enc MediaEncoder, rec MediaRecorder, eps EpisodePublisher, jobs JobQueue, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:              store,
		rooms:              roomMgr,
		encoder:            enc,
		recorder:           rec,
		episodes:           eps,
		jobs:               jobs,
		logger:             logger,
		recorderStartDelay: defaultRecorderStartDelay,
		timers:             make(map[uuid.UUID]*sessionTimers),
	}
}

// SetNotifier wires the realtime broadcast hook for lifecycle events.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// SetRecorderStartDelay overrides the delay between going live and starting
// the recorder.
func (s *Service) SetRecorderStartDelay(d time.Duration) { s.recorderStartDelay = d }

// SetDefaultMaxDuration sets the auto-end deadline applied to sessions
// created without one. Zero leaves such sessions unbounded.
func (s *Service) SetDefaultMaxDuration(seconds int) { s.defaultMaxDuration = seconds }

func (s *Service) lockSession(id uuid.UUID) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Create makes a new session for the host: SCHEDULED when a future time is
// given, PREPARING for an immediate broadcast. A host with another
// non-terminal session is rejected.
func (s *Service) Create(ctx context.Context, hostID uuid.UUID, p CreateParams) (*models.StreamSession, error) {
	open, err := s.store.HasOpenSession(ctx, hostID)
	if err != nil {
		return nil, fmt.Errorf("check open sessions: %w", err)
	}
	if open {
		return nil, ErrActiveSessionExists
	}

	status := models.StatusPreparing
	if p.ScheduledAt != nil && p.ScheduledAt.After(time.Now()) {
		status = models.StatusScheduled
	} else {
		p.ScheduledAt = nil
	}
	if p.MaxDurationSeconds <= 0 {
		p.MaxDurationSeconds = s.defaultMaxDuration
	}
	session := &models.StreamSession{
		HostID:             hostID,
		Title:              p.Title,
		Description:        p.Description,
		Category:           p.Category,
		Status:             status,
		ScheduledAt:        p.ScheduledAt,
		MaxDurationSeconds: p.MaxDurationSeconds,
		IsRecorded:         p.IsRecorded,
		StreamKey:          newStreamKey(),
	}
	if err := s.store.Create(ctx, session); err != nil {
		return nil, err
	}
	s.logger.Info("session created",
		zap.String("session_id", session.ID.String()),
		zap.String("host_id", hostID.String()),
		zap.String("status", string(session.Status)))
	return session, nil
}

// Start transitions the session to LIVE, starts the encoder, arms the
// auto-end deadline and schedules the recorder for recorded sessions.
func (s *Service) Start(ctx context.Context, sessionID, actorID uuid.UUID, privileged bool) (*models.StreamSession, error) {
	unlock := s.lockSession(sessionID)
	defer unlock()

	session, err := s.authorize(ctx, sessionID, actorID, privileged)
	if err != nil {
		return nil, err
	}
	if session.Status == models.StatusPaused {
		return s.resumeLocked(ctx, session)
	}
	if !session.Status.CanTransitionTo(models.StatusLive) {
		return nil, fmt.Errorf("%w: cannot start from %s", ErrInvalidTransition, session.Status)
	}

	playbackURL, err := s.encoder.StartEncoding(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("start encoder: %w", err)
	}
	ok, err := s.store.MarkLive(ctx, sessionID, playbackURL)
	if err != nil {
		s.encoder.StopEncoding(sessionID)
		return nil, fmt.Errorf("mark live: %w", err)
	}
	if !ok {
		s.encoder.StopEncoding(sessionID)
		return nil, fmt.Errorf("%w: cannot start from %s", ErrInvalidTransition, session.Status)
	}

	timers := &sessionTimers{}
	if session.MaxDurationSeconds > 0 {
		d := time.Duration(session.MaxDurationSeconds) * time.Second
		timers.autoEnd = time.AfterFunc(d, func() { s.autoEnd(sessionID) })
	}
	if session.IsRecorded {
		timers.recStart = time.AfterFunc(s.recorderStartDelay, func() { s.startRecorder(sessionID) })
	}
	s.timersMu.Lock()
	s.timers[sessionID] = timers
	s.timersMu.Unlock()

	s.notify(sessionID, "stream-started", nil)
	s.logger.Info("session live", zap.String("session_id", sessionID.String()), zap.String("playback_url", playbackURL))
	return s.store.GetByID(ctx, sessionID)
}

// Pause flags the session PAUSED. Encoder and recorder keep running; this is
// a visibility flag only.
func (s *Service) Pause(ctx context.Context, sessionID, actorID uuid.UUID, privileged bool) (*models.StreamSession, error) {
	unlock := s.lockSession(sessionID)
	defer unlock()

	session, err := s.authorize(ctx, sessionID, actorID, privileged)
	if err != nil {
		return nil, err
	}
	if !session.Status.CanTransitionTo(models.StatusPaused) {
		return nil, fmt.Errorf("%w: cannot pause from %s", ErrInvalidTransition, session.Status)
	}
	ok, err := s.store.MarkPaused(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("mark paused: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: cannot pause from %s", ErrInvalidTransition, session.Status)
	}
	s.notify(sessionID, "stream-paused", nil)
	return s.store.GetByID(ctx, sessionID)
}

// Resume transitions PAUSED back to LIVE.
func (s *Service) Resume(ctx context.Context, sessionID, actorID uuid.UUID, privileged bool) (*models.StreamSession, error) {
	unlock := s.lockSession(sessionID)
	defer unlock()

	session, err := s.authorize(ctx, sessionID, actorID, privileged)
	if err != nil {
		return nil, err
	}
	if session.Status != models.StatusPaused {
		return nil, fmt.Errorf("%w: cannot resume from %s", ErrInvalidTransition, session.Status)
	}
	return s.resumeLocked(ctx, session)
}

func (s *Service) resumeLocked(ctx context.Context, session *models.StreamSession) (*models.StreamSession, error) {
	ok, err := s.store.MarkLive(ctx, session.ID, "")
	if err != nil {
		return nil, fmt.Errorf("mark live: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: cannot resume from %s", ErrInvalidTransition, session.Status)
	}
	s.notify(session.ID, "stream-resumed", nil)
	return s.store.GetByID(ctx, session.ID)
}

// End stops the session: encoder first, then the recorder (awaiting its
// artifact), persists the terminal state, closes all rooms, disarms timers
// and materializes the episode for recorded sessions.
func (s *Service) End(ctx context.Context, sessionID, actorID uuid.UUID, privileged bool) (*models.StreamSession, error) {
	unlock := s.lockSession(sessionID)
	defer unlock()

	session, err := s.authorize(ctx, sessionID, actorID, privileged)
	if err != nil {
		return nil, err
	}
	if !session.Status.CanTransitionTo(models.StatusEnded) {
		return nil, fmt.Errorf("%w: cannot end from %s", ErrInvalidTransition, session.Status)
	}

	// Timers go first: a pending delayed recorder start firing after
	// StopRecording would launch a process nothing ever stops.
	s.disarmTimers(sessionID)
	s.encoder.StopEncoding(sessionID)

	var artifact recorder.Artifact
	if session.IsRecorded {
		artifact, err = s.recorder.StopRecording(ctx, sessionID)
		if err != nil {
			// A lost recording degrades the session, it does not block its end.
			s.logger.Error("stop recording failed", zap.Error(err), zap.String("session_id", sessionID.String()))
			artifact = recorder.Artifact{}
		}
	}

	ok, err := s.store.MarkEnded(ctx, sessionID, artifact.URL, artifact.DurationSeconds)
	if err != nil {
		return nil, fmt.Errorf("mark ended: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: cannot end from %s", ErrInvalidTransition, session.Status)
	}

	if err := s.rooms.CloseAllRooms(ctx, sessionID); err != nil {
		s.logger.Error("close rooms failed", zap.Error(err), zap.String("session_id", sessionID.String()))
	}

	if !session.IsRecorded {
		if err := s.encoder.Cleanup(ctx, sessionID); err != nil {
			s.logger.Warn("encoder cleanup failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		}
	} else if s.jobs != nil {
		if err := s.jobs.EnqueueSegmentPurge(ctx, queue.SegmentPurgePayload{SessionID: sessionID}); err != nil {
			s.logger.Warn("enqueue segment purge failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		}
	}

	if !artifact.Empty() && s.episodes != nil {
		if _, err := s.episodes.CreateFromSession(ctx, session, artifact.URL, artifact.DurationSeconds); err != nil {
			s.logger.Error("materialize episode failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		}
	}

	s.notify(sessionID, "stream-ended", nil)
	s.logger.Info("session ended",
		zap.String("session_id", sessionID.String()),
		zap.Bool("recorded", !artifact.Empty()))
	return s.store.GetByID(ctx, sessionID)
}

// Cancel aborts a session that never went live.
func (s *Service) Cancel(ctx context.Context, sessionID, actorID uuid.UUID, privileged bool) (*models.StreamSession, error) {
	unlock := s.lockSession(sessionID)
	defer unlock()

	session, err := s.authorize(ctx, sessionID, actorID, privileged)
	if err != nil {
		return nil, err
	}
	if !session.Status.CanTransitionTo(models.StatusCancelled) {
		return nil, fmt.Errorf("%w: cannot cancel from %s", ErrInvalidTransition, session.Status)
	}
	s.disarmTimers(sessionID)
	ok, err := s.store.MarkCancelled(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("mark cancelled: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: cannot cancel from %s", ErrInvalidTransition, session.Status)
	}
	if err := s.rooms.CloseAllRooms(ctx, sessionID); err != nil {
		s.logger.Error("close rooms failed", zap.Error(err), zap.String("session_id", sessionID.String()))
	}
	return s.store.GetByID(ctx, sessionID)
}

// Get returns one session or ErrSessionNotFound.
func (s *Service) Get(ctx context.Context, sessionID uuid.UUID) (*models.StreamSession, error) {
	session, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// ListActive returns currently broadcasting sessions.
func (s *Service) ListActive(ctx context.Context) ([]models.StreamSession, error) {
	return s.store.ListActive(ctx)
}

// ListScheduled returns upcoming sessions.
func (s *Service) ListScheduled(ctx context.Context) ([]models.StreamSession, error) {
	return s.store.ListScheduled(ctx)
}

// ListByHost returns a host's own sessions, optionally filtered by status.
func (s *Service) ListByHost(ctx context.Context, hostID uuid.UUID, status *models.StreamStatus) ([]models.StreamSession, error) {
	return s.store.ListByHost(ctx, hostID, status)
}

// ListRecorded returns past recorded sessions, paginated.
func (s *Service) ListRecorded(ctx context.Context, limit, offset int) ([]models.StreamSession, error) {
	return s.store.ListRecorded(ctx, limit, offset)
}

// Stats returns the live audience stats for one session.
func (s *Service) Stats(ctx context.Context, sessionID uuid.UUID) (*LiveStats, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	roomStats, err := s.rooms.Stats(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("room stats: %w", err)
	}

	elapsed := session.DurationSeconds
	if session.StartedAt != nil && session.EndedAt == nil {
		elapsed = int(time.Since(*session.StartedAt).Seconds())
	}
	peak := session.PeakViewers
	if roomStats.PeakViewers > peak {
		peak = roomStats.PeakViewers
	}
	total := session.TotalViewers
	if roomStats.TotalViewers > total {
		total = roomStats.TotalViewers
	}
	return &LiveStats{
		SessionID:      session.ID,
		Status:         session.Status,
		ViewerCount:    roomStats.ActiveListeners,
		PeakViewers:    peak,
		TotalViewers:   total,
		ElapsedSeconds: elapsed,
		Rooms:          roomStats.Rooms,
	}, nil
}

// VerifyHost reports whether the actor may drive the session, and returns
// the session. Used by the realtime gateway for host-only actions.
func (s *Service) VerifyHost(ctx context.Context, sessionID, actorID uuid.UUID, streamKey string) (*models.StreamSession, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.HostID != actorID || (streamKey != "" && session.StreamKey != streamKey) {
		return nil, ErrNotHost
	}
	return session, nil
}

// authorize re-reads the session and validates the actor before any mutation.
func (s *Service) authorize(ctx context.Context, sessionID, actorID uuid.UUID, privileged bool) (*models.StreamSession, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !privileged && session.HostID != actorID {
		return nil, ErrNotHost
	}
	return session, nil
}

// autoEnd is the deadline timer callback: force-ends the session unless a
// manual end already won.
func (s *Service) autoEnd(sessionID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	s.logger.Info("max duration reached, auto-ending", zap.String("session_id", sessionID.String()))
	if _, err := s.End(ctx, sessionID, uuid.Nil, true); err != nil {
		s.logger.Warn("auto-end", zap.Error(err), zap.String("session_id", sessionID.String()))
	}
}

// startRecorder is the delayed recorder start: the published stream must
// exist before the recorder can pull it.
func (s *Service) startRecorder(sessionID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	session, err := s.store.GetByID(ctx, sessionID)
	if err != nil || session == nil {
		return
	}
	if session.Status != models.StatusLive && session.Status != models.StatusPaused {
		return
	}
	if err := s.recorder.StartRecording(ctx, sessionID, session.PlaybackURL); err != nil {
		// Degraded, not fatal: the session continues without a recording.
		s.logger.Error("start recording failed", zap.Error(err), zap.String("session_id", sessionID.String()))
	}
}

func (s *Service) disarmTimers(sessionID uuid.UUID) {
	s.timersMu.Lock()
	timers := s.timers[sessionID]
	delete(s.timers, sessionID)
	s.timersMu.Unlock()
	if timers == nil {
		return
	}
	if timers.autoEnd != nil {
		timers.autoEnd.Stop()
	}
	if timers.recStart != nil {
		timers.recStart.Stop()
	}
}

func (s *Service) notify(sessionID uuid.UUID, event string, payload interface{}) {
	if s.notifier != nil {
		s.notifier.StreamEvent(sessionID, event, payload)
	}
}

func newStreamKey() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
