package streams

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/metinemredonmez/podcast-app-sub001/internal/models"
)

const sessionColumns = `id, host_id, title, description, category, status, scheduled_at, started_at, ended_at,
	max_duration_seconds, is_recorded, playback_url, stream_key, peak_viewers, total_viewers,
	recording_url, duration_seconds, created_at, updated_at`

// Repository handles stream session persistence. Lifecycle transitions are
// conditional updates: the allowed from-states live in the WHERE clause, so
// of two racing transitions exactly one reports a changed row.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a stream sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanSession(row pgx.Row) (*models.StreamSession, error) {
	var s models.StreamSession
	err := row.Scan(&s.ID, &s.HostID, &s.Title, &s.Description, &s.Category, &s.Status,
		&s.ScheduledAt, &s.StartedAt, &s.EndedAt, &s.MaxDurationSeconds, &s.IsRecorded,
		&s.PlaybackURL, &s.StreamKey, &s.PeakViewers, &s.TotalViewers,
		&s.RecordingURL, &s.DurationSeconds, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a new session. The partial unique index on open sessions
// per host turns a racing duplicate into ErrActiveSessionExists.
func (r *Repository) Create(ctx context.Context, s *models.StreamSession) error {
	const q = `INSERT INTO stream_sessions
		(host_id, title, description, category, status, scheduled_at, max_duration_seconds, is_recorded, stream_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, s.HostID, s.Title, s.Description, s.Category, s.Status,
		s.ScheduledAt, s.MaxDurationSeconds, s.IsRecorded, s.StreamKey).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrActiveSessionExists
	}
	return err
}

// GetByID returns a session, or (nil, nil) when it does not exist.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.StreamSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM stream_sessions WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// HasOpenSession reports whether the host has a session in a non-terminal state.
func (r *Repository) HasOpenSession(ctx context.Context, hostID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM stream_sessions
		WHERE host_id = $1 AND status IN ('SCHEDULED', 'PREPARING', 'LIVE', 'PAUSED'))`
	var exists bool
	err := r.pool.QueryRow(ctx, q, hostID).Scan(&exists)
	return exists, err
}

// MarkLive transitions the session to LIVE from SCHEDULED, PREPARING or
// PAUSED, recording started_at once. Returns false when the session was not
// in a startable state.
func (r *Repository) MarkLive(ctx context.Context, id uuid.UUID, playbackURL string) (bool, error) {
	const q = `UPDATE stream_sessions
		SET status = 'LIVE', started_at = COALESCE(started_at, NOW()),
		    playback_url = CASE WHEN $2 <> '' THEN $2 ELSE playback_url END,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('SCHEDULED', 'PREPARING', 'PAUSED')`
	tag, err := r.pool.Exec(ctx, q, id, playbackURL)
	return tag.RowsAffected() == 1, err
}

// MarkPaused transitions LIVE -> PAUSED.
func (r *Repository) MarkPaused(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `UPDATE stream_sessions SET status = 'PAUSED', updated_at = NOW()
		WHERE id = $1 AND status = 'LIVE'`
	tag, err := r.pool.Exec(ctx, q, id)
	return tag.RowsAffected() == 1, err
}

// MarkEnded transitions LIVE or PAUSED -> ENDED, persisting the elapsed
// duration and the recording locator when one exists.
func (r *Repository) MarkEnded(ctx context.Context, id uuid.UUID, recordingURL string, recordingDurationSec int) (bool, error) {
	const q = `UPDATE stream_sessions
		SET status = 'ENDED', ended_at = NOW(),
		    duration_seconds = COALESCE(EXTRACT(EPOCH FROM NOW() - started_at)::int, 0),
		    recording_url = $2,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('LIVE', 'PAUSED')`
	tag, err := r.pool.Exec(ctx, q, id, recordingURL)
	if err != nil || tag.RowsAffected() != 1 {
		return false, err
	}
	if recordingDurationSec > 0 {
		const qDur = `UPDATE stream_sessions SET duration_seconds = $2 WHERE id = $1`
		if _, err := r.pool.Exec(ctx, qDur, id, recordingDurationSec); err != nil {
			return true, err
		}
	}
	return true, nil
}

// MarkCancelled transitions SCHEDULED or PREPARING -> CANCELLED.
func (r *Repository) MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `UPDATE stream_sessions SET status = 'CANCELLED', ended_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('SCHEDULED', 'PREPARING')`
	tag, err := r.pool.Exec(ctx, q, id)
	return tag.RowsAffected() == 1, err
}

// ListActive returns LIVE and PAUSED sessions, newest first.
func (r *Repository) ListActive(ctx context.Context) ([]models.StreamSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM stream_sessions
		WHERE status IN ('LIVE', 'PAUSED') ORDER BY started_at DESC NULLS LAST`
	return r.list(ctx, q)
}

// ListScheduled returns upcoming SCHEDULED sessions, soonest first.
func (r *Repository) ListScheduled(ctx context.Context) ([]models.StreamSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM stream_sessions
		WHERE status = 'SCHEDULED' ORDER BY scheduled_at ASC NULLS LAST`
	return r.list(ctx, q)
}

// ListByHost returns a host's sessions, optionally filtered by status.
func (r *Repository) ListByHost(ctx context.Context, hostID uuid.UUID, status *models.StreamStatus) ([]models.StreamSession, error) {
	if status != nil {
		const q = `SELECT ` + sessionColumns + ` FROM stream_sessions
			WHERE host_id = $1 AND status = $2 ORDER BY created_at DESC`
		return r.list(ctx, q, hostID, *status)
	}
	const q = `SELECT ` + sessionColumns + ` FROM stream_sessions
		WHERE host_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, q, hostID)
}

// ListRecorded returns ended sessions that kept a recording, newest first,
// paginated.
func (r *Repository) ListRecorded(ctx context.Context, limit, offset int) ([]models.StreamSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM stream_sessions
		WHERE status = 'ENDED' AND recording_url <> ''
		ORDER BY ended_at DESC LIMIT $1 OFFSET $2`
	return r.list(ctx, q, limit, offset)
}

func (r *Repository) list(ctx context.Context, q string, args ...interface{}) ([]models.StreamSession, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.StreamSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}
