package episodes

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/metinemredonmez/podcast-app-sub001/internal/models"
)

// Repository handles episode persistence. Episodes are the catalog-facing
// artifacts materialized from finished recorded sessions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an episodes repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateFromSession materializes a finished recording as a permanent
// on-demand episode. The unique session constraint makes this idempotent:
// a second call for the same session returns the existing episode.
func (r *Repository) CreateFromSession(ctx context.Context, session *models.StreamSession, audioURL string, durationSeconds int) (*models.Episode, error) {
	const q = `INSERT INTO episodes (session_id, host_id, title, description, category, audio_url, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO NOTHING
		RETURNING id, published_at, created_at`
	ep := &models.Episode{
		SessionID:       session.ID,
		HostID:          session.HostID,
		Title:           session.Title,
		Description:     session.Description,
		Category:        session.Category,
		AudioURL:        audioURL,
		DurationSeconds: durationSeconds,
	}
	err := r.pool.QueryRow(ctx, q, ep.SessionID, ep.HostID, ep.Title, ep.Description, ep.Category, ep.AudioURL, ep.DurationSeconds).
		Scan(&ep.ID, &ep.PublishedAt, &ep.CreatedAt)
	if err == pgx.ErrNoRows {
		return r.GetBySession(ctx, session.ID)
	}
	if err != nil {
		return nil, err
	}
	return ep, nil
}

// GetBySession returns the episode materialized from a session, if any.
func (r *Repository) GetBySession(ctx context.Context, sessionID uuid.UUID) (*models.Episode, error) {
	const q = `SELECT id, session_id, host_id, title, description, category, audio_url, duration_seconds, published_at, created_at
		FROM episodes WHERE session_id = $1`
	var ep models.Episode
	err := r.pool.QueryRow(ctx, q, sessionID).Scan(&ep.ID, &ep.SessionID, &ep.HostID, &ep.Title, &ep.Description, &ep.Category, &ep.AudioURL, &ep.DurationSeconds, &ep.PublishedAt, &ep.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &ep, nil
}
