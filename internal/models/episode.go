package models

import (
	"time"

	"github.com/google/uuid"
)

// Episode is the permanent on-demand artifact materialized from a
// recorded session when it ends.
type Episode struct {
	ID              uuid.UUID `json:"id"`
	SessionID       uuid.UUID `json:"session_id"`
	HostID          uuid.UUID `json:"host_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Category        string    `json:"category"`
	AudioURL        string    `json:"audio_url"`
	DurationSeconds int       `json:"duration_seconds"`
	PublishedAt     time.Time `json:"published_at"`
	CreatedAt       time.Time `json:"created_at"`
}
