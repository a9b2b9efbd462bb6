// Package recorder supervises one archival recording process per session:
// it pulls the published live stream and produces the single audio file that
// becomes the on-demand episode.
package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/metinemredonmez/podcast-app-sub001/internal/media"
	"github.com/metinemredonmez/podcast-app-sub001/pkg/storage"
)

const recordingCT = "audio/mp4"

// Artifact describes a finished, uploaded recording. The zero value means
// "no recording" and is returned when stop is called for a session that
// never started recording.
type Artifact struct {
	URL             string
	Path            string
	DurationSeconds int
}

// Empty reports whether the artifact carries no recording.
func (a Artifact) Empty() bool { return a.URL == "" }

// Config holds recorder settings.
type Config struct {
	OutputDir        string
	StopGraceSeconds int
	FFmpegBin        string
}

// Service starts and stops archival recordings.
type Service struct {
	runner     media.Runner
	supervisor *media.Supervisor
	store      storage.ObjectStore
	cfg        Config
	logger     *zap.Logger

	mu        sync.Mutex
	startedAt map[uuid.UUID]time.Time
	outputs   map[uuid.UUID]string
}

// NewService creates a recorder service.
func NewService(runner media.Runner, store storage.ObjectStore, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = os.TempDir()
	}
	if cfg.StopGraceSeconds <= 0 {
		cfg.StopGraceSeconds = 10
	}
	if cfg.FFmpegBin == "" {
		cfg.FFmpegBin = "ffmpeg"
	}
	return &Service{
		runner:     runner,
		supervisor: media.NewSupervisor(),
		store:      store,
		cfg:        cfg,
		logger:     logger,
		startedAt:  make(map[uuid.UUID]time.Time),
		outputs:    make(map[uuid.UUID]string),
	}
}

// StartRecording launches a process that pulls the published live stream
// and writes one continuous archival file. The playback URL must already
// exist; the coordinator enforces that ordering.
func (s *Service) StartRecording(ctx context.Context, sessionID uuid.UUID, playbackURL string) error {
	if playbackURL == "" {
		return fmt.Errorf("playback url required before recording")
	}
	dir := filepath.Join(s.cfg.OutputDir, "recordings")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	outputPath := filepath.Join(dir, sessionID.String()+".m4a")

	spec := media.Spec{
		Bin: s.cfg.FFmpegBin,
		Args: []string{
			"-hide_banner", "-loglevel", "warning",
			"-live_start_index", "0",
			"-i", playbackURL,
			"-c", "copy",
			"-y", outputPath,
		},
	}
	proc, err := s.runner.Start(ctx, spec)
	if err != nil {
		return fmt.Errorf("start recorder: %w", err)
	}
	if !s.supervisor.Register(sessionID, proc) {
		_ = proc.Stop(time.Second)
		return fmt.Errorf("recording already running for session %s", sessionID)
	}

	s.mu.Lock()
	s.startedAt[sessionID] = time.Now()
	s.outputs[sessionID] = outputPath
	s.mu.Unlock()

	s.logger.Info("recording started", zap.String("session_id", sessionID.String()), zap.String("output", outputPath))
	return nil
}

// StopRecording stops the session's recording process, waits for it to flush,
// uploads the archival file and removes the local copy. When no recording is
// registered, or the process produced no output, an empty artifact is
// returned without error so session end is never blocked.
func (s *Service) StopRecording(ctx context.Context, sessionID uuid.UUID) (Artifact, error) {
	proc, ok := s.supervisor.Unregister(sessionID)
	if !ok {
		s.logger.Info("stop requested with no active recording", zap.String("session_id", sessionID.String()))
		return Artifact{}, nil
	}

	s.mu.Lock()
	started := s.startedAt[sessionID]
	outputPath := s.outputs[sessionID]
	delete(s.startedAt, sessionID)
	delete(s.outputs, sessionID)
	s.mu.Unlock()

	grace := time.Duration(s.cfg.StopGraceSeconds) * time.Second
	if err := proc.Stop(grace); err != nil {
		s.logger.Warn("recorder stop", zap.Error(err), zap.String("session_id", sessionID.String()))
	}

	f, err := os.Open(outputPath)
	if err != nil {
		// Process failed to produce output; the session still ends normally.
		s.logger.Warn("recording artifact missing", zap.Error(err), zap.String("session_id", sessionID.String()))
		return Artifact{}, nil
	}
	defer func() {
		f.Close()
		_ = os.Remove(outputPath)
	}()

	info, err := f.Stat()
	if err != nil {
		return Artifact{}, fmt.Errorf("stat recording: %w", err)
	}
	key := storage.RecordingKey(sessionID.String())
	url, err := s.store.Upload(ctx, key, recordingCT, f, info.Size())
	if err != nil {
		return Artifact{}, fmt.Errorf("upload recording: %w", err)
	}

	duration := int(time.Since(started).Seconds())
	s.logger.Info("recording uploaded",
		zap.String("session_id", sessionID.String()),
		zap.String("key", key),
		zap.Int("duration_sec", duration),
		zap.Int64("size", info.Size()))
	return Artifact{URL: url, Path: outputPath, DurationSeconds: duration}, nil
}

// IsRecording reports whether the session has an active recording process.
func (s *Service) IsRecording(sessionID uuid.UUID) bool {
	proc, ok := s.supervisor.Lookup(sessionID)
	return ok && proc.Running()
}

// DeleteRecording removes the archived artifact from durable storage.
func (s *Service) DeleteRecording(ctx context.Context, sessionID uuid.UUID) error {
	return s.store.Delete(ctx, storage.RecordingKey(sessionID.String()))
}
