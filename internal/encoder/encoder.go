// Package encoder supervises one audio-encoding process per live session and
// continuously publishes the resulting HLS segments to durable storage.
package encoder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/metinemredonmez/podcast-app-sub001/internal/media"
	"github.com/metinemredonmez/podcast-app-sub001/pkg/storage"
)

const (
	indexFile     = "index.m3u8"
	stopGrace     = 5 * time.Second
	segmentExt    = ".ts"
	segmentCT     = "video/mp2t"
	indexCT       = "application/vnd.apple.mpegurl"
	segmentPrefix = "seg_"
)

// Config holds encoder settings.
type Config struct {
	WorkDir           string
	SegmentSeconds    int
	WindowSize        int
	UploadPollSeconds int
	FFmpegBin         string
}

// Service runs the encode-and-publish pipeline for live sessions.
type Service struct {
	runner     media.Runner
	supervisor *media.Supervisor
	store      storage.ObjectStore
	cfg        Config
	logger     *zap.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*pipeline
}

// pipeline is the per-session state beside the supervised process handle.
type pipeline struct {
	workDir      string
	cancelUpload context.CancelFunc
	uploadDone   chan struct{}
}

// NewService creates an encoder service.
func NewService(runner media.Runner, store storage.ObjectStore, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.SegmentSeconds <= 0 {
		cfg.SegmentSeconds = 4
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 6
	}
	if cfg.UploadPollSeconds <= 0 {
		cfg.UploadPollSeconds = 2
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
		sessions:   make(map[uuid.UUID]*pipeline),
	}
}

// StartEncoding provisions a working area and a dedicated encoding process
// for the session, and starts the background segment uploader. Returns the
// resolved playback URL for the live index.
func (s *Service) StartEncoding(ctx context.Context, sessionID uuid.UUID) (string, error) {
	workDir := filepath.Join(s.cfg.WorkDir, "live", sessionID.String())
	if err := os.MkdirAll(workDir, 0o750); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}

	// Rolling live window: old entries drop out of the index while segment
	// files stay on disk until cleanup.
	spec := media.Spec{
		Bin: s.cfg.FFmpegBin,
		Args: []string{
			"-hide_banner", "-loglevel", "warning",
			"-i", "pipe:0",
			"-c:a", "aac", "-b:a", "128k", "-vn",
			"-f", "hls",
			"-hls_time", fmt.Sprintf("%d", s.cfg.SegmentSeconds),
			"-hls_list_size", fmt.Sprintf("%d", s.cfg.WindowSize),
			"-hls_segment_filename", segmentPrefix + "%05d" + segmentExt,
			indexFile,
		},
		Dir:   workDir,
		Stdin: true,
	}
	proc, err := s.runner.Start(ctx, spec)
	if err != nil {
		return "", fmt.Errorf("start encoder: %w", err)
	}
	if !s.supervisor.Register(sessionID, proc) {
		_ = proc.Stop(stopGrace)
		return "", fmt.Errorf("encoder already running for session %s", sessionID)
	}

	uploadCtx, cancel := context.WithCancel(context.Background())
	p := &pipeline{workDir: workDir, cancelUpload: cancel, uploadDone: make(chan struct{})}
	s.mu.Lock()
	s.sessions[sessionID] = p
	s.mu.Unlock()

	go s.uploadLoop(uploadCtx, sessionID, p)

	s.logger.Info("encoding started", zap.String("session_id", sessionID.String()), zap.String("work_dir", workDir))
	return s.PlaybackURL(sessionID), nil
}

// WriteAudioData appends a raw audio chunk to the session's encoder input.
// Audio arriving when no encoder runs is dropped with a warning.
func (s *Service) WriteAudioData(sessionID uuid.UUID, chunk []byte) {
	proc, ok := s.supervisor.Lookup(sessionID)
	if !ok {
		s.logger.Warn("audio data for idle session dropped", zap.String("session_id", sessionID.String()))
		return
	}
	if _, err := proc.Write(chunk); err != nil {
		s.logger.Warn("encoder write failed", zap.Error(err), zap.String("session_id", sessionID.String()))
	}
}

// StopEncoding stops the upload loop and the encoding process. Safe to call
// when nothing is running.
func (s *Service) StopEncoding(sessionID uuid.UUID) {
	s.mu.Lock()
	p := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if p != nil {
		p.cancelUpload()
		<-p.uploadDone
	}
	if proc, ok := s.supervisor.Unregister(sessionID); ok {
		if err := proc.Stop(stopGrace); err != nil {
			s.logger.Warn("encoder stop", zap.Error(err), zap.String("session_id", sessionID.String()))
		}
	}
	s.logger.Info("encoding stopped", zap.String("session_id", sessionID.String()))
}

// IsEncoding reports whether the session has a live encoder process.
func (s *Service) IsEncoding(sessionID uuid.UUID) bool {
	proc, ok := s.supervisor.Lookup(sessionID)
	return ok && proc.Running()
}

// PlaybackURL returns the directly fetchable URL of the session's live index.
func (s *Service) PlaybackURL(sessionID uuid.UUID) string {
	return s.store.ResolveURL(storage.SegmentKey(sessionID.String(), indexFile))
}

// Cleanup removes local working files and all uploaded live objects for the
// session. Only called when no recording is kept.
func (s *Service) Cleanup(ctx context.Context, sessionID uuid.UUID) error {
	s.StopEncoding(sessionID)

	workDir := filepath.Join(s.cfg.WorkDir, "live", sessionID.String())
	if err := os.RemoveAll(workDir); err != nil {
		s.logger.Warn("remove work dir", zap.Error(err), zap.String("work_dir", workDir))
	}
	if err := s.store.DeletePrefix(ctx, storage.SegmentPrefix(sessionID.String())); err != nil {
		return fmt.Errorf("purge live objects: %w", err)
	}
	s.logger.Info("encoder cleanup done", zap.String("session_id", sessionID.String()))
	return nil
}

// uploadLoop polls the working area and uploads new segment files plus the
// updated index. One file's failure is logged and retried next tick.
func (s *Service) uploadLoop(ctx context.Context, sessionID uuid.UUID, p *pipeline) {
	defer close(p.uploadDone)

	uploaded := make(map[string]bool)
	ticker := time.NewTicker(time.Duration(s.cfg.UploadPollSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final pass so the last segments and index reach storage.
			s.uploadNewFiles(context.Background(), sessionID, p.workDir, uploaded)
			return
		case <-ticker.C:
			s.uploadNewFiles(ctx, sessionID, p.workDir, uploaded)
		}
	}
}

func (s *Service) uploadNewFiles(ctx context.Context, sessionID uuid.UUID, workDir string, uploaded map[string]bool) {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		s.logger.Warn("read work dir", zap.Error(err), zap.String("session_id", sessionID.String()))
		return
	}
	indexDirty := false
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		if name == indexFile {
			indexDirty = true
			continue
		}
		if !strings.HasSuffix(name, segmentExt) || uploaded[name] {
			continue
		}
		if err := s.uploadFile(ctx, sessionID, workDir, name, segmentCT); err != nil {
			s.logger.Warn("segment upload failed, will retry", zap.Error(err), zap.String("segment", name))
			continue
		}
		uploaded[name] = true
	}
	// The index is mutable; re-upload whenever present so players see the
	// current window.
	if indexDirty {
		if err := s.uploadFile(ctx, sessionID, workDir, indexFile, indexCT); err != nil {
			s.logger.Warn("index upload failed, will retry", zap.Error(err))
		}
	}
}

func (s *Service) uploadFile(ctx context.Context, sessionID uuid.UUID, workDir, name, contentType string) error {
	f, err := os.Open(filepath.Join(workDir, name))
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	_, err = s.store.Upload(ctx, storage.SegmentKey(sessionID.String(), name), contentType, f, info.Size())
	return err
}
