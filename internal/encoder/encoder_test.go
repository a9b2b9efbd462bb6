package encoder

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metinemredonmez/podcast-app-sub001/internal/media"
	"github.com/metinemredonmez/podcast-app-sub001/pkg/storage"
)

type fakeProcess struct {
	mu      sync.Mutex
	written []byte
	stopped bool
	done    chan struct{}
}

func newFakeProcess() *fakeProcess { return &fakeProcess{done: make(chan struct{})} }

func (p *fakeProcess) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *fakeProcess) Stop(time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.stopped = true
		close(p.done)
	}
	return nil
}

func (p *fakeProcess) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

type fakeRunner struct {
	mu    sync.Mutex
	specs []media.Spec
	procs []*fakeProcess
}

func (r *fakeRunner) Start(_ context.Context, spec media.Spec) (media.Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := newFakeProcess()
	r.specs = append(r.specs, spec)
	r.procs = append(r.procs, p)
	return p, nil
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	failKey string
}

func newFakeStore() *fakeStore { return &fakeStore{objects: make(map[string][]byte)} }

func (s *fakeStore) Upload(_ context.Context, key, _ string, body io.Reader, _ int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failKey != "" && strings.Contains(key, s.failKey) {
		return "", errors.New("upload failed")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	s.objects[key] = data
	return "https://cdn.example.com/" + key, nil
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *fakeStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			delete(s.objects, key)
			s.deleted = append(s.deleted, key)
		}
	}
	return nil
}

func (s *fakeStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *fakeStore) ResolveURL(locator string) string {
	return "https://cdn.example.com/" + locator
}

func (s *fakeStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

func newTestService(t *testing.T) (*Service, *fakeRunner, *fakeStore) {
	t.Helper()
	runner := &fakeRunner{}
	store := newFakeStore()
	svc := NewService(runner, store, Config{
		WorkDir:           t.TempDir(),
		SegmentSeconds:    2,
		WindowSize:        3,
		UploadPollSeconds: 1,
	}, nil)
	return svc, runner, store
}

func TestStartEncodingReturnsPlaybackURL(t *testing.T) {
	svc, runner, _ := newTestService(t)
	sessionID := uuid.New()

	url, err := svc.StartEncoding(context.Background(), sessionID)
	require.NoError(t, err)
	defer svc.StopEncoding(sessionID)

	assert.Equal(t, "https://cdn.example.com/"+storage.SegmentKey(sessionID.String(), "index.m3u8"), url)
	assert.True(t, svc.IsEncoding(sessionID))

	require.Len(t, runner.specs, 1)
	spec := runner.specs[0]
	assert.True(t, spec.Stdin)
	assert.Contains(t, spec.Args, "hls")
	assert.Contains(t, spec.Args, "index.m3u8")
}

func TestStartEncodingTwiceFails(t *testing.T) {
	svc, _, _ := newTestService(t)
	sessionID := uuid.New()

	_, err := svc.StartEncoding(context.Background(), sessionID)
	require.NoError(t, err)
	defer svc.StopEncoding(sessionID)

	_, err = svc.StartEncoding(context.Background(), sessionID)
	assert.Error(t, err)
}

func TestWriteAudioDataReachesProcess(t *testing.T) {
	svc, runner, _ := newTestService(t)
	sessionID := uuid.New()

	_, err := svc.StartEncoding(context.Background(), sessionID)
	require.NoError(t, err)
	defer svc.StopEncoding(sessionID)

	svc.WriteAudioData(sessionID, []byte("chunk-1"))
	svc.WriteAudioData(sessionID, []byte("chunk-2"))

	proc := runner.procs[0]
	proc.mu.Lock()
	written := string(proc.written)
	proc.mu.Unlock()
	assert.Equal(t, "chunk-1chunk-2", written)
}

func TestWriteAudioDataIdleSessionIsDropped(t *testing.T) {
	svc, _, _ := newTestService(t)
	// must not panic
	svc.WriteAudioData(uuid.New(), []byte("orphan"))
}

func TestStopEncodingStopsProcessAndUploader(t *testing.T) {
	svc, runner, _ := newTestService(t)
	sessionID := uuid.New()

	_, err := svc.StartEncoding(context.Background(), sessionID)
	require.NoError(t, err)

	svc.StopEncoding(sessionID)
	assert.False(t, svc.IsEncoding(sessionID))
	assert.False(t, runner.procs[0].Running())

	// Stopping again is safe.
	svc.StopEncoding(sessionID)
}

func TestUploadNewFilesUploadsSegmentsOnceAndIndexAlways(t *testing.T) {
	svc, _, store := newTestService(t)
	sessionID := uuid.New()
	workDir := t.TempDir()

	writeFile(t, workDir, "seg_00000.ts", "segment-0")
	writeFile(t, workDir, "index.m3u8", "#EXTM3U v1")

	uploaded := make(map[string]bool)
	svc.uploadNewFiles(context.Background(), sessionID, workDir, uploaded)

	segKey := storage.SegmentKey(sessionID.String(), "seg_00000.ts")
	idxKey := storage.SegmentKey(sessionID.String(), "index.m3u8")
	assert.True(t, store.has(segKey))
	assert.True(t, store.has(idxKey))
	assert.True(t, uploaded["seg_00000.ts"])

	// A changed index is re-uploaded; the already-uploaded segment is not.
	writeFile(t, workDir, "index.m3u8", "#EXTM3U v2")
	svc.uploadNewFiles(context.Background(), sessionID, workDir, uploaded)

	store.mu.Lock()
	idx := string(store.objects[idxKey])
	store.mu.Unlock()
	assert.Equal(t, "#EXTM3U v2", idx)
}

func TestUploadNewFilesRetriesFailedSegmentNextTick(t *testing.T) {
	svc, _, store := newTestService(t)
	sessionID := uuid.New()
	workDir := t.TempDir()

	writeFile(t, workDir, "seg_00000.ts", "segment-0")
	store.failKey = "seg_00000.ts"

	uploaded := make(map[string]bool)
	svc.uploadNewFiles(context.Background(), sessionID, workDir, uploaded)
	assert.False(t, uploaded["seg_00000.ts"])

	store.failKey = ""
	svc.uploadNewFiles(context.Background(), sessionID, workDir, uploaded)
	assert.True(t, uploaded["seg_00000.ts"])
	assert.True(t, store.has(storage.SegmentKey(sessionID.String(), "seg_00000.ts")))
}

func TestCleanupRemovesLocalAndRemoteFiles(t *testing.T) {
	svc, _, store := newTestService(t)
	sessionID := uuid.New()

	_, err := svc.StartEncoding(context.Background(), sessionID)
	require.NoError(t, err)

	// Simulate published objects.
	segKey := storage.SegmentKey(sessionID.String(), "seg_00000.ts")
	store.objects[segKey] = []byte("segment-0")

	require.NoError(t, svc.Cleanup(context.Background(), sessionID))
	assert.False(t, store.has(segKey))
	assert.False(t, svc.IsEncoding(sessionID))

	workDir := filepath.Join(svc.cfg.WorkDir, "live", sessionID.String())
	_, statErr := os.Stat(workDir)
	assert.True(t, os.IsNotExist(statErr))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}
