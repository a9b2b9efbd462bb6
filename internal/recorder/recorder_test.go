package recorder

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
	stopped bool
	done    chan struct{}
}

func newFakeProcess() *fakeProcess { return &fakeProcess{done: make(chan struct{})} }

func (p *fakeProcess) Write(b []byte) (int, error) { return len(b), nil }

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
	err   error
}

func (r *fakeRunner) Start(_ context.Context, spec media.Spec) (media.Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	p := newFakeProcess()
	r.specs = append(r.specs, spec)
	r.procs = append(r.procs, p)
	return p, nil
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newFakeStore() *fakeStore { return &fakeStore{objects: make(map[string][]byte)} }

func (s *fakeStore) Upload(_ context.Context, key, _ string, body io.Reader, _ int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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
		}
	}
	return nil
}

func (s *fakeStore) List(context.Context, string) ([]string, error) { return nil, nil }

func (s *fakeStore) ResolveURL(locator string) string {
	return "https://cdn.example.com/" + locator
}

func newTestService(t *testing.T) (*Service, *fakeRunner, *fakeStore) {
	t.Helper()
	runner := &fakeRunner{}
	store := newFakeStore()
	svc := NewService(runner, store, Config{OutputDir: t.TempDir(), StopGraceSeconds: 1}, nil)
	return svc, runner, store
}

func TestStartRecordingRequiresPlaybackURL(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.StartRecording(context.Background(), uuid.New(), "")
	assert.Error(t, err)
}

func TestStartRecordingLaunchesPullProcess(t *testing.T) {
	svc, runner, _ := newTestService(t)
	sessionID := uuid.New()

	err := svc.StartRecording(context.Background(), sessionID, "https://cdn.example.com/live/index.m3u8")
	require.NoError(t, err)
	assert.True(t, svc.IsRecording(sessionID))

	require.Len(t, runner.specs, 1)
	assert.Contains(t, runner.specs[0].Args, "https://cdn.example.com/live/index.m3u8")
	assert.Contains(t, runner.specs[0].Args, "copy")
}

func TestStartRecordingTwiceFails(t *testing.T) {
	svc, _, _ := newTestService(t)
	sessionID := uuid.New()

	require.NoError(t, svc.StartRecording(context.Background(), sessionID, "https://cdn.example.com/index.m3u8"))
	err := svc.StartRecording(context.Background(), sessionID, "https://cdn.example.com/index.m3u8")
	assert.Error(t, err)
}

func TestStopRecordingWithoutStartReturnsEmptyArtifact(t *testing.T) {
	svc, _, _ := newTestService(t)

	artifact, err := svc.StopRecording(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, artifact.Empty())
}

func TestStopRecordingUploadsArtifact(t *testing.T) {
	svc, _, store := newTestService(t)
	sessionID := uuid.New()

	require.NoError(t, svc.StartRecording(context.Background(), sessionID, "https://cdn.example.com/index.m3u8"))

	// The fake process writes nothing, so produce the output file the way
	// the real one would.
	outputPath := filepath.Join(svc.cfg.OutputDir, "recordings", sessionID.String()+".m4a")
	require.NoError(t, os.WriteFile(outputPath, []byte("audio-bytes"), 0o600))

	artifact, err := svc.StopRecording(context.Background(), sessionID)
	require.NoError(t, err)
	require.False(t, artifact.Empty())

	key := storage.RecordingKey(sessionID.String())
	assert.Equal(t, "https://cdn.example.com/"+key, artifact.URL)
	store.mu.Lock()
	assert.Equal(t, []byte("audio-bytes"), store.objects[key])
	store.mu.Unlock()

	// Local file is removed after upload.
	_, statErr := os.Stat(outputPath)
	assert.True(t, os.IsNotExist(statErr))
	assert.False(t, svc.IsRecording(sessionID))
}

func TestStopRecordingMissingOutputIsNotFatal(t *testing.T) {
	svc, _, _ := newTestService(t)
	sessionID := uuid.New()

	require.NoError(t, svc.StartRecording(context.Background(), sessionID, "https://cdn.example.com/index.m3u8"))
	artifact, err := svc.StopRecording(context.Background(), sessionID)
	require.NoError(t, err)
	assert.True(t, artifact.Empty())
}

func TestStartRecordingRunnerFailure(t *testing.T) {
	svc, runner, _ := newTestService(t)
	runner.err = errors.New("no such binary")

	err := svc.StartRecording(context.Background(), uuid.New(), "https://cdn.example.com/index.m3u8")
	assert.Error(t, err)
}

func TestDeleteRecording(t *testing.T) {
	svc, _, store := newTestService(t)
	sessionID := uuid.New()
	key := storage.RecordingKey(sessionID.String())
	store.objects[key] = []byte("audio")

	require.NoError(t, svc.DeleteRecording(context.Background(), sessionID))
	store.mu.Lock()
	_, ok := store.objects[key]
	store.mu.Unlock()
	assert.False(t, ok)
}
