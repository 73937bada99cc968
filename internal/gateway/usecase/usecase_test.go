package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwt625/vidbridge/internal/gateway/domain"
	"github.com/jwt625/vidbridge/internal/protocol"
)

type memTaskStore struct {
	mu    sync.Mutex
	tasks map[string]domain.Task
}

func newMemTaskStore() *memTaskStore {
	return &memTaskStore{tasks: make(map[string]domain.Task)}
}

func (s *memTaskStore) CreateTask(p domain.CreateTaskParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.tasks[id] = domain.Task{ID: id, Status: domain.StatusPending, Kind: p.Kind, SourceURL: p.SourceURL}
	return id, nil
}

func (s *memTaskStore) Task(id string) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

func (s *memTaskStore) UpdateStatus(id string, newStatus domain.TaskStatus, errReason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[id]
	t.Status, t.Error = newStatus, errReason
	s.tasks[id] = t
}

func (s *memTaskStore) SetProgress(id, progressStatus string, progress int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[id]
	t.ProgressStatus, t.Progress = progressStatus, progress
	s.tasks[id] = t
}

func (s *memTaskStore) SetResults(id string, files []domain.ResultFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[id]
	t.Status, t.Results, t.Error = domain.StatusDone, files, ""
	s.tasks[id] = t
}

type memFileStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemFileStore() *memFileStore {
	return &memFileStore{files: make(map[string][]byte)}
}

func (s *memFileStore) Save(_ context.Context, r io.Reader, filename string, _ int64) (int64, string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return 0, "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[filename] = b
	return int64(len(b)), "", nil
}

func (s *memFileStore) Open(_ context.Context, filename string) (io.ReadCloser, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[filename]
	if !ok {
		return nil, 0, fmt.Errorf("file not found")
	}
	return io.NopCloser(bytes.NewReader(b)), int64(len(b)), nil
}

func (s *memFileStore) Delete(_ context.Context, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, filename)
	return nil
}

type fakeConverter struct {
	media *protocol.Media
	err   error
}

func (c *fakeConverter) ConvertURL(_ context.Context, _ protocol.JobKind, _, _ string) (*protocol.Media, error) {
	return c.media, c.err
}

func (c *fakeConverter) ConvertBytes(_ context.Context, _ protocol.JobKind, _, _ string, _ []byte) (*protocol.Media, error) {
	return c.media, c.err
}

func newUsecase(tasks *memTaskStore, files *memFileStore, conv *fakeConverter) *usecase {
	return New(context.Background(), time.Hour, time.Minute, tasks, files, conv)
}

func waitStatus(t *testing.T, tasks *memTaskStore, id string, want domain.TaskStatus) domain.Task {
	t.Helper()
	var task domain.Task
	require.Eventually(t, func() bool {
		got, ok := tasks.Task(id)
		task = got
		return ok && got.Status == want
	}, 2*time.Second, 10*time.Millisecond)
	return task
}

func TestConvertValidation(t *testing.T) {
	uc := newUsecase(newMemTaskStore(), newMemFileStore(), &fakeConverter{})

	_, err := uc.Convert(context.Background(), domain.ConvertRequest{URL: "http://x/v.avi"})
	assert.ErrorContains(t, err, "kind is required")

	_, err = uc.Convert(context.Background(), domain.ConvertRequest{URL: "http://x/v.avi", Kind: "upscale"})
	assert.ErrorContains(t, err, "unknown kind")

	_, err = uc.Convert(context.Background(), domain.ConvertRequest{Kind: "transcode"})
	assert.ErrorContains(t, err, "url is required")
}

func TestConvertSingleResult(t *testing.T) {
	tasks := newMemTaskStore()
	files := newMemFileStore()
	uc := newUsecase(tasks, files, &fakeConverter{
		media: &protocol.Media{MediaType: "video/mp4", Data: []byte("mp4 bytes")},
	})

	id, err := uc.Convert(context.Background(), domain.ConvertRequest{URL: "http://x/v.avi", Kind: "transcode"})
	require.NoError(t, err)

	task := waitStatus(t, tasks, id, domain.StatusDone)
	require.Len(t, task.Results, 1)
	assert.True(t, strings.HasSuffix(task.Results[0].Filename, ".mp4"))

	dl, err := uc.GetResultFile(context.Background(), id, "")
	require.NoError(t, err)
	defer dl.Content.Close()
	body, _ := io.ReadAll(dl.Content)
	assert.Equal(t, []byte("mp4 bytes"), body)
	assert.Equal(t, "video/mp4", dl.MediaType)
}

func TestConvertMultiResult(t *testing.T) {
	tasks := newMemTaskStore()
	files := newMemFileStore()
	uc := newUsecase(tasks, files, &fakeConverter{
		media: &protocol.Media{
			Multi: true,
			Items: []protocol.MediaItem{
				{Name: "a.mp4", MediaType: "video/mp4", Data: []byte("aaa")},
				{Name: "b.webm", MediaType: "video/webm", Data: []byte("bbb")},
			},
		},
	})

	id, err := uc.Convert(context.Background(), domain.ConvertRequest{URL: "http://x/clips.zip", Kind: "extract_all"})
	require.NoError(t, err)

	task := waitStatus(t, tasks, id, domain.StatusDone)
	require.Len(t, task.Results, 2)

	dl, err := uc.GetResultFile(context.Background(), id, "b.webm")
	require.NoError(t, err)
	defer dl.Content.Close()
	body, _ := io.ReadAll(dl.Content)
	assert.Equal(t, []byte("bbb"), body)

	_, err = uc.GetResultFile(context.Background(), id, "missing.mkv")
	assert.ErrorIs(t, err, domain.ErrFileNotFound)
}

func TestConvertFailureMarksTask(t *testing.T) {
	tasks := newMemTaskStore()
	uc := newUsecase(tasks, newMemFileStore(), &fakeConverter{
		err: fmt.Errorf("conversion failed: no media found in archive"),
	})

	id, err := uc.Convert(context.Background(), domain.ConvertRequest{URL: "http://x/empty.zip", Kind: "extract"})
	require.NoError(t, err)

	task := waitStatus(t, tasks, id, domain.StatusFailed)
	assert.Contains(t, task.Error, "no media found")

	_, err = uc.GetResultFile(context.Background(), id, "")
	assert.ErrorIs(t, err, domain.ErrTaskFailed)
}

func TestConvertUpload(t *testing.T) {
	tasks := newMemTaskStore()
	uc := newUsecase(tasks, newMemFileStore(), &fakeConverter{
		media: &protocol.Media{MediaType: "video/mp4", Data: []byte("out")},
	})

	id, err := uc.ConvertUpload(context.Background(), strings.NewReader("raw avi"), "in.avi", "transcode")
	require.NoError(t, err)
	waitStatus(t, tasks, id, domain.StatusDone)

	_, err = uc.ConvertUpload(context.Background(), strings.NewReader(""), "in.avi", "transcode")
	assert.ErrorContains(t, err, "empty upload")
}

func TestGetStatusShapes(t *testing.T) {
	tasks := newMemTaskStore()
	uc := newUsecase(tasks, newMemFileStore(), &fakeConverter{
		media: &protocol.Media{MediaType: "video/mp4", Data: []byte("out")},
	})

	_, err := uc.GetStatus(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)

	id, err := uc.Convert(context.Background(), domain.ConvertRequest{URL: "http://x/v.avi", Kind: "transcode"})
	require.NoError(t, err)
	waitStatus(t, tasks, id, domain.StatusDone)

	resp, err := uc.GetStatus(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, resp.Files, 1)
	assert.Contains(t, resp.Files[0].DownloadURL, "/download/"+id+"/")
}
