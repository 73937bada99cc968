package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jwt625/vidbridge/internal/gateway/domain"
	"github.com/jwt625/vidbridge/internal/protocol"
)

type FileStore interface {
	Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error)
	Open(ctx context.Context, filename string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, filename string) error
}

type TaskStore interface {
	CreateTask(p domain.CreateTaskParams) (string, error)
	Task(id string) (domain.Task, bool)
	UpdateStatus(id string, newStatus domain.TaskStatus, errReason string)
	SetProgress(id, progressStatus string, progress int)
	SetResults(id string, files []domain.ResultFile)
}

// Converter runs one conversion round trip against the dispatcher. The task
// ID doubles as the progress tab key so updates route back to this task.
type Converter interface {
	ConvertURL(ctx context.Context, kind protocol.JobKind, tabID, url string) (*protocol.Media, error)
	ConvertBytes(ctx context.Context, kind protocol.JobKind, tabID, filename string, raw []byte) (*protocol.Media, error)
}

type usecase struct {
	taskTTL    time.Duration
	jobTimeout time.Duration

	taskStore TaskStore
	fileStore FileStore
	converter Converter

	// runCtx outlives the HTTP request: conversions keep going after the
	// submit response is written, and stop on service shutdown.
	runCtx context.Context
}

func New(
	runCtx context.Context,
	taskTTL time.Duration,
	jobTimeout time.Duration,
	taskStore TaskStore,
	fileStore FileStore,
	converter Converter,
) *usecase {
	if jobTimeout <= 0 {
		jobTimeout = 15 * time.Minute
	}
	return &usecase{
		taskTTL:    taskTTL,
		jobTimeout: jobTimeout,
		taskStore:  taskStore,
		fileStore:  fileStore,
		converter:  converter,
		runCtx:     runCtx,
	}
}

// Convert accepts a URL job, creates the task and starts the conversion in
// the background. The caller polls GetStatus with the returned ID.
func (uc *usecase) Convert(ctx context.Context, req domain.ConvertRequest) (string, error) {
	kind, err := parseKind(req.Kind)
	if err != nil {
		return "", err
	}
	if req.URL == "" {
		return "", fmt.Errorf("url is required")
	}

	taskID, err := uc.taskStore.CreateTask(domain.CreateTaskParams{
		Kind:      string(kind),
		SourceURL: req.URL,
		TTL:       uc.taskTTL,
	})
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}

	go uc.run(taskID, func(runCtx context.Context) (*protocol.Media, error) {
		return uc.converter.ConvertURL(runCtx, kind, taskID, req.URL)
	})

	return taskID, nil
}

// ConvertUpload accepts source bytes directly (multipart upload) instead of
// a URL.
func (uc *usecase) ConvertUpload(ctx context.Context, file io.Reader, filename, kindName string) (string, error) {
	kind, err := parseKind(kindName)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if buf.Len() == 0 {
		return "", fmt.Errorf("empty upload")
	}

	taskID, err := uc.taskStore.CreateTask(domain.CreateTaskParams{
		Kind: string(kind),
		TTL:  uc.taskTTL,
	})
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}

	raw := buf.Bytes()
	go uc.run(taskID, func(runCtx context.Context) (*protocol.Media, error) {
		return uc.converter.ConvertBytes(runCtx, kind, taskID, filename, raw)
	})

	return taskID, nil
}

func (uc *usecase) run(taskID string, convert func(context.Context) (*protocol.Media, error)) {
	runCtx, cancel := context.WithTimeout(uc.runCtx, uc.jobTimeout)
	defer cancel()

	uc.taskStore.UpdateStatus(taskID, domain.StatusProcessing, "")

	media, err := convert(runCtx)
	if err != nil {
		slog.Error("conversion failed",
			slog.String("task_id", taskID), slog.String("error", err.Error()))
		uc.taskStore.UpdateStatus(taskID, domain.StatusFailed, err.Error())
		return
	}

	files, err := uc.saveResults(runCtx, media)
	if err != nil {
		slog.Error("save results failed",
			slog.String("task_id", taskID), slog.String("error", err.Error()))
		uc.taskStore.UpdateStatus(taskID, domain.StatusFailed, err.Error())
		return
	}

	uc.taskStore.SetResults(taskID, files)
	slog.Info("conversion done",
		slog.String("task_id", taskID), slog.Int("files", len(files)))
}

func (uc *usecase) saveResults(ctx context.Context, media *protocol.Media) ([]domain.ResultFile, error) {
	if media.Multi {
		files := make([]domain.ResultFile, 0, len(media.Items))
		for _, item := range media.Items {
			filename := uuid.NewString() + extFor(item.MediaType)
			if _, _, err := uc.fileStore.Save(ctx, bytes.NewReader(item.Data), filename, int64(len(item.Data))); err != nil {
				return nil, fmt.Errorf("save %q: %w", item.Name, err)
			}
			files = append(files, domain.ResultFile{
				Name:      item.Name,
				Filename:  filename,
				MediaType: item.MediaType,
			})
		}
		return files, nil
	}

	filename := uuid.NewString() + extFor(media.MediaType)
	if _, _, err := uc.fileStore.Save(ctx, bytes.NewReader(media.Data), filename, int64(len(media.Data))); err != nil {
		return nil, fmt.Errorf("save result: %w", err)
	}
	return []domain.ResultFile{{
		Name:      filename,
		Filename:  filename,
		MediaType: media.MediaType,
	}}, nil
}

func (uc *usecase) GetStatus(ctx context.Context, taskID string) (domain.StatusResponse, error) {
	task, ok := uc.taskStore.Task(taskID)
	if !ok {
		return domain.StatusResponse{}, domain.ErrTaskNotFound
	}

	resp := domain.StatusResponse{
		ID:             task.ID,
		Status:         task.Status,
		ProgressStatus: task.ProgressStatus,
		Progress:       task.Progress,
	}

	switch task.Status {
	case domain.StatusDone:
		resp.Files = make([]domain.FileInfo, 0, len(task.Results))
		for _, f := range task.Results {
			resp.Files = append(resp.Files, domain.FileInfo{
				Name:        f.Name,
				MediaType:   f.MediaType,
				DownloadURL: fmt.Sprintf("/download/%s/%s", task.ID, f.Filename),
			})
		}
	case domain.StatusFailed:
		resp.Error = task.Error
	}

	return resp, nil
}

// GetResultFile opens one stored output. An empty name picks the first file,
// which is the only file for single-output jobs.
func (uc *usecase) GetResultFile(ctx context.Context, taskID, name string) (domain.DownloadResult, error) {
	task, ok := uc.taskStore.Task(taskID)
	if !ok {
		return domain.DownloadResult{}, domain.ErrTaskNotFound
	}

	switch task.Status {
	case domain.StatusDone:
	case domain.StatusFailed:
		return domain.DownloadResult{}, domain.ErrTaskFailed
	default:
		return domain.DownloadResult{}, domain.ErrTaskNotReady
	}

	if len(task.Results) == 0 {
		return domain.DownloadResult{}, fmt.Errorf("task has no result files")
	}

	file := task.Results[0]
	if name != "" {
		found := false
		for _, f := range task.Results {
			if f.Filename == name || f.Name == name {
				file, found = f, true
				break
			}
		}
		if !found {
			return domain.DownloadResult{}, domain.ErrFileNotFound
		}
	}

	f, size, err := uc.fileStore.Open(ctx, file.Filename)
	if err != nil {
		return domain.DownloadResult{}, fmt.Errorf("open result: %w", err)
	}

	return domain.DownloadResult{
		FileName:  file.Name,
		MediaType: file.MediaType,
		Size:      size,
		Content:   f,
	}, nil
}

func parseKind(s string) (protocol.JobKind, error) {
	switch protocol.JobKind(s) {
	case protocol.JobTranscode, protocol.JobExtract, protocol.JobExtractAll:
		return protocol.JobKind(s), nil
	case "":
		return "", fmt.Errorf("kind is required")
	default:
		return "", fmt.Errorf("unknown kind %q", s)
	}
}

func extFor(mediaType string) string {
	switch mediaType {
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "video/quicktime":
		return ".mov"
	case "video/x-matroska":
		return ".mkv"
	case "video/x-msvideo":
		return ".avi"
	case "video/ogg":
		return ".ogv"
	default:
		return ".bin"
	}
}
