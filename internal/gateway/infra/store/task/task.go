package taskstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwt625/vidbridge/internal/gateway/domain"
)

type redisTaskStore struct {
	rdb redis.Cmdable
}

func NewRedisTaskStore(rdb redis.Cmdable) *redisTaskStore {
	return &redisTaskStore{rdb: rdb}
}

func (s *redisTaskStore) CreateTask(p domain.CreateTaskParams) (string, error) {
	ctx := context.Background()

	taskID := uuid.NewString()
	now := time.Now()

	pipe := s.rdb.TxPipeline()
	hk := taskKey(taskID)

	pipe.HSet(ctx, hk, map[string]interface{}{
		"id":         taskID,
		"status":     string(domain.StatusPending),
		"kind":       p.Kind,
		"source_url": p.SourceURL,
		"progress":   0,
		"error":      "",
		"created_at": now.UnixNano(),
		"updated_at": now.UnixNano(),
	})
	if p.TTL > 0 {
		pipe.Expire(ctx, hk, p.TTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return taskID, nil
}

func (s *redisTaskStore) Task(id string) (domain.Task, bool) {
	ctx := context.Background()

	res, err := s.rdb.HGetAll(ctx, taskKey(id)).Result()
	if err != nil || len(res) == 0 {
		return domain.Task{}, false
	}

	t := domain.Task{
		ID:             id,
		Status:         domain.TaskStatus(res["status"]),
		Kind:           res["kind"],
		SourceURL:      res["source_url"],
		ProgressStatus: res["progress_status"],
		Error:          res["error"],
	}

	if v := res["progress"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			t.Progress = n
		}
	}
	if v := res["results"]; v != "" {
		if err := json.Unmarshal([]byte(v), &t.Results); err != nil {
			slog.Warn("redis Task: bad results payload",
				slog.String("task_id", id), slog.String("error", err.Error()))
		}
	}
	if v := res["created_at"]; v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			t.CreatedAt = time.Unix(0, n)
		}
	}
	if v := res["updated_at"]; v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			t.UpdatedAt = time.Unix(0, n)
		}
	}

	return t, true
}

func (s *redisTaskStore) UpdateStatus(id string, newStatus domain.TaskStatus, errReason string) {
	ctx := context.Background()

	pipe := s.rdb.TxPipeline()
	hk := taskKey(id)
	pipe.HSet(ctx, hk, "status", string(newStatus))
	pipe.HSet(ctx, hk, "error", errReason)
	pipe.HSet(ctx, hk, "updated_at", time.Now().UnixNano())

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("redis UpdateStatus", slog.String("error", err.Error()))
	}
}

// SetProgress records a fire-and-forget progress update; a write against a
// task that already expired is silently dropped by redis.
func (s *redisTaskStore) SetProgress(id, progressStatus string, progress int) {
	ctx := context.Background()

	pipe := s.rdb.TxPipeline()
	hk := taskKey(id)
	pipe.HSet(ctx, hk, "progress_status", progressStatus)
	pipe.HSet(ctx, hk, "progress", progress)
	pipe.HSet(ctx, hk, "updated_at", time.Now().UnixNano())

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("redis SetProgress", slog.String("error", err.Error()))
	}
}

func (s *redisTaskStore) SetResults(id string, files []domain.ResultFile) {
	ctx := context.Background()

	payload, err := json.Marshal(files)
	if err != nil {
		slog.Warn("redis SetResults: marshal", slog.String("error", err.Error()))
		return
	}

	pipe := s.rdb.TxPipeline()
	hk := taskKey(id)
	pipe.HSet(ctx, hk, "results", payload)
	pipe.HSet(ctx, hk, "status", string(domain.StatusDone))
	pipe.HSet(ctx, hk, "error", "")
	pipe.HSet(ctx, hk, "progress", 100)
	pipe.HSet(ctx, hk, "updated_at", time.Now().UnixNano())

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("redis SetResults", slog.String("error", err.Error()))
	}
}

func taskKey(id string) string {
	return "vidbridge:task:" + id
}
