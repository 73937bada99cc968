// Package progress feeds fire-and-forget progress updates from the channel
// into the task store, so status polls reflect what the worker is doing.
package progress

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/jwt625/vidbridge/internal/protocol"
)

type TaskProgressSink interface {
	SetProgress(id, progressStatus string, progress int)
}

type Consumer struct {
	nc    *nats.Conn
	tasks TaskProgressSink
	sub   *nats.Subscription
	log   *slog.Logger
}

func NewConsumer(nc *nats.Conn, tasks TaskProgressSink) *Consumer {
	return &Consumer{
		nc:    nc,
		tasks: tasks,
		log:   slog.Default().With("component", "progress_consumer"),
	}
}

// Start subscribes to every per-task progress subject. Updates are
// advisory: a malformed or stray message is logged and dropped, never
// retried.
func (c *Consumer) Start() error {
	sub, err := c.nc.Subscribe(protocol.SubjectUIProgressPrefix+">", c.handle)
	if err != nil {
		return fmt.Errorf("subscribe progress: %w", err)
	}
	c.sub = sub
	c.log.Info("progress consumer started")
	return nil
}

func (c *Consumer) handle(msg *nats.Msg) {
	var p protocol.Progress
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		c.log.Warn("bad progress message", "error", err)
		return
	}

	taskID := p.TabID
	if taskID == "" {
		taskID = strings.TrimPrefix(msg.Subject, protocol.SubjectUIProgressPrefix)
	}
	if taskID == "" {
		return
	}

	c.tasks.SetProgress(taskID, p.Status, p.Progress)
}

func (c *Consumer) Stop() {
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
	}
}
