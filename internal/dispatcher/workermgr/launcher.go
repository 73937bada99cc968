package workermgr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
)

// ExecLauncher starts the worker context as a child process.
type ExecLauncher struct {
	Command string
	Args    []string
}

func (l *ExecLauncher) Launch(ctx context.Context) error {
	if l.Command == "" {
		return fmt.Errorf("empty worker command")
	}

	cmd := exec.Command(l.Command, l.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", l.Command, err)
	}

	slog.Info("worker process started",
		slog.String("command", l.Command),
		slog.Int("pid", cmd.Process.Pid),
	)

	// Reap the child when it exits; liveness is tracked by pings, not by
	// the process handle.
	go func() {
		if err := cmd.Wait(); err != nil {
			slog.Warn("worker process exited", slog.String("error", err.Error()))
		}
	}()

	return nil
}
