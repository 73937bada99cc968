package engine

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Mock simulates a conversion run: it sleeps in steps, reports progress,
// and emits a stub MP4-like payload. Useful for wiring the pipeline without
// a real encoder installed.
type Mock struct {
	sem chan struct{}
}

func NewMock(maxParallel int) *Mock {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &Mock{sem: make(chan struct{}, maxParallel)}
}

func (m *Mock) Run(ctx context.Context, args []string, input []byte, onProgress ProgressFunc) ([]byte, error) {
	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-ctx.Done():
		return nil, fmt.Errorf("engine queue full or canceled: %w", ctx.Err())
	}

	const steps = 4
	stepDelay := time.Duration(100+rand.Intn(300)) * time.Millisecond
	for i := 1; i <= steps; i++ {
		select {
		case <-time.After(stepDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if onProgress != nil {
			onProgress(float64(i) / steps)
		}
	}

	out := append([]byte("\x00\x00\x00\x18ftypmp42"), []byte(fmt.Sprintf("%% mock transcode of %d bytes", len(input)))...)
	return out, nil
}
