// Package workermgr guarantees a single live worker context and hands back
// readiness, idempotently, to any number of concurrent callers.
package workermgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrCreationTimeout means the worker context never answered a liveness
// probe after being launched.
var ErrCreationTimeout = errors.New("worker creation timeout")

// Readiness is the explicit two-outcome result of waiting for the worker's
// one-time engine initialization. ReadyTimedOut is a deliberate best-effort
// fallback: the caller proceeds anyway, accepting degraded behavior.
type Readiness int

const (
	Ready Readiness = iota
	ReadyTimedOut
)

func (r Readiness) String() string {
	if r == Ready {
		return "ready"
	}
	return "ready-timed-out"
}

// Pinger probes whether a worker context is alive. Implementations own
// their probe timeout.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Launcher starts a new worker context. It returns once creation is
// initiated; liveness is observed through the Pinger.
type Launcher interface {
	Launch(ctx context.Context) error
}

type Options struct {
	PollInterval time.Duration // between liveness probes after launch
	PollAttempts int           // hard cap before ErrCreationTimeout
	ReadyWait    time.Duration // best-effort wait for the readiness signal
}

func (o *Options) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.PollAttempts <= 0 {
		o.PollAttempts = 50
	}
	if o.ReadyWait <= 0 {
		o.ReadyWait = 5 * time.Second
	}
}

// Manager brokers the single worker connection. Concurrent Ensure calls
// share one in-flight creation instead of launching duplicates.
type Manager struct {
	pinger   Pinger
	launcher Launcher
	opts     Options
	launch   singleflight.Group

	mu    sync.Mutex
	alive bool
	ready chan struct{}
}

func New(pinger Pinger, launcher Launcher, opts Options) *Manager {
	opts.defaults()
	return &Manager{
		pinger:   pinger,
		launcher: launcher,
		opts:     opts,
		ready:    make(chan struct{}),
	}
}

// MarkReady records the worker's readiness announcement. Safe to call more
// than once per worker generation.
func (m *Manager) MarkReady() {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.ready:
	default:
		close(m.ready)
	}
}

// Ensure returns once a worker context is alive, launching one if needed.
// The returned Readiness reports whether the worker finished its one-time
// initialization or the wait was abandoned after the configured cap.
func (m *Manager) Ensure(ctx context.Context) (Readiness, error) {
	if m.isAlive() {
		if err := m.pinger.Ping(ctx); err == nil {
			return m.waitReady(ctx), nil
		}
		// The held connection is gone: clear it so the full creation
		// sequence runs again.
		m.markDown()
		slog.Warn("worker connection lost, recreating")
	}

	_, err, _ := m.launch.Do("launch", func() (any, error) {
		return nil, m.create(ctx)
	})
	if err != nil {
		return ReadyTimedOut, err
	}

	return m.waitReady(ctx), nil
}

func (m *Manager) create(ctx context.Context) error {
	// Another caller may have finished creation while this one queued.
	if err := m.pinger.Ping(ctx); err == nil {
		m.markAlive()
		return nil
	}

	if err := m.launcher.Launch(ctx); err != nil {
		return fmt.Errorf("launch worker: %w", err)
	}

	for attempt := 0; attempt < m.opts.PollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.opts.PollInterval):
		}

		if err := m.pinger.Ping(ctx); err == nil {
			m.markAlive()
			slog.Info("worker context alive", slog.Int("attempts", attempt+1))
			return nil
		}
	}

	return ErrCreationTimeout
}

func (m *Manager) waitReady(ctx context.Context) Readiness {
	m.mu.Lock()
	ready := m.ready
	m.mu.Unlock()

	select {
	case <-ready:
		return Ready
	case <-ctx.Done():
		return ReadyTimedOut
	case <-time.After(m.opts.ReadyWait):
		slog.Warn("worker readiness wait expired, proceeding anyway",
			slog.Duration("waited", m.opts.ReadyWait))
		return ReadyTimedOut
	}
}

func (m *Manager) isAlive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alive
}

func (m *Manager) markAlive() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alive = true
}

func (m *Manager) markDown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alive = false
	// The next worker generation announces readiness on a fresh channel.
	m.ready = make(chan struct{})
}
