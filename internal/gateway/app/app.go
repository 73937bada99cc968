package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jwt625/vidbridge/internal/gateway/transport"
)

type app struct {
	di  *dependencyInjector
	srv *http.Server
}

func New(ctx context.Context) *app {
	di := newDI()
	di.Logger()
	mux := http.NewServeMux()
	return &app{
		di: di,
		srv: &http.Server{
			Addr: di.Config().Addr,
			Handler: transport.WithRecover(
				transport.LogMiddleware(
					di.Router(ctx).MountRoutes(mux),
				),
			),
		},
	}
}

func (a *app) Run(ctx context.Context) error {
	consumer := a.di.ProgressConsumer(ctx)
	if err := consumer.Start(); err != nil {
		return err
	}
	defer consumer.Stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting server", slog.String("addr", a.srv.Addr))
		if e := a.srv.ListenAndServe(); e != nil && !errors.Is(e, http.ErrServerClosed) {
			slog.Error("server error", slog.String("error", e.Error()))
			return e
		}
		return nil
	})

	g.Go(func() error {
		a.cleanupLoop(gCtx)
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()

		slog.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			a.di.Config().ShutdownTimeout,
		)
		defer cancel()

		if err := a.srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", slog.String("error", err.Error()))
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("server gracefully stopped")
	return nil
}

// cleanupLoop deletes result files that outlived the task TTL.
func (a *app) cleanupLoop(ctx context.Context) {
	cfg := a.di.Config()
	store := a.di.FileStore(ctx)

	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			border := time.Now().Add(-cfg.TaskTTL)
			removed, err := store.CleanupOlderThan(ctx, border)
			if err != nil {
				slog.Warn("file cleanup", slog.String("error", err.Error()))
				continue
			}
			if removed > 0 {
				slog.Info("file cleanup", slog.Int("removed", removed))
			}
		}
	}
}
