// Package wapp wires the worker: the engine-holding context that executes
// conversion jobs on the dispatcher's behalf.
package wapp

import (
	"context"
	"log/slog"
)

type app struct {
	di *dependencyInjector
}

func New(ctx context.Context) *app {
	di := newDI()
	di.Logger()
	return &app{di: di}
}

func (a *app) Run(ctx context.Context) error {
	cfg := a.di.Config()

	a.di.TransferStore(ctx).StartSweeper(ctx, cfg.Staging.SweepInterval)

	srv := a.di.Server(ctx)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	slog.Info("worker running")

	<-ctx.Done()

	slog.Info("worker shutting down")
	srv.Stop()
	return nil
}
