// Package dapp wires the dispatcher: the hub that owns the single job slot,
// the staging stores and the worker lifecycle.
package dapp

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
	a.di.ResultStore(ctx).StartSweeper(ctx, cfg.Staging.SweepInterval)

	srv := a.di.Server(ctx)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	slog.Info("dispatcher running")

	<-ctx.Done()

	slog.Info("dispatcher shutting down")
	srv.Stop()
	return nil
}
