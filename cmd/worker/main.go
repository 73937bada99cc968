package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	wapp "github.com/jwt625/vidbridge/internal/worker/app"
)

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	a := wapp.New(ctx)
	if err := a.Run(ctx); err != nil {
		log.Fatalln("worker:", err)
	}
}
