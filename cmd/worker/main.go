package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/arouf1/cs-api/internal/app"
	"github.com/arouf1/cs-api/internal/config"
	"github.com/arouf1/cs-api/internal/dispatch"
	"github.com/arouf1/cs-api/internal/scheduler"
	"github.com/arouf1/cs-api/internal/telemetry"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("build app: %v", err)
	}
	defer a.Close()

	sched := scheduler.New(a.Processor, a.Schedules())
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}
	defer sched.Stop()

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	dispatcher := dispatch.New(a.Queue, a.Store, a.Registry, cfg.DispatcherPollInterval)
	log.Printf("worker started with visibility=%s poll=%s", cfg.VisibilityTimeout, cfg.DispatcherPollInterval)
	if err := dispatcher.Run(ctx); err != nil && err != context.Canceled {
		log.Printf("worker stopped: %v", err)
	}
}
