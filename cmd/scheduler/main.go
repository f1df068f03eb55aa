package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "profiler/configs"
	"profiler/pkg/app"
	"profiler/pkg/logger"
	"profiler/pkg/scheduler"
)

func main() {
	cfg := config.LoadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := app.InitObservability(ctx, cfg, "profiler-scheduler")
	if err != nil {
		logger.Fatal("Failed to initialize observability", logger.Err(err))
	}
	defer logger.Sync()
	log := logger.Named("main")
	log.Info("Starting up")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if cfg.SchedulesFile == "" {
		log.Fatal("SCHEDULES_FILE is required")
	}
	schedules, err := config.LoadSchedules(cfg.SchedulesFile)
	if err != nil {
		log.Fatal("Failed to load schedules", logger.Err(err))
	}

	a, err := app.New(ctx, cfg, app.Options{Coordination: true})
	if err != nil {
		log.Fatal("Failed to initialize components", logger.Err(err))
	}
	defer a.Close()

	core, err := scheduler.NewCore(cfg, a.Executor, schedules)
	if err != nil {
		log.Fatal("Invalid schedules", logger.Err(err))
	}

	go a.Executor.RunHeartbeat(ctx)

	election := a.Coordinator.NewElection(scheduler.ElectionName)
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("Campaigning for leadership", zap.String("node_id", cfg.NodeID))
		if err := election.Campaign(ctx, cfg.NodeID); err != nil {
			if ctx.Err() == nil {
				log.Error("Election campaign failed", logger.Err(err))
				cancel()
			}
			return
		}
		log.Info("Acquired leadership")
		core.Run(ctx, election)
	}()

	select {
	case sig := <-sigChan:
		log.Info("Received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}
	cancel()
	<-done

	// Resign so a standby scheduler can take over without waiting for the lease.
	resignCtx, resignCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer resignCancel()
	if err := election.Resign(resignCtx); err != nil {
		log.Warn("Failed to resign leadership", logger.Err(err))
	} else {
		log.Info("Leadership resigned")
	}
	if err := tp.Shutdown(resignCtx); err != nil {
		log.Warn("Tracer shutdown error", logger.Err(err))
	}
	log.Info("Shutdown complete")
}
