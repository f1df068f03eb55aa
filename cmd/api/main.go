package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "profiler/configs"
	"profiler/pkg/api"
	"profiler/pkg/api/middleware"
	"profiler/pkg/app"
	"profiler/pkg/auth"
	"profiler/pkg/logger"
	"profiler/pkg/scheduler"
)

func main() {
	cfg := config.LoadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := app.InitObservability(ctx, cfg, "profiler-api")
	if err != nil {
		logger.Fatal("Failed to initialize observability", logger.Err(err))
	}
	defer logger.Sync()
	log := logger.Named("main")
	log.Info("Starting up")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	a, err := app.New(ctx, cfg, app.Options{Coordination: true, Redis: cfg.AuthEnabled})
	if err != nil {
		log.Fatal("Failed to initialize components", logger.Err(err))
	}
	defer a.Close()

	// Schedules are listed read-only here; the scheduler binary runs them.
	var schedules *scheduler.Core
	if cfg.SchedulesFile != "" {
		loaded, err := config.LoadSchedules(cfg.SchedulesFile)
		if err != nil {
			log.Fatal("Failed to load schedules", logger.Err(err))
		}
		if schedules, err = scheduler.NewCore(cfg, a.Executor, loaded); err != nil {
			log.Fatal("Failed to load schedules", logger.Err(err))
		}
	}

	var authCfg *middleware.AuthConfig
	if cfg.AuthEnabled {
		jwtSvc, err := auth.NewJWTService(auth.JWTConfig{SecretKey: cfg.JWTSecret, Issuer: "profiler"})
		if err != nil {
			log.Fatal("Failed to initialize auth", logger.Err(err))
		}
		authCfg = &middleware.AuthConfig{
			JWTService:  jwtSvc,
			APIKeyStore: auth.NewRedisAPIKeyStore(a.Stream.Client()),
		}
	}

	srvCfg := api.Config{
		Port:         cfg.APIPort,
		Executor:     a.Executor,
		Store:        a.Store,
		Outputs:      a.Outputs,
		Coordinator:  a.Coordinator,
		Election:     a.Coordinator.NewElection(scheduler.ElectionName),
		Auth:         authCfg,
		MaxBodyBytes: cfg.MaxBodyBytes,
		RateLimit: middleware.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		},
		HealthChecks: a.Checks,
	}
	if schedules != nil {
		srvCfg.Schedules = schedules
	}
	server := api.NewServer(srvCfg)

	// The API node runs commands, so it advertises itself like any agent.
	go a.Executor.RunHeartbeat(ctx)

	go func() {
		if err := server.Start(); err != nil {
			log.Error("Server error", logger.Err(err))
			cancel()
		}
	}()

	select {
	case sig := <-sigChan:
		log.Info("Received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	// In-flight runs get a grace period to finish and be recorded.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Shutdown error", logger.Err(err))
	}
	cancel()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warn("Tracer shutdown error", logger.Err(err))
	}
	log.Info("Shutdown complete")
}
