// Package app assembles the profiler components selected by configuration.
// The api, scheduler and profctl binaries share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	config "profiler/configs"
	"profiler/pkg/coordination"
	"profiler/pkg/coordination/etcd"
	"profiler/pkg/errs"
	"profiler/pkg/executor"
	"profiler/pkg/executor/runner"
	"profiler/pkg/exporter"
	"profiler/pkg/logger"
	tracing "profiler/pkg/observability"
	"profiler/pkg/resilience"
	"profiler/pkg/storage"
	"profiler/pkg/storage/postgres"
	redisstore "profiler/pkg/storage/redis"
)

// Options select optional components.
type Options struct {
	// Coordination connects to etcd, or uses an in-process coordinator
	// when no endpoints are configured.
	Coordination bool
	// Redis forces a Redis connection even when no exporter needs it.
	Redis bool
}

// App holds the wired components. Fields for components that were not
// selected are nil.
type App struct {
	Config      *config.Config
	Store       storage.ProfileStore
	Outputs     storage.OutputStore
	Stream      *redisstore.ProfileStream
	Exporters   *exporter.Set
	Coordinator coordination.Coordinator
	Executor    *executor.Executor

	// Checks probe the external dependencies for health reporting.
	Checks map[string]func(ctx context.Context) error

	closers []func() error
	logger  *zap.Logger
}

// InitObservability installs the global logger and tracer provider for
// service. The returned provider must be shut down on exit.
func InitObservability(ctx context.Context, cfg *config.Config, service string) (*tracing.Provider, error) {
	if _, err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		Encoding:   cfg.LogFormat,
		OutputPath: cfg.LogOutput,
		Service:    service,
	}); err != nil {
		return nil, err
	}

	tcfg := tracing.DefaultConfig(service)
	tcfg.ServiceVersion = executor.Version
	tcfg.Enabled = cfg.TracingEnabled
	tcfg.Endpoint = cfg.TracingEndpoint
	tcfg.SamplingRate = cfg.TracingSampleRate
	return tracing.Init(ctx, tcfg)
}

// New validates cfg and connects every selected component. On error,
// whatever was already opened is closed.
func New(ctx context.Context, cfg *config.Config, opts Options) (a *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a = &App{
		Config: cfg,
		Checks: make(map[string]func(ctx context.Context) error),
		logger: logger.Named("app"),
	}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	if err := a.openStore(); err != nil {
		return nil, err
	}
	if err := a.openOutputs(ctx); err != nil {
		return nil, err
	}
	if opts.Redis || slices.Contains(cfg.Exporters, "redis") {
		if err := a.openStream(); err != nil {
			return nil, err
		}
	}
	if err := a.buildExporters(); err != nil {
		return nil, err
	}
	if opts.Coordination {
		if err := a.openCoordinator(); err != nil {
			return nil, err
		}
	}

	a.Executor = executor.NewExecutor(cfg, runner.NewShellRunner(), a.Outputs, a.Exporters, a.Coordinator)
	return a, nil
}

func (a *App) openStore() error {
	switch a.Config.StorageBackend {
	case "memory":
		a.Store = storage.NewMemoryStore(0)
	default:
		store, err := postgres.NewPostgresStore(a.Config.DSN())
		if err != nil {
			return err
		}
		a.Store = store
		a.Checks["postgres"] = store.Ping
		a.closers = append(a.closers, store.Close)
	}
	a.logger.Info("Profile store ready", zap.String("backend", a.Config.StorageBackend))
	return nil
}

func (a *App) openOutputs(ctx context.Context) error {
	switch a.Config.OutputBackend {
	case "s3":
		store, err := storage.NewS3OutputStore(ctx, storage.S3OutputStoreConfig{
			Bucket:   a.Config.S3Bucket,
			Region:   a.Config.S3Region,
			Endpoint: a.Config.S3Endpoint,
		})
		if err != nil {
			return err
		}
		a.Outputs = store
	case "local":
		store, err := storage.NewLocalOutputStore(a.Config.OutputDir)
		if err != nil {
			return err
		}
		a.Outputs = store
	}
	return nil
}

func (a *App) openStream() error {
	stream, err := redisstore.NewProfileStream(a.Config.RedisAddr())
	if err != nil {
		return err
	}
	a.Stream = stream
	a.Checks["redis"] = func(ctx context.Context) error {
		return stream.Client().Ping(ctx).Err()
	}
	a.closers = append(a.closers, stream.Close)
	return nil
}

func (a *App) buildExporters() error {
	var exporters []exporter.Exporter
	for _, name := range a.Config.Exporters {
		switch name {
		case "log":
			exporters = append(exporters, exporter.NewLogExporter(nil))
		case "store":
			exporters = append(exporters, exporter.NewStoreExporter(a.Store))
		case "redis":
			exporters = append(exporters, exporter.NewRedisExporter(a.Stream))
		default:
			return errs.NewConfigurationError(fmt.Sprintf("unknown exporter %q", name), "EXPORTERS").
				With(errs.KeyExporterName, name)
		}
	}
	a.Exporters = exporter.NewSet(resilience.DefaultCircuitBreakerConfig(), exporters...)
	return nil
}

func (a *App) openCoordinator() error {
	if len(a.Config.EtcdEndpoints) == 0 {
		a.Coordinator = coordination.NewLocal()
		a.logger.Info("No etcd endpoints, coordinating in-process")
		return nil
	}
	coord, err := etcd.NewEtcdCoordinator(a.Config.EtcdEndpoints, a.Config.LeaderElectionTTL)
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, "etcd unavailable", err).
			With(errs.KeyConfigKey, "ETCD_ENDPOINTS")
	}
	a.Coordinator = coord
	a.closers = append(a.closers, coord.Close)
	return nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errList []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errList = append(errList, err)
		}
	}
	a.closers = nil
	return errors.Join(errList...)
}
