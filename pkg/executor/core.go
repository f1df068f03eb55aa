// Package executor turns profiling requests into recorded profiles.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	config "profiler/configs"
	"profiler/pkg/coordination"
	"profiler/pkg/errs"
	"profiler/pkg/executor/runner"
	"profiler/pkg/exporter"
	"profiler/pkg/logger"
	"profiler/pkg/metrics"
	"profiler/pkg/models"
	"profiler/pkg/storage"
)

// Version is advertised in node registrations; set by the linker.
var Version = "dev"

// followUpTimeout bounds output storage and exports after the command
// finished, even when the caller's context is already done.
const followUpTimeout = 10 * time.Second

type Executor struct {
	ID       string
	Hostname string

	runner      runner.Runner
	outputs     storage.OutputStore
	exporters   *exporter.Set
	coordinator coordination.Coordinator

	defaultTimeout    time.Duration
	defaultSampleRate float64
	heartbeatTTL      int
	heartbeatInterval time.Duration

	logger *zap.Logger
	tracer trace.Tracer
}

// NewExecutor wires an executor. outputs, exporters and coord may be nil.
func NewExecutor(cfg *config.Config, r runner.Runner, outputs storage.OutputStore, exporters *exporter.Set, coord coordination.Coordinator) *Executor {
	hostname, _ := os.Hostname()
	id := cfg.NodeID
	if id == "" {
		id = fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])
	}

	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ttl := cfg.HeartbeatTTL
	if ttl <= 0 {
		ttl = 15
	}

	return &Executor{
		ID:                id,
		Hostname:          hostname,
		runner:            r,
		outputs:           outputs,
		exporters:         exporters,
		coordinator:       coord,
		defaultTimeout:    cfg.DefaultTimeout,
		defaultSampleRate: cfg.DefaultSampleRate,
		heartbeatTTL:      ttl,
		heartbeatInterval: interval,
		logger:            logger.Named("executor"),
		tracer:            otel.Tracer("profiler/executor"),
	}
}

// Execute runs req synchronously and returns its profile together with
// the run error. A command that started always yields a profile, whatever
// its outcome; requests rejected before start return a nil profile.
// Export failures are joined after the run error.
func (e *Executor) Execute(ctx context.Context, req models.ProfileRequest) (*models.Profile, error) {
	cmd := req.RunnerCommand()
	if cmd.Timeout == 0 {
		cmd.Timeout = e.defaultTimeout
	}
	if cmd.SampleRate == 0 {
		cmd.SampleRate = e.defaultSampleRate
	}

	ctx, span := e.tracer.Start(ctx, "executor.Execute", trace.WithAttributes(
		attribute.String("profile.name", req.Name),
		attribute.String("node.id", e.ID),
	))
	defer span.End()

	result, runErr := e.runner.Run(ctx, cmd)
	if result.StartedAt.IsZero() && rejected(runErr) {
		return nil, runErr
	}

	profile := e.buildProfile(req, cmd, result, runErr)
	span.SetAttributes(
		attribute.String("profile.id", profile.ID.String()),
		attribute.String("profile.status", string(profile.Status)),
	)

	// The command already ran; record it even if the caller gave up.
	followCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), followUpTimeout)
	defer cancel()

	e.storeOutput(followCtx, profile, result)

	var exportErr error
	if e.exporters != nil {
		exportErr = e.exporters.Export(followCtx, profile)
	}

	return profile, errors.Join(runErr, exportErr)
}

// rejected reports errors raised before any process was started.
func rejected(err error) bool {
	kind, ok := errs.KindOf(err)
	return ok && (kind == errs.KindConfiguration || kind == errs.KindSampling)
}

func (e *Executor) buildProfile(req models.ProfileRequest, cmd runner.Command, r runner.Result, runErr error) *models.Profile {
	name := req.Name
	if name == "" && len(r.Command) > 0 {
		name = r.Command[0]
	}

	completed := r.StartedAt.Add(r.Duration)
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
		completed = r.StartedAt
	}

	p := &models.Profile{
		ID:          uuid.New(),
		Name:        name,
		Command:     models.StringList(r.Command),
		Dir:         cmd.Dir,
		Env:         models.StringMap(r.Env),
		Labels:      models.StringMap(req.Labels),
		Status:      StatusOf(r, runErr),
		ExitCode:    r.ExitCode,
		DurationMs:  r.Duration.Milliseconds(),
		CPUTimeMs:   r.Usage.CPUTime.Milliseconds(),
		PeakRSS:     r.Usage.PeakRSS,
		Samples:     r.Usage.Samples,
		NodeID:      e.ID,
		StartedAt:   r.StartedAt,
		CompletedAt: completed,
	}
	if runErr != nil {
		p.Error = runErr.Error()
		if kind, ok := errs.KindOf(runErr); ok {
			p.ErrorKind = kind.String()
		}
	}
	return p
}

// StatusOf classifies a runner outcome.
func StatusOf(r runner.Result, runErr error) models.ProfileStatus {
	switch {
	case errors.Is(runErr, errs.ErrCommandTimeout):
		return models.ProfileTimeout
	case runErr == nil && r.ExitCode == 0:
		return models.ProfileSuccess
	case runErr == nil:
		return models.ProfileFailed
	case errors.Is(runErr, errs.ErrCommandExecution) && r.ExitCode > 0:
		return models.ProfileFailed
	default:
		return models.ProfileError
	}
}

// FormatOutput combines captured streams into one stored blob.
func FormatOutput(stdout, stderr string) []byte {
	return []byte(fmt.Sprintf("STDOUT:\n%s\nSTDERR:\n%s", stdout, stderr))
}

func (e *Executor) storeOutput(ctx context.Context, p *models.Profile, r runner.Result) {
	if e.outputs == nil || (r.Stdout == "" && r.Stderr == "") {
		return
	}
	ref, err := e.outputs.Store(ctx, p.ID.String(), FormatOutput(r.Stdout, r.Stderr))
	if err != nil {
		collectErr := errs.NewCollectorError("failed to store command output", "output", err)
		metrics.RecordError(errs.KindCollector.String())
		e.logger.Warn("Output not stored",
			zap.String("profile_id", p.ID.String()),
			logger.Err(collectErr),
		)
		return
	}
	p.OutputURI = ref
}

// Capacity describes the resources of this node.
type Capacity struct {
	CPUs           int    `json:"cpus"`
	TotalMemMB     uint64 `json:"total_mem_mb"`
	AvailableMemMB uint64 `json:"available_mem_mb"`
}

// Capacity reads CPU count and memory from the host.
func (e *Executor) Capacity(ctx context.Context) Capacity {
	c := Capacity{CPUs: runtime.NumCPU()}
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		e.logger.Warn("Failed to detect memory",
			logger.Err(errs.NewCollectorError("memory probe failed", "capacity", err)))
		return c
	}
	c.TotalMemMB = v.Total / 1024 / 1024
	c.AvailableMemMB = v.Available / 1024 / 1024
	return c
}

// NodeInfo is the registration this executor advertises.
func (e *Executor) NodeInfo(ctx context.Context) coordination.NodeInfo {
	c := e.Capacity(ctx)
	return coordination.NodeInfo{
		ID:             e.ID,
		Hostname:       e.Hostname,
		CPUs:           c.CPUs,
		TotalMemMB:     c.TotalMemMB,
		AvailableMemMB: c.AvailableMemMB,
		Version:        Version,
	}
}

// RegisterHeartbeat registers the node with the coordinator under a TTL lease.
func (e *Executor) RegisterHeartbeat(ctx context.Context) error {
	if e.coordinator == nil {
		return errs.NewConfigurationError("no coordinator configured", "ETCD_ENDPOINTS")
	}
	if err := e.coordinator.RegisterNode(ctx, e.NodeInfo(ctx), e.heartbeatTTL); err != nil {
		return fmt.Errorf("failed to register node: %w", err)
	}
	e.logger.Debug("Heartbeat sent", zap.String("node_id", e.ID))
	metrics.HeartbeatsSent.Inc()
	return nil
}

// RunHeartbeat registers immediately and then on every interval until ctx
// is done.
func (e *Executor) RunHeartbeat(ctx context.Context) {
	e.logger.Info("Starting heartbeat",
		zap.String("node_id", e.ID),
		zap.Duration("interval", e.heartbeatInterval),
		zap.Int("ttl_seconds", e.heartbeatTTL),
	)

	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		if err := e.RegisterHeartbeat(ctx); err != nil && ctx.Err() == nil {
			e.logger.Warn("Heartbeat failed", logger.Err(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
