// Package exporter ships finished profiles to their destinations.
package exporter

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"profiler/pkg/errs"
	"profiler/pkg/logger"
	"profiler/pkg/metrics"
	"profiler/pkg/models"
	tracing "profiler/pkg/observability"
	"profiler/pkg/resilience"
)

// Exporter delivers one profile to a single destination.
type Exporter interface {
	Name() string
	Export(ctx context.Context, p *models.Profile) error
}

// Export outcome labels.
const (
	StatusOK       = "ok"
	StatusFailed   = "failed"
	StatusRejected = "rejected" // circuit open
)

// Set fans a profile out to every exporter. Each exporter sits behind its
// own circuit breaker, so one broken destination neither blocks nor slows
// the others once its circuit opens.
type Set struct {
	exporters []Exporter
	breakers  map[string]*resilience.CircuitBreaker
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewSet guards every exporter with a breaker built from cfg.
func NewSet(cfg resilience.CircuitBreakerConfig, exporters ...Exporter) *Set {
	s := &Set{
		exporters: exporters,
		breakers:  make(map[string]*resilience.CircuitBreaker, len(exporters)),
		logger:    logger.Named("exporter"),
		tracer:    otel.Tracer("profiler/exporter"),
	}

	userHook := cfg.OnStateChange
	cfg.OnStateChange = func(name string, from, to resilience.CircuitState) {
		metrics.ExporterCircuitState.WithLabelValues(name).Set(float64(to))
		s.logger.Warn("Exporter circuit changed state",
			zap.String("exporter", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		if userHook != nil {
			userHook(name, from, to)
		}
	}

	for _, e := range exporters {
		s.breakers[e.Name()] = resilience.NewCircuitBreaker(e.Name(), cfg)
		metrics.ExporterCircuitState.WithLabelValues(e.Name()).Set(float64(resilience.CircuitClosed))
	}
	return s
}

// Names lists the configured exporters in order.
func (s *Set) Names() []string {
	names := make([]string, len(s.exporters))
	for i, e := range s.exporters {
		names[i] = e.Name()
	}
	return names
}

// Breaker returns the circuit breaker guarding the named exporter.
func (s *Set) Breaker(name string) *resilience.CircuitBreaker {
	return s.breakers[name]
}

// Export sends p to every exporter in order. Failures are exporter errors
// carrying exporter.name; all of them are joined into the returned error.
func (s *Set) Export(ctx context.Context, p *models.Profile) error {
	var failures []error
	for _, e := range s.exporters {
		if err := s.exportOne(ctx, e, p); err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}

func (s *Set) exportOne(ctx context.Context, e Exporter, p *models.Profile) error {
	name := e.Name()
	ctx, span := s.tracer.Start(ctx, "exporter.Export", trace.WithAttributes(
		attribute.String(errs.KeyExporterName, name),
		attribute.String("profile.id", p.ID.String()),
	))
	defer span.End()

	err := s.breakers[name].Execute(ctx, func() error {
		return e.Export(ctx, p)
	})
	if err == nil {
		metrics.RecordExport(name, StatusOK)
		return nil
	}

	status := StatusFailed
	msg := "export failed"
	if errors.Is(err, resilience.ErrCircuitOpen) {
		status = StatusRejected
		msg = "exporter circuit open"
	}
	metrics.RecordExport(name, status)
	metrics.RecordError(errs.KindExporter.String())

	exportErr := errs.NewExporterError(msg, name, err).With(errs.KeyComponent, "exporter")
	tracing.RecordError(ctx, exportErr)
	s.logger.Warn("Profile export failed",
		zap.String("profile_id", p.ID.String()),
		logger.Err(exportErr),
	)
	return exportErr
}
