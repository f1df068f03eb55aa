package exporter

import (
	"context"

	"go.uber.org/zap"

	"profiler/pkg/logger"
	"profiler/pkg/models"
)

// LogExporter writes a one-line summary of every profile.
type LogExporter struct {
	logger *zap.Logger
}

func NewLogExporter(l *zap.Logger) *LogExporter {
	if l == nil {
		l = logger.Named("profiles")
	}
	return &LogExporter{logger: l}
}

func (e *LogExporter) Name() string { return "log" }

func (e *LogExporter) Export(ctx context.Context, p *models.Profile) error {
	fields := []zap.Field{
		zap.String("profile_id", p.ID.String()),
		zap.String("name", p.Name),
		zap.Strings("command", p.Command),
		zap.String("status", string(p.Status)),
		zap.Int("exit_code", p.ExitCode),
		zap.Duration("duration", p.Duration()),
		zap.Int64("cpu_time_ms", p.CPUTimeMs),
	}
	if p.Samples > 0 {
		fields = append(fields, zap.Uint64("peak_rss", p.PeakRSS), zap.Int("samples", p.Samples))
	}
	if p.Error != "" {
		fields = append(fields, zap.String("error_kind", p.ErrorKind), zap.String("error", p.Error))
	}

	if p.Status == models.ProfileSuccess {
		e.logger.Info("Profile recorded", fields...)
	} else {
		e.logger.Warn("Profile recorded", fields...)
	}
	return nil
}
