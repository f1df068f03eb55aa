package exporter

import (
	"context"

	"profiler/pkg/models"
)

// Publisher appends profiles to a stream. *redis.ProfileStream implements it.
type Publisher interface {
	Publish(ctx context.Context, p *models.Profile) (string, error)
}

// RedisExporter publishes profiles to the Redis profile stream.
type RedisExporter struct {
	publisher Publisher
}

func NewRedisExporter(p Publisher) *RedisExporter {
	return &RedisExporter{publisher: p}
}

func (e *RedisExporter) Name() string { return "redis" }

func (e *RedisExporter) Export(ctx context.Context, p *models.Profile) error {
	_, err := e.publisher.Publish(ctx, p)
	return err
}
