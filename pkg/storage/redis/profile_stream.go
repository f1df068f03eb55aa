package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"profiler/pkg/models"

	"github.com/redis/go-redis/v9"
)

const (
	StreamKeyProfiles = "profiles:stream"

	// DefaultMaxLen bounds the stream; XADD trims approximately.
	DefaultMaxLen = 10000
)

// ProfileStream publishes finished profiles to a Redis stream and lets
// consumer groups follow it.
type ProfileStream struct {
	client *redis.Client
	stream string
	maxLen int64
}

// ProfileStreamConfig holds Redis connection configuration
type ProfileStreamConfig struct {
	Addr         string
	Stream       string
	MaxLen       int64
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
}

// DefaultProfileStreamConfig returns production defaults
func DefaultProfileStreamConfig(addr string) ProfileStreamConfig {
	return ProfileStreamConfig{
		Addr:         addr,
		Stream:       StreamKeyProfiles,
		MaxLen:       DefaultMaxLen,
		PoolSize:     20,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	}
}

// NewProfileStream connects with default config.
func NewProfileStream(addr string) (*ProfileStream, error) {
	return NewProfileStreamWithConfig(DefaultProfileStreamConfig(addr))
}

// NewProfileStreamWithConfig connects with custom config.
func NewProfileStreamWithConfig(cfg ProfileStreamConfig) (*ProfileStream, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  cfg.PoolTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewProfileStreamFromClient(client, cfg.Stream, cfg.MaxLen), nil
}

// NewProfileStreamFromClient wraps an existing client.
func NewProfileStreamFromClient(client *redis.Client, stream string, maxLen int64) *ProfileStream {
	if stream == "" {
		stream = StreamKeyProfiles
	}
	return &ProfileStream{client: client, stream: stream, maxLen: maxLen}
}

// Client exposes the underlying connection for other Redis-backed stores.
func (r *ProfileStream) Client() *redis.Client {
	return r.client
}

func (r *ProfileStream) Stream() string {
	return r.stream
}

func (r *ProfileStream) Close() error {
	return r.client.Close()
}

// Publish appends a profile to the stream and returns the entry ID.
func (r *ProfileStream) Publish(ctx context.Context, p *models.Profile) (string, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal profile: %w", err)
	}

	// XADD profiles:stream MAXLEN ~ n * payload {json} ...
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{
			"payload":    payload,
			"profile_id": p.ID.String(),
			"name":       p.Name,
			"status":     string(p.Status),
			"exit_code":  p.ExitCode,
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}

	id, err := r.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish profile: %w", err)
	}
	return id, nil
}

// EnsureGroup creates the consumer group if it doesn't exist.
func (r *ProfileStream) EnsureGroup(ctx context.Context, group string) error {
	err := r.client.XGroupCreateMkStream(ctx, r.stream, group, "$").Err()
	if err != nil {
		if strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return nil
		}
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Read blocks up to block for the next profile delivered to consumer.
// It returns an empty ID when nothing arrived.
func (r *ProfileStream) Read(ctx context.Context, group, consumer string, block time.Duration) (string, *models.Profile, error) {
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{r.stream, ">"},
		Count:    1,
		Block:    block,
	}).Result()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return "", nil, nil
	}

	msg := streams[0].Messages[0]
	payload, ok := msg.Values["payload"].(string)
	if !ok {
		return msg.ID, nil, fmt.Errorf("invalid payload format")
	}

	var p models.Profile
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return msg.ID, nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return msg.ID, &p, nil
}

// Ack acknowledges a delivered entry.
func (r *ProfileStream) Ack(ctx context.Context, group, msgID string) error {
	return r.client.XAck(ctx, r.stream, group, msgID).Err()
}
