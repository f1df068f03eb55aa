package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"profiler/pkg/models"
)

type ProfileStreamSuite struct {
	suite.Suite
	stream *ProfileStream
}

func (s *ProfileStreamSuite) SetupSuite() {
	if os.Getenv("SKIP_INTEGRATION_TESTS") == "true" {
		s.T().Skip("Skipping integration tests (SKIP_INTEGRATION_TESTS=true)")
	}

	cfg := DefaultProfileStreamConfig(fmt.Sprintf("%s:%s",
		getEnv("TEST_REDIS_HOST", "localhost"),
		getEnv("TEST_REDIS_PORT", "6379"),
	))
	cfg.DialTimeout = time.Second
	cfg.Stream = "profiles:test:" + uuid.NewString()

	stream, err := NewProfileStreamWithConfig(cfg)
	if err != nil {
		s.T().Skipf("Skipping integration tests: %v", err)
	}
	s.stream = stream
}

func (s *ProfileStreamSuite) TearDownSuite() {
	if s.stream != nil {
		_ = s.stream.Client().Del(context.Background(), s.stream.Stream()).Err()
		s.stream.Close()
	}
}

func (s *ProfileStreamSuite) TestPublishAndRead() {
	ctx := context.Background()
	const group = "test-readers"

	require.NoError(s.T(), s.stream.EnsureGroup(ctx, group))
	require.NoError(s.T(), s.stream.EnsureGroup(ctx, group), "existing group is not an error")

	p := &models.Profile{ID: uuid.New(), Name: "stream-test", Status: models.ProfileFailed, ExitCode: 3}
	id, err := s.stream.Publish(ctx, p)
	require.NoError(s.T(), err)
	assert.NotEmpty(s.T(), id)

	msgID, got, err := s.stream.Read(ctx, group, "consumer-1", time.Second)
	require.NoError(s.T(), err)
	require.NotNil(s.T(), got)
	assert.Equal(s.T(), id, msgID)
	assert.Equal(s.T(), p.ID, got.ID)
	assert.Equal(s.T(), 3, got.ExitCode)
	require.NoError(s.T(), s.stream.Ack(ctx, group, msgID))

	msgID, got, err = s.stream.Read(ctx, group, "consumer-1", 100*time.Millisecond)
	require.NoError(s.T(), err)
	assert.Empty(s.T(), msgID)
	assert.Nil(s.T(), got)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func TestProfileStreamIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(ProfileStreamSuite))
}
