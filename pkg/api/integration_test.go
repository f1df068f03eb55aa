package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	config "profiler/configs"
	"profiler/pkg/coordination"
	"profiler/pkg/executor"
	"profiler/pkg/executor/runner"
	"profiler/pkg/exporter"
	"profiler/pkg/models"
	"profiler/pkg/resilience"
	"profiler/pkg/storage"
	"profiler/pkg/storage/postgres"
	redisstore "profiler/pkg/storage/redis"
)

// IntegrationTestSuite runs profiles through the API into Postgres and the
// Redis stream.
type IntegrationTestSuite struct {
	suite.Suite
	store  *postgres.PostgresStore
	stream *redisstore.ProfileStream
	server *Server
	group  string
}

func (s *IntegrationTestSuite) SetupSuite() {
	if os.Getenv("SKIP_INTEGRATION_TESTS") == "true" {
		s.T().Skip("Skipping integration tests (SKIP_INTEGRATION_TESTS=true)")
	}
	if testing.Short() {
		s.T().Skip("Skipping integration tests in short mode")
	}
	gin.SetMode(gin.TestMode)

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getEnv("TEST_DB_HOST", "localhost"),
		getEnv("TEST_DB_PORT", "5432"),
		getEnv("TEST_DB_USER", "profiler"),
		getEnv("TEST_DB_PASS", "password"),
		getEnv("TEST_DB_NAME", "profiler_test"),
	)
	store, err := postgres.NewPostgresStore(connStr)
	if err != nil {
		s.T().Skipf("Skipping integration tests: %v", err)
	}
	s.store = store

	cfg := redisstore.DefaultProfileStreamConfig(fmt.Sprintf("%s:%s",
		getEnv("TEST_REDIS_HOST", "localhost"),
		getEnv("TEST_REDIS_PORT", "6379"),
	))
	cfg.DialTimeout = time.Second
	cfg.Stream = "profiles:it:" + uuid.NewString()
	stream, err := redisstore.NewProfileStreamWithConfig(cfg)
	if err != nil {
		s.T().Skipf("Skipping integration tests: %v", err)
	}
	s.stream = stream

	s.group = "it"
	require.NoError(s.T(), stream.EnsureGroup(context.Background(), s.group))

	set := exporter.NewSet(resilience.DefaultCircuitBreakerConfig(),
		exporter.NewStoreExporter(store),
		exporter.NewRedisExporter(stream),
	)
	outputs, err := storage.NewLocalOutputStore(s.T().TempDir())
	require.NoError(s.T(), err)
	exec := executor.NewExecutor(&config.Config{NodeID: "it-node"},
		runner.NewShellRunner(runner.WithLogger(zap.NewNop())), outputs, set, coordination.NewLocal())

	s.server = NewServer(Config{
		Executor: exec,
		Store:    store,
		Outputs:  outputs,
		HealthChecks: map[string]func(context.Context) error{
			"postgres": store.Ping,
			"redis":    func(ctx context.Context) error { return stream.Client().Ping(ctx).Err() },
		},
	})
}

func (s *IntegrationTestSuite) TearDownSuite() {
	if s.server != nil {
		s.server.limiter.Stop()
	}
	if s.stream != nil {
		_ = s.stream.Client().Del(context.Background(), s.stream.Stream()).Err()
		s.stream.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
}

func (s *IntegrationTestSuite) post(path string, body any) *httptest.ResponseRecorder {
	buf, err := json.Marshal(body)
	require.NoError(s.T(), err)
	req := httptest.NewRequest("POST", path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(w, req)
	return w
}

func (s *IntegrationTestSuite) get(path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	return w
}

// TestProfileLifecycle covers run -> persisted -> published -> queried.
func (s *IntegrationTestSuite) TestProfileLifecycle() {
	ctx := context.Background()
	name := "it-" + uuid.NewString()[:8]

	// 1. Run through the API
	w := s.post("/api/v1/runs", gin.H{"name": name, "line": "echo integration; exit 5", "shell": true})
	require.Equal(s.T(), http.StatusOK, w.Code, w.Body.String())

	var resp RunResponse
	require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(s.T(), resp.Profile)
	assert.Equal(s.T(), models.ProfileFailed, resp.Profile.Status)
	assert.Empty(s.T(), resp.ExportErrors)

	// 2. Persisted in Postgres
	stored, err := s.store.GetProfile(ctx, resp.Profile.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 5, stored.ExitCode)
	assert.Equal(s.T(), "it-node", stored.NodeID)

	// 3. Published to the stream
	id, published, err := s.stream.Read(ctx, s.group, "it-consumer", time.Second)
	require.NoError(s.T(), err)
	require.NotNil(s.T(), published)
	assert.Equal(s.T(), resp.Profile.ID, published.ID)
	require.NoError(s.T(), s.stream.Ack(ctx, s.group, id))

	// 4. Queryable by name and listed as a failure
	w = s.get("/api/v1/profiles?name=" + name)
	require.Equal(s.T(), http.StatusOK, w.Code)
	assert.Contains(s.T(), w.Body.String(), resp.Profile.ID.String())

	w = s.get("/api/v1/failures?since=5m")
	require.Equal(s.T(), http.StatusOK, w.Code)
	assert.Contains(s.T(), w.Body.String(), resp.Profile.ID.String())

	// 5. Output retrievable
	w = s.get("/api/v1/profiles/" + resp.Profile.ID.String() + "/output")
	require.Equal(s.T(), http.StatusOK, w.Code)
	assert.Contains(s.T(), w.Body.String(), "integration")
}

func (s *IntegrationTestSuite) TestHealthCheck() {
	w := s.get("/health")
	assert.Equal(s.T(), http.StatusOK, w.Code, w.Body.String())
}

func TestIntegrationSuite(t *testing.T) {
	suite.Run(t, new(IntegrationTestSuite))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
