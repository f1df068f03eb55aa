package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profiler/pkg/errs"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg := LoadConfig()
	assert.Equal(t, "localhost", cfg.DBHost)
	assert.Equal(t, "8080", cfg.APIPort)
	assert.Equal(t, []string{"localhost:2379"}, cfg.EtcdEndpoints)
	assert.Equal(t, []string{"log", "store"}, cfg.Exporters)
	assert.Equal(t, 10*time.Second, cfg.SchedulerInterval)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_Env(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ETCD_ENDPOINTS", "a:2379, b:2379")
	t.Setenv("EXPORTERS", "log,redis")
	t.Setenv("DEFAULT_TIMEOUT", "30s")
	t.Setenv("DEFAULT_SAMPLE_RATE", "25")
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("LEADER_ELECTION_TTL", "not-a-number")

	cfg := LoadConfig()
	assert.Equal(t, []string{"a:2379", "b:2379"}, cfg.EtcdEndpoints)
	assert.Equal(t, []string{"log", "redis"}, cfg.Exporters)
	assert.Equal(t, 30*time.Second, cfg.DefaultTimeout)
	assert.Equal(t, 25.0, cfg.DefaultSampleRate)
	assert.True(t, cfg.AuthEnabled)
	assert.Equal(t, 15, cfg.LeaderElectionTTL)
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("API_PORT=9999\n"), 0o600))
	t.Chdir(dir)
	t.Cleanup(func() { os.Unsetenv("API_PORT") })

	cfg := LoadConfig()
	assert.Equal(t, "9999", cfg.APIPort)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		key    string
		kind   error
	}{
		{"storage backend", func(c *Config) { c.StorageBackend = "mongo" }, "STORAGE_BACKEND", errs.ErrConfiguration},
		{"s3 bucket", func(c *Config) { c.OutputBackend = "s3" }, "S3_BUCKET", errs.ErrConfiguration},
		{"output backend", func(c *Config) { c.OutputBackend = "ftp" }, "OUTPUT_BACKEND", errs.ErrConfiguration},
		{"exporter", func(c *Config) { c.Exporters = []string{"kafka"} }, "EXPORTERS", errs.ErrConfiguration},
		{"jwt secret", func(c *Config) { c.AuthEnabled = true; c.JWTSecret = "short" }, "JWT_SECRET", errs.ErrConfiguration},
		{"sample rate", func(c *Config) { c.DefaultSampleRate = -1 }, "DEFAULT_SAMPLE_RATE", errs.ErrSampling},
		{"tiny sample rate", func(c *Config) { c.DefaultSampleRate = 1e-10 }, "DEFAULT_SAMPLE_RATE", errs.ErrSampling},
		{"tracing rate", func(c *Config) { c.TracingSampleRate = 2 }, "TRACING_SAMPLE_RATE", errs.ErrSampling},
		{"heartbeat ttl", func(c *Config) { c.HeartbeatTTL = 0 }, "HEARTBEAT_TTL", errs.ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			cfg := LoadConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			assert.Equal(t, tt.key, errs.ContextOf(err)[errs.KeyConfigKey])
		})
	}
}

func TestConfig_Addresses(t *testing.T) {
	cfg := &Config{DBHost: "db", DBPort: "5432", DBUser: "u", DBPassword: "p", DBName: "n", RedisHost: "r", RedisPort: "6379"}
	assert.Equal(t, "host=db user=u password=p dbname=n port=5432 sslmode=disable TimeZone=UTC", cfg.DSN())
	assert.Equal(t, "r:6379", cfg.RedisAddr())
}
