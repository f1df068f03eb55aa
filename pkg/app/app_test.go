package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "profiler/configs"
	"profiler/pkg/coordination"
	"profiler/pkg/errs"
	"profiler/pkg/models"
	"profiler/pkg/storage"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		StorageBackend:    "memory",
		OutputBackend:     "local",
		OutputDir:         t.TempDir(),
		Exporters:         []string{"store"},
		NodeID:            "app-test",
		HeartbeatTTL:      15,
		SchedulerInterval: 1,
		TracingSampleRate: 1,
	}
}

func TestNew_Memory(t *testing.T) {
	cfg := memoryConfig(t)
	a, err := New(context.Background(), cfg, Options{Coordination: true})
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &storage.MemoryStore{}, a.Store)
	assert.IsType(t, &storage.LocalOutputStore{}, a.Outputs)
	assert.IsType(t, &coordination.Local{}, a.Coordinator, "no etcd endpoints")
	assert.Nil(t, a.Stream)
	assert.Equal(t, []string{"store"}, a.Exporters.Names())
	assert.Empty(t, a.Checks)

	p, err := a.Executor.Execute(context.Background(), models.ProfileRequest{Command: []string{"echo", "wired"}})
	require.NoError(t, err)
	_, err = a.Store.GetProfile(context.Background(), p.ID)
	assert.NoError(t, err)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Exporters = []string{"carrier-pigeon"}

	_, err := New(context.Background(), cfg, Options{})
	assert.ErrorIs(t, err, errs.ErrConfiguration)
	assert.Equal(t, "carrier-pigeon", errs.ContextOf(err)[errs.KeyExporterName])
}

func TestNew_NoOutputBackend(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.OutputBackend = ""

	a, err := New(context.Background(), cfg, Options{})
	require.NoError(t, err)
	assert.Nil(t, a.Outputs)
	assert.Nil(t, a.Coordinator)
	assert.NoError(t, a.Close())
}

func TestInitObservability(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.LogLevel, cfg.LogFormat, cfg.LogOutput = "debug", "console", "stderr"

	p, err := InitObservability(context.Background(), cfg, "profiler-test")
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))
}
