package etcd

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profiler/pkg/coordination"
)

func newTestCoordinator(t *testing.T) *EtcdCoordinator {
	t.Helper()
	if testing.Short() || os.Getenv("SKIP_INTEGRATION_TESTS") == "true" {
		t.Skip("Skipping etcd integration test")
	}
	endpoints := strings.Split(getEnv("TEST_ETCD_ENDPOINTS", "localhost:2379"), ",")
	c, err := NewEtcdCoordinator(endpoints, 5)
	if err != nil {
		t.Skipf("Skipping etcd integration test: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestEtcdCoordinator_Nodes(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	id := "test-" + uuid.NewString()

	require.NoError(t, c.RegisterNode(ctx, coordination.NodeInfo{ID: id, CPUs: 8}, 5))

	nodes, err := c.GetActiveNodes(ctx)
	require.NoError(t, err)
	var found *coordination.NodeInfo
	for i := range nodes {
		if nodes[i].ID == id {
			found = &nodes[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, 8, found.CPUs)
	assert.False(t, found.LastSeen.IsZero())
}

func TestEtcdCoordinator_Election(t *testing.T) {
	c := newTestCoordinator(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	e := c.NewElection("test-" + uuid.NewString())
	_, err := e.Leader(ctx)
	assert.ErrorIs(t, err, coordination.ErrNoLeader)

	require.NoError(t, e.Campaign(ctx, "node-a"))
	leader, err := coordination.IsLeader(ctx, e, "node-a")
	require.NoError(t, err)
	assert.True(t, leader)

	require.NoError(t, e.Resign(ctx))
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
