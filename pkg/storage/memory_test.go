package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profiler/pkg/models"
)

func seed(t *testing.T, s *MemoryStore, name string, status models.ProfileStatus, started time.Time) *models.Profile {
	t.Helper()
	p := &models.Profile{Name: name, Status: status, StartedAt: started, CompletedAt: started.Add(time.Second)}
	require.NoError(t, s.CreateProfile(context.Background(), p))
	return p
}

func TestMemoryStore_CreateGet(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()

	p := seed(t, s, "a", models.ProfileSuccess, time.Now())
	assert.NotEqual(t, uuid.Nil, p.ID)

	got, err := s.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)

	got.Name = "mutated"
	again, _ := s.GetProfile(ctx, p.ID)
	assert.Equal(t, "a", again.Name, "returned profiles are copies")

	_, err = s.GetProfile(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.CreateProfile(ctx, &models.Profile{ID: p.ID}), ErrConflict)
}

func TestMemoryStore_ListProfiles(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	seed(t, s, "build", models.ProfileSuccess, base)
	seed(t, s, "build", models.ProfileFailed, base.Add(time.Minute))
	seed(t, s, "test", models.ProfileTimeout, base.Add(2*time.Minute))

	all, err := s.ListProfiles(ctx, ProfileFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "test", all[0].Name, "newest first")

	builds, _ := s.ListProfiles(ctx, ProfileFilter{Name: "build"})
	assert.Len(t, builds, 2)

	failed, _ := s.ListProfiles(ctx, ProfileFilter{Status: models.ProfileFailed})
	require.Len(t, failed, 1)
	assert.Equal(t, "build", failed[0].Name)

	page, _ := s.ListProfiles(ctx, ProfileFilter{Limit: 1, Offset: 1})
	require.Len(t, page, 1)
	assert.Equal(t, models.ProfileFailed, page[0].Status)

	empty, _ := s.ListProfiles(ctx, ProfileFilter{Offset: 10})
	assert.Empty(t, empty)
}

func TestMemoryStore_ListFailures(t *testing.T) {
	s := NewMemoryStore(0)
	now := time.Now()

	seed(t, s, "old", models.ProfileFailed, now.Add(-time.Hour))
	seed(t, s, "ok", models.ProfileSuccess, now)
	seed(t, s, "slow", models.ProfileTimeout, now)
	seed(t, s, "broken", models.ProfileError, now.Add(time.Second))

	failures, err := s.ListFailures(context.Background(), now.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, "broken", failures[0].Name)
	assert.Equal(t, "slow", failures[1].Name)
}

func TestMemoryStore_Capacity(t *testing.T) {
	s := NewMemoryStore(2)
	first := seed(t, s, "1", models.ProfileSuccess, time.Now())
	seed(t, s, "2", models.ProfileSuccess, time.Now())
	seed(t, s, "3", models.ProfileSuccess, time.Now())

	_, err := s.GetProfile(context.Background(), first.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	all, _ := s.ListProfiles(context.Background(), ProfileFilter{})
	assert.Len(t, all, 2)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	s := NewMemoryStore(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.CreateProfile(ctx, &models.Profile{}), context.Canceled)
}
