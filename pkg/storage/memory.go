package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"profiler/pkg/models"
)

// MemoryStore keeps profiles in process memory, for single-node and
// development use. It keeps at most Capacity profiles, dropping the oldest.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[uuid.UUID]models.Profile
	order    []uuid.UUID
	capacity int
}

var _ ProfileStore = (*MemoryStore)(nil)

// NewMemoryStore creates a store. capacity <= 0 means unbounded.
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{
		profiles: make(map[uuid.UUID]models.Profile),
		capacity: capacity,
	}
}

func (m *MemoryStore) CreateProfile(ctx context.Context, profile *models.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.profiles[profile.ID]; exists {
		return ErrConflict
	}
	m.profiles[profile.ID] = *profile
	m.order = append(m.order, profile.ID)

	if m.capacity > 0 && len(m.order) > m.capacity {
		evict := m.order[0]
		m.order = m.order[1:]
		delete(m.profiles, evict)
	}
	return nil
}

func (m *MemoryStore) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) ListProfiles(ctx context.Context, filter ProfileFilter) ([]models.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.collect(filter.Limit, filter.Offset, func(p models.Profile) bool {
		if filter.Name != "" && p.Name != filter.Name {
			return false
		}
		return filter.Status == "" || p.Status == filter.Status
	}, func(p models.Profile) time.Time { return p.StartedAt }), nil
}

func (m *MemoryStore) ListFailures(ctx context.Context, since time.Time, limit int) ([]models.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.collect(limit, 0, func(p models.Profile) bool {
		return IsFailure(p.Status) && !p.CompletedAt.Before(since)
	}, func(p models.Profile) time.Time { return p.CompletedAt }), nil
}

// collect returns matching profiles sorted newest first by key.
func (m *MemoryStore) collect(limit, offset int, match func(models.Profile) bool, key func(models.Profile) time.Time) []models.Profile {
	m.mu.RLock()
	out := make([]models.Profile, 0)
	for _, p := range m.profiles {
		if match(p) {
			out = append(out, p)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return key(out[i]).After(key(out[j]))
	})

	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset >= len(out) {
		return []models.Profile{}
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
