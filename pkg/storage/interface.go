package storage

import (
	"context"
	"errors"
	"time"

	"profiler/pkg/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// DefaultListLimit applies when a filter asks for no limit.
const DefaultListLimit = 50

// ProfileFilter narrows ListProfiles. Zero values match everything.
type ProfileFilter struct {
	Name   string
	Status models.ProfileStatus
	Limit  int
	Offset int
}

// ProfileStore defines the data access layer for profiling runs.
type ProfileStore interface {
	// CreateProfile persists a finished run, assigning an ID if unset.
	CreateProfile(ctx context.Context, profile *models.Profile) error

	// GetProfile retrieves a run by ID.
	GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error)

	// ListProfiles returns runs newest first.
	ListProfiles(ctx context.Context, filter ProfileFilter) ([]models.Profile, error)

	// ListFailures returns non-successful runs completed since a given time.
	ListFailures(ctx context.Context, since time.Time, limit int) ([]models.Profile, error)
}

// IsFailure reports whether a status counts as a failed run.
func IsFailure(status models.ProfileStatus) bool {
	return status != models.ProfileSuccess
}
