package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"profiler/pkg/models"
	"profiler/pkg/storage"
)

type PostgresStore struct {
	db *gorm.DB
}

var _ storage.ProfileStore = (*PostgresStore)(nil)

// NewPostgresStore initializes GORM connection and AutoMigrates schemas.
func NewPostgresStore(connString string) (*PostgresStore, error) {
	config := &gorm.Config{
		Logger:      gormlogger.Default.LogMode(gormlogger.Warn),
		PrepareStmt: true,
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&models.Profile{}); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// CreateProfile persists a finished run.
func (s *PostgresStore) CreateProfile(ctx context.Context, profile *models.Profile) error {
	result := s.db.WithContext(ctx).Create(profile)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return storage.ErrConflict
		}
		return fmt.Errorf("failed to create profile: %w", result.Error)
	}
	return nil
}

// GetProfile retrieves a run by ID.
func (s *PostgresStore) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	var profile models.Profile
	result := s.db.WithContext(ctx).First(&profile, "id = ?", id)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &profile, nil
}

// ListProfiles returns runs newest first.
func (s *PostgresStore) ListProfiles(ctx context.Context, filter storage.ProfileFilter) ([]models.Profile, error) {
	var profiles []models.Profile

	query := s.db.WithContext(ctx).Model(&models.Profile{})
	if filter.Name != "" {
		query = query.Where("name = ?", filter.Name)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	result := query.
		Order("started_at desc").
		Limit(limit).
		Offset(filter.Offset).
		Find(&profiles)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", result.Error)
	}
	return profiles, nil
}

// ListFailures returns non-successful runs completed since a given time.
func (s *PostgresStore) ListFailures(ctx context.Context, since time.Time, limit int) ([]models.Profile, error) {
	var profiles []models.Profile
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	result := s.db.WithContext(ctx).
		Where("status <> ?", models.ProfileSuccess).
		Where("completed_at >= ?", since).
		Order("completed_at desc").
		Limit(limit).
		Find(&profiles)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to list recent failures: %w", result.Error)
	}
	return profiles, nil
}
