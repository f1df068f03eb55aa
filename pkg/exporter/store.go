package exporter

import (
	"context"

	"profiler/pkg/models"
	"profiler/pkg/storage"
)

// StoreExporter persists profiles in a ProfileStore.
type StoreExporter struct {
	store storage.ProfileStore
}

func NewStoreExporter(store storage.ProfileStore) *StoreExporter {
	return &StoreExporter{store: store}
}

func (e *StoreExporter) Name() string { return "store" }

func (e *StoreExporter) Export(ctx context.Context, p *models.Profile) error {
	return e.store.CreateProfile(ctx, p)
}
