package mast

import (
	"context"

	"github.com/himanishpuri/mast/pkg/mast/storage"
	"github.com/himanishpuri/mast/pkg/models"
)

// storageAdapter adapts storage.DBClient to the Storage interface.
type storageAdapter struct {
	db *storage.DBClient
}

// NewSQLiteStorage opens (or creates) the history database at dbPath.
func NewSQLiteStorage(dbPath string) (Storage, error) {
	db, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		return nil, err
	}
	return &storageAdapter{db: db}, nil
}

func (s *storageAdapter) SaveSearch(ctx context.Context, rec models.SearchRecord) (string, error) {
	return s.db.SaveSearch(ctx, rec)
}

func (s *storageAdapter) GetSearch(ctx context.Context, id string) (*models.SearchRecord, error) {
	return s.db.GetSearch(ctx, id)
}

func (s *storageAdapter) ListSearches(ctx context.Context, limit int) ([]models.SearchRecord, error) {
	return s.db.ListSearches(ctx, limit)
}

func (s *storageAdapter) DeleteSearch(ctx context.Context, id string) error {
	return s.db.DeleteSearch(ctx, id)
}

func (s *storageAdapter) Close() error {
	return s.db.Close()
}

// historyRecorder lets the orchestrator write finished runs to Storage.
type historyRecorder struct {
	store Storage
}

func (r historyRecorder) Record(ctx context.Context, rec models.SearchRecord) error {
	_, err := r.store.SaveSearch(ctx, rec)
	return err
}
