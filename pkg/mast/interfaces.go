package mast

import (
	"context"

	"github.com/himanishpuri/mast/pkg/mast/analyzer"
	"github.com/himanishpuri/mast/pkg/mast/audio"
	"github.com/himanishpuri/mast/pkg/mast/mastering"
	"github.com/himanishpuri/mast/pkg/mast/search"
	"github.com/himanishpuri/mast/pkg/models"
)

type Service interface {
	StartSearch(ctx context.Context, req models.SearchRequest) (*search.Run, error)
	Search(ctx context.Context, req models.SearchRequest, onProgress func(search.Progress)) (search.Outcome, error)
	ActiveSearch() *search.Run
	Analyze(ctx context.Context, path string) (*analyzer.Analysis, error)
	Metadata(ctx context.Context, path string) (*audio.Metadata, error)
	RenderSpectrogram(ctx context.Context, path, out string, width, height int) error
	Master(ctx context.Context, req mastering.Request) error
	History(ctx context.Context, limit int) ([]models.SearchRecord, error)
	GetSearch(ctx context.Context, id string) (*models.SearchRecord, error)
	DeleteSearch(ctx context.Context, id string) error
	Close() error
}

type Storage interface {
	SaveSearch(ctx context.Context, rec models.SearchRecord) (string, error)
	GetSearch(ctx context.Context, id string) (*models.SearchRecord, error)
	ListSearches(ctx context.Context, limit int) ([]models.SearchRecord, error)
	DeleteSearch(ctx context.Context, id string) error
	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
