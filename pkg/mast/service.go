package mast

import (
	"context"
	"errors"
	"fmt"

	"github.com/himanishpuri/mast/internal/metrics"
	"github.com/himanishpuri/mast/pkg/logger"
	"github.com/himanishpuri/mast/pkg/mast/analyzer"
	"github.com/himanishpuri/mast/pkg/mast/audio"
	"github.com/himanishpuri/mast/pkg/mast/embedding"
	"github.com/himanishpuri/mast/pkg/mast/mastering"
	"github.com/himanishpuri/mast/pkg/mast/search"
	"github.com/himanishpuri/mast/pkg/models"
)

// ErrHistoryDisabled is returned by history calls when no store is configured.
var ErrHistoryDisabled = errors.New("mast: search history is disabled")

// mastService is the default implementation of the Service interface.
type mastService struct {
	storage      Storage
	log          Logger
	config       *Config
	decoder      audio.Decoder
	orchestrator *search.Orchestrator
	analyzer     *analyzer.Analyzer
	mastering    mastering.Service
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}
	if cfg.Decoder == nil {
		cfg.Decoder = audio.NewFileDecoder()
	}

	extractor, err := embedding.NewExtractor(cfg.Params, cfg.Decoder)
	if err != nil {
		return nil, fmt.Errorf("failed to create extractor: %w", err)
	}

	var stor Storage
	switch {
	case cfg.Storage != nil:
		stor = cfg.Storage
	case !cfg.DisableHistory:
		stor, err = NewSQLiteStorage(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
	}

	searchOpts := []search.Option{
		search.WithWorkers(cfg.Workers),
		search.WithProgressBuffer(cfg.ProgressBuffer),
		search.WithLogger(cfg.Logger),
	}
	if stor != nil {
		searchOpts = append(searchOpts, search.WithRecorder(historyRecorder{store: stor}))
	}

	master := cfg.Mastering
	if master == nil {
		cmd := mastering.NewCommandService(cfg.MasteringCommand...)
		if l, ok := cfg.Logger.(*logger.Logger); ok {
			cmd.Log = l
		}
		master = cmd
	}

	return &mastService{
		storage:      stor,
		log:          cfg.Logger,
		config:       cfg,
		decoder:      cfg.Decoder,
		orchestrator: search.New(extractor, searchOpts...),
		analyzer:     analyzer.New(cfg.Decoder),
		mastering:    master,
	}, nil
}

// StartSearch launches a similarity search in the background. Only one
// search runs at a time; a second call fails with search.ErrSearchInProgress.
func (s *mastService) StartSearch(ctx context.Context, req models.SearchRequest) (*search.Run, error) {
	return s.orchestrator.Start(ctx, req)
}

// Search runs a similarity search to completion.
func (s *mastService) Search(ctx context.Context, req models.SearchRequest, onProgress func(search.Progress)) (search.Outcome, error) {
	return s.orchestrator.Search(ctx, req, onProgress)
}

func (s *mastService) ActiveSearch() *search.Run {
	return s.orchestrator.Active()
}

// Analyze computes tempo, key, loudness and spectral features of one file.
func (s *mastService) Analyze(ctx context.Context, path string) (*analyzer.Analysis, error) {
	s.log.Infof("Analyzing %s", path)
	metrics.AnalysesTotal.Add(1)
	res, err := s.analyzer.Analyze(ctx, path)
	if err != nil {
		return nil, err
	}
	s.log.Infof("Analysis of %s: %.1f BPM, %s %s", path, res.BPM, res.Key, res.Scale)
	return res, nil
}

func (s *mastService) Metadata(ctx context.Context, path string) (*audio.Metadata, error) {
	return audio.ReadMetadata(ctx, path)
}

// RenderSpectrogram writes a PNG spectrogram of path to out.
func (s *mastService) RenderSpectrogram(ctx context.Context, path, out string, width, height int) error {
	clip, err := s.decoder.Decode(ctx, path, audio.DecodeOptions{SampleRate: analyzer.DefaultSampleRate})
	if err != nil {
		return fmt.Errorf("%w: %w", analyzer.ErrAnalysis, err)
	}
	return analyzer.RenderSpectrogram(clip.Samples, clip.SampleRate, width, height, out)
}

func (s *mastService) Master(ctx context.Context, req mastering.Request) error {
	return s.mastering.Master(ctx, req)
}

func (s *mastService) History(ctx context.Context, limit int) ([]models.SearchRecord, error) {
	if s.storage == nil {
		return nil, ErrHistoryDisabled
	}
	return s.storage.ListSearches(ctx, limit)
}

func (s *mastService) GetSearch(ctx context.Context, id string) (*models.SearchRecord, error) {
	if s.storage == nil {
		return nil, ErrHistoryDisabled
	}
	return s.storage.GetSearch(ctx, id)
}

func (s *mastService) DeleteSearch(ctx context.Context, id string) error {
	if s.storage == nil {
		return ErrHistoryDisabled
	}
	return s.storage.DeleteSearch(ctx, id)
}

// Close cancels any active search and releases the history store.
func (s *mastService) Close() error {
	if run := s.orchestrator.Active(); run != nil {
		run.Cancel()
		<-run.Done()
	}
	if s.storage == nil {
		return nil
	}
	return s.storage.Close()
}
