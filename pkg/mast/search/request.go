package search

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/himanishpuri/mast/pkg/mast/similarity"
	"github.com/himanishpuri/mast/pkg/models"
)

const (
	DefaultThreshold  = 0.5
	DefaultMaxResults = 50
)

var (
	ErrSearchInProgress = errors.New("search: a search is already running")
	ErrInvalidRequest   = errors.New("search: invalid request")
	ErrReferenceFailure = errors.New("search: reference track could not be processed")
	ErrOrchestration    = errors.New("search: library scan failed")
)

// NewRequest returns a request with the default threshold, result limit and
// metric.
func NewRequest(referencePath, rootDir string) models.SearchRequest {
	return models.SearchRequest{
		ReferencePath: referencePath,
		RootDir:       rootDir,
		Threshold:     DefaultThreshold,
		MaxResults:    DefaultMaxResults,
		Metric:        similarity.Cosine.String(),
	}
}

// Normalize validates req and returns a copy with absolute paths, a
// canonical metric name, and MaxResults defaulted when zero.
func Normalize(req models.SearchRequest) (models.SearchRequest, error) {
	if strings.TrimSpace(req.ReferencePath) == "" {
		return req, fmt.Errorf("%w: reference path is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.RootDir) == "" {
		return req, fmt.Errorf("%w: library directory is required", ErrInvalidRequest)
	}
	if math.IsNaN(req.Threshold) || req.Threshold < 0 {
		return req, fmt.Errorf("%w: threshold must be >= 0, got %v", ErrInvalidRequest, req.Threshold)
	}
	if req.MaxResults < 0 {
		return req, fmt.Errorf("%w: max results must be positive, got %d", ErrInvalidRequest, req.MaxResults)
	}
	if req.MaxResults == 0 {
		req.MaxResults = DefaultMaxResults
	}

	metric, err := similarity.ParseMetric(req.Metric)
	if err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req.Metric = metric.String()

	if req.ReferencePath, err = filepath.Abs(req.ReferencePath); err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.RootDir, err = filepath.Abs(req.RootDir); err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return req, nil
}
