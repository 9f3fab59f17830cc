package main

import (
	"fmt"
	"time"

	"github.com/himanishpuri/mast/pkg/mast/audio"
	"github.com/himanishpuri/mast/pkg/mast/search"
	"github.com/himanishpuri/mast/pkg/models"
)

// StartSearchRequest is the request body for POST /api/search. Omitted
// fields fall back to the server settings.
type StartSearchRequest struct {
	ReferencePath string   `json:"reference_path"`
	RootDir       string   `json:"root_dir,omitempty"`
	Threshold     *float64 `json:"threshold,omitempty"`
	MaxResults    *int     `json:"max_results,omitempty"`
	Metric        string   `json:"metric,omitempty"`
}

// Validate checks if the request is valid
func (r *StartSearchRequest) Validate() error {
	if r.ReferencePath == "" {
		return fmt.Errorf("reference_path is required")
	}
	return nil
}

// StartSearchResponse is returned with 202 Accepted
type StartSearchResponse struct {
	RunID string       `json:"run_id"`
	State search.State `json:"state"`
}

// SearchStatusResponse is the response for GET /api/search/{id}
type SearchStatusResponse struct {
	RunID     string               `json:"run_id"`
	State     string               `json:"state"`
	Percent   int                  `json:"percent"`
	Processed int                  `json:"processed"`
	Total     int                  `json:"total"`
	Skipped   int                  `json:"skipped"`
	Request   models.SearchRequest `json:"request"`
	Results   []models.Match       `json:"results"`
	Error     string               `json:"error,omitempty"`
	StartedAt time.Time            `json:"started_at"`
}

// ProgressEvent is one WebSocket message on /api/search/{id}/events
type ProgressEvent struct {
	Type      string         `json:"type"` // "progress" or "done"
	RunID     string         `json:"run_id"`
	State     string         `json:"state"`
	Percent   int            `json:"percent"`
	Processed int            `json:"processed"`
	Total     int            `json:"total"`
	Results   []models.Match `json:"results,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// AnalyzeRequest is the JSON body for POST /api/analyze
type AnalyzeRequest struct {
	Path     string `json:"path"`
	Metadata bool   `json:"metadata"`
}

// AnalyzeResponse is the response for POST /api/analyze
type AnalyzeResponse struct {
	Analysis models.AnalysisSummary `json:"analysis"`
	Metadata *audio.Metadata        `json:"metadata,omitempty"`
}

// MasterRequest is the request body for POST /api/master
type MasterRequest struct {
	TargetPath    string `json:"target_path"`
	ReferencePath string `json:"reference_path"`
	OutputPath    string `json:"output_path,omitempty"`
	OutputDir     string `json:"output_dir,omitempty"`
	Pattern       string `json:"pattern,omitempty"`
	Format        string `json:"format,omitempty"`
	Subtype       string `json:"subtype,omitempty"`
	Bitrate       string `json:"bitrate,omitempty"`
}

// Validate checks if the request is valid
func (r *MasterRequest) Validate() error {
	if r.TargetPath == "" || r.ReferencePath == "" {
		return fmt.Errorf("target_path and reference_path are required")
	}
	return nil
}

// MasterResponse is the response for a finished mastering job
type MasterResponse struct {
	Message    string  `json:"message"`
	OutputPath string  `json:"output_path"`
	Seconds    float64 `json:"seconds"`
}

// HistoryResponse is the response for GET /api/history
type HistoryResponse struct {
	Searches []models.SearchRecord `json:"searches"`
	Count    int                   `json:"count"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
