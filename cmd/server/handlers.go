package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/himanishpuri/mast/internal/config"
	"github.com/himanishpuri/mast/internal/metrics"
	"github.com/himanishpuri/mast/pkg/logger"
	"github.com/himanishpuri/mast/pkg/mast"
	"github.com/himanishpuri/mast/pkg/mast/mastering"
	"github.com/himanishpuri/mast/pkg/mast/ranking"
	"github.com/himanishpuri/mast/pkg/mast/search"
	"github.com/himanishpuri/mast/pkg/mast/storage"
	"github.com/himanishpuri/mast/pkg/models"
	"github.com/himanishpuri/mast/pkg/utils"
)

// maxTrackedRuns bounds the in-memory run registry; older finished runs are
// still served from history.
const maxTrackedRuns = 32

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service  mast.Service
	config   *ServerConfig
	log      mast.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	runs  map[string]*search.Run
	order []string
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Addr           string
	DBPath         string
	TempDir        string
	AllowedOrigins []string
	PollInterval   time.Duration
	Settings       config.Settings
}

// NewServer creates a new server instance
func NewServer(service mast.Service, cfg *ServerConfig) *Server {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &Server{
		service: service,
		config:  cfg,
		log:     logger.GetLogger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return originAllowed(cfg.AllowedOrigins, r.Header.Get("Origin")) },
		},
		runs: make(map[string]*search.Run),
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	metrics.APIErrorsTotal.Add(1)
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "MAST API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":       "GET /health",
			"metrics":      "GET /debug/vars",
			"startSearch":  "POST /api/search",
			"getSearch":    "GET /api/search/{id}",
			"searchEvents": "GET /api/search/{id}/events",
			"exportSearch": "GET /api/search/{id}/export",
			"cancelSearch": "DELETE /api/search/{id}",
			"analyze":      "POST /api/analyze",
			"master":       "POST /api/master",
			"history":      "GET /api/history",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	}
	if run := s.service.ActiveSearch(); run != nil {
		status["active_search"] = run.ID()
	}
	s.respondJSON(w, http.StatusOK, status)
}

// handleMetrics serves the expvar counters
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	expvar.Handler().ServeHTTP(w, r)
}

// handleSearches handles POST /api/search
func (s *Server) handleSearches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var body StartSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := body.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := s.searchRequest(body)
	// The run outlives this request; it is canceled through DELETE.
	run, err := s.service.StartSearch(context.Background(), req)
	switch {
	case errors.Is(err, search.ErrSearchInProgress):
		s.respondError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, search.ErrInvalidRequest):
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.log.Errorf("Failed to start search: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to start search")
		return
	}

	s.track(run)
	s.log.Infof("Started search %s for %s in %s", run.ID(), req.ReferencePath, req.RootDir)
	s.respondJSON(w, http.StatusAccepted, StartSearchResponse{RunID: run.ID(), State: run.State()})
}

func (s *Server) searchRequest(body StartSearchRequest) models.SearchRequest {
	st := s.config.Settings
	req := search.NewRequest(body.ReferencePath, st.DefaultDirectory)
	if body.RootDir != "" {
		req.RootDir = body.RootDir
	}
	req.Threshold = st.Threshold
	req.MaxResults = st.MaxResults
	req.Metric = st.Metric
	if body.Threshold != nil {
		req.Threshold = *body.Threshold
	}
	if body.MaxResults != nil {
		req.MaxResults = *body.MaxResults
	}
	if body.Metric != "" {
		req.Metric = body.Metric
	}
	return req
}

// handleSearch routes /api/search/{id}[/events|/export]
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/search/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "Search ID is required")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.handleGetSearch(w, r, id)
	case action == "" && r.Method == http.MethodDelete:
		s.handleCancelSearch(w, r, id)
	case action == "events" && r.Method == http.MethodGet:
		s.handleSearchEvents(w, r, id)
	case action == "export" && r.Method == http.MethodGet:
		s.handleExport(w, r, id)
	case action == "" || action == "events" || action == "export":
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	default:
		http.NotFound(w, r)
	}
}

// handleGetSearch handles GET /api/search/{id}
func (s *Server) handleGetSearch(w http.ResponseWriter, r *http.Request, id string) {
	if run := s.lookup(id); run != nil {
		s.respondJSON(w, http.StatusOK, runStatus(run))
		return
	}

	rec, err := s.service.GetSearch(r.Context(), id)
	if err != nil {
		s.respondLookupError(w, id, err)
		return
	}
	s.respondJSON(w, http.StatusOK, recordStatus(rec))
}

// handleCancelSearch handles DELETE /api/search/{id}
func (s *Server) handleCancelSearch(w http.ResponseWriter, r *http.Request, id string) {
	run := s.lookup(id)
	if run == nil {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("No running search with ID %s", id))
		return
	}
	if run.State().Terminal() {
		s.respondError(w, http.StatusConflict, fmt.Sprintf("Search %s already finished", id))
		return
	}

	run.Cancel()
	s.log.Infof("Cancel requested for search %s", id)
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"message": "Cancellation requested",
		"run_id":  id,
	})
}

// handleSearchEvents handles GET /api/search/{id}/events.
// Each subscriber polls the run snapshot, so any number of clients can watch
// the same run.
func (s *Server) handleSearchEvents(w http.ResponseWriter, r *http.Request, id string) {
	run := s.lookup(id)
	if run == nil {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("No tracked search with ID %s", id))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("WebSocket upgrade failed for %s: %v", id, err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	var last search.Progress
	sent := false
	for {
		snap := run.Snapshot()
		if !sent || snap != last {
			if err := conn.WriteJSON(progressEvent(snap)); err != nil {
				return
			}
			last, sent = snap, true
		}

		select {
		case <-run.Done():
			out, _ := run.Outcome()
			done := progressEvent(run.Snapshot())
			done.Type = "done"
			done.State = out.State.String()
			done.Results = out.Results
			if out.Err != nil {
				done.Error = out.Err.Error()
			}
			if err := conn.WriteJSON(done); err != nil {
				return
			}
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, out.State.String())
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// handleExport handles GET /api/search/{id}/export
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, id string) {
	var (
		reference string
		results   []models.Match
	)
	if run := s.lookup(id); run != nil {
		out, done := run.Outcome()
		if !done {
			s.respondError(w, http.StatusConflict, "Search is still running")
			return
		}
		reference, results = out.Request.ReferencePath, out.Results
	} else {
		rec, err := s.service.GetSearch(r.Context(), id)
		if err != nil {
			s.respondLookupError(w, id, err)
			return
		}
		reference, results = rec.Request.ReferencePath, rec.Results
	}

	if len(results) == 0 {
		s.respondError(w, http.StatusNotFound, "nothing to export")
		return
	}

	var buf bytes.Buffer
	if err := ranking.WriteCSV(&buf, reference, results); err != nil {
		s.log.Errorf("Failed to write CSV for %s: %v", id, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to export results")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ranking.DefaultExportName(time.Now())))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// handleHistory handles GET /api/history
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	recs, err := s.service.History(r.Context(), limit)
	if err != nil {
		if errors.Is(err, mast.ErrHistoryDisabled) {
			s.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		s.log.Errorf("Failed to list history: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve history")
		return
	}
	if recs == nil {
		recs = []models.SearchRecord{}
	}
	s.respondJSON(w, http.StatusOK, HistoryResponse{Searches: recs, Count: len(recs)})
}

// handleAnalyze handles POST /api/analyze. The track is either a JSON
// {"path": ...} body or a multipart upload in the "audio" field.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req AnalyzeRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		path, cleanup, err := s.saveUpload(r)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		defer cleanup()
		req.Path = path
		req.Metadata = r.FormValue("metadata") == "true"
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if req.Path == "" {
			s.respondError(w, http.StatusBadRequest, "path is required")
			return
		}
	}

	res, err := s.service.Analyze(r.Context(), req.Path)
	if err != nil {
		s.log.Errorf("Failed to analyze %s: %v", req.Path, err)
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	resp := AnalyzeResponse{Analysis: res.Summary()}
	if req.Metadata {
		md, err := s.service.Metadata(r.Context(), req.Path)
		if err != nil {
			s.log.Warnf("Metadata unavailable for %s: %v", req.Path, err)
		} else {
			resp.Metadata = md
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// saveUpload copies the "audio" form file into the temp directory.
func (s *Server) saveUpload(r *http.Request) (string, func(), error) {
	if err := r.ParseMultipartForm(100 << 20); err != nil {
		return "", nil, fmt.Errorf("failed to parse form data")
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		return "", nil, fmt.Errorf("audio file is required")
	}
	defer file.Close()

	tempFile := filepath.Join(s.config.TempDir, fmt.Sprintf("upload_%d%s", time.Now().UnixNano(), filepath.Ext(header.Filename)))
	if err := utils.MakeDir(filepath.Dir(tempFile)); err != nil {
		return "", nil, err
	}
	out, err := os.Create(tempFile)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file")
	}
	defer out.Close()

	if _, err := io.Copy(out, file); err != nil {
		os.Remove(tempFile)
		return "", nil, fmt.Errorf("failed to save uploaded file")
	}
	return tempFile, func() { os.Remove(tempFile) }, nil
}

// handleMaster handles POST /api/master
func (s *Server) handleMaster(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var body MasterRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := body.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := s.masterRequest(body)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	if err := s.service.Master(r.Context(), req); err != nil {
		s.log.Errorf("Mastering %s failed: %v", req.TargetPath, err)
		status := http.StatusInternalServerError
		if errors.Is(err, mastering.ErrMastering) {
			status = http.StatusUnprocessableEntity
		}
		s.respondError(w, status, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, MasterResponse{
		Message:    "Mastering completed",
		OutputPath: req.OutputPath,
		Seconds:    time.Since(start).Seconds(),
	})
}

func (s *Server) masterRequest(body MasterRequest) (mastering.Request, error) {
	st := s.config.Settings
	pick := func(v, def string) string {
		if v != "" {
			return v
		}
		return def
	}

	format, err := mastering.ParseFormat(pick(body.Format, st.DefaultFormat))
	if err != nil {
		return mastering.Request{}, err
	}
	req := mastering.Request{
		TargetPath:    body.TargetPath,
		ReferencePath: body.ReferencePath,
		OutputPath:    body.OutputPath,
		Format:        format,
	}
	if format == mastering.MP3 {
		req.Bitrate = pick(body.Bitrate, st.DefaultBitrate)
	} else {
		req.Subtype = pick(body.Subtype, st.DefaultSubtype)
	}

	if req.OutputPath == "" {
		req.OutputPath, err = mastering.OutputPath(
			pick(body.Pattern, st.NamingPattern),
			body.TargetPath, body.ReferencePath,
			pick(body.OutputDir, st.OutputDirectory),
			format, time.Now(),
		)
		if err != nil {
			return mastering.Request{}, err
		}
	}
	return req.Normalize()
}

func (s *Server) respondLookupError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, mast.ErrHistoryDisabled):
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("Search with ID %s not found", id))
	default:
		s.log.Errorf("Failed to get search %s: %v", id, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve search")
	}
}

// track remembers run so status, events and export work before and after
// it is recorded in history.
func (s *Server) track(run *search.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID()] = run
	s.order = append(s.order, run.ID())
	for len(s.order) > maxTrackedRuns {
		old := s.order[0]
		if r := s.runs[old]; r != nil && !r.State().Terminal() {
			break
		}
		delete(s.runs, old)
		s.order = s.order[1:]
	}
}

func (s *Server) lookup(id string) *search.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id]
}

func progressEvent(p search.Progress) ProgressEvent {
	return ProgressEvent{
		Type:      "progress",
		RunID:     p.RunID,
		State:     p.State.String(),
		Percent:   p.Percent,
		Processed: p.Processed,
		Total:     p.Total,
	}
}

func runStatus(run *search.Run) SearchStatusResponse {
	// The state turns terminal just before the outcome is published.
	if run.State().Terminal() {
		<-run.Done()
	}
	snap := run.Snapshot()
	resp := SearchStatusResponse{
		RunID:     run.ID(),
		State:     run.State().String(),
		Percent:   snap.Percent,
		Processed: snap.Processed,
		Total:     snap.Total,
		Request:   run.Request(),
		Results:   []models.Match{},
	}
	if out, done := run.Outcome(); done {
		resp.State = out.State.String()
		resp.Skipped = out.Skipped
		resp.StartedAt = out.StartedAt
		if out.Results != nil {
			resp.Results = out.Results
		}
		if out.Err != nil {
			resp.Error = out.Err.Error()
		}
	}
	return resp
}

func recordStatus(rec *models.SearchRecord) SearchStatusResponse {
	resp := SearchStatusResponse{
		RunID:     rec.ID,
		State:     rec.State,
		Percent:   100,
		Processed: rec.Processed,
		Total:     rec.Processed,
		Skipped:   rec.Skipped,
		Request:   rec.Request,
		Results:   rec.Results,
		Error:     rec.Error,
		StartedAt: rec.StartedAt,
	}
	if resp.Results == nil {
		resp.Results = []models.Match{}
	}
	return resp
}
