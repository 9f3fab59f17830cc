package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/himanishpuri/mast/internal/config"
	"github.com/himanishpuri/mast/pkg/logger"
	"github.com/himanishpuri/mast/pkg/mast"
	"github.com/himanishpuri/mast/pkg/mast/audio"
)

func writeTone(t *testing.T, path string, freq float64) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	const sr = 22050
	samples := make([]float64, 2*sr)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/sr)
	}
	if err := audio.WriteWAV(path, samples, sr); err != nil {
		t.Fatal(err)
	}
}

func makeLibrary(t *testing.T) (ref, lib string) {
	t.Helper()
	lib = t.TempDir()
	ref = filepath.Join(lib, "ref.wav")
	writeTone(t, ref, 440)
	writeTone(t, filepath.Join(lib, "copy.wav"), 440)
	writeTone(t, filepath.Join(lib, "other.wav"), 2500)
	return ref, lib
}

// gatedDecoder holds every file except the reference until release is closed.
type gatedDecoder struct {
	audio.Decoder
	reference string
	release   chan struct{}
}

func (d *gatedDecoder) Decode(ctx context.Context, path string, opts audio.DecodeOptions) (*audio.Clip, error) {
	if filepath.Base(path) != filepath.Base(d.reference) {
		select {
		case <-d.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return d.Decoder.Decode(ctx, path, opts)
}

func newTestServer(t *testing.T, opts ...mast.Option) *httptest.Server {
	t.Helper()
	logger.SetLevel(logger.ERROR)

	base := []mast.Option{
		mast.WithDBPath(filepath.Join(t.TempDir(), "history.sqlite3")),
		mast.WithLogger(logger.Discard()),
		mast.WithWorkers(2),
	}
	svc, err := mast.NewService(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	settings := config.Default()
	settings.Threshold = 2
	server := NewServer(svc, &ServerConfig{
		Addr:           ":0",
		TempDir:        t.TempDir(),
		AllowedOrigins: []string{"*"},
		PollInterval:   10 * time.Millisecond,
		Settings:       settings,
	})
	server.log = logger.Discard()

	ts := httptest.NewServer(server.setupRoutes())
	t.Cleanup(func() {
		ts.Close()
		svc.Close()
	})
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	return v
}

func startSearch(t *testing.T, base string, body StartSearchRequest) string {
	t.Helper()
	resp := postJSON(t, base+"/api/search", body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}
	started := decode[StartSearchResponse](t, resp)
	if started.RunID == "" {
		t.Fatal("Expected a run ID")
	}
	return started.RunID
}

func waitForState(t *testing.T, base, id string, states ...string) SearchStatusResponse {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/api/search/" + id)
		if err != nil {
			t.Fatal(err)
		}
		status := decode[SearchStatusResponse](t, resp)
		for _, s := range states {
			if status.State == s {
				return status
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("Search %s never reached %v", id, states)
	return SearchStatusResponse{}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	health := decode[map[string]string](t, resp)
	if health["status"] != "healthy" {
		t.Errorf("Unexpected health %v", health)
	}

	resp, err = http.Get(ts.URL + "/debug/vars")
	if err != nil {
		t.Fatal(err)
	}
	vars := decode[map[string]any](t, resp)
	if _, ok := vars["searches_started_total"]; !ok {
		t.Errorf("Expected mast counters in /debug/vars, got keys %v", len(vars))
	}
}

func TestSearchLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ref, lib := makeLibrary(t)

	id := startSearch(t, ts.URL, StartSearchRequest{ReferencePath: ref, RootDir: lib})
	status := waitForState(t, ts.URL, id, "complete", "failed")
	if status.State != "complete" {
		t.Fatalf("Expected complete, got %+v", status)
	}
	if len(status.Results) != 2 || filepath.Base(status.Results[0].Path) != "copy.wav" {
		t.Fatalf("Unexpected results %+v", status.Results)
	}

	resp, err := http.Get(ts.URL + "/api/search/" + id + "/export")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "text/csv" {
		t.Fatalf("Unexpected export response %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	rows, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 || rows[1][2] != "copy.wav" {
		t.Errorf("Unexpected CSV %v", rows)
	}

	resp, err = http.Get(ts.URL + "/api/history?limit=5")
	if err != nil {
		t.Fatal(err)
	}
	history := decode[HistoryResponse](t, resp)
	if history.Count != 1 || history.Searches[0].ID != id {
		t.Errorf("Expected the run in history, got %+v", history)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/search/"+id, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 canceling a finished search, got %d", resp.StatusCode)
	}
}

func TestExportNothing(t *testing.T) {
	ts := newTestServer(t)
	ref := filepath.Join(t.TempDir(), "ref.wav")
	writeTone(t, ref, 440)
	lib := t.TempDir()
	writeTone(t, filepath.Join(lib, "other.wav"), 2500)

	threshold := 0.0
	id := startSearch(t, ts.URL, StartSearchRequest{ReferencePath: ref, RootDir: lib, Threshold: &threshold})
	status := waitForState(t, ts.URL, id, "complete", "failed")
	if status.State != "complete" || len(status.Results) != 0 {
		t.Fatalf("Expected a complete run with no results, got %+v", status)
	}

	resp, err := http.Get(ts.URL + "/api/search/" + id + "/export")
	if err != nil {
		t.Fatal(err)
	}
	body := decode[ErrorResponse](t, resp)
	if resp.StatusCode != http.StatusNotFound || body.Message != "nothing to export" {
		t.Errorf("Expected 404 nothing to export, got %d %+v", resp.StatusCode, body)
	}
}

func TestSearchConflictCancelAndEvents(t *testing.T) {
	ref, lib := makeLibrary(t)
	dec := &gatedDecoder{Decoder: audio.NewFileDecoder(), reference: ref, release: make(chan struct{})}
	ts := newTestServer(t, mast.WithDecoder(dec))

	id := startSearch(t, ts.URL, StartSearchRequest{ReferencePath: ref, RootDir: lib})

	resp := postJSON(t, ts.URL+"/api/search", StartSearchRequest{ReferencePath: ref, RootDir: lib})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 for a concurrent search, got %d", resp.StatusCode)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/search/" + id + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("WebSocket dial failed: %v", err)
	}
	defer conn.Close()

	var first ProgressEvent
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if first.Type != "progress" || first.RunID != id {
		t.Errorf("Unexpected first event %+v", first)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/search/"+id, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202 for cancel, got %d", resp.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	lastPercent := first.Percent
	for {
		var ev ProgressEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("Stream ended before the done event: %v", err)
		}
		if ev.Percent < lastPercent {
			t.Errorf("Progress went backwards: %d after %d", ev.Percent, lastPercent)
		}
		lastPercent = ev.Percent
		if ev.Type == "done" {
			if ev.State != "canceled" || len(ev.Results) != 0 {
				t.Errorf("Expected canceled with no results, got %+v", ev)
			}
			break
		}
	}

	status := waitForState(t, ts.URL, id, "canceled")
	if len(status.Results) != 0 {
		t.Errorf("Canceled search must not report results, got %+v", status.Results)
	}
}

func TestSearchBadRequests(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/search", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid JSON, got %d", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/search", StartSearchRequest{RootDir: t.TempDir()})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 without reference_path, got %d", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/search", StartSearchRequest{ReferencePath: "ref.wav", RootDir: t.TempDir(), Metric: "manhattan"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for an unknown metric, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/search/does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown ID, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/search")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET /api/search, got %d", resp.StatusCode)
	}
}

func TestAnalyzeJSONAndUpload(t *testing.T) {
	ts := newTestServer(t)
	path := filepath.Join(t.TempDir(), "a.wav")
	writeTone(t, path, 440)

	resp := postJSON(t, ts.URL+"/api/analyze", AnalyzeRequest{Path: path})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	got := decode[AnalyzeResponse](t, resp)
	if got.Analysis.Key != "A" || got.Metadata != nil {
		t.Errorf("Unexpected analysis %+v", got)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", "a.wav")
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	mw.Close()

	resp, err = http.Post(ts.URL+"/api/analyze", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 for upload, got %d", resp.StatusCode)
	}
	got = decode[AnalyzeResponse](t, resp)
	if got.Analysis.Key != "A" {
		t.Errorf("Unexpected upload analysis %+v", got)
	}

	resp = postJSON(t, ts.URL+"/api/analyze", AnalyzeRequest{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 without a path, got %d", resp.StatusCode)
	}
}

func TestMaster(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-master.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\ncp \"$1\" \"$3\"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	target := filepath.Join(dir, "mix.wav")
	reference := filepath.Join(dir, "ref.wav")
	writeTone(t, target, 440)
	writeTone(t, reference, 440)

	ts := newTestServer(t, mast.WithMasteringCommand(script))

	resp := postJSON(t, ts.URL+"/api/master", MasterRequest{TargetPath: target, ReferencePath: reference})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	got := decode[MasterResponse](t, resp)
	expected := filepath.Join(dir, "mix_mastered_to_ref.wav")
	if got.OutputPath != expected {
		t.Errorf("OutputPath = %q, want %q", got.OutputPath, expected)
	}
	if _, err := os.Stat(expected); err != nil {
		t.Errorf("Expected output file: %v", err)
	}

	resp = postJSON(t, ts.URL+"/api/master", MasterRequest{TargetPath: target, ReferencePath: reference, Format: "ogg"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for an unsupported format, got %d", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/master", MasterRequest{TargetPath: target})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 without a reference, got %d", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/search", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Unexpected preflight response %d %v", resp.StatusCode, resp.Header)
	}

	if originAllowed([]string{"http://a"}, "http://b") {
		t.Error("Expected http://b to be rejected")
	}
}
