package search

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/himanishpuri/mast/pkg/logger"
	"github.com/himanishpuri/mast/pkg/mast/audio"
	"github.com/himanishpuri/mast/pkg/mast/embedding"
	"github.com/himanishpuri/mast/pkg/models"
)

// fakeExtractor serves fixed vectors keyed by file base name.
type fakeExtractor struct {
	vectors map[string][]float64
	gate    chan struct{} // when set, every Extract waits for it to close

	mu    sync.Mutex
	calls []string
}

func (f *fakeExtractor) Extract(ctx context.Context, path string) (*embedding.Embedding, error) {
	f.mu.Lock()
	f.calls = append(f.calls, filepath.Base(path))
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	v, ok := f.vectors[filepath.Base(path)]
	if !ok {
		return nil, audio.ErrDecode
	}
	return &embedding.Embedding{Vector: v, Params: embedding.DefaultParams()}, nil
}

func (f *fakeExtractor) called(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == name {
			return true
		}
	}
	return false
}

type memRecorder struct {
	mu      sync.Mutex
	records []models.SearchRecord
}

func (m *memRecorder) Record(ctx context.Context, rec models.SearchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// angle returns the unit vector at deg degrees; its cosine distance to
// angle(0) is 1-cos(deg).
func angle(deg float64) []float64 {
	r := deg * math.Pi / 180
	return []float64{math.Cos(r), math.Sin(r)}
}

func setupLibrary(t *testing.T, names ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, name := range names {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("stub"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func newTestOrchestrator(ext Extractor, opts ...Option) *Orchestrator {
	opts = append([]Option{WithLogger(logger.Discard())}, opts...)
	return New(ext, opts...)
}

func collect(t *testing.T, o *Orchestrator, req models.SearchRequest) (Outcome, []Progress, error) {
	t.Helper()
	var events []Progress
	out, err := o.Search(context.Background(), req, func(p Progress) {
		events = append(events, p)
	})
	return out, events, err
}

func assertMonotonic(t *testing.T, events []Progress) {
	t.Helper()
	terminal := 0
	for i, p := range events {
		if i > 0 && p.Percent < events[i-1].Percent {
			t.Errorf("Progress decreased at event %d: %d -> %d", i, events[i-1].Percent, p.Percent)
		}
		if p.State.Terminal() {
			terminal++
			if i != len(events)-1 {
				t.Errorf("Terminal event at position %d is not last", i)
			}
		}
	}
	if terminal != 1 {
		t.Errorf("Expected exactly one terminal event, got %d", terminal)
	}
}

func TestSearchRanksAndFilters(t *testing.T) {
	root := setupLibrary(t, "ref.wav", "a.mp3", "b.flac", "sub/c.ogg", "sub/d.wav", "e.m4a")
	ext := &fakeExtractor{vectors: map[string][]float64{
		"ref.wav": angle(0),
		"a.mp3":   angle(10), // 0.0152
		"b.flac":  angle(70), // 0.658, above threshold
		"c.ogg":   angle(90), // 1.0, above threshold
		"d.wav":   angle(30), // 0.134
		"e.m4a":   angle(5),  // 0.0038
	}}
	rec := &memRecorder{}
	o := newTestOrchestrator(ext, WithRecorder(rec))

	req := NewRequest(filepath.Join(root, "ref.wav"), root)
	req.MaxResults = 2
	out, events, err := collect(t, o, req)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if out.State != Complete {
		t.Errorf("Expected Complete, got %s", out.State)
	}
	expected := []string{filepath.Join(root, "e.m4a"), filepath.Join(root, "a.mp3")}
	if len(out.Results) != len(expected) {
		t.Fatalf("Expected %d results, got %v", len(expected), out.Results)
	}
	for i, p := range expected {
		if out.Results[i].Path != p {
			t.Errorf("Result %d: expected %s, got %s", i, p, out.Results[i].Path)
		}
	}
	if out.Processed != 5 {
		t.Errorf("Expected 5 processed candidates (reference excluded), got %d", out.Processed)
	}
	if out.Matched != 3 {
		t.Errorf("Expected 3 matches before truncation, got %d", out.Matched)
	}

	assertMonotonic(t, events)
	last := events[len(events)-1]
	if last.Percent != 100 || last.State != Complete {
		t.Errorf("Expected final event 100%%/complete, got %d%%/%s", last.Percent, last.State)
	}

	if len(rec.records) != 1 || rec.records[0].State != "complete" {
		t.Errorf("Expected one complete history record, got %+v", rec.records)
	}
}

func TestSearchThresholdInclusive(t *testing.T) {
	root := setupLibrary(t, "ref.wav", "dup.wav", "other.wav")
	ext := &fakeExtractor{vectors: map[string][]float64{
		"ref.wav":   angle(0),
		"dup.wav":   angle(0),
		"other.wav": angle(45),
	}}
	o := newTestOrchestrator(ext)

	req := NewRequest(filepath.Join(root, "ref.wav"), root)
	req.Threshold = 0
	out, _, err := collect(t, o, req)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Results) != 1 || filepath.Base(out.Results[0].Path) != "dup.wav" {
		t.Errorf("Expected only the exact duplicate, got %v", out.Results)
	}
}

func TestSearchEmptyDirectory(t *testing.T) {
	refDir := setupLibrary(t, "ref.wav")
	lib := t.TempDir()
	ext := &fakeExtractor{vectors: map[string][]float64{"ref.wav": angle(0)}}
	o := newTestOrchestrator(ext)

	out, events, err := collect(t, o, NewRequest(filepath.Join(refDir, "ref.wav"), lib))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if out.State != Complete || len(out.Results) != 0 {
		t.Errorf("Expected Complete with no results, got %s %v", out.State, out.Results)
	}
	assertMonotonic(t, events)
	if last := events[len(events)-1]; last.Percent != 100 {
		t.Errorf("Expected progress to reach 100, got %d", last.Percent)
	}
}

func TestSearchCorruptReference(t *testing.T) {
	root := setupLibrary(t, "ref.wav", "a.mp3", "b.mp3")
	ext := &fakeExtractor{vectors: map[string][]float64{
		"a.mp3": angle(1),
		"b.mp3": angle(2),
	}}
	o := newTestOrchestrator(ext)

	out, events, err := collect(t, o, NewRequest(filepath.Join(root, "ref.wav"), root))
	if !errors.Is(err, ErrReferenceFailure) {
		t.Fatalf("Expected ErrReferenceFailure, got %v", err)
	}
	if !errors.Is(err, audio.ErrDecode) {
		t.Errorf("Expected cause to be preserved, got %v", err)
	}
	if out.State != Failed {
		t.Errorf("Expected Failed, got %s", out.State)
	}
	if ext.called("a.mp3") || ext.called("b.mp3") {
		t.Error("No candidate should be processed after reference failure")
	}
	for _, p := range events {
		if p.Percent != 0 || p.State == Extracting {
			t.Errorf("Unexpected progress event %+v", p)
		}
	}
	assertMonotonic(t, events)
}

func TestSearchSkipsBrokenCandidates(t *testing.T) {
	root := setupLibrary(t, "ref.wav", "good.wav", "broken1.mp3", "broken2.mp3")
	ext := &fakeExtractor{vectors: map[string][]float64{
		"ref.wav":  angle(0),
		"good.wav": angle(20),
	}}
	o := newTestOrchestrator(ext)

	out, events, err := collect(t, o, NewRequest(filepath.Join(root, "ref.wav"), root))
	if err != nil {
		t.Fatal(err)
	}
	if out.State != Complete {
		t.Errorf("Expected Complete, got %s", out.State)
	}
	if out.Skipped != 2 || out.Processed != 3 {
		t.Errorf("Expected 3 processed / 2 skipped, got %d / %d", out.Processed, out.Skipped)
	}
	if len(out.Results) != 1 {
		t.Errorf("Expected 1 result, got %v", out.Results)
	}
	if last := events[len(events)-1]; last.Percent != 100 {
		t.Errorf("Expected 100%%, got %d", last.Percent)
	}
}

func TestRunLogsWithShortIDPrefix(t *testing.T) {
	root := setupLibrary(t, "ref.wav", "good.wav", "broken.mp3")
	ext := &fakeExtractor{vectors: map[string][]float64{
		"ref.wav":  angle(0),
		"good.wav": angle(20),
	}}

	var buf bytes.Buffer
	cfg := logger.DefaultConfig()
	cfg.Output = &buf
	cfg.Level = logger.INFO
	cfg.Colorize = false
	cfg.ShowTime = false
	o := New(ext, WithLogger(logger.New(cfg)))

	out, _, err := collect(t, o, NewRequest(filepath.Join(root, "ref.wav"), root))
	if err != nil {
		t.Fatal(err)
	}
	prefix := "[search " + out.RunID[:8] + "]"
	for _, want := range []string{prefix + " Skipping", prefix + " Complete: 1 matches"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("Expected %q in log output:\n%s", want, buf.String())
		}
	}
}

func TestSearchAllCandidatesFail(t *testing.T) {
	root := setupLibrary(t, "ref.wav", "x.mp3", "y.mp3")
	ext := &fakeExtractor{vectors: map[string][]float64{"ref.wav": angle(0)}}
	o := newTestOrchestrator(ext)

	out, _, err := collect(t, o, NewRequest(filepath.Join(root, "ref.wav"), root))
	if err != nil {
		t.Fatalf("Zero matches must not be an error, got %v", err)
	}
	if out.State != Complete || len(out.Results) != 0 {
		t.Errorf("Expected empty Complete, got %s %v", out.State, out.Results)
	}
}

func TestSearchMissingRoot(t *testing.T) {
	refDir := setupLibrary(t, "ref.wav")
	ext := &fakeExtractor{vectors: map[string][]float64{"ref.wav": angle(0)}}
	o := newTestOrchestrator(ext)

	out, _, err := collect(t, o, NewRequest(filepath.Join(refDir, "ref.wav"), filepath.Join(refDir, "nope")))
	if !errors.Is(err, ErrOrchestration) {
		t.Errorf("Expected ErrOrchestration, got %v", err)
	}
	if out.State != Failed {
		t.Errorf("Expected Failed, got %s", out.State)
	}
}

func TestSearchInvalidRequest(t *testing.T) {
	o := newTestOrchestrator(&fakeExtractor{})
	tests := []models.SearchRequest{
		{RootDir: "/tmp"},
		{ReferencePath: "/tmp/a.wav"},
		{ReferencePath: "/tmp/a.wav", RootDir: "/tmp", Threshold: -1},
		{ReferencePath: "/tmp/a.wav", RootDir: "/tmp", MaxResults: -3},
		{ReferencePath: "/tmp/a.wav", RootDir: "/tmp", Metric: "hamming"},
	}
	for i, req := range tests {
		if _, err := o.Start(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("Case %d: expected ErrInvalidRequest, got %v", i, err)
		}
	}
}

func TestStartRejectsConcurrentRun(t *testing.T) {
	root := setupLibrary(t, "ref.wav", "a.wav")
	gate := make(chan struct{})
	ext := &fakeExtractor{gate: gate, vectors: map[string][]float64{
		"ref.wav": angle(0),
		"a.wav":   angle(3),
	}}
	o := newTestOrchestrator(ext)
	req := NewRequest(filepath.Join(root, "ref.wav"), root)

	run, err := o.Start(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Start(context.Background(), req); !errors.Is(err, ErrSearchInProgress) {
		t.Errorf("Expected ErrSearchInProgress, got %v", err)
	}
	if o.Active() != run {
		t.Error("Expected first run to be active")
	}

	close(gate)
	if _, err := run.Wait(); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if o.Active() != nil {
		t.Error("Expected no active run after completion")
	}

	second, err := o.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("Expected a new run to start after completion, got %v", err)
	}
	if _, err := second.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestRunCancel(t *testing.T) {
	root := setupLibrary(t, "ref.wav", "a.wav", "b.wav")
	gate := make(chan struct{})
	ext := &fakeExtractor{gate: gate, vectors: map[string][]float64{"ref.wav": angle(0)}}
	rec := &memRecorder{}
	o := newTestOrchestrator(ext, WithRecorder(rec))

	run, err := o.Start(context.Background(), NewRequest(filepath.Join(root, "ref.wav"), root))
	if err != nil {
		t.Fatal(err)
	}
	run.Cancel()

	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after Cancel")
	}
	out, err := run.Wait()
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if out.State != Canceled || run.State() != Canceled {
		t.Errorf("Expected Canceled, got %s / %s", out.State, run.State())
	}
	if len(rec.records) != 1 || rec.records[0].State != "canceled" {
		t.Errorf("Expected canceled history record, got %+v", rec.records)
	}

	var events []Progress
	for p := range run.Progress() {
		events = append(events, p)
	}
	assertMonotonic(t, events)
}

func TestCallerContextCancels(t *testing.T) {
	root := setupLibrary(t, "ref.wav", "a.wav")
	ext := &fakeExtractor{gate: make(chan struct{}), vectors: map[string][]float64{"ref.wav": angle(0)}}
	o := newTestOrchestrator(ext)

	ctx, cancel := context.WithCancel(context.Background())
	run, err := o.Start(ctx, NewRequest(filepath.Join(root, "ref.wav"), root))
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	if out, _ := run.Wait(); out.State != Canceled {
		t.Errorf("Expected Canceled, got %s", out.State)
	}
}

func TestParallelMatchesSequential(t *testing.T) {
	names := []string{"ref.wav"}
	vectors := map[string][]float64{"ref.wav": angle(0)}
	for i := 0; i < 40; i++ {
		name := filepath.Join("dir", string(rune('a'+i%26))+string(rune('a'+i/26))+".wav")
		names = append(names, name)
		vectors[filepath.Base(name)] = angle(float64(i%7) * 4) // plenty of ties
	}
	root := setupLibrary(t, names...)
	req := NewRequest(filepath.Join(root, "ref.wav"), root)
	req.MaxResults = 15

	seq, _, err := collect(t, newTestOrchestrator(&fakeExtractor{vectors: vectors}), req)
	if err != nil {
		t.Fatal(err)
	}
	par, events, err := collect(t, newTestOrchestrator(&fakeExtractor{vectors: vectors}, WithWorkers(8)), req)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(seq.Results, par.Results) {
		t.Errorf("Parallel results differ from sequential:\n%v\n%v", seq.Results, par.Results)
	}
	assertMonotonic(t, events)
}

func TestProgressSurvivesSlowReader(t *testing.T) {
	var names []string
	vectors := map[string][]float64{"ref.wav": angle(0)}
	names = append(names, "ref.wav")
	for i := 0; i < 30; i++ {
		name := string(rune('a'+i%26)) + string(rune('0'+i/26)) + ".wav"
		names = append(names, name)
		vectors[name] = angle(1)
	}
	root := setupLibrary(t, names...)
	o := newTestOrchestrator(&fakeExtractor{vectors: vectors}, WithProgressBuffer(2))

	run, err := o.Start(context.Background(), NewRequest(filepath.Join(root, "ref.wav"), root))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := run.Wait(); err != nil {
		t.Fatal(err)
	}

	var events []Progress
	for p := range run.Progress() {
		events = append(events, p)
	}
	if len(events) == 0 || len(events) > 2 {
		t.Fatalf("Expected the buffer to keep the newest events, got %d", len(events))
	}
	assertMonotonic(t, events)
	if last := events[len(events)-1]; last.Percent != 100 || last.State != Complete {
		t.Errorf("Expected final 100%%/complete, got %+v", last)
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		done, total, expected int
	}{
		{0, 0, 100},
		{1, 3, 33},
		{2, 3, 67},
		{3, 3, 100},
		{1, 200, 1},
		{1, 201, 0},
	}
	for _, tt := range tests {
		if got := percent(tt.done, tt.total); got != tt.expected {
			t.Errorf("percent(%d, %d) = %d, expected %d", tt.done, tt.total, got, tt.expected)
		}
	}
}

func TestNormalizeDefaults(t *testing.T) {
	req, err := Normalize(models.SearchRequest{ReferencePath: "ref.wav", RootDir: ".", Threshold: 0.3})
	if err != nil {
		t.Fatal(err)
	}
	if req.MaxResults != DefaultMaxResults {
		t.Errorf("Expected default max results, got %d", req.MaxResults)
	}
	if req.Metric != "cosine" {
		t.Errorf("Expected cosine metric, got %q", req.Metric)
	}
	if !filepath.IsAbs(req.ReferencePath) || !filepath.IsAbs(req.RootDir) {
		t.Errorf("Expected absolute paths, got %q and %q", req.ReferencePath, req.RootDir)
	}
}

func TestStateText(t *testing.T) {
	for s := Idle; s <= Canceled; s++ {
		b, _ := s.MarshalText()
		var back State
		if err := back.UnmarshalText(b); err != nil || back != s {
			t.Errorf("State %s did not round-trip: %v", s, err)
		}
	}
}
