package search

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/himanishpuri/mast/internal/metrics"
	"github.com/himanishpuri/mast/pkg/logger"
	"github.com/himanishpuri/mast/pkg/mast/embedding"
	"github.com/himanishpuri/mast/pkg/mast/ranking"
	"github.com/himanishpuri/mast/pkg/mast/scanner"
	"github.com/himanishpuri/mast/pkg/mast/similarity"
	"github.com/himanishpuri/mast/pkg/models"
)

// Extractor produces embeddings. *embedding.Extractor satisfies it.
type Extractor interface {
	Extract(ctx context.Context, path string) (*embedding.Embedding, error)
}

// Recorder persists finished runs.
type Recorder interface {
	Record(ctx context.Context, rec models.SearchRecord) error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}

// ScanFunc lists candidate files under root, leaving out exclude.
type ScanFunc func(ctx context.Context, root string, exclude ...string) ([]string, error)

type Option func(*Orchestrator)

// WithWorkers sets how many candidates are extracted concurrently. Results
// do not depend on it. Values below 1 mean 1.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n < 1 {
			n = 1
		}
		o.workers = n
	}
}

func WithLogger(log Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

func WithRecorder(rec Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = rec
	}
}

// WithProgressBuffer sets the capacity of each run's progress channel.
func WithProgressBuffer(n int) Option {
	return func(o *Orchestrator) {
		if n < 1 {
			n = 1
		}
		o.buffer = n
	}
}

func WithScanFunc(fn ScanFunc) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.scan = fn
		}
	}
}

// Orchestrator runs one similarity search at a time.
type Orchestrator struct {
	extractor Extractor
	workers   int
	buffer    int
	log       Logger
	recorder  Recorder
	scan      ScanFunc

	mu     sync.Mutex
	active *Run
}

func New(extractor Extractor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		extractor: extractor,
		workers:   1,
		buffer:    64,
		log:       logger.GetLogger(),
		scan:      scanner.FindAudioFiles,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Active returns the run in progress, or nil.
func (o *Orchestrator) Active() *Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return nil
	}
	select {
	case <-o.active.done:
		return nil
	default:
		return o.active
	}
}

// Start validates req and launches a run in the background. It fails with
// ErrSearchInProgress while another run of this orchestrator is active.
// Cancelling ctx cancels the run.
func (o *Orchestrator) Start(ctx context.Context, req models.SearchRequest) (*Run, error) {
	req, err := Normalize(req)
	if err != nil {
		return nil, err
	}
	metric, _ := similarity.ParseMetric(req.Metric)

	o.mu.Lock()
	if o.active != nil {
		select {
		case <-o.active.done:
		default:
			o.mu.Unlock()
			metrics.SearchesRejected.Add(1)
			return nil, ErrSearchInProgress
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	run := newRun(uuid.NewString(), req, o.buffer, cancel)
	o.active = run
	o.mu.Unlock()

	metrics.SearchesStarted.Add(1)
	go o.execute(runCtx, run, metric)
	return run, nil
}

// Search runs synchronously, calling onProgress (if non-nil) for every
// progress event, and returns the outcome.
func (o *Orchestrator) Search(ctx context.Context, req models.SearchRequest, onProgress func(Progress)) (Outcome, error) {
	run, err := o.Start(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	for p := range run.Progress() {
		if onProgress != nil {
			onProgress(p)
		}
	}
	return run.Wait()
}

type extraction struct {
	path string
	emb  *embedding.Embedding
	err  error
}

func (o *Orchestrator) execute(ctx context.Context, run *Run, metric similarity.Metric) {
	req := run.req
	started := time.Now()
	log := runLogger(o.log, run.id)
	out := Outcome{RunID: run.id, Request: req, StartedAt: started}

	end := func(state State, err error) {
		out.State = state
		out.Err = err
		out.Duration = time.Since(started)
		switch state {
		case Complete:
			metrics.SearchesCompleted.Add(1)
			log.Infof("Complete: %d matches, %d processed, %d skipped in %v",
				len(out.Results), out.Processed, out.Skipped, out.Duration.Round(time.Millisecond))
		case Canceled:
			metrics.SearchesCanceled.Add(1)
			log.Infof("Canceled after %d files", out.Processed)
		default:
			metrics.SearchesFailed.Add(1)
			log.Errorf("Failed: %v", err)
		}
		o.record(out)
		run.finish(out)
	}

	run.setState(Scanning)
	run.publish(Progress{Percent: 0, State: Scanning})
	log.Infof("Search %s: reference %s, library %s", run.id, req.ReferencePath, req.RootDir)

	ref, err := o.extractor.Extract(ctx, req.ReferencePath)
	if err != nil {
		if ctx.Err() != nil {
			end(Canceled, ctx.Err())
			return
		}
		end(Failed, fmt.Errorf("%w: %s: %w", ErrReferenceFailure, req.ReferencePath, err))
		return
	}

	files, err := o.scan(ctx, req.RootDir, req.ReferencePath)
	if err != nil {
		if ctx.Err() != nil {
			end(Canceled, ctx.Err())
			return
		}
		end(Failed, fmt.Errorf("%w: %w", ErrOrchestration, err))
		return
	}

	total := len(files)
	run.setState(Extracting)
	run.publish(Progress{Percent: 0, Total: total, State: Extracting})
	log.Debugf("%d candidates, %d workers", total, o.workers)

	if total == 0 {
		run.publish(Progress{Percent: 100, Total: 0, State: Extracting})
		end(Complete, nil)
		return
	}

	var matches []models.Match
	for r := range o.extractAll(ctx, files) {
		out.Processed++
		switch {
		case r.err != nil:
			out.Skipped++
			if ctx.Err() == nil {
				metrics.EmbeddingsFailed.Add(1)
				log.Warnf("Skipping %s: %v", r.path, r.err)
			}
		default:
			metrics.EmbeddingsExtracted.Add(1)
			score, ok := similarity.ScoreEmbeddings(ref, r.emb, metric)
			if !ok {
				out.Skipped++
				log.Warnf("Skipping %s: embedding not comparable with reference", r.path)
				break
			}
			if score <= req.Threshold {
				matches = append(matches, models.Match{Path: r.path, Score: score})
			}
		}

		run.publish(Progress{
			Percent:   percent(out.Processed, total),
			Processed: out.Processed,
			Total:     total,
			State:     Extracting,
		})
	}

	out.Matched = len(matches)
	if err := ctx.Err(); err != nil {
		end(Canceled, err)
		return
	}
	out.Results = ranking.Rank(matches, req.MaxResults)
	end(Complete, nil)
}

// extractAll fans files out to the worker pool. The returned channel is
// closed once every dispatched file has a result; after cancellation no new
// files are dispatched.
func (o *Orchestrator) extractAll(ctx context.Context, files []string) <-chan extraction {
	jobs := make(chan string)
	results := make(chan extraction, o.workers)

	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				if err := ctx.Err(); err != nil {
					results <- extraction{path: path, err: err}
					continue
				}
				emb, err := o.safeExtract(ctx, path)
				results <- extraction{path: path, emb: emb, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, path := range files {
			select {
			case jobs <- path:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// safeExtract keeps a panicking decoder from taking down the run.
func (o *Orchestrator) safeExtract(ctx context.Context, path string) (emb *embedding.Embedding, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extraction panicked: %v", r)
		}
	}()
	return o.extractor.Extract(ctx, path)
}

func (o *Orchestrator) record(out Outcome) {
	if o.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.recorder.Record(ctx, out.Record()); err != nil {
		o.log.Warnf("Failed to record search %s: %v", out.RunID, err)
	}
}

// runLogger tags every line of one run with its short ID.
func runLogger(log Logger, id string) Logger {
	l, ok := log.(*logger.Logger)
	if !ok {
		return log
	}
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return l.With("[search " + short + "]")
}

func percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	p := int(math.Round(100 * float64(done) / float64(total)))
	return min(max(p, 0), 100)
}
