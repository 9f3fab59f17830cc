package search

import (
	"context"
	"sync"
	"time"

	"github.com/himanishpuri/mast/pkg/models"
)

// Progress is one progress notification. Percent never decreases within a
// run; the last event on the channel carries the terminal State.
type Progress struct {
	RunID     string `json:"run_id"`
	Percent   int    `json:"percent"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	State     State  `json:"state"`
}

// Outcome is the terminal result of a run.
type Outcome struct {
	RunID     string               `json:"run_id"`
	Request   models.SearchRequest `json:"request"`
	State     State                `json:"state"`
	Results   []models.Match       `json:"results"`
	Processed int                  `json:"processed"`
	Skipped   int                  `json:"skipped"`
	Matched   int                  `json:"matched"`
	StartedAt time.Time            `json:"started_at"`
	Duration  time.Duration        `json:"duration"`
	Err       error                `json:"-"`
}

// Record converts the outcome to its history form.
func (o Outcome) Record() models.SearchRecord {
	rec := models.SearchRecord{
		ID:          o.RunID,
		Request:     o.Request,
		State:       o.State.String(),
		Processed:   o.Processed,
		Skipped:     o.Skipped,
		Results:     o.Results,
		StartedAt:   o.StartedAt,
		CompletedAt: o.StartedAt.Add(o.Duration),
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}
	return rec
}

// Run is a handle on a search executing in the background.
type Run struct {
	id       string
	req      models.SearchRequest
	progress chan Progress
	done     chan struct{}
	cancel   context.CancelFunc

	mu      sync.Mutex
	state   State
	last    Progress
	outcome Outcome
}

func newRun(id string, req models.SearchRequest, buffer int, cancel context.CancelFunc) *Run {
	return &Run{
		id:       id,
		req:      req,
		progress: make(chan Progress, buffer),
		done:     make(chan struct{}),
		cancel:   cancel,
		state:    Idle,
		last:     Progress{RunID: id, State: Idle},
	}
}

func (r *Run) ID() string                    { return r.id }
func (r *Run) Request() models.SearchRequest { return r.req }

// Progress delivers notifications in order and is closed after the terminal
// event. When the reader falls behind, the oldest queued events are dropped
// so the newest (and the terminal one) always get through.
func (r *Run) Progress() <-chan Progress { return r.progress }

// Done is closed once the outcome is available.
func (r *Run) Done() <-chan struct{} { return r.done }

// Cancel asks the run to stop. It returns immediately; the run ends in
// Canceled unless it had already finished.
func (r *Run) Cancel() { r.cancel() }

func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Snapshot returns the most recent progress event.
func (r *Run) Snapshot() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Wait blocks until the run finishes and returns its outcome together with
// the terminal error, if any.
func (r *Run) Wait() (Outcome, error) {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome, r.outcome.Err
}

// Outcome returns the outcome without blocking; ok is false while running.
func (r *Run) Outcome() (Outcome, bool) {
	select {
	case <-r.done:
	default:
		return Outcome{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome, true
}

func (r *Run) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// publish is only called from the goroutine executing the run.
func (r *Run) publish(p Progress) {
	p.RunID = r.id
	r.mu.Lock()
	r.last = p
	r.mu.Unlock()

	for {
		select {
		case r.progress <- p:
			return
		default:
		}
		select {
		case <-r.progress:
		default:
		}
	}
}

func (r *Run) finish(o Outcome) {
	r.mu.Lock()
	r.state = o.State
	r.outcome = o
	r.mu.Unlock()

	last := r.Snapshot()
	last.State = o.State
	r.publish(last)
	close(r.progress)
	close(r.done)
	r.cancel()
}
