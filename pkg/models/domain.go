package models

import "time"

// SearchRequest describes one similarity search over a music library.
type SearchRequest struct {
	ReferencePath string  `json:"reference_path"` // track every candidate is compared against
	RootDir       string  `json:"root_dir"`       // library root scanned recursively
	Threshold     float64 `json:"threshold"`      // maximum accepted distance (lower is stricter)
	MaxResults    int     `json:"max_results"`    // top-K cut applied after sorting
	Metric        string  `json:"metric"`         // "cosine" (default) or "euclidean"
}

// Match is one retained candidate and its distance to the reference.
// 0 means identical; larger is more dissimilar.
type Match struct {
	Path  string  `json:"path"`
	Score float64 `json:"score"`
}

// SearchRecord is a finished search as kept in the history store.
type SearchRecord struct {
	ID          string        `json:"id"`
	Request     SearchRequest `json:"request"`
	State       string        `json:"state"`
	Error       string        `json:"error,omitempty"`
	Processed   int           `json:"processed"`
	Skipped     int           `json:"skipped"`
	Results     []Match       `json:"results"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Loudness holds frame-RMS statistics of a track.
type Loudness struct {
	Mean         float64 `json:"mean"`
	Max          float64 `json:"max"`
	Min          float64 `json:"min"`
	DynamicRange float64 `json:"dynamic_range"`
}

// AnalysisSummary is the display-sized part of a full track analysis
// (no waveform or spectrogram arrays).
type AnalysisSummary struct {
	Path             string   `json:"path"`
	DurationSec      float64  `json:"duration_sec"`
	BPM              float64  `json:"bpm"`
	Key              string   `json:"key"`
	Scale            string   `json:"scale"`
	Loudness         Loudness `json:"loudness"`
	SpectralCentroid float64  `json:"spectral_centroid_hz"`
	Clipping         bool     `json:"clipping"`
	SampleRate       int      `json:"sample_rate"`
}
