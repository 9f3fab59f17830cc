package similarity

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/himanishpuri/mast/pkg/mast/embedding"
)

// Metric selects the distance function. Lower scores mean more similar.
type Metric int

const (
	// Cosine distance, 1 - cos(a, b), in [0, 2].
	Cosine Metric = iota
	// Euclidean (L2) distance. For unit vectors it lies in [0, 2].
	Euclidean
)

func (m Metric) String() string {
	switch m {
	case Cosine:
		return "cosine"
	case Euclidean:
		return "euclidean"
	default:
		return fmt.Sprintf("metric(%d)", int(m))
	}
}

// ParseMetric accepts "cosine" or "euclidean" (case-insensitive). An empty
// string selects Cosine.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cosine":
		return Cosine, nil
	case "euclidean", "l2":
		return Euclidean, nil
	}
	return Cosine, fmt.Errorf("unknown similarity metric %q", s)
}

func (m Metric) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Metric) UnmarshalText(b []byte) error {
	parsed, err := ParseMetric(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Score returns the distance between a and b. ok is false when either vector
// is empty or their lengths differ; no score is meaningful then.
func Score(a, b []float64, m Metric) (score float64, ok bool) {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0, false
	}

	switch m {
	case Euclidean:
		return floats.Distance(a, b, 2), true
	default:
		na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
		if na == 0 || nb == 0 {
			return 0, false
		}
		d := 1 - floats.Dot(a, b)/(na*nb)
		return math.Max(0, math.Min(2, d)), true
	}
}

// ScoreEmbeddings is Score for embeddings, additionally refusing pairs that
// were extracted with different parameters.
func ScoreEmbeddings(a, b *embedding.Embedding, m Metric) (float64, bool) {
	if !a.Comparable(b) {
		return 0, false
	}
	return Score(a.Vector, b.Vector, m)
}
