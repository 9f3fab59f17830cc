package audio

import (
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts mono samples from one rate to another with a high quality
// polyphase filter. The result always holds round(len(samples)*to/from)
// samples; filter latency at the tail is zero-filled.
func Resample(samples []float64, from, to int) ([]float64, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", from, to)
	}
	if from == to || len(samples) == 0 {
		out := make([]float64, len(samples))
		copy(out, samples)
		return out, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("creating resampler: %w", err)
	}

	processed, err := r.Process(samples)
	if err != nil {
		return nil, fmt.Errorf("resampling: %w", err)
	}

	want := int(math.Round(float64(len(samples)) * float64(to) / float64(from)))
	out := make([]float64, want)
	copy(out, processed)
	return out, nil
}
