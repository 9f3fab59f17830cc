// Package embedding turns audio files into fixed-length, unit-norm log-mel
// vectors that can be compared with a distance metric.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/himanishpuri/mast/pkg/mast/audio"
	"github.com/himanishpuri/mast/pkg/mast/dsp"
)

// ErrSilentInput is returned for digital silence: every mel band sits at the
// power floor, so the log-mel matrix carries no information and its
// normalization is meaningless. Callers treat it like a decode failure.
var ErrSilentInput = errors.New("embedding: silent input")

// Params fixes every value that influences the embedding. Two embeddings are
// only comparable when their Params are equal.
type Params struct {
	SampleRate int
	Duration   time.Duration
	NumMels    int
	MaxFrames  int
	FFTSize    int
	HopSize    int
}

// DefaultParams returns 22.05 kHz, 30 s, 128 mels x 128 frames, 2048/512 STFT.
func DefaultParams() Params {
	return Params{
		SampleRate: 22050,
		Duration:   30 * time.Second,
		NumMels:    128,
		MaxFrames:  128,
		FFTSize:    2048,
		HopSize:    512,
	}
}

// Dim is the length of an embedding vector.
func (p Params) Dim() int { return p.NumMels * p.MaxFrames }

func (p Params) validate() error {
	if p.SampleRate <= 0 || p.NumMels <= 0 || p.MaxFrames <= 0 || p.FFTSize <= 0 || p.HopSize <= 0 {
		return fmt.Errorf("embedding: invalid params %+v", p)
	}
	return nil
}

// Embedding is a flattened [mel][frame] log-mel matrix with unit L2 norm.
type Embedding struct {
	Vector []float64
	Params Params
}

// Comparable reports whether e and other were produced with the same params
// and can be scored against each other.
func (e *Embedding) Comparable(other *Embedding) bool {
	if e == nil || other == nil {
		return false
	}
	return e.Params == other.Params && len(e.Vector) == len(other.Vector)
}

// Extractor computes embeddings. It is stateless after construction and safe
// for concurrent use.
type Extractor struct {
	params  Params
	decoder audio.Decoder
	window  []float64
	melBank [][]float64
}

// NewExtractor builds the window and mel filterbank once for params. A nil
// decoder uses audio.NewFileDecoder.
func NewExtractor(params Params, decoder audio.Decoder) (*Extractor, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if decoder == nil {
		decoder = audio.NewFileDecoder()
	}
	return &Extractor{
		params:  params,
		decoder: decoder,
		window:  dsp.Hann(params.FFTSize),
		melBank: dsp.MelFilterBank(params.NumMels, params.FFTSize, params.SampleRate, 0, 0),
	}, nil
}

func (x *Extractor) Params() Params { return x.params }

// Extract decodes the first Duration of path as mono at SampleRate and
// returns its embedding. Decode failures wrap audio.ErrDecode.
func (x *Extractor) Extract(ctx context.Context, path string) (*Embedding, error) {
	clip, err := x.decoder.Decode(ctx, path, audio.DecodeOptions{
		SampleRate:  x.params.SampleRate,
		MaxDuration: x.params.Duration,
	})
	if err != nil {
		return nil, err
	}
	if clip.SampleRate != x.params.SampleRate {
		return nil, fmt.Errorf("%w: decoder returned %d Hz, want %d Hz", audio.ErrDecode, clip.SampleRate, x.params.SampleRate)
	}

	emb, err := x.ExtractSamples(clip.Samples)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return emb, nil
}

// ExtractSamples computes the embedding of mono samples already at
// Params().SampleRate. Samples beyond Duration are ignored.
func (x *Extractor) ExtractSamples(samples []float64) (*Embedding, error) {
	p := x.params
	if limit := int(p.Duration.Seconds() * float64(p.SampleRate)); p.Duration > 0 && len(samples) > limit {
		samples = samples[:limit]
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples", audio.ErrDecode)
	}

	power, err := dsp.PowerSpectrogram(samples, dsp.STFTConfig{
		FFTSize:   p.FFTSize,
		HopSize:   p.HopSize,
		Window:    x.window,
		Center:    true,
		MaxFrames: p.MaxFrames,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrDecode, err)
	}

	mel := dsp.ApplyFilterBank(power, x.melBank)
	if dsp.MaxValue(mel) <= dsp.AminPower {
		return nil, ErrSilentInput
	}
	logMel := dsp.PowerToDB(mel, 1, dsp.DefaultTopDB)

	// Row-major [mel][frame], right-padded with zeros to MaxFrames.
	vec := make([]float64, p.Dim())
	for m, row := range logMel {
		copy(vec[m*p.MaxFrames:(m+1)*p.MaxFrames], row)
	}

	norm := floats.Norm(vec, 2)
	if norm == 0 {
		return nil, ErrSilentInput
	}
	floats.Scale(1/norm, vec)

	return &Embedding{Vector: vec, Params: p}, nil
}
