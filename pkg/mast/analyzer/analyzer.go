// Package analyzer computes a musical and technical profile of a single
// track: tempo, key, loudness, spectrum and clipping.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/himanishpuri/mast/pkg/mast/audio"
	"github.com/himanishpuri/mast/pkg/mast/dsp"
	"github.com/himanishpuri/mast/pkg/models"
)

var ErrAnalysis = errors.New("analyzer: analysis failed")

const (
	DefaultSampleRate    = 22050
	DefaultFFTSize       = 2048
	DefaultHopSize       = 512
	DefaultClipThreshold = 0.99

	minTempo = 60.0
	maxTempo = 200.0
)

// Analysis is the full result for one track. Spectrogram is [bin][frame] in
// dB relative to its loudest cell; Waveform holds the decoded mono samples.
type Analysis struct {
	Path             string
	Duration         time.Duration
	BPM              float64
	Key              string
	Scale            string
	Loudness         models.Loudness
	Spectrogram      [][]float64
	Waveform         []float64
	SampleRate       int
	SpectralCentroid float64
	Clipping         bool
}

// Summary drops the large arrays, leaving what a report or API response needs.
func (a *Analysis) Summary() models.AnalysisSummary {
	return models.AnalysisSummary{
		Path:             a.Path,
		DurationSec:      a.Duration.Seconds(),
		BPM:              a.BPM,
		Key:              a.Key,
		Scale:            a.Scale,
		Loudness:         a.Loudness,
		SpectralCentroid: a.SpectralCentroid,
		Clipping:         a.Clipping,
		SampleRate:       a.SampleRate,
	}
}

type Option func(*Analyzer)

func WithSampleRate(sr int) Option {
	return func(a *Analyzer) {
		if sr > 0 {
			a.sampleRate = sr
		}
	}
}

// WithMaxDuration analyzes only the first d of each track. 0 means all.
func WithMaxDuration(d time.Duration) Option {
	return func(a *Analyzer) { a.maxDuration = d }
}

// WithSpectrogram controls whether Analysis.Spectrogram and Waveform are
// kept. Disabling them saves memory when only the summary is needed.
func WithSpectrogram(keep bool) Option {
	return func(a *Analyzer) { a.keepArrays = keep }
}

func WithClipThreshold(v float64) Option {
	return func(a *Analyzer) { a.clipThreshold = v }
}

type Analyzer struct {
	decoder       audio.Decoder
	sampleRate    int
	maxDuration   time.Duration
	keepArrays    bool
	clipThreshold float64
}

// New returns an Analyzer. A nil decoder uses audio.NewFileDecoder.
func New(decoder audio.Decoder, opts ...Option) *Analyzer {
	if decoder == nil {
		decoder = audio.NewFileDecoder()
	}
	a := &Analyzer{
		decoder:       decoder,
		sampleRate:    DefaultSampleRate,
		keepArrays:    true,
		clipThreshold: DefaultClipThreshold,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Analyzer) Analyze(ctx context.Context, path string) (*Analysis, error) {
	clip, err := a.decoder.Decode(ctx, path, audio.DecodeOptions{
		SampleRate:  a.sampleRate,
		MaxDuration: a.maxDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAnalysis, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := a.AnalyzeSamples(clip.Samples, clip.SampleRate)
	if err != nil {
		return nil, err
	}
	result.Path = path
	return result, nil
}

// AnalyzeSamples runs the analysis on mono samples in [-1, 1].
func (a *Analyzer) AnalyzeSamples(samples []float64, sampleRate int) (result *Analysis, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("%w: %v", ErrAnalysis, r)
		}
	}()

	if len(samples) == 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("%w: no audio", ErrAnalysis)
	}

	cfg := dsp.STFTConfig{FFTSize: DefaultFFTSize, HopSize: DefaultHopSize, Center: true}
	mag, err := dsp.MagnitudeSpectrogram(samples, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnalysis, err)
	}
	power := make([][]float64, len(mag))
	for t, row := range mag {
		p := make([]float64, len(row))
		for k, v := range row {
			p[k] = v * v
		}
		power[t] = p
	}

	result = &Analysis{
		Duration:   time.Duration(float64(len(samples)) / float64(sampleRate) * float64(time.Second)),
		SampleRate: sampleRate,
		Clipping:   DetectClipping(samples, a.clipThreshold),
	}

	result.Key, result.Scale = DetectKey(dsp.MeanRows(dsp.Chroma(power, sampleRate, DefaultFFTSize)))
	result.BPM = estimateBPM(power, sampleRate)
	result.Loudness = loudness(dsp.RMS(samples, DefaultFFTSize, DefaultHopSize))
	result.SpectralCentroid = stat.Mean(dsp.SpectralCentroid(mag, sampleRate, DefaultFFTSize), nil)

	if a.keepArrays {
		result.Spectrogram = dsp.AmplitudeToDB(dsp.Transpose(mag), 0, dsp.DefaultTopDB)
		result.Waveform = samples
	}
	return result, nil
}

func estimateBPM(power [][]float64, sampleRate int) float64 {
	bank := dsp.MelFilterBank(128, DefaultFFTSize, sampleRate, 0, 0)
	melDB := dsp.PowerToDB(dsp.ApplyFilterBank(power, bank), 1, dsp.DefaultTopDB)
	env := dsp.OnsetEnvelope(melDB)
	frameRate := float64(sampleRate) / float64(DefaultHopSize)
	return dsp.EstimateTempo(env, frameRate, minTempo, maxTempo)
}

func loudness(rms []float64) models.Loudness {
	if len(rms) == 0 {
		return models.Loudness{}
	}
	hi, lo := floats.Max(rms), floats.Min(rms)
	return models.Loudness{
		Mean:         stat.Mean(rms, nil),
		Max:          hi,
		Min:          lo,
		DynamicRange: hi - lo,
	}
}

// DetectClipping reports whether any sample magnitude exceeds threshold.
func DetectClipping(samples []float64, threshold float64) bool {
	for _, s := range samples {
		if s > threshold || s < -threshold {
			return true
		}
	}
	return false
}
