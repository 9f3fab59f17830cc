package dsp

import (
	"errors"
	"fmt"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

var (
	ErrEmptyInput = errors.New("dsp: empty input")
	ErrTooShort   = errors.New("dsp: input shorter than window size")
)

// STFTConfig describes a short-time Fourier transform.
type STFTConfig struct {
	FFTSize int
	HopSize int
	Window  []float64 // len must equal FFTSize; nil means Hann
	// Center pads the signal by FFTSize/2 on both sides (reflecting the
	// signal, or zeros when it is too short to reflect) so frame t is
	// centered on sample t*HopSize.
	Center bool
	// MaxFrames stops the transform early. Frames are independent, so the
	// first MaxFrames rows equal those of the full transform. 0 means no limit.
	MaxFrames int
}

func (c STFTConfig) validate() error {
	if c.FFTSize <= 0 || c.HopSize <= 0 {
		return fmt.Errorf("dsp: invalid fft size %d / hop %d", c.FFTSize, c.HopSize)
	}
	if c.Window != nil && len(c.Window) != c.FFTSize {
		return errors.New("dsp: window length must equal fft size")
	}
	return nil
}

// NumBins is the number of non-negative frequency bins per frame.
func (c STFTConfig) NumBins() int { return c.FFTSize/2 + 1 }

// NumFrames returns how many frames a signal of n samples produces.
func (c STFTConfig) NumFrames(n int) int {
	var frames int
	if c.Center {
		frames = 1 + n/c.HopSize
	} else {
		if n < c.FFTSize {
			return 0
		}
		frames = 1 + (n-c.FFTSize)/c.HopSize
	}
	if c.MaxFrames > 0 && frames > c.MaxFrames {
		frames = c.MaxFrames
	}
	return frames
}

// PowerSpectrogram returns |STFT|² as [frame][bin].
func PowerSpectrogram(samples []float64, cfg STFTConfig) ([][]float64, error) {
	return stft(samples, cfg, func(c complex128) float64 {
		return real(c)*real(c) + imag(c)*imag(c)
	})
}

// MagnitudeSpectrogram returns |STFT| as [frame][bin].
func MagnitudeSpectrogram(samples []float64, cfg STFTConfig) ([][]float64, error) {
	return stft(samples, cfg, cmplx.Abs)
}

func stft(samples []float64, cfg STFTConfig, reduce func(complex128) float64) ([][]float64, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyInput
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	window := cfg.Window
	if window == nil {
		window = Hann(cfg.FFTSize)
	}

	numFrames := cfg.NumFrames(len(samples))
	if numFrames == 0 {
		return nil, ErrTooShort
	}

	pad := 0
	if cfg.Center {
		pad = cfg.FFTSize / 2
	}
	reflect := pad > 0 && len(samples) > pad
	at := func(i int) float64 {
		i -= pad
		if i >= 0 && i < len(samples) {
			return samples[i]
		}
		if !reflect {
			return 0
		}
		if i < 0 {
			return samples[-i]
		}
		return samples[2*(len(samples)-1)-i]
	}

	bins := cfg.NumBins()
	out := make([][]float64, numFrames)
	frame := make([]float64, cfg.FFTSize)
	for t := 0; t < numFrames; t++ {
		start := t * cfg.HopSize
		for i := range frame {
			frame[i] = at(start+i) * window[i]
		}
		spectrum := fft.FFTReal(frame)
		row := make([]float64, bins)
		for k := 0; k < bins; k++ {
			row[k] = reduce(spectrum[k])
		}
		out[t] = row
	}
	return out, nil
}

// BinFrequency returns the centre frequency of FFT bin k.
func BinFrequency(k, fftSize, sampleRate int) float64 {
	return float64(k) * float64(sampleRate) / float64(fftSize)
}
