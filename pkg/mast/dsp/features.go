package dsp

import "math"

// Chroma folds a [frame][bin] power spectrogram into 12 pitch classes
// (0 = C) using equal temperament around A440. Only bins between 27.5 Hz and
// sampleRate/4 contribute. Each frame is scaled so its strongest class is 1.
func Chroma(power [][]float64, sampleRate, fftSize int) [][]float64 {
	const fmin = 27.5
	fmax := float64(sampleRate) / 4

	classOf := make([]int, fftSize/2+1)
	for k := range classOf {
		f := BinFrequency(k, fftSize, sampleRate)
		if f < fmin || f > fmax {
			classOf[k] = -1
			continue
		}
		midi := 69 + 12*math.Log2(f/440)
		classOf[k] = ((int(math.Round(midi)) % 12) + 12) % 12
	}

	out := make([][]float64, len(power))
	for t, frame := range power {
		row := make([]float64, 12)
		for k, v := range frame {
			if k < len(classOf) && classOf[k] >= 0 {
				row[classOf[k]] += v
			}
		}
		var peak float64
		for _, v := range row {
			peak = math.Max(peak, v)
		}
		if peak > 0 {
			for i := range row {
				row[i] /= peak
			}
		}
		out[t] = row
	}
	return out
}

// MeanRows averages a [frame][feature] matrix over frames.
func MeanRows(m [][]float64) []float64 {
	if len(m) == 0 {
		return nil
	}
	out := make([]float64, len(m[0]))
	for _, row := range m {
		for i, v := range row {
			out[i] += v
		}
	}
	for i := range out {
		out[i] /= float64(len(m))
	}
	return out
}

// RMS returns the root-mean-square energy of centered, zero-padded frames.
func RMS(samples []float64, frameLength, hopSize int) []float64 {
	if len(samples) == 0 || frameLength <= 0 || hopSize <= 0 {
		return nil
	}
	pad := frameLength / 2
	frames := 1 + len(samples)/hopSize
	out := make([]float64, frames)
	for t := range out {
		start := t*hopSize - pad
		var sum float64
		for i := start; i < start+frameLength; i++ {
			if i >= 0 && i < len(samples) {
				sum += samples[i] * samples[i]
			}
		}
		out[t] = math.Sqrt(sum / float64(frameLength))
	}
	return out
}

// SpectralCentroid returns the magnitude-weighted mean frequency of each
// [frame][bin] row. Silent frames yield 0.
func SpectralCentroid(mag [][]float64, sampleRate, fftSize int) []float64 {
	out := make([]float64, len(mag))
	for t, frame := range mag {
		var num, den float64
		for k, v := range frame {
			num += BinFrequency(k, fftSize, sampleRate) * v
			den += v
		}
		if den > 0 {
			out[t] = num / den
		}
	}
	return out
}

// OnsetEnvelope is the positive spectral flux of a [band][frame] dB
// spectrogram averaged over bands. The first frame is 0.
func OnsetEnvelope(melDB [][]float64) []float64 {
	if len(melDB) == 0 {
		return nil
	}
	frames := len(melDB[0])
	env := make([]float64, frames)
	for t := 1; t < frames; t++ {
		var sum float64
		for _, band := range melDB {
			if d := band[t] - band[t-1]; d > 0 {
				sum += d
			}
		}
		env[t] = sum / float64(len(melDB))
	}
	return env
}

// EstimateTempo picks the beat period whose autocorrelation of the onset
// envelope is strongest within [minBPM, maxBPM], weighted by a log-normal
// prior centred on 120 BPM with a one octave spread. frameRate is envelope
// frames per second. Returns 0 when the envelope carries no periodic energy.
func EstimateTempo(env []float64, frameRate, minBPM, maxBPM float64) float64 {
	if len(env) < 4 || frameRate <= 0 || minBPM <= 0 || maxBPM <= minBPM {
		return 0
	}

	var mean float64
	for _, v := range env {
		mean += v
	}
	mean /= float64(len(env))
	x := make([]float64, len(env))
	for i, v := range env {
		x[i] = v - mean
	}

	minLag := int(math.Floor(frameRate * 60 / maxBPM))
	maxLag := int(math.Ceil(frameRate * 60 / minBPM))
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= len(x)-1 {
		maxLag = len(x) - 2
	}
	if minLag > maxLag {
		return 0
	}

	ac := func(lag int) float64 {
		var s float64
		for i := 0; i+lag < len(x); i++ {
			s += x[i] * x[i+lag]
		}
		return s
	}

	prior := func(lag int) float64 {
		bpm := 60 * frameRate / float64(lag)
		z := math.Log2(bpm) - math.Log2(120)
		return math.Exp(-0.5 * z * z)
	}

	bestLag, best := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		if v := ac(lag) * prior(lag); v > best {
			best, bestLag = v, lag
		}
	}
	if bestLag == 0 {
		return 0
	}

	// Parabolic interpolation around the peak for sub-frame precision.
	period := float64(bestLag)
	if bestLag > 1 {
		y0, y1, y2 := ac(bestLag-1), ac(bestLag), ac(bestLag+1)
		if d := y0 - 2*y1 + y2; d < 0 {
			period += math.Max(-0.5, math.Min(0.5, 0.5*(y0-y2)/d))
		}
	}

	bpm := 60 * frameRate / period
	return math.Max(minBPM, math.Min(maxBPM, bpm))
}
