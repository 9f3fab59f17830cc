package dsp

import "math"

// Slaney mel scale: linear below 1 kHz, logarithmic above.
const (
	melFSp      = 200.0 / 3
	melMinLogHz = 1000.0
	melMinLog   = melMinLogHz / melFSp
)

var melLogStep = math.Log(6.4) / 27.0

// HzToMel converts a frequency to the Slaney mel scale.
func HzToMel(hz float64) float64 {
	if hz >= melMinLogHz {
		return melMinLog + math.Log(hz/melMinLogHz)/melLogStep
	}
	return hz / melFSp
}

// MelToHz is the inverse of HzToMel.
func MelToHz(mel float64) float64 {
	if mel >= melMinLog {
		return melMinLogHz * math.Exp(melLogStep*(mel-melMinLog))
	}
	return melFSp * mel
}

// MelFilterBank builds numMels triangular filters spanning [fmin, fmax] over
// the fftSize/2+1 spectrum bins, area-normalized so each band has roughly
// constant energy per Hz. fmax <= 0 means Nyquist. Returns [mel][bin].
func MelFilterBank(numMels, fftSize, sampleRate int, fmin, fmax float64) [][]float64 {
	if fmax <= 0 {
		fmax = float64(sampleRate) / 2
	}
	bins := fftSize/2 + 1

	fftFreqs := make([]float64, bins)
	for k := range fftFreqs {
		fftFreqs[k] = BinFrequency(k, fftSize, sampleRate)
	}

	// numMels + 2 points equally spaced on the mel axis.
	lowMel, highMel := HzToMel(fmin), HzToMel(fmax)
	melHz := make([]float64, numMels+2)
	for i := range melHz {
		melHz[i] = MelToHz(lowMel + (highMel-lowMel)*float64(i)/float64(numMels+1))
	}

	bank := make([][]float64, numMels)
	for m := 0; m < numMels; m++ {
		left, center, right := melHz[m], melHz[m+1], melHz[m+2]
		norm := 2.0 / (right - left)
		filter := make([]float64, bins)
		for k, f := range fftFreqs {
			lower := (f - left) / (center - left)
			upper := (right - f) / (right - center)
			w := math.Min(lower, upper)
			if w > 0 {
				filter[k] = w * norm
			}
		}
		bank[m] = filter
	}
	return bank
}

// ApplyFilterBank projects a [frame][bin] spectrogram through a [band][bin]
// filterbank, producing [band][frame].
func ApplyFilterBank(spec [][]float64, bank [][]float64) [][]float64 {
	out := make([][]float64, len(bank))
	for m, filter := range bank {
		row := make([]float64, len(spec))
		for t, frame := range spec {
			var sum float64
			n := min(len(frame), len(filter))
			for k := 0; k < n; k++ {
				if filter[k] != 0 {
					sum += filter[k] * frame[k]
				}
			}
			row[t] = sum
		}
		out[m] = row
	}
	return out
}

// Transpose swaps the axes of a rectangular matrix.
func Transpose(m [][]float64) [][]float64 {
	if len(m) == 0 {
		return nil
	}
	out := make([][]float64, len(m[0]))
	for j := range out {
		out[j] = make([]float64, len(m))
		for i := range m {
			out[j][i] = m[i][j]
		}
	}
	return out
}
