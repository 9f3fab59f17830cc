package dsp

import "math"

const (
	// AminPower is the floor applied before taking log10 of a power value.
	AminPower = 1e-10
	// AminAmplitude is the equivalent floor for amplitude values.
	AminAmplitude = 1e-5
	// DefaultTopDB limits the dynamic range of a dB spectrogram.
	DefaultTopDB = 80.0
)

// PowerToDB converts a power matrix to decibels relative to ref:
// 10*log10(max(S, 1e-10)) - 10*log10(max(ref, 1e-10)). If topDB > 0, values
// are clipped to (max - topDB). ref <= 0 uses the matrix maximum.
func PowerToDB(s [][]float64, ref, topDB float64) [][]float64 {
	return toDB(s, ref, topDB, 10, AminPower)
}

// AmplitudeToDB is PowerToDB for magnitude values (20*log10).
func AmplitudeToDB(s [][]float64, ref, topDB float64) [][]float64 {
	return toDB(s, ref, topDB, 20, AminAmplitude)
}

func toDB(s [][]float64, ref, topDB, mult, amin float64) [][]float64 {
	if ref <= 0 {
		ref = MaxValue(s)
	}
	refDB := mult * math.Log10(math.Max(ref, amin))

	out := make([][]float64, len(s))
	peak := math.Inf(-1)
	for i, row := range s {
		r := make([]float64, len(row))
		for j, v := range row {
			db := mult*math.Log10(math.Max(v, amin)) - refDB
			r[j] = db
			if db > peak {
				peak = db
			}
		}
		out[i] = r
	}

	if topDB > 0 {
		floor := peak - topDB
		for _, r := range out {
			for j := range r {
				if r[j] < floor {
					r[j] = floor
				}
			}
		}
	}
	return out
}

// MaxValue returns the largest element of m, or 0 for an empty matrix.
func MaxValue(m [][]float64) float64 {
	peak := math.Inf(-1)
	for _, row := range m {
		for _, v := range row {
			if v > peak {
				peak = v
			}
		}
	}
	if math.IsInf(peak, -1) {
		return 0
	}
	return peak
}
