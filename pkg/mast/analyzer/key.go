package analyzer

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var keyNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

var (
	majorProfile = []float64{1, 0, 1, 0, 1, 1, 0, 1, 0, 1, 0, 1}
	minorProfile = []float64{1, 0, 1, 1, 0, 1, 0, 1, 1, 0, 1, 0}
)

// DetectKey takes the strongest pitch class of a 12-bin chroma vector as the
// tonic and picks "major" when the chroma correlates better with the major
// scale rooted there than with the natural minor. Ties (and undefined
// correlations on flat chroma) resolve to "minor".
func DetectKey(chroma []float64) (key, scale string) {
	if len(chroma) != 12 {
		return "", ""
	}
	tonic := floats.MaxIdx(chroma)

	major := stat.Correlation(chroma, rotate(majorProfile, tonic), nil)
	minor := stat.Correlation(chroma, rotate(minorProfile, tonic), nil)

	scale = "minor"
	if major > minor {
		scale = "major"
	}
	return keyNames[tonic], scale
}

// rotate shifts p right by k places: out[i] = p[i-k].
func rotate(p []float64, k int) []float64 {
	n := len(p)
	out := make([]float64, n)
	for i := range p {
		out[(i+k)%n] = p[i]
	}
	return out
}
