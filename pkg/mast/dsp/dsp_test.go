package dsp

import (
	"errors"
	"math"
	"testing"
)

func tone(freq float64, sampleRate, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * freq * float64(i) / float64(sampleRate))
	}
	return out
}

func TestHann(t *testing.T) {
	w := Hann(8)
	if w[0] != 0 {
		t.Errorf("Expected w[0]=0, got %f", w[0])
	}
	if math.Abs(w[4]-1) > 1e-12 {
		t.Errorf("Expected w[4]=1 for periodic window, got %f", w[4])
	}
	for i := 1; i < 4; i++ {
		if math.Abs(w[i]-w[8-i]) > 1e-12 {
			t.Errorf("Window not symmetric at %d: %f vs %f", i, w[i], w[8-i])
		}
	}
}

func TestHamming(t *testing.T) {
	w := Hamming(5)
	if math.Abs(w[0]-0.08) > 1e-12 || math.Abs(w[4]-0.08) > 1e-12 {
		t.Errorf("Expected endpoints 0.08, got %f and %f", w[0], w[4])
	}
	if math.Abs(w[2]-1) > 1e-12 {
		t.Errorf("Expected centre 1, got %f", w[2])
	}
}

func TestSTFTFrameCount(t *testing.T) {
	tests := []struct {
		name     string
		cfg      STFTConfig
		n        int
		expected int
	}{
		{"centered", STFTConfig{FFTSize: 2048, HopSize: 512, Center: true}, 22050, 1 + 22050/512},
		{"not centered", STFTConfig{FFTSize: 2048, HopSize: 512}, 22050, 1 + (22050-2048)/512},
		{"capped", STFTConfig{FFTSize: 2048, HopSize: 512, Center: true, MaxFrames: 10}, 22050, 10},
		{"short centered", STFTConfig{FFTSize: 2048, HopSize: 512, Center: true}, 100, 1},
		{"short uncentered", STFTConfig{FFTSize: 2048, HopSize: 512}, 100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.NumFrames(tt.n); got != tt.expected {
				t.Errorf("Expected %d frames, got %d", tt.expected, got)
			}
		})
	}
}

func TestPowerSpectrogramPeak(t *testing.T) {
	const sr, fftSize, bin = 22050, 2048, 93
	freq := BinFrequency(bin, fftSize, sr)
	spec, err := PowerSpectrogram(tone(freq, sr, sr), STFTConfig{FFTSize: fftSize, HopSize: 512, Center: true})
	if err != nil {
		t.Fatalf("PowerSpectrogram failed: %v", err)
	}
	if len(spec[0]) != fftSize/2+1 {
		t.Fatalf("Expected %d bins, got %d", fftSize/2+1, len(spec[0]))
	}

	frame := spec[len(spec)/2]
	peak := 0
	for k := range frame {
		if frame[k] > frame[peak] {
			peak = k
		}
	}
	if peak != bin {
		t.Errorf("Expected peak at bin %d, got %d", bin, peak)
	}
}

func TestSTFTMaxFramesMatchesFull(t *testing.T) {
	samples := tone(300, 8000, 8000)
	full, err := PowerSpectrogram(samples, STFTConfig{FFTSize: 512, HopSize: 128, Center: true})
	if err != nil {
		t.Fatal(err)
	}
	head, err := PowerSpectrogram(samples, STFTConfig{FFTSize: 512, HopSize: 128, Center: true, MaxFrames: 5})
	if err != nil {
		t.Fatal(err)
	}
	for i := range head {
		for k := range head[i] {
			if head[i][k] != full[i][k] {
				t.Fatalf("Frame %d bin %d differs: %g vs %g", i, k, head[i][k], full[i][k])
			}
		}
	}
}

func TestSTFTErrors(t *testing.T) {
	if _, err := PowerSpectrogram(nil, STFTConfig{FFTSize: 256, HopSize: 64}); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("Expected ErrEmptyInput, got %v", err)
	}
	if _, err := PowerSpectrogram(make([]float64, 10), STFTConfig{FFTSize: 256, HopSize: 64}); !errors.Is(err, ErrTooShort) {
		t.Errorf("Expected ErrTooShort, got %v", err)
	}
	if _, err := PowerSpectrogram(make([]float64, 300), STFTConfig{FFTSize: 256, HopSize: 64, Window: Hann(128)}); err == nil {
		t.Error("Expected error for mismatched window length")
	}
}

func TestMelScaleRoundTrip(t *testing.T) {
	for _, hz := range []float64{0, 100, 999, 1000, 4000, 11025} {
		if back := MelToHz(HzToMel(hz)); math.Abs(back-hz) > 1e-6 {
			t.Errorf("MelToHz(HzToMel(%f)) = %f", hz, back)
		}
	}
	if m := HzToMel(1000); math.Abs(m-15) > 1e-12 {
		t.Errorf("Expected 1 kHz at mel 15, got %f", m)
	}
}

func TestMelFilterBank(t *testing.T) {
	bank := MelFilterBank(128, 2048, 22050, 0, 0)
	if len(bank) != 128 {
		t.Fatalf("Expected 128 filters, got %d", len(bank))
	}
	for m, filter := range bank {
		if len(filter) != 1025 {
			t.Fatalf("Filter %d has %d bins, expected 1025", m, len(filter))
		}
		var sum float64
		for _, w := range filter {
			if w < 0 || math.IsNaN(w) {
				t.Fatalf("Filter %d has invalid weight %f", m, w)
			}
			sum += w
		}
		if sum == 0 {
			t.Errorf("Filter %d is empty", m)
		}
	}
}

func TestApplyFilterBankShape(t *testing.T) {
	spec := [][]float64{{1, 2, 3}, {4, 5, 6}}
	bank := [][]float64{{1, 0, 0}, {0, 0, 1}}
	out := ApplyFilterBank(spec, bank)
	expected := [][]float64{{1, 4}, {3, 6}}
	for m := range expected {
		for tt := range expected[m] {
			if out[m][tt] != expected[m][tt] {
				t.Errorf("out[%d][%d] = %f, expected %f", m, tt, out[m][tt], expected[m][tt])
			}
		}
	}
}

func TestPowerToDB(t *testing.T) {
	s := [][]float64{{1, 10, 100}, {0, 1e-12, 1e4}}
	db := PowerToDB(s, 1, 0)
	expected := [][]float64{{0, 10, 20}, {-100, -100, 40}}
	for i := range expected {
		for j := range expected[i] {
			if math.Abs(db[i][j]-expected[i][j]) > 1e-9 {
				t.Errorf("db[%d][%d] = %f, expected %f", i, j, db[i][j], expected[i][j])
			}
		}
	}

	clipped := PowerToDB(s, 1, 80)
	if math.Abs(clipped[1][0]+40) > 1e-9 {
		t.Errorf("Expected top_db clip at -40, got %f", clipped[1][0])
	}
}

func TestAmplitudeToDBRefMax(t *testing.T) {
	db := AmplitudeToDB([][]float64{{1, 10}}, 0, 0)
	if math.Abs(db[0][1]) > 1e-9 {
		t.Errorf("Expected max at 0 dB, got %f", db[0][1])
	}
	if math.Abs(db[0][0]+20) > 1e-9 {
		t.Errorf("Expected -20 dB, got %f", db[0][0])
	}
}

func TestChromaA440(t *testing.T) {
	const sr = 22050
	power, err := PowerSpectrogram(tone(440, sr, sr), STFTConfig{FFTSize: 2048, HopSize: 512, Center: true})
	if err != nil {
		t.Fatal(err)
	}
	avg := MeanRows(Chroma(power, sr, 2048))
	if len(avg) != 12 {
		t.Fatalf("Expected 12 pitch classes, got %d", len(avg))
	}
	best := 0
	for i := range avg {
		if avg[i] > avg[best] {
			best = i
		}
	}
	if best != 9 {
		t.Errorf("Expected pitch class 9 (A), got %d", best)
	}
}

func TestRMS(t *testing.T) {
	samples := make([]float64, 4096)
	for i := range samples {
		samples[i] = 0.5
	}
	rms := RMS(samples, 1024, 512)
	if len(rms) != 1+4096/512 {
		t.Fatalf("Expected %d frames, got %d", 1+4096/512, len(rms))
	}
	mid := rms[len(rms)/2]
	if math.Abs(mid-0.5) > 1e-12 {
		t.Errorf("Expected RMS 0.5 in fully covered frame, got %f", mid)
	}
	if rms[0] >= mid {
		t.Errorf("Expected padded first frame below %f, got %f", mid, rms[0])
	}
}

func TestSpectralCentroid(t *testing.T) {
	mag := [][]float64{{0, 0, 1, 0}, {0, 0, 0, 0}}
	c := SpectralCentroid(mag, 8, 6)
	if math.Abs(c[0]-BinFrequency(2, 6, 8)) > 1e-12 {
		t.Errorf("Expected centroid at bin 2 frequency, got %f", c[0])
	}
	if c[1] != 0 {
		t.Errorf("Expected 0 for silent frame, got %f", c[1])
	}
}

func TestOnsetEnvelope(t *testing.T) {
	env := OnsetEnvelope([][]float64{{0, 10, 5, 5}, {0, 20, 25, 0}})
	expected := []float64{0, 15, 2.5, 0}
	for i := range expected {
		if env[i] != expected[i] {
			t.Errorf("env[%d] = %f, expected %f", i, env[i], expected[i])
		}
	}
}

func TestEstimateTempoImpulseTrain(t *testing.T) {
	const frameRate = 40.0
	env := make([]float64, 800)
	for i := 0; i < len(env); i += 20 { // every 0.5 s
		env[i] = 1
	}
	bpm := EstimateTempo(env, frameRate, 60, 200)
	if math.Abs(bpm-120) > 1 {
		t.Errorf("Expected 120 BPM, got %.2f", bpm)
	}
}

func TestEstimateTempoFlat(t *testing.T) {
	if bpm := EstimateTempo(make([]float64, 100), 40, 60, 200); bpm != 0 {
		t.Errorf("Expected 0 for flat envelope, got %f", bpm)
	}
}
