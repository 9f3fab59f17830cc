package analyzer

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/eligwz/spectrogram"
)

const (
	DefaultImageWidth  = 2048
	DefaultImageHeight = 512
)

// RenderSpectrogram draws a linear-magnitude FFT spectrogram of samples onto
// a black width x height canvas and saves it as PNG. Hamming windows are used
// and each image row is one frequency bin.
func RenderSpectrogram(samples []float64, sampleRate, width, height int, path string) error {
	if len(samples) == 0 {
		return fmt.Errorf("%w: no audio to render", ErrAnalysis)
	}
	if width <= 0 {
		width = DefaultImageWidth
	}
	if height <= 0 {
		height = DefaultImageHeight
	}

	img := spectrogram.NewImage128(image.Rect(0, 0, width, height))
	black := spectrogram.ParseColor("000000")
	draw.Draw(img, img.Bounds(), image.NewUniform(black), image.Point{}, draw.Src)

	spectrogram.Drawfft(
		img,
		samples,
		uint32(sampleRate),
		uint32(height),
		false, // rectangle window off: Hamming
		false, // FFT rather than DFT
		true,  // magnitude
		false, // linear scale
	)

	if err := spectrogram.SavePng(img, path); err != nil {
		return fmt.Errorf("saving spectrogram %s: %w", path, err)
	}
	return nil
}
