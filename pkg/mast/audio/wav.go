package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// errNeedsFFmpeg signals a valid RIFF file whose encoding (float, ADPCM, ...)
// the native reader does not handle.
var errNeedsFFmpeg = errors.New("wav encoding needs ffmpeg")

// ReadWAV decodes an integer PCM WAV file to mono samples in [-1, 1]. Multi
// channel audio is averaged. When maxDuration > 0 only the leading part of the
// file is read.
func ReadWAV(path string, maxDuration time.Duration) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%w: %s is not a valid WAV file", ErrDecode, filepath.Base(path))
	}
	if decoder.WavAudioFormat != 1 {
		return nil, errNeedsFFmpeg
	}

	channels := int(decoder.NumChans)
	sampleRate := int(decoder.SampleRate)
	bitDepth := int(decoder.BitDepth)
	if channels < 1 || sampleRate <= 0 || bitDepth <= 0 {
		return nil, fmt.Errorf("%w: %s has an invalid format header", ErrDecode, filepath.Base(path))
	}

	var buf *goaudio.IntBuffer
	if maxDuration > 0 {
		frames := int(maxDuration.Seconds() * float64(sampleRate))
		buf = &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
			Data:           make([]int, frames*channels),
			SourceBitDepth: bitDepth,
		}
		n, err := decoder.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrDecode, filepath.Base(path), err)
		}
		buf.Data = buf.Data[:n]
	} else {
		buf, err = decoder.FullPCMBuffer()
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrDecode, filepath.Base(path), err)
		}
	}

	if len(buf.Data) < channels {
		return nil, fmt.Errorf("%w: %s contains no audio", ErrDecode, filepath.Base(path))
	}

	return &Clip{
		Samples:    downmix(buf.Data, channels, bitDepth),
		SampleRate: sampleRate,
	}, nil
}

// downmix averages interleaved integer channels into normalized mono.
// 8-bit PCM is unsigned with silence at 128.
func downmix(data []int, channels, bitDepth int) []float64 {
	scale := 1.0 / float64(int64(1)<<(uint(bitDepth)-1))
	offset := 0
	if bitDepth == 8 {
		offset = 128
	}
	frames := len(data) / channels
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += data[i*channels+c] - offset
		}
		out[i] = float64(sum) / float64(channels) * scale
	}
	return out
}

// WriteWAV encodes mono samples in [-1, 1] as 16-bit PCM. Values outside the
// range are clipped.
func WriteWAV(path string, samples []float64, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	data := make([]int, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		data[i] = int(s * 32767)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("encoding wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalizing wav: %w", err)
	}
	return f.Close()
}
