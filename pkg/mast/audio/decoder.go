package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrDecode marks any failure to turn a file into samples: missing file,
// unsupported codec, corrupt data. Callers scanning a library skip such files.
var ErrDecode = errors.New("audio: decode failed")

// Clip is decoded mono audio.
type Clip struct {
	Samples    []float64 // mono, normalized to [-1, 1]
	SampleRate int
}

// Duration returns the length of the decoded samples.
func (c *Clip) Duration() time.Duration {
	if c == nil || c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(c.Samples)) / float64(c.SampleRate) * float64(time.Second))
}

// DecodeOptions controls what a Decoder returns.
type DecodeOptions struct {
	SampleRate  int           // target rate; 0 keeps the native rate
	MaxDuration time.Duration // 0 decodes the whole file
}

// Decoder turns an audio file into mono samples. Implementations must be safe
// for concurrent use.
type Decoder interface {
	Decode(ctx context.Context, path string, opts DecodeOptions) (*Clip, error)
}

// FileDecoder reads PCM WAV natively and hands every other container to
// ffmpeg.
type FileDecoder struct {
	FFmpegPath string        // defaults to "ffmpeg" on PATH
	Timeout    time.Duration // per-file ffmpeg timeout when ctx has no deadline
}

// NewFileDecoder returns a FileDecoder with default settings.
func NewFileDecoder() *FileDecoder {
	return &FileDecoder{FFmpegPath: "ffmpeg", Timeout: 2 * time.Minute}
}

func (d *FileDecoder) Decode(ctx context.Context, path string, opts DecodeOptions) (*Clip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".wav") {
		clip, err := ReadWAV(path, opts.MaxDuration)
		if err == nil {
			return resampleClip(clip, opts.SampleRate)
		}
		if !errors.Is(err, errNeedsFFmpeg) {
			return nil, err
		}
	}
	return d.decodeFFmpeg(ctx, path, opts)
}

// decodeFFmpeg pipes the file through ffmpeg as mono little-endian float32.
func (d *FileDecoder) decodeFFmpeg(ctx context.Context, path string, opts DecodeOptions) (*Clip, error) {
	bin := d.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	if _, ok := ctx.Deadline(); !ok && d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	sampleRate := opts.SampleRate
	args := []string{"-hide_banner", "-v", "error", "-i", path}
	if opts.MaxDuration > 0 {
		args = append(args, "-t", strconv.FormatFloat(opts.MaxDuration.Seconds(), 'f', 3, 64))
	}
	args = append(args, "-ac", "1")
	if sampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(sampleRate))
	} else {
		native, err := probeSampleRate(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDecode, filepath.Base(path), err)
		}
		sampleRate = native
	}
	args = append(args, "-f", "f32le", "pipe:1")

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: ffmpeg %s: %v (%s)", ErrDecode, filepath.Base(path), err, strings.TrimSpace(stderr.String()))
	}

	raw := stdout.Bytes()
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("%w: unexpected ffmpeg output length %d", ErrDecode, len(raw))
	}
	samples := make([]float64, len(raw)/4)
	for i := range samples {
		samples[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: %s contains no audio", ErrDecode, filepath.Base(path))
	}

	return &Clip{Samples: samples, SampleRate: sampleRate}, nil
}

func resampleClip(clip *Clip, target int) (*Clip, error) {
	if target <= 0 || clip.SampleRate == target {
		return clip, nil
	}
	out, err := Resample(clip.Samples, clip.SampleRate, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &Clip{Samples: out, SampleRate: target}, nil
}
