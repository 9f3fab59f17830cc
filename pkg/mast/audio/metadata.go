package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dhowden/tag"
)

// Metadata describes a track as reported by ffprobe, with embedded tags
// filled in from the file itself when ffprobe has none.
type Metadata struct {
	Filename    string  `json:"filename"`
	Title       string  `json:"title,omitempty"`
	Artist      string  `json:"artist,omitempty"`
	Album       string  `json:"album,omitempty"`
	Genre       string  `json:"genre,omitempty"`
	Year        int     `json:"year,omitempty"`
	DurationSec float64 `json:"duration_sec"`
	SampleRate  int     `json:"sample_rate"`
	Channels    int     `json:"channels"`
	BitDepth    int     `json:"bit_depth,omitempty"`
	Format      string  `json:"format"`
}

type ffprobeOutput struct {
	Format struct {
		Duration string            `json:"duration"`
		Format   string            `json:"format_name"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	CodecType     string `json:"codec_type"`
	SampleRate    string `json:"sample_rate"`
	Channels      int    `json:"channels"`
	BitsPerSample int    `json:"bits_per_sample"`
}

func (p *ffprobeOutput) firstAudioStream() *ffprobeStream {
	for i := range p.Streams {
		if p.Streams[i].CodecType == "audio" {
			return &p.Streams[i]
		}
	}
	return nil
}

func runFFprobe(ctx context.Context, path string) (*ffprobeOutput, *ffprobeStream, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, fmt.Errorf("ffprobe: %w", err)
	}

	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	stream := probe.firstAudioStream()
	if stream == nil {
		return nil, nil, errors.New("no audio stream found")
	}
	return &probe, stream, nil
}

func probeSampleRate(ctx context.Context, path string) (int, error) {
	_, stream, err := runFFprobe(ctx, path)
	if err != nil {
		return 0, err
	}
	sr, err := strconv.Atoi(stream.SampleRate)
	if err != nil || sr <= 0 {
		return 0, fmt.Errorf("invalid sample rate %q", stream.SampleRate)
	}
	return sr, nil
}

// ReadMetadata probes the stream layout with ffprobe and merges in the
// ID3/Vorbis/MP4 tags read directly from the file.
func ReadMetadata(ctx context.Context, path string) (*Metadata, error) {
	probe, stream, err := runFFprobe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, filepath.Base(path), err)
	}

	duration, _ := strconv.ParseFloat(probe.Format.Duration, 64)
	sampleRate, _ := strconv.Atoi(stream.SampleRate)

	meta := &Metadata{
		Filename:    filepath.Base(path),
		DurationSec: duration,
		SampleRate:  sampleRate,
		Channels:    stream.Channels,
		BitDepth:    stream.BitsPerSample,
		Format:      probe.Format.Format,
	}
	if probe.Format.Tags != nil {
		meta.Title = probe.Format.Tags["title"]
		meta.Artist = probe.Format.Tags["artist"]
		meta.Album = probe.Format.Tags["album"]
		meta.Genre = probe.Format.Tags["genre"]
	}

	mergeTags(meta, path)
	return meta, nil
}

// ReadTags reads only the embedded tags. It needs no external tools.
func ReadTags(path string) (*Metadata, error) {
	meta := &Metadata{Filename: filepath.Base(path)}
	if err := mergeTags(meta, path); err != nil {
		return nil, err
	}
	return meta, nil
}

func mergeTags(meta *Metadata, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return err
	}
	if meta.Title == "" {
		meta.Title = m.Title()
	}
	if meta.Artist == "" {
		meta.Artist = m.Artist()
	}
	if meta.Album == "" {
		meta.Album = m.Album()
	}
	if meta.Genre == "" {
		meta.Genre = m.Genre()
	}
	if meta.Year == 0 {
		meta.Year = m.Year()
	}
	if meta.Format == "" {
		meta.Format = string(m.FileType())
	}
	return nil
}
