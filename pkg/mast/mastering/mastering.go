package mastering

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/himanishpuri/mast/internal/metrics"
	"github.com/himanishpuri/mast/pkg/logger"
	"github.com/himanishpuri/mast/pkg/utils"
)

var ErrMastering = errors.New("mastering: failed")

type Format string

const (
	WAV  Format = "wav"
	FLAC Format = "flac"
	MP3  Format = "mp3"
	AIFF Format = "aiff"
)

const (
	PCM16 = "PCM_16"
	PCM24 = "PCM_24"
	Float = "FLOAT"
)

// Bitrates lists the accepted MP3 bitrates, best first.
var Bitrates = []string{"320k", "256k", "192k", "128k"}

// DefaultPattern names mastered files after both inputs.
const DefaultPattern = "{target}_mastered_to_{reference}"

// DefaultCommand runs the matchering command line wrapper.
var DefaultCommand = []string{"python3", "-m", "matchering_cli"}

var subtypes = map[Format][]string{
	WAV:  {PCM16, PCM24, Float},
	FLAC: {PCM16, PCM24},
	AIFF: {PCM16, PCM24},
}

var subtypeBits = map[string]string{PCM16: "16", PCM24: "24", Float: "32"}

// ParseFormat accepts a format name or file extension, any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")); f {
	case WAV, FLAC, MP3, AIFF:
		return f, nil
	case "aif":
		return AIFF, nil
	case "":
		return WAV, nil
	}
	return "", fmt.Errorf("unsupported output format %q", s)
}

// Request describes one mastering job: make TargetPath sound like
// ReferencePath and write the result to OutputPath.
type Request struct {
	TargetPath    string `json:"target_path"`
	ReferencePath string `json:"reference_path"`
	OutputPath    string `json:"output_path"`
	Format        Format `json:"format"`
	Subtype       string `json:"subtype,omitempty"` // wav, flac, aiff
	Bitrate       string `json:"bitrate,omitempty"` // mp3
}

// Normalize fills defaults (WAV, PCM_24, 320k) and validates the
// format-specific options.
func (r Request) Normalize() (Request, error) {
	if r.TargetPath == "" || r.ReferencePath == "" {
		return r, fmt.Errorf("%w: target and reference are required", ErrMastering)
	}
	if r.OutputPath == "" {
		return r, fmt.Errorf("%w: output path is required", ErrMastering)
	}
	f, err := ParseFormat(string(r.Format))
	if err != nil {
		return r, fmt.Errorf("%w: %v", ErrMastering, err)
	}
	r.Format = f

	if f == MP3 {
		if r.Subtype != "" {
			return r, fmt.Errorf("%w: mp3 takes a bitrate, not a subtype", ErrMastering)
		}
		if r.Bitrate == "" {
			r.Bitrate = Bitrates[0]
		}
		if !contains(Bitrates, r.Bitrate) {
			return r, fmt.Errorf("%w: unsupported mp3 bitrate %q", ErrMastering, r.Bitrate)
		}
		return r, nil
	}

	if r.Bitrate != "" {
		return r, fmt.Errorf("%w: bitrate only applies to mp3", ErrMastering)
	}
	if r.Subtype == "" {
		r.Subtype = PCM24
	}
	r.Subtype = strings.ToUpper(r.Subtype)
	if !contains(subtypes[f], r.Subtype) {
		return r, fmt.Errorf("%w: subtype %s not available for %s", ErrMastering, r.Subtype, f)
	}
	return r, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var placeholder = regexp.MustCompile(`\{([^{}]*)\}`)

// OutputPath expands pattern ({target}, {reference}, {date}, {time}) into a
// file path with the format's extension. An empty dir places the file next
// to the target; an empty pattern uses DefaultPattern.
func OutputPath(pattern, target, reference, dir string, format Format, now time.Time) (string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	vars := map[string]string{
		"target":    stem(target),
		"reference": stem(reference),
		"date":      now.Format("20060102"),
		"time":      now.Format("150405"),
	}

	var unknown []string
	name := placeholder.ReplaceAllStringFunc(pattern, func(m string) string {
		key := m[1 : len(m)-1]
		if v, ok := vars[key]; ok {
			return v
		}
		unknown = append(unknown, m)
		return m
	})
	if len(unknown) > 0 {
		return "", fmt.Errorf("unknown placeholder %s in naming pattern", strings.Join(unknown, ", "))
	}
	if strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("naming pattern %q must not contain path separators", pattern)
	}

	if dir == "" {
		dir = filepath.Dir(target)
	}
	return filepath.Join(dir, name+"."+string(format)), nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Service masters a target track against a reference.
type Service interface {
	Master(ctx context.Context, req Request) error
}

// CommandService runs an external mastering program as
//
//	<Command...> <target> <reference> <output> -b <16|24|32>
//
// and converts to MP3 with ffmpeg when asked.
type CommandService struct {
	Command    []string
	FFmpegPath string
	Timeout    time.Duration
	Log        *logger.Logger
}

// NewCommandService uses DefaultCommand when command is empty.
func NewCommandService(command ...string) *CommandService {
	if len(command) == 0 {
		command = DefaultCommand
	}
	return &CommandService{
		Command:    command,
		FFmpegPath: "ffmpeg",
		Timeout:    30 * time.Minute,
		Log:        logger.GetLogger(),
	}
}

func (s *CommandService) Master(ctx context.Context, req Request) error {
	req, err := req.Normalize()
	if err != nil {
		return err
	}
	if len(s.Command) == 0 {
		return fmt.Errorf("%w: no mastering command configured", ErrMastering)
	}
	for _, p := range []string{req.TargetPath, req.ReferencePath} {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %v", ErrMastering, err)
		}
	}
	if s.Timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.Timeout)
			defer cancel()
		}
	}
	metrics.MasteringJobsTotal.Add(1)

	if err := utils.MakeDir(filepath.Dir(req.OutputPath)); err != nil {
		return fmt.Errorf("%w: %v", ErrMastering, err)
	}

	if req.Format != MP3 {
		return s.run(ctx, req.TargetPath, req.ReferencePath, req.OutputPath, req.Subtype)
	}

	tmpDir, err := os.MkdirTemp("", "mast-master-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMastering, err)
	}
	defer os.RemoveAll(tmpDir)

	wav := filepath.Join(tmpDir, stem(req.OutputPath)+".wav")
	if err := s.run(ctx, req.TargetPath, req.ReferencePath, wav, PCM24); err != nil {
		return err
	}
	return s.encodeMP3(ctx, wav, req.OutputPath, req.Bitrate)
}

func (s *CommandService) run(ctx context.Context, target, reference, output, subtype string) error {
	args := append([]string{}, s.Command[1:]...)
	args = append(args, target, reference, output, "-b", subtypeBits[subtype])

	if s.Log != nil {
		s.Log.Infof("Mastering %s against %s -> %s", filepath.Base(target), filepath.Base(reference), output)
	}
	cmd := exec.CommandContext(ctx, s.Command[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v: %s", ErrMastering, err, strings.TrimSpace(stderr.String()))
	}
	if _, err := os.Stat(output); err != nil {
		return fmt.Errorf("%w: command finished but produced no output: %v", ErrMastering, err)
	}
	return nil
}

func (s *CommandService) encodeMP3(ctx context.Context, src, dst, bitrate string) error {
	bin := s.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin, "-hide_banner", "-v", "error", "-y", "-i", src, "-codec:a", "libmp3lame", "-b:a", bitrate, dst)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: mp3 encode: %v: %s", ErrMastering, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
