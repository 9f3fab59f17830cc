package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/himanishpuri/mast/pkg/logger"
	"github.com/himanishpuri/mast/pkg/utils"
)

var supported = map[string]struct{}{
	".mp3":  {},
	".wav":  {},
	".aif":  {},
	".flac": {},
	".m4a":  {},
	".ogg":  {},
}

// SupportedExtensions lists the recognized audio extensions, sorted.
func SupportedExtensions() []string {
	out := make([]string, 0, len(supported))
	for ext := range supported {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// IsSupported reports whether path has a recognized audio extension,
// ignoring case.
func IsSupported(path string) bool {
	_, ok := supported[strings.ToLower(filepath.Ext(path))]
	return ok
}

// FindAudioFiles walks root recursively and returns the absolute paths of all
// supported audio files in lexical order. Any path that resolves to the same
// file as one of exclude is left out. Subdirectories that cannot be read are
// logged and skipped; a missing or unreadable root is an error.
func FindAudioFiles(ctx context.Context, root string, exclude ...string) ([]string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", absRoot)
	}

	excluded := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		if e == "" {
			continue
		}
		excluded[utils.NormalizePath(e)] = struct{}{}
	}

	log := logger.GetLogger()
	var files []string
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == absRoot {
				return walkErr
			}
			log.Warnf("Skipping %s: %v", path, walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		// macOS AppleDouble sidecars share the extension but hold no audio.
		if strings.HasPrefix(d.Name(), "._") {
			return nil
		}
		if !IsSupported(path) {
			return nil
		}
		if len(excluded) > 0 {
			if _, skip := excluded[utils.NormalizePath(path)]; skip {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}
