// Package config loads the user settings shared by the CLI and the server.
//
// Settings are read in three layers, later layers winning:
//
//	os.UserConfigDir()/mast/settings.yaml   (persisted preferences)
//	./.env                                  (loaded into the environment)
//	MAST_* environment variables
//
// The result is a plain value; callers take a snapshot at start-up and pass
// it down.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

const (
	appDir       = "mast"
	settingsFile = "settings.yaml"
)

// Settings mirrors the preferences a user can change.
type Settings struct {
	DefaultDirectory string   `yaml:"default_directory"`
	Threshold        float64  `yaml:"similarity_threshold"`
	MaxResults       int      `yaml:"max_results"`
	Metric           string   `yaml:"metric"`
	Workers          int      `yaml:"workers"`
	DefaultFormat    string   `yaml:"default_format"`
	DefaultSubtype   string   `yaml:"default_subtype"`
	DefaultBitrate   string   `yaml:"default_bitrate"`
	NamingPattern    string   `yaml:"naming_pattern"`
	OutputDirectory  string   `yaml:"output_directory"`
	MasteringCommand []string `yaml:"mastering_command"`
	DBPath           string   `yaml:"db_path"`
	LogLevel         string   `yaml:"log_level"`
	ServerAddr       string   `yaml:"server_addr"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		Threshold:      0.5,
		MaxResults:     50,
		Metric:         "cosine",
		Workers:        1,
		DefaultFormat:  "wav",
		DefaultSubtype: "PCM_24",
		DefaultBitrate: "320k",
		NamingPattern:  "{target}_mastered_to_{reference}",
		DBPath:         "mast.sqlite3",
		LogLevel:       "info",
		ServerAddr:     ":8080",
	}
}

// Dir returns the per-user settings directory.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	return filepath.Join(base, appDir), nil
}

// Path returns the settings file location.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, settingsFile), nil
}

// Load reads the default settings file, .env and the environment.
func Load() (Settings, error) {
	path, err := Path()
	if err != nil {
		return Settings{}, err
	}
	_ = godotenv.Load()
	return LoadFrom(path)
}

// LoadFrom reads the settings file at path (a missing file is not an error)
// and applies MAST_* overrides.
func LoadFrom(path string) (Settings, error) {
	s := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Settings{}, fmt.Errorf("read %s: %w", path, err)
	}

	if err := s.applyEnv(os.LookupEnv); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Save writes s to path, creating the directory as needed.
func Save(path string, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Validate checks ranges only; format names are checked where they are used.
func (s Settings) Validate() error {
	if math.IsNaN(s.Threshold) || s.Threshold < 0 {
		return fmt.Errorf("similarity_threshold must be >= 0, got %v", s.Threshold)
	}
	if s.MaxResults < 0 {
		return fmt.Errorf("max_results must be >= 0, got %d", s.MaxResults)
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", s.Workers)
	}
	return nil
}

func (s *Settings) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("MAST_DEFAULT_DIRECTORY", &s.DefaultDirectory)
	str("MAST_METRIC", &s.Metric)
	str("MAST_DEFAULT_FORMAT", &s.DefaultFormat)
	str("MAST_DEFAULT_SUBTYPE", &s.DefaultSubtype)
	str("MAST_DEFAULT_BITRATE", &s.DefaultBitrate)
	str("MAST_NAMING_PATTERN", &s.NamingPattern)
	str("MAST_OUTPUT_DIRECTORY", &s.OutputDirectory)
	str("MAST_DB_PATH", &s.DBPath)
	str("MAST_LOG_LEVEL", &s.LogLevel)
	str("MAST_SERVER_ADDR", &s.ServerAddr)

	if v, ok := lookup("MAST_MASTERING_COMMAND"); ok && strings.TrimSpace(v) != "" {
		s.MasteringCommand = strings.Fields(v)
	}
	if v, ok := lookup("MAST_THRESHOLD"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("MAST_THRESHOLD: %w", err)
		}
		s.Threshold = f
	}
	for key, dst := range map[string]*int{"MAST_MAX_RESULTS": &s.MaxResults, "MAST_WORKERS": &s.Workers} {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}
	return nil
}
