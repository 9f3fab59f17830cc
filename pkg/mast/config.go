package mast

import (
	"github.com/himanishpuri/mast/pkg/mast/audio"
	"github.com/himanishpuri/mast/pkg/mast/embedding"
	"github.com/himanishpuri/mast/pkg/mast/mastering"
)

type Config struct {
	DBPath           string
	DisableHistory   bool
	Workers          int
	ProgressBuffer   int
	Params           embedding.Params
	Decoder          audio.Decoder
	Logger           Logger
	Storage          Storage
	Mastering        mastering.Service
	MasteringCommand []string
}

type Option func(*Config)

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

// WithoutHistory disables the search history store.
func WithoutHistory() Option {
	return func(c *Config) {
		c.DisableHistory = true
	}
}

func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

func WithProgressBuffer(n int) Option {
	return func(c *Config) {
		c.ProgressBuffer = n
	}
}

func WithEmbeddingParams(p embedding.Params) Option {
	return func(c *Config) {
		c.Params = p
	}
}

func WithDecoder(d audio.Decoder) Option {
	return func(c *Config) {
		c.Decoder = d
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithStorage(storage Storage) Option {
	return func(c *Config) {
		c.Storage = storage
	}
}

func WithMastering(svc mastering.Service) Option {
	return func(c *Config) {
		c.Mastering = svc
	}
}

// WithMasteringCommand replaces the external mastering program.
func WithMasteringCommand(command ...string) Option {
	return func(c *Config) {
		c.MasteringCommand = command
	}
}

func defaultConfig() *Config {
	return &Config{
		DBPath:         "mast.sqlite3",
		Workers:        1,
		ProgressBuffer: 64,
		Params:         embedding.DefaultParams(),
	}
}
