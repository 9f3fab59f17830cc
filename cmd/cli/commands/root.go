package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/himanishpuri/mast/internal/config"
	"github.com/himanishpuri/mast/pkg/logger"
	"github.com/himanishpuri/mast/pkg/mast"
)

// Global flags
var (
	configPath string
	dbPath     string
	logLevel   string
	workers    int
	noHistory  bool

	settings config.Settings
)

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// NewRootCmd builds the mast command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mast",
		Short: "Find similar tracks and master against a reference",
		Long: `MAST - reference-track similarity search and mastering toolkit.

Scans a music library for tracks that sound like a reference, analyzes
tempo/key/loudness, and masters a target track against a reference.

Settings are read from ~/.config/mast/settings.yaml, .env and MAST_*
environment variables; flags override them.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadSettings,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&configPath, "config", getEnvOrDefault("MAST_CONFIG", ""), "Settings file (default ~/.config/mast/settings.yaml)")
	pf.StringVar(&dbPath, "db", "", "Path to the search history database (env: MAST_DB_PATH)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.IntVarP(&workers, "workers", "w", 0, "Concurrent extraction workers (default from settings)")
	pf.BoolVar(&noHistory, "no-history", false, "Do not record searches in the history database")

	cmd.AddCommand(
		NewSearchCmd(),
		NewAnalyzeCmd(),
		NewMasterCmd(),
		NewHistoryCmd(),
		NewSpectrogramCmd(),
		NewVersionCmd(),
	)
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func loadSettings(cmd *cobra.Command, args []string) error {
	var err error
	if configPath != "" {
		settings, err = config.LoadFrom(configPath)
	} else {
		settings, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	level := settings.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	if lvl, ok := logger.ParseLevel(level); ok {
		logger.SetLevel(lvl)
	} else if level != "" {
		return fmt.Errorf("unknown log level %q", level)
	}
	logger.SetOutput(cmd.ErrOrStderr())
	return nil
}

// createService creates a mast service from settings and global flags.
func createService() (mast.Service, error) {
	n := settings.Workers
	if workers > 0 {
		n = workers
	}
	opts := []mast.Option{
		mast.WithLogger(logger.GetLogger()),
		mast.WithWorkers(n),
	}

	path := getEnvOrDefault("MAST_DB_PATH", settings.DBPath)
	if dbPath != "" {
		path = dbPath
	}
	if noHistory {
		opts = append(opts, mast.WithoutHistory())
	} else {
		opts = append(opts, mast.WithDBPath(path))
	}
	if len(settings.MasteringCommand) > 0 {
		opts = append(opts, mast.WithMasteringCommand(settings.MasteringCommand...))
	}
	return mast.NewService(opts...)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return "..." + s[len(s)-n+3:]
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func splitCommand(s string) []string {
	return strings.Fields(s)
}
