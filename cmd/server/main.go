//go:build !js && !wasm
// +build !js,!wasm

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/himanishpuri/mast/internal/config"
	"github.com/himanishpuri/mast/pkg/logger"
	"github.com/himanishpuri/mast/pkg/mast"
)

var (
	configPath     string
	addr           string
	dbPath         string
	tempDir        string
	workers        int
	allowedOrigins string
)

func init() {
	flag.StringVar(&configPath, "config", getEnvOrDefault("MAST_CONFIG", ""), "Settings file (default ~/.config/mast/settings.yaml)")
	flag.StringVar(&addr, "addr", "", "Listen address (default server_addr from settings)")
	flag.StringVar(&dbPath, "db", "", "Path to the search history database (default db_path from settings)")
	flag.StringVar(&tempDir, "temp", getEnvOrDefault("MAST_TEMP_DIR", os.TempDir()), "Directory for uploaded files")
	flag.IntVar(&workers, "workers", 0, "Concurrent extraction workers (default from settings)")
	flag.StringVar(&allowedOrigins, "origins", "*", "Comma-separated list of allowed CORS origins (use * for all)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseOrigins(s string) []string {
	if s == "*" {
		return []string{"*"}
	}
	origins := strings.Split(s, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	return origins
}

func main() {
	flag.Parse()

	var (
		settings config.Settings
		err      error
	)
	if configPath != "" {
		settings, err = config.LoadFrom(configPath)
	} else {
		settings, err = config.Load()
	}
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}
	if lvl, ok := logger.ParseLevel(settings.LogLevel); ok {
		logger.SetLevel(lvl)
	}

	if addr == "" {
		addr = settings.ServerAddr
	}
	if dbPath == "" {
		dbPath = settings.DBPath
	}
	if workers <= 0 {
		workers = settings.Workers
	}

	opts := []mast.Option{
		mast.WithDBPath(dbPath),
		mast.WithWorkers(workers),
		mast.WithLogger(logger.GetLogger()),
	}
	if len(settings.MasteringCommand) > 0 {
		opts = append(opts, mast.WithMasteringCommand(settings.MasteringCommand...))
	}
	service, err := mast.NewService(opts...)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}
	defer service.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := NewServer(service, &ServerConfig{
		Addr:           addr,
		DBPath:         dbPath,
		TempDir:        tempDir,
		AllowedOrigins: parseOrigins(allowedOrigins),
		Settings:       settings,
	})
	if err := server.Start(ctx); err != nil {
		log.Printf("Server failed: %v", err)
		service.Close()
		os.Exit(1)
	}
}
