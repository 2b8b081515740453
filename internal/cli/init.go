// Package cli provides common initialization shared by cmd/bot and
// cmd/export.
package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"commissioni/internal/config"
	"commissioni/internal/log"
	"commissioni/internal/storage"
)

// SetupLogger builds the application logger and installs it as the slog
// default. format follows LOG_FORMAT: "text", "tint" or "" to detect.
func SetupLogger(format string) *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Handler = log.DefaultHandler(cfg.Level, format)
	logger := log.New(cfg)
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it, exiting
// the process on failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// OpenStore opens the sqlite store or exits the process on failure.
func OpenStore(logger *log.Logger, dbPath string) *storage.Store {
	store, err := storage.Open(dbPath)
	if err != nil {
		logger.Error("Failed to open ledger database", log.FieldError, err, "path", dbPath)
		os.Exit(1)
	}
	return store
}

// NotifySignals returns a channel that receives SIGINT and SIGTERM.
func NotifySignals() <-chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan
}
