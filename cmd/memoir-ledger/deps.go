package main

import (
	"fmt"

	"memoir-ledger/internal/config"
	"memoir-ledger/internal/database"
	"memoir-ledger/internal/logging"

	"go.uber.org/zap"
)

// deps holds what every command needs once configuration is loaded
type deps struct {
	Config *config.Config
	Logger *zap.Logger
}

// withDeps loads config, builds the logger and connects to the database,
// then calls fn. The connection is closed when fn returns.
func withDeps(fn func(*deps) error) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := database.Connect(cfg.Database, logger); err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Warn("Failed to close database", zap.Error(err))
		}
	}()

	return fn(&deps{Config: cfg, Logger: logger})
}
