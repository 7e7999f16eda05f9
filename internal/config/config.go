// Package config loads service configuration from the environment and an
// optional .env file
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"memoir-ledger/internal/database"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full service configuration
type Config struct {
	Port           string
	GinMode        string
	LogLevel       string
	LogDevelopment bool
	JWTSecret      string
	// DevUserID, when set, replaces token verification with a fixed user.
	DevUserID     string
	AdminPassword string
	// ReconcileInterval enables the periodic audit sweep when positive.
	ReconcileInterval time.Duration
	ReconcileRepair   bool
	Database          database.Config
}

var defaults = map[string]any{
	"PORT":               "8080",
	"GIN_MODE":           "debug",
	"LOG_LEVEL":          "info",
	"LOG_DEVELOPMENT":    false,
	"JWT_SECRET":         "",
	"AUTH_DEV_USER_ID":   "",
	"ADMIN_PASSWORD":     "admin",
	"DB_HOST":            "localhost",
	"DB_PORT":            "5432",
	"DB_USER":            "postgres",
	"DB_PASSWORD":        "",
	"DB_NAME":            "memoir_ledger",
	"DB_SSLMODE":         "disable",
	"DB_SLOW_QUERY_MS":   200,
	"RECONCILE_INTERVAL": "0s",
	"RECONCILE_REPAIR":   false,
}

// Load reads envFiles (missing files are ignored) into the process
// environment and resolves every setting through viper
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	cfg := &Config{
		Port:              v.GetString("PORT"),
		GinMode:           v.GetString("GIN_MODE"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		LogDevelopment:    v.GetBool("LOG_DEVELOPMENT"),
		JWTSecret:         v.GetString("JWT_SECRET"),
		DevUserID:         v.GetString("AUTH_DEV_USER_ID"),
		AdminPassword:     v.GetString("ADMIN_PASSWORD"),
		ReconcileInterval: v.GetDuration("RECONCILE_INTERVAL"),
		ReconcileRepair:   v.GetBool("RECONCILE_REPAIR"),
		Database: database.Config{
			Host:          v.GetString("DB_HOST"),
			Port:          v.GetString("DB_PORT"),
			User:          v.GetString("DB_USER"),
			Password:      v.GetString("DB_PASSWORD"),
			DBName:        v.GetString("DB_NAME"),
			SSLMode:       v.GetString("DB_SSLMODE"),
			SlowThreshold: time.Duration(v.GetInt("DB_SLOW_QUERY_MS")) * time.Millisecond,
		},
	}
	return cfg, nil
}

// Validate checks settings the HTTP server needs. The maintenance commands
// only need the database settings.
func (c *Config) Validate() error {
	if c.JWTSecret == "" && c.DevUserID == "" {
		return errors.New("either JWT_SECRET or AUTH_DEV_USER_ID must be set")
	}
	if c.DevUserID != "" {
		if _, err := uuid.Parse(c.DevUserID); err != nil {
			return fmt.Errorf("AUTH_DEV_USER_ID must be a UUID: %w", err)
		}
	}
	if c.Port == "" {
		return errors.New("PORT must not be empty")
	}
	return nil
}
