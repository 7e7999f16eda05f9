package database

import (
	"fmt"
	"time"

	"memoir-ledger/internal/logging"
	"memoir-ledger/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// DB holds the database connection
var DB *gorm.DB

// Config holds database configuration
type Config struct {
	Host          string
	Port          string
	User          string
	Password      string
	DBName        string
	SSLMode       string
	SlowThreshold time.Duration
}

// DSN builds the Postgres connection string, leaving out an empty password
func (c Config) DSN() string {
	if c.Password == "" {
		return fmt.Sprintf(
			"host=%s port=%s user=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.DBName, c.SSLMode,
		)
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// String describes the connection without the password, for logs
func (c Config) String() string {
	return fmt.Sprintf("%s@%s:%s/%s", c.User, c.Host, c.Port, c.DBName)
}

// Connect establishes a connection to the PostgreSQL database
func Connect(config Config, logger *zap.Logger) error {
	db, err := gorm.Open(postgres.Open(config.DSN()), &gorm.Config{
		Logger: logging.NewGormLogger(logger, config.SlowThreshold),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	DB = db
	logger.Info("Successfully connected to database", zap.Stringer("database", config))
	return nil
}

// Migrate runs database migrations
func Migrate(logger *zap.Logger) error {
	if DB == nil {
		return fmt.Errorf("database connection not established")
	}

	if err := models.AutoMigrate(DB); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Database migrations completed successfully")
	return nil
}

// Close closes the database connection
func Close() error {
	if DB == nil {
		return nil
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}
