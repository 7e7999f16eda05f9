// Package testutil provides shared fixtures for package tests
package testutil

import (
	"sync"
	"testing"
	"time"

	"memoir-ledger/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB creates an in-memory SQLite database with every model migrated.
// The pool is capped at one connection so all statements, including those
// inside transactions, see the same in-memory database.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "failed to open test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, models.AutoMigrate(db), "failed to migrate test database")
	return db
}

// CreateUnit inserts a knowledge unit owned by userID
func CreateUnit(t testing.TB, db *gorm.DB, userID uuid.UUID, content string, confidence float64, meta datatypes.JSONMap) *models.KnowledgeUnit {
	t.Helper()
	unit := &models.KnowledgeUnit{
		UserID:     userID,
		Content:    content,
		Confidence: confidence,
		UnitType:   "FACT",
		Metadata:   meta,
	}
	require.NoError(t, db.Create(unit).Error)
	return unit
}

// LinkEvent attaches unitID to a new event and returns the event id
func LinkEvent(t testing.TB, db *gorm.DB, userID, unitID uuid.UUID) uuid.UUID {
	t.Helper()
	link := &models.EventUnitLink{EventID: uuid.New(), UnitID: unitID, UserID: userID}
	require.NoError(t, db.Create(link).Error)
	return link.EventID
}

// LinkEntity attaches unitID to a new entity and returns the entity id
func LinkEntity(t testing.TB, db *gorm.DB, userID, unitID uuid.UUID) uuid.UUID {
	t.Helper()
	link := &models.EntityUnitLink{EntityID: uuid.New(), UnitID: unitID, UserID: userID}
	require.NoError(t, db.Create(link).Error)
	return link.EntityID
}

// CreateContradiction inserts an OPEN review between two units
func CreateContradiction(t testing.TB, db *gorm.DB, userID, unitA, unitB uuid.UUID, severity models.Severity, detectedAt time.Time) *models.ContradictionReview {
	t.Helper()
	review := &models.ContradictionReview{
		UserID:            userID,
		UnitAID:           unitA,
		UnitBID:           unitB,
		ContradictionType: models.ContradictionFactual,
		Severity:          severity,
		Status:            models.ContradictionOpen,
		DetectedAt:        detectedAt,
	}
	require.NoError(t, db.Create(review).Error)
	return review
}

// Clock is a deterministic time source that advances one second per call
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// NewClock starts a clock at start
func NewClock(start time.Time) *Clock {
	return &Clock{current: start}
}

// Now returns the next tick
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}
