// Package models contains all data models for the memoir ledger
package models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AllModels returns a slice of all model types for database migrations
func AllModels() []interface{} {
	return []interface{}{
		&Utterance{},
		&KnowledgeUnit{},
		&EventUnitLink{},
		&EntityUnitLink{},
		&ContradictionReview{},
		&CorrectionRecord{},
	}
}

// AutoMigrate runs automatic migrations for all models
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}

// ensureID assigns a fresh UUID when the caller left the primary key empty.
// IDs are generated client-side so the same models work on Postgres and SQLite.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// CloneMap returns a shallow copy of m, never nil.
func CloneMap(m datatypes.JSONMap) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
