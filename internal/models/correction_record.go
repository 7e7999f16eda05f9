package models

import (
	"time"

	"memoir-ledger/internal/apperrors"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TargetType is the kind of thing a correction changed
type TargetType string

const (
	TargetClaim  TargetType = "CLAIM"
	TargetUnit   TargetType = "UNIT"
	TargetEvent  TargetType = "EVENT"
	TargetEntity TargetType = "ENTITY"
)

// Valid reports whether t is a known target type
func (t TargetType) Valid() bool {
	switch t {
	case TargetClaim, TargetUnit, TargetEvent, TargetEntity:
		return true
	}
	return false
}

// CorrectionType classifies why something changed
type CorrectionType string

const (
	CorrectionAutoContradiction   CorrectionType = "AUTO_CONTRADICTION"
	CorrectionConfidenceDowngrade CorrectionType = "CONFIDENCE_DOWNGRADE"
	CorrectionUser                CorrectionType = "USER_CORRECTION"
	CorrectionOverrideApplied     CorrectionType = "OVERRIDE_APPLIED"
	CorrectionEntityMerge         CorrectionType = "ENTITY_MERGE"
)

// Valid reports whether c is a known correction type
func (c CorrectionType) Valid() bool {
	switch c {
	case CorrectionAutoContradiction, CorrectionConfidenceDowngrade, CorrectionUser,
		CorrectionOverrideApplied, CorrectionEntityMerge:
		return true
	}
	return false
}

// Initiator records who started a change
type Initiator string

const (
	InitiatedBySystem Initiator = "SYSTEM"
	InitiatedByUser   Initiator = "USER"
)

// Valid reports whether i is a known initiator
func (i Initiator) Valid() bool {
	return i == InitiatedBySystem || i == InitiatedByUser
}

// Correction metadata "action" values written by the ledger services
const (
	ActionPrune                = "PRUNE"
	ActionRestore              = "RESTORE"
	ActionCorrect              = "CORRECT"
	ActionResolveContradiction = "RESOLVE_CONTRADICTION"
	ActionDismissContradiction = "DISMISS_CONTRADICTION"
	ActionReconcile            = "RECONCILE"
)

// CorrectionRecord is an immutable audit entry describing one change.
// Undoing a change appends a new record; existing rows are never edited.
type CorrectionRecord struct {
	ID             uuid.UUID         `json:"id" gorm:"primaryKey;type:uuid"`
	UserID         uuid.UUID         `json:"userId" gorm:"type:uuid;not null;index:idx_corrections_user_created,priority:1;index:idx_corrections_target,priority:1"`
	TargetType     TargetType        `json:"targetType" gorm:"type:varchar(16);not null;index:idx_corrections_target,priority:2"`
	TargetID       uuid.UUID         `json:"targetId" gorm:"type:uuid;not null;index:idx_corrections_target,priority:3"`
	CorrectionType CorrectionType    `json:"correctionType" gorm:"type:varchar(32);not null"`
	BeforeSnapshot datatypes.JSONMap `json:"beforeSnapshot"`
	AfterSnapshot  datatypes.JSONMap `json:"afterSnapshot"`
	Reason         *string           `json:"reason" gorm:"type:text"`
	InitiatedBy    Initiator         `json:"initiatedBy" gorm:"type:varchar(16);not null"`
	Reversible     bool              `json:"reversible" gorm:"not null"`
	Metadata       datatypes.JSONMap `json:"metadata"`
	CreatedAt      time.Time         `json:"createdAt" gorm:"not null;index:idx_corrections_user_created,priority:2"`
}

// TableName sets the table name for the CorrectionRecord model
func (CorrectionRecord) TableName() string {
	return "correction_records"
}

// BeforeCreate assigns the id and normalises empty payloads
func (r *CorrectionRecord) BeforeCreate(tx *gorm.DB) error {
	ensureID(&r.ID)
	r.normalize()
	return nil
}

// BeforeUpdate rejects every update; the ledger is append-only
func (r *CorrectionRecord) BeforeUpdate(tx *gorm.DB) error {
	return apperrors.ErrImmutableRecord
}

// BeforeDelete rejects every delete; the ledger is append-only
func (r *CorrectionRecord) BeforeDelete(tx *gorm.DB) error {
	return apperrors.ErrImmutableRecord
}

// AfterFind turns NULL json columns into empty maps
func (r *CorrectionRecord) AfterFind(tx *gorm.DB) error {
	r.normalize()
	return nil
}

func (r *CorrectionRecord) normalize() {
	if r.BeforeSnapshot == nil {
		r.BeforeSnapshot = datatypes.JSONMap{}
	}
	if r.AfterSnapshot == nil {
		r.AfterSnapshot = datatypes.JSONMap{}
	}
	if r.Metadata == nil {
		r.Metadata = datatypes.JSONMap{}
	}
}
