package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ContradictionType describes how two units conflict
type ContradictionType string

const (
	ContradictionTemporal    ContradictionType = "TEMPORAL"
	ContradictionFactual     ContradictionType = "FACTUAL"
	ContradictionPerspective ContradictionType = "PERSPECTIVE"
)

// Severity of a detected contradiction
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// ContradictionStatus is the review lifecycle state.
// OPEN is the only non-terminal status.
type ContradictionStatus string

const (
	ContradictionOpen      ContradictionStatus = "OPEN"
	ContradictionDismissed ContradictionStatus = "DISMISSED"
	ContradictionResolved  ContradictionStatus = "RESOLVED"
)

// ResolutionAction is the human decision applied to an open contradiction
type ResolutionAction string

const (
	ResolveDeprecateUnitA      ResolutionAction = "DEPRECATE_UNIT_A"
	ResolveDeprecateUnitB      ResolutionAction = "DEPRECATE_UNIT_B"
	ResolveLowerConfidence     ResolutionAction = "LOWER_CONFIDENCE"
	ResolveMarkContextual      ResolutionAction = "MARK_CONTEXTUAL"
	ResolveIgnoreContradiction ResolutionAction = "IGNORE_CONTRADICTION"
)

// Valid reports whether a is one of the supported resolution actions
func (a ResolutionAction) Valid() bool {
	switch a {
	case ResolveDeprecateUnitA, ResolveDeprecateUnitB, ResolveLowerConfidence,
		ResolveMarkContextual, ResolveIgnoreContradiction:
		return true
	}
	return false
}

// Review metadata keys
const (
	ReviewResolutionReason = "resolutionReason"
	ReviewDismissReason    = "dismissReason"
)

// SeverityOrder sorts reviews HIGH, MEDIUM, LOW
const SeverityOrder = "CASE severity WHEN 'HIGH' THEN 3 WHEN 'MEDIUM' THEN 2 WHEN 'LOW' THEN 1 ELSE 0 END DESC"

// ContradictionReview records a detected conflict between two units and
// the decision taken about it
type ContradictionReview struct {
	ID                uuid.UUID           `json:"id" gorm:"primaryKey;type:uuid"`
	UserID            uuid.UUID           `json:"userId" gorm:"type:uuid;not null;index:idx_contradictions_user_status,priority:1"`
	UnitAID           uuid.UUID           `json:"unitAId" gorm:"column:unit_a_id;type:uuid;not null"`
	UnitBID           uuid.UUID           `json:"unitBId" gorm:"column:unit_b_id;type:uuid;not null"`
	ContradictionType ContradictionType   `json:"contradictionType" gorm:"type:varchar(16);not null"`
	Severity          Severity            `json:"severity" gorm:"type:varchar(8);not null"`
	Status            ContradictionStatus `json:"status" gorm:"type:varchar(16);not null;index:idx_contradictions_user_status,priority:2"`
	DetectedAt        time.Time           `json:"detectedAt" gorm:"not null"`
	ResolvedAt        *time.Time          `json:"resolvedAt"`
	ResolutionAction  *ResolutionAction   `json:"resolutionAction" gorm:"type:varchar(32)"`
	Metadata          datatypes.JSONMap   `json:"metadata"`
	CreatedAt         time.Time           `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt         time.Time           `json:"updatedAt" gorm:"autoUpdateTime"`
}

// TableName sets the table name for the ContradictionReview model
func (ContradictionReview) TableName() string {
	return "contradiction_reviews"
}

// BeforeCreate fills in the id, status and detection time when the
// detection pipeline left them empty
func (r *ContradictionReview) BeforeCreate(tx *gorm.DB) error {
	ensureID(&r.ID)
	if r.Status == "" {
		r.Status = ContradictionOpen
	}
	if r.DetectedAt.IsZero() {
		r.DetectedAt = time.Now()
	}
	if r.Metadata == nil {
		r.Metadata = datatypes.JSONMap{}
	}
	return nil
}

// AfterFind turns a NULL metadata column into an empty map
func (r *ContradictionReview) AfterFind(tx *gorm.DB) error {
	if r.Metadata == nil {
		r.Metadata = datatypes.JSONMap{}
	}
	return nil
}
