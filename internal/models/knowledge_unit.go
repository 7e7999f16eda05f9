package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// KnowledgeUnit is a discrete fact extracted from a journal entry.
// Rows are produced by the extraction pipeline; the ledger only edits
// content, confidence and the metadata flag set.
type KnowledgeUnit struct {
	ID          uuid.UUID         `json:"id" gorm:"primaryKey;type:uuid"`
	UserID      uuid.UUID         `json:"userId" gorm:"type:uuid;not null;index"`
	UtteranceID *uuid.UUID        `json:"utteranceId" gorm:"type:uuid;index"`
	UnitType    string            `json:"unitType" gorm:"type:varchar(32)"`
	Content     string            `json:"content" gorm:"type:text;not null"`
	Confidence  float64           `json:"confidence" gorm:"not null"`
	Metadata    datatypes.JSONMap `json:"metadata"`
	CreatedAt   time.Time         `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt   time.Time         `json:"updatedAt" gorm:"autoUpdateTime;index"`
}

// TableName sets the table name for the KnowledgeUnit model
func (KnowledgeUnit) TableName() string {
	return "knowledge_units"
}

// BeforeCreate assigns the id and an empty flag set
func (u *KnowledgeUnit) BeforeCreate(tx *gorm.DB) error {
	ensureID(&u.ID)
	if u.Metadata == nil {
		u.Metadata = datatypes.JSONMap{}
	}
	return nil
}

// Flags parses the unit's metadata into its typed flag view
func (u *KnowledgeUnit) Flags() UnitFlags {
	return ParseUnitFlags(u.Metadata)
}

// Utterance is the journal utterance a unit was extracted from
type Utterance struct {
	ID               uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid"`
	UserID           uuid.UUID  `json:"userId" gorm:"type:uuid;not null;index"`
	Content          string     `json:"content" gorm:"type:text"`
	SourceMessageIDs MessageIDs `json:"sourceMessageIds"`
	CreatedAt        time.Time  `json:"createdAt" gorm:"autoCreateTime"`
}

// TableName sets the table name for the Utterance model
func (Utterance) TableName() string {
	return "utterances"
}

// BeforeCreate assigns the id
func (u *Utterance) BeforeCreate(tx *gorm.DB) error {
	ensureID(&u.ID)
	return nil
}

// EventUnitLink attaches a unit to a timeline event
type EventUnitLink struct {
	EventID   uuid.UUID `json:"eventId" gorm:"primaryKey;type:uuid"`
	UnitID    uuid.UUID `json:"unitId" gorm:"primaryKey;type:uuid;index"`
	UserID    uuid.UUID `json:"userId" gorm:"type:uuid;not null;index"`
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
}

// TableName sets the table name for the EventUnitLink model
func (EventUnitLink) TableName() string {
	return "event_unit_links"
}

// EntityUnitLink attaches a unit to a person, place or other entity
type EntityUnitLink struct {
	EntityID  uuid.UUID `json:"entityId" gorm:"primaryKey;type:uuid"`
	UnitID    uuid.UUID `json:"unitId" gorm:"primaryKey;type:uuid;index"`
	UserID    uuid.UUID `json:"userId" gorm:"type:uuid;not null;index"`
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
}

// TableName sets the table name for the EntityUnitLink model
func (EntityUnitLink) TableName() string {
	return "entity_unit_links"
}

// DeprecatedUnitView is the dashboard projection of a deprecated unit.
// It is assembled on read and never stored.
type DeprecatedUnitView struct {
	KnowledgeUnit
	FlagSet          UnitFlags   `json:"flags"`
	LinkedEventIDs   []uuid.UUID `json:"linkedEventIds"`
	SourceMessageIDs []string    `json:"sourceMessageIds"`
}
