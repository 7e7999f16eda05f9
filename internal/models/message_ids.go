package models

import (
	"database/sql/driver"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// MessageIDs is a list of chat message ids. It is stored as a Postgres
// text[] and falls back to a text column holding the same array literal on
// other dialects.
type MessageIDs []string

// GormDataType gives the schema parser a generic type; the zero value
// encodes to nil and cannot be inspected
func (MessageIDs) GormDataType() string {
	return "text"
}

// GormDBDataType picks the column type per dialect
func (MessageIDs) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}

// Value encodes the ids as a Postgres array literal
func (m MessageIDs) Value() (driver.Value, error) {
	return pq.StringArray(m).Value()
}

// Scan decodes a Postgres array literal
func (m *MessageIDs) Scan(src interface{}) error {
	return (*pq.StringArray)(m).Scan(src)
}
