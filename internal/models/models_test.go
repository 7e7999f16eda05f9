package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestAutoMigrate(t *testing.T) {
	db := openSQLite(t)

	require.NoError(t, AutoMigrate(db))

	for _, model := range AllModels() {
		assert.True(t, db.Migrator().HasTable(model), "table for %T", model)
	}
	assert.True(t, db.Migrator().HasColumn(&Utterance{}, "source_message_ids"))

	// running it twice must be harmless
	require.NoError(t, AutoMigrate(db))
}

func TestMessageIDs_RoundTrip(t *testing.T) {
	db := openSQLite(t)
	require.NoError(t, AutoMigrate(db))

	userID := uuid.New()
	withIDs := &Utterance{UserID: userID, Content: "first", SourceMessageIDs: MessageIDs{"msg-1", "msg-2"}}
	withoutIDs := &Utterance{UserID: userID, Content: "second"}
	require.NoError(t, db.Create(withIDs).Error)
	require.NoError(t, db.Create(withoutIDs).Error)

	var loaded Utterance
	require.NoError(t, db.First(&loaded, "id = ?", withIDs.ID).Error)
	assert.Equal(t, MessageIDs{"msg-1", "msg-2"}, loaded.SourceMessageIDs)

	var empty Utterance
	require.NoError(t, db.First(&empty, "id = ?", withoutIDs.ID).Error)
	assert.Empty(t, empty.SourceMessageIDs)
}
