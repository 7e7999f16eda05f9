package services

import (
	"testing"
	"time"

	"memoir-ledger/internal/testutil"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	db     *gorm.DB
	svc    *Services
	clock  *testutil.Clock
	userID uuid.UUID
}

// setupServices wires the ledger services on a fresh in-memory database with
// a deterministic clock shared by every writer
func setupServices(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.OpenDB(t)
	clock := testutil.NewClock(testEpoch)

	svc := New(db, zap.NewNop(), nil)
	svc.Corrections.now = clock.Now
	svc.Deprecation.now = clock.Now
	svc.Contradictions.now = clock.Now
	svc.Reconciler.now = clock.Now

	return &testEnv{
		db:     db,
		svc:    svc,
		clock:  clock,
		userID: uuid.New(),
	}
}
