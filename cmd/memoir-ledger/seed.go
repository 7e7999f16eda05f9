package main

import (
	"fmt"
	"time"

	"memoir-ledger/internal/database"
	"memoir-ledger/internal/models"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type seedFlags struct {
	userID string
}

type demoUnit struct {
	content    string
	confidence float64
	events     int
	entities   int
}

// demoUnits are inserted in order; contradictions refer to them by index
var demoUnits = []demoUnit{
	{content: "Grew up in Cork with two brothers", confidence: 0.9, events: 1, entities: 2},
	{content: "Grew up in Galway", confidence: 0.6, events: 1, entities: 1},
	{content: "Started working at the library in 2015", confidence: 0.8, events: 1, entities: 1},
	{content: "Started working at the bakery in 2015", confidence: 0.7, events: 1, entities: 1},
	{content: "Has one brother", confidence: 0.5, entities: 1},
	{content: "Learned to swim at nine", confidence: 0.85, events: 1},
}

var demoContradictions = []struct {
	a, b     int
	kind     models.ContradictionType
	severity models.Severity
}{
	{a: 0, b: 1, kind: models.ContradictionFactual, severity: models.SeverityHigh},
	{a: 2, b: 3, kind: models.ContradictionTemporal, severity: models.SeverityMedium},
	{a: 0, b: 4, kind: models.ContradictionFactual, severity: models.SeverityLow},
}

func newSeedCmd() *cobra.Command {
	var flags seedFlags

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert demo knowledge units and contradictions for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := uuid.New()
			if flags.userID != "" {
				parsed, err := uuid.Parse(flags.userID)
				if err != nil {
					return fmt.Errorf("invalid --user: %w", err)
				}
				userID = parsed
			}

			return withDeps(func(d *deps) error {
				if err := database.Migrate(d.Logger); err != nil {
					return err
				}
				if err := seedDemoData(database.DB, userID); err != nil {
					return err
				}
				d.Logger.Info("Seeded demo data",
					zap.String("user_id", userID.String()),
					zap.Int("units", len(demoUnits)),
					zap.Int("contradictions", len(demoContradictions)))
				fmt.Println(userID.String())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&flags.userID, "user", "", "User id to seed (random when empty)")
	return cmd
}

// seedDemoData writes one utterance, the demo units with their links and
// the open contradictions between them in a single transaction
func seedDemoData(db *gorm.DB, userID uuid.UUID) error {
	return db.Transaction(func(tx *gorm.DB) error {
		utterance := &models.Utterance{
			UserID:           userID,
			Content:          "I grew up in Cork with my brothers and later worked at the library.",
			SourceMessageIDs: models.MessageIDs{"demo-msg-1", "demo-msg-2"},
		}
		if err := tx.Create(utterance).Error; err != nil {
			return fmt.Errorf("failed to create utterance: %w", err)
		}

		units := make([]*models.KnowledgeUnit, 0, len(demoUnits))
		for _, du := range demoUnits {
			unit := &models.KnowledgeUnit{
				UserID:      userID,
				UtteranceID: &utterance.ID,
				UnitType:    "FACT",
				Content:     du.content,
				Confidence:  du.confidence,
				Metadata:    datatypes.JSONMap{},
			}
			if err := tx.Create(unit).Error; err != nil {
				return fmt.Errorf("failed to create unit: %w", err)
			}
			for i := 0; i < du.events; i++ {
				link := &models.EventUnitLink{EventID: uuid.New(), UnitID: unit.ID, UserID: userID}
				if err := tx.Create(link).Error; err != nil {
					return fmt.Errorf("failed to link event: %w", err)
				}
			}
			for i := 0; i < du.entities; i++ {
				link := &models.EntityUnitLink{EntityID: uuid.New(), UnitID: unit.ID, UserID: userID}
				if err := tx.Create(link).Error; err != nil {
					return fmt.Errorf("failed to link entity: %w", err)
				}
			}
			units = append(units, unit)
		}

		detected := time.Now().Add(-time.Duration(len(demoContradictions)) * time.Hour)
		for i, dc := range demoContradictions {
			review := &models.ContradictionReview{
				UserID:            userID,
				UnitAID:           units[dc.a].ID,
				UnitBID:           units[dc.b].ID,
				ContradictionType: dc.kind,
				Severity:          dc.severity,
				DetectedAt:        detected.Add(time.Duration(i) * time.Hour),
			}
			if err := tx.Create(review).Error; err != nil {
				return fmt.Errorf("failed to create contradiction: %w", err)
			}
		}
		return nil
	})
}
