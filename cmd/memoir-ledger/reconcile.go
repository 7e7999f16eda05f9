package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"memoir-ledger/internal/database"
	"memoir-ledger/internal/services"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type reconcileFlags struct {
	userID string
	repair bool
}

func newReconcileCmd() *cobra.Command {
	var flags reconcileFlags

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Find deprecated units and closed contradictions without an audit record",
		Long: "Lists units flagged deprecated and contradiction reviews in a terminal status that " +
			"have no correction record. With --repair a SYSTEM OVERRIDE_APPLIED record is written for each.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.userID, "user", "", "User id to check (required)")
	cmd.Flags().BoolVar(&flags.repair, "repair", false, "Back-fill the missing records")
	return cmd
}

func runReconcile(cmd *cobra.Command, flags reconcileFlags) error {
	if flags.userID == "" {
		return errors.New("user is required (use --user flag)")
	}
	userID, err := uuid.Parse(flags.userID)
	if err != nil {
		return fmt.Errorf("invalid --user: %w", err)
	}

	return withDeps(func(d *deps) error {
		svc := services.New(database.DB, d.Logger, nil)
		ctx := cmd.Context()

		out := json.NewEncoder(os.Stdout)
		out.SetIndent("", "  ")

		if !flags.repair {
			report, err := svc.Reconciler.FindGaps(ctx, userID)
			if err != nil {
				return err
			}
			return out.Encode(report)
		}

		report, repaired, err := svc.Reconciler.Repair(ctx, userID)
		if encodeErr := out.Encode(map[string]interface{}{
			"report":   report,
			"repaired": len(repaired),
		}); encodeErr != nil && err == nil {
			err = encodeErr
		}
		return err
	})
}
