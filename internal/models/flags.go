package models

import (
	"time"

	"gorm.io/datatypes"
)

// Metadata keys used as the unit flag store
const (
	FlagDeprecated        = "deprecated"
	FlagPruned            = "pruned"
	FlagPrunedAt          = "prunedAt"
	FlagPruneReason       = "pruneReason"
	FlagDeprecatedReason  = "deprecatedReason"
	FlagRestoredAt        = "restoredAt"
	FlagManuallyCorrected = "manuallyCorrected"
)

var knownFlags = map[string]struct{}{
	FlagDeprecated:        {},
	FlagPruned:            {},
	FlagPrunedAt:          {},
	FlagPruneReason:       {},
	FlagDeprecatedReason:  {},
	FlagRestoredAt:        {},
	FlagManuallyCorrected: {},
}

// UnitFlags is the typed view of a unit's metadata flag set.
// Keys the ledger does not know about are kept in Extra.
type UnitFlags struct {
	Deprecated        bool           `json:"deprecated"`
	Pruned            bool           `json:"pruned"`
	PrunedAt          *time.Time     `json:"prunedAt,omitempty"`
	PruneReason       string         `json:"pruneReason,omitempty"`
	DeprecatedReason  string         `json:"deprecatedReason,omitempty"`
	RestoredAt        *time.Time     `json:"restoredAt,omitempty"`
	ManuallyCorrected bool           `json:"manuallyCorrected"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// ParseUnitFlags reads the flag set out of a metadata map.
// Booleans are stored as the strings "true"/"false"; real JSON booleans
// written by older pipeline versions are accepted too.
func ParseUnitFlags(meta datatypes.JSONMap) UnitFlags {
	f := UnitFlags{
		Deprecated:        flagBool(meta[FlagDeprecated]),
		Pruned:            flagBool(meta[FlagPruned]),
		PrunedAt:          flagTime(meta[FlagPrunedAt]),
		PruneReason:       flagString(meta[FlagPruneReason]),
		DeprecatedReason:  flagString(meta[FlagDeprecatedReason]),
		RestoredAt:        flagTime(meta[FlagRestoredAt]),
		ManuallyCorrected: flagBool(meta[FlagManuallyCorrected]),
	}
	for k, v := range meta {
		if _, ok := knownFlags[k]; ok {
			continue
		}
		if f.Extra == nil {
			f.Extra = make(map[string]any)
		}
		f.Extra[k] = v
	}
	return f
}

// FlagUpdate is a partial change to a unit's flags. Nil fields are left alone.
type FlagUpdate struct {
	Deprecated        *bool
	Pruned            *bool
	PrunedAt          *time.Time
	PruneReason       *string
	DeprecatedReason  *string
	RestoredAt        *time.Time
	ManuallyCorrected *bool
}

// MergeInto returns a copy of meta with the update applied. Existing keys
// not named by the update are preserved.
func (u FlagUpdate) MergeInto(meta datatypes.JSONMap) datatypes.JSONMap {
	out := CloneMap(meta)
	setBool(out, FlagDeprecated, u.Deprecated)
	setBool(out, FlagPruned, u.Pruned)
	setTime(out, FlagPrunedAt, u.PrunedAt)
	setString(out, FlagPruneReason, u.PruneReason)
	setString(out, FlagDeprecatedReason, u.DeprecatedReason)
	setTime(out, FlagRestoredAt, u.RestoredAt)
	setBool(out, FlagManuallyCorrected, u.ManuallyCorrected)
	return out
}

func setBool(m datatypes.JSONMap, key string, v *bool) {
	if v == nil {
		return
	}
	if *v {
		m[key] = "true"
	} else {
		m[key] = "false"
	}
}

func setTime(m datatypes.JSONMap, key string, v *time.Time) {
	if v != nil {
		m[key] = v.UTC().Format(time.RFC3339Nano)
	}
}

func setString(m datatypes.JSONMap, key string, v *string) {
	if v != nil {
		m[key] = *v
	}
}

func flagBool(v any) bool {
	switch b := v.(type) {
	case string:
		return b == "true"
	case bool:
		return b
	}
	return false
}

func flagString(v any) string {
	s, _ := v.(string)
	return s
}

func flagTime(v any) *time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}
