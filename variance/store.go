package variance

import (
	"context"
)

// ThresholdStore persists the single threshold configuration.
// GetThresholds returns DefaultThresholds when nothing was saved.
type ThresholdStore interface {
	GetThresholds(ctx context.Context) (Thresholds, error)
	SaveThresholds(ctx context.Context, t Thresholds) error
}

// AlertStore persists alerts. SaveAlert inserts or replaces by ID.
// ListAlerts returns alerts newest first, ties by ID.
type AlertStore interface {
	SaveAlert(ctx context.Context, a VarianceAlert) error
	GetAlert(ctx context.Context, id string) (*VarianceAlert, error)
	ListAlerts(ctx context.Context, f Filter) ([]VarianceAlert, error)
}

// FlagStore is the set of flagged transactions. FlagLoop is idempotent and
// reports whether the loop was newly flagged.
type FlagStore interface {
	FlagLoop(ctx context.Context, f Flag) (bool, error)
	IsFlagged(ctx context.Context, loopID string) (bool, error)
	ListFlags(ctx context.Context) ([]Flag, error)
}

// Store is everything the engine needs.
type Store interface {
	ThresholdStore
	AlertStore
	FlagStore
}
