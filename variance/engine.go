package variance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine classifies variances into alerts and manages their lifecycle.
// Thresholds are read from the store on every CreateAlert.
type Engine struct {
	store Store
	now   func() time.Time
	newID func() string
}

type Option func(*Engine)

// WithClock overrides the creation/dismissal timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides alert id generation.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// THRESHOLDS
// =============================================================================

func (e *Engine) Thresholds(ctx context.Context) (Thresholds, error) {
	return e.store.GetThresholds(ctx)
}

// UpdateThresholds validates and persists new thresholds. Existing alerts keep
// their severity.
func (e *Engine) UpdateThresholds(ctx context.Context, t Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return e.store.SaveThresholds(ctx, t)
}

// =============================================================================
// CREATE
// =============================================================================

// CreateAlert classifies the variance and persists an alert. It returns nil
// with no error when the variance is below the minor threshold.
func (e *Engine) CreateAlert(ctx context.Context, in AlertInput) (*VarianceAlert, error) {
	th, err := e.store.GetThresholds(ctx)
	if err != nil {
		return nil, fmt.Errorf("load thresholds: %w", err)
	}
	severity, ok := th.Classify(in.VariancePercentage)
	if !ok {
		return nil, nil
	}

	alert := VarianceAlert{
		ID:                 e.newID(),
		LoopID:             in.LoopID,
		AgentName:          in.AgentName,
		TransactionName:    in.TransactionName,
		VarianceAmount:     in.VarianceAmount,
		VariancePercentage: in.VariancePercentage,
		Severity:           severity,
		AutoFlagged:        th.ShouldFlag(severity),
		CreatedAt:          e.now(),
	}
	if err := e.store.SaveAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("save alert: %w", err)
	}
	if alert.AutoFlagged && alert.LoopID != "" {
		if _, err := e.store.FlagLoop(ctx, Flag{LoopID: alert.LoopID, AlertID: alert.ID, FlaggedAt: alert.CreatedAt}); err != nil {
			return nil, fmt.Errorf("flag loop %s: %w", alert.LoopID, err)
		}
	}
	return &alert, nil
}

// AlertsFromAudit raises alerts for non-matching audit results that were
// computed against a plan. A result whose loop, agent and amount already
// have an alert (active or dismissed) is skipped, so rescanning the same
// audit is idempotent.
func (e *Engine) AlertsFromAudit(ctx context.Context, results []commission.AuditResult) ([]VarianceAlert, error) {
	var created []VarianceAlert
	for _, r := range results {
		if r.Status == commission.AuditMatch || !r.HasExpectation() {
			continue
		}
		exists, err := e.hasAlert(ctx, r)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}
		alert, err := e.CreateAlert(ctx, AlertInput{
			LoopID:             r.RecordID,
			AgentName:          r.AgentName,
			TransactionName:    r.LoopName,
			VarianceAmount:     r.Difference,
			VariancePercentage: r.VariancePercentage,
		})
		if err != nil {
			return created, err
		}
		if alert != nil {
			created = append(created, *alert)
		}
	}
	return created, nil
}

func (e *Engine) hasAlert(ctx context.Context, r commission.AuditResult) (bool, error) {
	existing, err := e.store.ListAlerts(ctx, Filter{LoopID: r.RecordID, AgentName: r.AgentName, IncludeDismissed: true})
	if err != nil {
		return false, err
	}
	amount := r.Difference.Round(2)
	for _, a := range existing {
		if a.VarianceAmount.Round(2).Equal(amount) {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// QUERY AND DISMISS
// =============================================================================

func (e *Engine) List(ctx context.Context, f Filter) ([]VarianceAlert, error) {
	return e.store.ListAlerts(ctx, f)
}

func (e *Engine) Get(ctx context.Context, id string) (*VarianceAlert, error) {
	return e.store.GetAlert(ctx, id)
}

// Dismiss dismisses the given alerts and returns how many changed state.
// Already-dismissed alerts keep their original dismisser. An unknown id
// stops the batch with ErrAlertNotFound.
func (e *Engine) Dismiss(ctx context.Context, ids []string, by string) (int, error) {
	changed := 0
	for _, id := range ids {
		a, err := e.store.GetAlert(ctx, id)
		if err != nil {
			return changed, fmt.Errorf("alert %s: %w", id, err)
		}
		if a.Dismissed {
			continue
		}
		at := e.now()
		a.Dismissed = true
		a.DismissedBy = by
		a.DismissedAt = &at
		if err := e.store.SaveAlert(ctx, *a); err != nil {
			return changed, fmt.Errorf("dismiss %s: %w", id, err)
		}
		changed++
	}
	return changed, nil
}

// DismissAll dismisses every active alert matching the filter.
func (e *Engine) DismissAll(ctx context.Context, f Filter, by string) (int, error) {
	f.IncludeDismissed = false
	active, err := e.store.ListAlerts(ctx, f)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(active))
	for _, a := range active {
		ids = append(ids, a.ID)
	}
	return e.Dismiss(ctx, ids, by)
}

func (e *Engine) Summary(ctx context.Context) (Summary, error) {
	all, err := e.store.ListAlerts(ctx, Filter{IncludeDismissed: true})
	if err != nil {
		return Summary{}, err
	}
	var s Summary
	for _, a := range all {
		if a.Dismissed {
			s.Dismissed++
			continue
		}
		s.Total++
		switch a.Severity {
		case SeverityCritical:
			s.Critical++
		case SeverityWarning:
			s.Warning++
		}
	}
	flags, err := e.store.ListFlags(ctx)
	if err != nil {
		return Summary{}, err
	}
	s.Flagged = len(flags)
	return s, nil
}

func (e *Engine) IsFlagged(ctx context.Context, loopID string) (bool, error) {
	return e.store.IsFlagged(ctx, loopID)
}

func (e *Engine) Flagged(ctx context.Context) ([]Flag, error) {
	return e.store.ListFlags(ctx)
}
