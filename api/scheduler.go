/*
scheduler.go - Automated audit scheduler

PURPOSE:
  Periodically audits the stored transaction records against the current
  commission configuration and raises variance alerts for anything that does
  not reconcile.

DESIGN:
  - AuditRunner is the single audit pipeline: load records, snapshot config,
    audit, persist an AuditRun, raise alerts, record metrics. The API's
    POST /api/audit and the scheduler both go through it.
  - AuditScheduler runs a background goroutine with a configurable interval
    and runs once immediately on start.
  - Rescans are idempotent: AlertsFromAudit skips variances that already
    have an alert (active or dismissed) of the same amount.

CONFIGURATION:
  - Interval: How often to audit (default: 1 hour, scheduler.interval)
  - Enabled:  Whether the scheduler is active (scheduler.enabled)

USAGE:
  scheduler := NewAuditScheduler(runner, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunAudit endpoint (manual audit)
  - commission/audit.go: Auditor
  - variance/engine.go: AlertsFromAudit
*/
package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/variance"
)

const (
	TriggerAPI       = "api"
	TriggerScheduler = "scheduler"
)

// =============================================================================
// AUDIT RUNNER
// =============================================================================

// AuditStore is the persistence an audit pass needs.
type AuditStore interface {
	commission.ConfigStore
	commission.RecordStore
	commission.AuditRunStore
}

// AuditPass describes one audit. Nil Records means the stored records.
type AuditPass struct {
	Records     []commission.Record
	Options     commission.Options
	RaiseAlerts bool
}

// AuditOutcome is what one pass produced.
type AuditOutcome struct {
	Run     commission.AuditRun
	Results []commission.AuditResult
	Alerts  []variance.VarianceAlert
}

type AuditRunner struct {
	Store   AuditStore
	Alerts  *variance.Engine
	Metrics *Metrics
	Logger  *slog.Logger

	now   func() time.Time
	newID func() string
}

func NewAuditRunner(store AuditStore, alerts *variance.Engine, metrics *Metrics, logger *slog.Logger) *AuditRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditRunner{
		Store:   store,
		Alerts:  alerts,
		Metrics: metrics,
		Logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Run executes one audit pass and records it under the given trigger.
func (ar *AuditRunner) Run(ctx context.Context, trigger string, pass AuditPass) (*AuditOutcome, error) {
	out, err := ar.run(ctx, pass)
	if ar.Metrics != nil {
		var results []commission.AuditResult
		if out != nil {
			results = out.Results
		}
		ar.Metrics.ObserveAudit(trigger, results, err)
	}
	if err != nil {
		ar.Logger.Error("audit failed", "trigger", trigger, "error", err)
		return nil, err
	}

	ar.Logger.Info("audit completed",
		"trigger", trigger,
		"run_id", out.Run.ID,
		"records", out.Run.RecordCount,
		"results", out.Run.Summary.Total,
		"overpaid", out.Run.Summary.Overpaid,
		"underpaid", out.Run.Summary.Underpaid,
		"alerts_created", len(out.Alerts),
	)
	return out, nil
}

func (ar *AuditRunner) run(ctx context.Context, pass AuditPass) (*AuditOutcome, error) {
	records := pass.Records
	if records == nil {
		stored, err := ar.Store.ListRecords(ctx)
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		records = stored
	}

	auditor := commission.Auditor{Store: ar.Store}
	results, snap, err := auditor.Run(ctx, records, pass.Options)
	if err != nil {
		return nil, err
	}

	out := &AuditOutcome{
		Results: results,
		Run: commission.AuditRun{
			ID:           ar.newID(),
			RanAt:        ar.now().UTC(),
			RecordCount:  len(records),
			Summary:      commission.Summarize(results),
			PlanVersions: snap.PlanVersions(),
		},
	}
	if err := ar.Store.SaveAuditRun(ctx, out.Run); err != nil {
		return nil, fmt.Errorf("save audit run: %w", err)
	}

	if pass.RaiseAlerts && ar.Alerts != nil {
		created, err := ar.Alerts.AlertsFromAudit(ctx, results)
		if ar.Metrics != nil {
			ar.Metrics.ObserveAlerts(created)
		}
		if err != nil {
			return nil, fmt.Errorf("raise alerts: %w", err)
		}
		out.Alerts = created
	}
	return out, nil
}

// =============================================================================
// SCHEDULER
// =============================================================================

// AuditScheduler audits stored records on a fixed interval.
type AuditScheduler struct {
	Runner   *AuditRunner
	Interval time.Duration
	Enabled  bool
	Logger   *slog.Logger

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun *commission.AuditRun
}

// NewAuditScheduler creates a scheduler with a one hour interval.
func NewAuditScheduler(runner *AuditRunner, logger *slog.Logger) *AuditScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditScheduler{
		Runner:   runner,
		Interval: time.Hour,
		Enabled:  true,
		Logger:   logger.With("component", "audit_scheduler"),
	}
}

// Start begins the scheduler. Calling Start on a running scheduler is a
// no-op; a stopped scheduler may be started again.
func (s *AuditScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	// Each run owns its ticker and stop channel.
	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.ticker, s.stop)

	s.Logger.Info("scheduler started", "interval", s.Interval.String())
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (s *AuditScheduler) Stop() {
	s.mu.Lock()
	ticker, stop := s.ticker, s.stop
	s.ticker, s.stop = nil, nil
	s.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stop)
	s.wg.Wait()
	s.Logger.Info("scheduler stopped")
}

func (s *AuditScheduler) loop(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Run immediately on start
	s.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-stop:
			return
		}
	}
}

// RunOnce audits every stored record and raises alerts. Errors are logged.
func (s *AuditScheduler) RunOnce(ctx context.Context) *AuditOutcome {
	out, err := s.Runner.Run(ctx, TriggerScheduler, AuditPass{RaiseAlerts: true})
	if err != nil {
		return nil
	}
	s.mu.Lock()
	run := out.Run
	s.lastRun = &run
	s.mu.Unlock()
	return out
}

// LastRun returns the most recent successful scheduled run, if any.
func (s *AuditScheduler) LastRun() (commission.AuditRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		return commission.AuditRun{}, false
	}
	return *s.lastRun, true
}

