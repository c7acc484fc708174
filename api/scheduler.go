/*
scheduler.go - Automated reconciliation scheduler

PURPOSE:
  Periodically replays every product's ledger against its stored stock and
  records the result as a reconciliation run.

DESIGN:
  - gocron job on a fixed interval, first run immediately on start
  - Singleton mode: a slow sweep is never overlapped by the next tick
  - Runs are recorded for audit and UI display
  - Discrepancies are logged, never repaired automatically

CONFIGURATION:
  - Interval: How often to sweep (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewReconciliationScheduler(handler.Reconciler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunReconciliation endpoint (manual sweep)
  - stock/reconcile.go: Reconciler
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/warp/stock-ledger/stock"
)

// ReconciliationScheduler runs the reconciliation sweep on an interval.
type ReconciliationScheduler struct {
	Reconciler *stock.Reconciler
	Interval   time.Duration
	Enabled    bool

	mu        sync.Mutex
	scheduler *gocron.Scheduler
	job       *gocron.Job
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(reconciler *stock.Reconciler) *ReconciliationScheduler {
	return &ReconciliationScheduler{
		Reconciler: reconciler,
		Interval:   1 * time.Hour,
		Enabled:    true,
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || rs.Interval <= 0 {
		log.Println("[Scheduler] Disabled, not starting")
		return nil
	}
	if rs.scheduler != nil {
		return nil
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	job, err := s.Every(rs.Interval).Do(rs.checkAndRecord)
	if err != nil {
		return err
	}
	s.StartAsync()

	rs.scheduler = s
	rs.job = job
	log.Printf("[Scheduler] Started with interval: %v", rs.Interval)
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.scheduler != nil {
		rs.scheduler.Stop()
		rs.scheduler = nil
		rs.job = nil
		log.Println("[Scheduler] Stopped")
	}
}

func (rs *ReconciliationScheduler) checkAndRecord() {
	if _, err := rs.RunNow(context.Background()); err != nil {
		log.Printf("[Scheduler] Reconciliation failed: %v", err)
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) (*stock.ReconciliationRun, error) {
	log.Printf("[Scheduler] Reconciling at %v", time.Now().UTC())

	run, err := rs.Reconciler.Run(ctx)
	if err != nil {
		return run, err
	}
	log.Printf("[Scheduler] Completed: %d products, %d entries, %d discrepancies",
		run.ProductsChecked, run.EntriesChecked, len(run.Discrepancies))
	return run, nil
}

// NextRunTime returns when the next sweep is due. Zero when not running.
func (rs *ReconciliationScheduler) NextRunTime() time.Time {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.job == nil {
		return time.Time{}
	}
	return rs.job.NextRun()
}
