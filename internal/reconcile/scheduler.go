package reconcile

import (
	"context"
	"log/slog"
	"time"
)

const shutdownTimeout = 30 * time.Second

// Reconciler fails pending transactions abandoned for longer than olderThan.
type Reconciler interface {
	ReconcileStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Scheduler runs stale-pending reconciliation on a fixed interval.
// Each tick is independent; nothing is carried between runs.
type Scheduler struct {
	interval   time.Duration
	staleness  time.Duration
	reconciler Reconciler
}

func NewScheduler(interval, staleness time.Duration, reconciler Reconciler) *Scheduler {
	return &Scheduler{
		interval:   interval,
		staleness:  staleness,
		reconciler: reconciler,
	}
}

// Start reconciles once immediately, then on every tick until ctx is cancelled.
// A last pass runs on shutdown so rows that went stale while the process was
// up do not wait for the next start.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("[Reconcile] Starting stale pending reconciler",
		"interval", s.interval,
		"staleness", s.staleness,
	)

	// Catch up on rows left pending by a previous crash.
	s.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-ctx.Done():
			slog.Info("[Reconcile] Stopping (context cancelled)")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			slog.Info("[Reconcile] Running final pass before shutdown...")
			s.runOnce(shutdownCtx)
			slog.Info("[Reconcile] Final pass complete")

			return nil
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	start := time.Now()
	failed, err := s.reconciler.ReconcileStale(ctx, s.staleness)
	if err != nil {
		slog.Error("[Reconcile] Pass failed",
			"error", err,
			"failed_so_far", failed,
		)
		return failed
	}
	if failed > 0 {
		slog.Info("[Reconcile] Pass complete",
			"failed", failed,
			"duration", time.Since(start),
		)
	}
	return failed
}
