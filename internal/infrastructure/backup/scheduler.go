package backup

import (
	"context"
	"fmt"
	"time"

	"pairlink/internal/core/ports"
	snapshot "pairlink/pkg/backup"

	"go.uber.org/zap"
)

// Locker gates snapshot runs so only one instance writes at a time. A nil
// locker means single-instance mode and every run proceeds.
type Locker interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Scheduler periodically snapshots the pending mailbox contents so a cold
// restart with an empty store can be seeded from the last snapshot.
type Scheduler struct {
	archiver  ports.SignalArchiver
	snapshots *snapshot.Service
	lock      Locker
	interval  time.Duration
	retention time.Duration
	logger    *zap.SugaredLogger
}

func NewScheduler(
	archiver ports.SignalArchiver,
	snapshots *snapshot.Service,
	lock Locker,
	interval time.Duration,
	retention time.Duration,
	logger *zap.SugaredLogger,
) *Scheduler {
	return &Scheduler{
		archiver:  archiver,
		snapshots: snapshots,
		lock:      lock,
		interval:  interval,
		retention: retention,
		logger:    logger,
	}
}

// Run blocks until ctx is cancelled, taking a snapshot every interval.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Errorw("mailbox snapshot failed", "error", err)
			}
		}
	}
}

// RunOnce takes a single snapshot. When a lock is configured and another
// instance holds it, the run is skipped without error.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s.lock != nil {
		acquired, err := s.lock.TryAcquire(ctx)
		if err != nil {
			return fmt.Errorf("failed to acquire snapshot lock: %w", err)
		}
		if !acquired {
			s.logger.Debug("snapshot lock held elsewhere, skipping run")
			return nil
		}
		defer func() {
			if err := s.lock.Release(ctx); err != nil {
				s.logger.Warnw("failed to release snapshot lock", "error", err)
			}
		}()
	}

	pending, err := s.archiver.ExportPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to export pending signals: %w", err)
	}

	name, err := s.snapshots.Create(ctx, pending, map[string]interface{}{
		"signalCount": len(pending),
	})
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	s.logger.Infow("mailbox snapshot written",
		"snapshot", name,
		"signals", len(pending),
	)

	s.prune(ctx)
	return nil
}

// prune deletes snapshots older than the retention window. Failures are
// logged and never block the snapshot that just succeeded.
func (s *Scheduler) prune(ctx context.Context) {
	if s.retention <= 0 {
		return
	}

	names, err := s.snapshots.List(ctx)
	if err != nil {
		s.logger.Warnw("failed to list snapshots for pruning", "error", err)
		return
	}

	cutoff := time.Now().Add(-s.retention)
	for _, name := range names {
		taken, err := snapshot.SnapshotTime(name)
		if err != nil {
			continue
		}
		if taken.Before(cutoff) {
			if err := s.snapshots.Delete(ctx, name); err != nil {
				s.logger.Warnw("failed to prune snapshot", "snapshot", name, "error", err)
			}
		}
	}
}
