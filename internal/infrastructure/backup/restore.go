package backup

import (
	"context"
	"fmt"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	snapshot "pairlink/pkg/backup"

	"go.uber.org/zap"
)

// RestoreLatest seeds the signal store from the most recent snapshot. Signals
// whose ids already exist are left untouched, so running it against a warm
// store is safe. A store with no snapshots restores zero signals.
func RestoreLatest(
	ctx context.Context,
	snapshots *snapshot.Service,
	archiver ports.SignalArchiver,
	logger *zap.SugaredLogger,
) (int, error) {
	name, err := snapshots.Latest(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to find latest snapshot: %w", err)
	}
	if name == "" {
		return 0, nil
	}

	var signals []*domain.Signal
	if _, err := snapshots.Restore(ctx, name, &signals); err != nil {
		return 0, fmt.Errorf("failed to read snapshot %s: %w", name, err)
	}

	imported, err := archiver.Import(ctx, signals)
	if err != nil {
		return imported, fmt.Errorf("failed to import snapshot %s: %w", name, err)
	}

	logger.Infow("mailbox restored from snapshot",
		"snapshot", name,
		"imported", imported,
		"skipped", len(signals)-imported,
	)
	return imported, nil
}
