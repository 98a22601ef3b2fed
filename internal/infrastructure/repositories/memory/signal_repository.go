package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"

	"github.com/google/uuid"
)

// MemorySignalRepository keeps signals in process memory. Consumed signals are
// retained with the consumed flag set, which keeps DrainPending idempotent and
// lets tests inspect consumption.
type MemorySignalRepository struct {
	mu      sync.RWMutex
	signals map[string]*domain.Signal
}

var _ ports.SignalArchiver = (*MemorySignalRepository)(nil)

func NewMemorySignalRepository() *MemorySignalRepository {
	return &MemorySignalRepository{
		signals: make(map[string]*domain.Signal),
	}
}

func (r *MemorySignalRepository) Create(ctx context.Context, signal *domain.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if signal.ID == "" {
		signal.ID = uuid.NewString()
	}
	if signal.CreatedAt.IsZero() {
		signal.CreatedAt = time.Now()
	}
	signal.Consumed = false
	signal.ConsumedAt = nil

	stored := *signal
	r.signals[signal.ID] = &stored
	return nil
}

func (r *MemorySignalRepository) ConsumePending(ctx context.Context, recipient domain.PeerID, session domain.SessionID, limit int) ([]*domain.Signal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []*domain.Signal
	for _, s := range r.signals {
		if s.Consumed || s.RecipientID != recipient {
			continue
		}
		if session != "" && s.SessionID != session {
			continue
		}
		pending = append(pending, s)
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	now := time.Now()
	out := make([]*domain.Signal, 0, len(pending))
	for _, s := range pending {
		s.Consumed = true
		consumedAt := now
		s.ConsumedAt = &consumedAt

		copied := *s
		out = append(out, &copied)
	}
	return out, nil
}

// ExportPending returns copies of every unconsumed signal for the scheduled
// backup, ordered by creation time.
func (r *MemorySignalRepository) ExportPending(ctx context.Context) ([]*domain.Signal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var pending []*domain.Signal
	for _, s := range r.signals {
		if s.Consumed {
			continue
		}
		copied := *s
		pending = append(pending, &copied)
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

// Import restores signals from a snapshot, preserving ids and creation
// times. Already-present ids are skipped. Returns how many were imported.
func (r *MemorySignalRepository) Import(ctx context.Context, signals []*domain.Signal) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	imported := 0
	for _, s := range signals {
		if s.ID == "" {
			continue
		}
		if _, exists := r.signals[s.ID]; exists {
			continue
		}
		copied := *s
		r.signals[s.ID] = &copied
		imported++
	}
	return imported, nil
}

func (r *MemorySignalRepository) CountPending(ctx context.Context, recipient domain.PeerID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, s := range r.signals {
		if !s.Consumed && s.RecipientID == recipient {
			count++
		}
	}
	return count, nil
}
