package ports

import (
	"context"

	"pairlink/internal/core/domain"
)

// SignalRepository is the durable side of the mailbox. Create assigns the id
// and stores the signal unconsumed; ConsumePending returns unconsumed signals
// for a recipient ordered by creation time ascending, marking them consumed
// atomically as a batch. Consuming an already-consumed signal is a no-op.
type SignalRepository interface {
	Create(ctx context.Context, signal *domain.Signal) error
	ConsumePending(ctx context.Context, recipient domain.PeerID, session domain.SessionID, limit int) ([]*domain.Signal, error)
	CountPending(ctx context.Context, recipient domain.PeerID) (int, error)
}

// SignalArchiver is the optional export/import surface used by the scheduled
// mailbox backup. Import preserves ids and creation times and skips signals
// that already exist, so replaying a snapshot cannot duplicate deliveries.
type SignalArchiver interface {
	ExportPending(ctx context.Context) ([]*domain.Signal, error)
	Import(ctx context.Context, signals []*domain.Signal) (int, error)
}

// MessageStore is the external persistence collaborator. The core only needs
// sent messages and status transitions durably recorded; querying and the
// REST surface around them belong to the store, not this module.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *domain.ChatMessage) error
	SaveStatus(ctx context.Context, update *domain.MessageStatusUpdate) error
}
