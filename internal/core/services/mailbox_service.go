package services

import (
	"context"
	"strings"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	apperrors "pairlink/pkg/errors"
	"pairlink/pkg/tracing"

	"go.uber.org/zap"
)

// MailboxService validates and persists negotiation signals so they survive
// recipient downtime. Push delivery is the hub's job; the mailbox only owns
// durability and the consuming drain.
type mailboxService struct {
	signals  ports.SignalRepository
	pageSize int
	logger   *zap.SugaredLogger
}

func NewMailboxService(signals ports.SignalRepository, pageSize int, logger *zap.SugaredLogger) ports.MailboxService {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &mailboxService{
		signals:  signals,
		pageSize: pageSize,
		logger:   logger,
	}
}

func (s *mailboxService) Submit(ctx context.Context, signal *domain.Signal) (*domain.Signal, error) {
	ctx, span := tracing.TraceSignalSubmit(ctx,
		string(signal.SenderID), string(signal.RecipientID), string(signal.Type))
	defer span.End()

	if err := validateSignal(signal); err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	// bye carries no payload; a submitted one is normalized away, not rejected.
	if signal.Type == domain.SignalBye {
		signal.Payload = nil
	}

	if err := s.signals.Create(ctx, signal); err != nil {
		tracing.RecordError(ctx, err)
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to store signal", 500)
	}

	s.logger.Debugw("signal stored",
		"signal_id", signal.ID,
		"session_id", signal.SessionID,
		"sender", signal.SenderID,
		"recipient", signal.RecipientID,
		"type", signal.Type,
	)
	return signal, nil
}

func (s *mailboxService) DrainPending(ctx context.Context, recipient domain.PeerID, session domain.SessionID) ([]*domain.Signal, error) {
	ctx, span := tracing.TraceMailboxDrain(ctx, string(recipient))
	defer span.End()

	if strings.TrimSpace(string(recipient)) == "" {
		return nil, apperrors.NewValidationError("recipient is required")
	}

	drained, err := s.signals.ConsumePending(ctx, recipient, session, s.pageSize)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to drain mailbox", 500)
	}

	if len(drained) > 0 {
		s.logger.Infow("mailbox drained",
			"recipient", recipient,
			"count", len(drained),
		)
	}
	return drained, nil
}

func (s *mailboxService) CountPending(ctx context.Context, recipient domain.PeerID) (int, error) {
	return s.signals.CountPending(ctx, recipient)
}

func validateSignal(signal *domain.Signal) error {
	if strings.TrimSpace(string(signal.SessionID)) == "" {
		return apperrors.NewValidationError("session_id is required")
	}
	if strings.TrimSpace(string(signal.SenderID)) == "" {
		return apperrors.NewValidationError("sender_id is required")
	}
	if strings.TrimSpace(string(signal.RecipientID)) == "" {
		return apperrors.NewValidationError("recipient_id is required")
	}
	if !domain.ValidSignalType(signal.Type) {
		return apperrors.NewValidationError("signal type must be one of offer, answer, candidate, bye")
	}
	if signal.Type.RequiresPayload() && isNullPayload(signal.Payload) {
		return apperrors.NewValidationError("payload is required for " + string(signal.Type) + " signals")
	}
	return nil
}

func isNullPayload(payload []byte) bool {
	trimmed := strings.TrimSpace(string(payload))
	return trimmed == "" || trimmed == "null"
}
