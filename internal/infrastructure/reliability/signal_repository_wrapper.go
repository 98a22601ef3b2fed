package reliability

import (
	"context"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	"pairlink/pkg/circuitbreaker"
	"pairlink/pkg/retry"

	"go.uber.org/zap"
)

// SignalRepositoryWrapper shields the mailbox from a flapping storage
// backend: transient failures are retried, sustained failures trip a breaker
// so submits fail fast instead of piling up on a dead Redis.
type SignalRepositoryWrapper struct {
	repo    ports.SignalRepository
	retry   retry.Config
	breaker *circuitbreaker.Breaker
	logger  *zap.SugaredLogger
}

func NewSignalRepositoryWrapper(
	repo ports.SignalRepository,
	retryCfg retry.Config,
	breakerCfg circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *SignalRepositoryWrapper {
	w := &SignalRepositoryWrapper{
		repo:    repo,
		retry:   retryCfg,
		breaker: circuitbreaker.New(breakerCfg),
		logger:  logger,
	}
	w.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("signal storage breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})
	return w
}

func (w *SignalRepositoryWrapper) Create(ctx context.Context, signal *domain.Signal) error {
	return w.breaker.Do(func() error {
		return retry.Do(ctx, w.retry, func() error {
			return w.repo.Create(ctx, signal)
		})
	})
}

func (w *SignalRepositoryWrapper) ConsumePending(ctx context.Context, recipient domain.PeerID, session domain.SessionID, limit int) ([]*domain.Signal, error) {
	var signals []*domain.Signal
	err := w.breaker.Do(func() error {
		var innerErr error
		signals, innerErr = retry.DoWithResult(ctx, w.retry, func() ([]*domain.Signal, error) {
			return w.repo.ConsumePending(ctx, recipient, session, limit)
		})
		return innerErr
	})
	return signals, err
}

func (w *SignalRepositoryWrapper) CountPending(ctx context.Context, recipient domain.PeerID) (int, error) {
	var count int
	err := w.breaker.Do(func() error {
		var innerErr error
		count, innerErr = w.repo.CountPending(ctx, recipient)
		return innerErr
	})
	return count, err
}

// BreakerState exposes the breaker for health reporting.
func (w *SignalRepositoryWrapper) BreakerState() circuitbreaker.State {
	return w.breaker.State()
}
