package repositories

import (
	"context"

	"pairlink/internal/core/ports"
	"pairlink/internal/infrastructure/reliability"
	"pairlink/internal/infrastructure/repositories/memory"
	redisrepo "pairlink/internal/infrastructure/repositories/redis"
	"pairlink/pkg/circuitbreaker"
	"pairlink/pkg/config"
	"pairlink/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger

	signalRepo     ports.SignalRepository
	signalArchiver ports.SignalArchiver
}

// NewRepositoryFactory creates a new repository factory. When Redis is enabled
// but unreachable, it falls back to memory repositories rather than failing.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.Connect(context.Background(), redisrepo.Options{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory, nil
}

// CreateSignalRepository creates the durable mailbox store (Redis or memory).
// The Redis store runs behind retry and a circuit breaker so a flapping
// backend degrades into fast failures instead of stalled submits.
func (f *RepositoryFactory) CreateSignalRepository() ports.SignalRepository {
	if f.signalRepo != nil {
		return f.signalRepo
	}

	if f.useRedis && f.redisClient != nil {
		repo := redisrepo.NewRedisSignalRepository(f.redisClient)
		f.signalArchiver = repo
		f.signalRepo = reliability.NewSignalRepositoryWrapper(
			repo,
			retry.DefaultConfig(),
			circuitbreaker.DefaultConfig(),
			f.logger,
		)
		return f.signalRepo
	}

	repo := memory.NewMemorySignalRepository()
	f.signalArchiver = repo
	f.signalRepo = repo
	return f.signalRepo
}

// SignalArchiver returns the snapshot view of the signal store backing the
// mailbox. It bypasses the reliability wrapper; the backup scheduler does its
// own error handling and must not trip the breaker guarding live traffic.
func (f *RepositoryFactory) SignalArchiver() ports.SignalArchiver {
	f.CreateSignalRepository()
	return f.signalArchiver
}

// CreateMessageStore returns the message persistence collaborator. The real
// store lives outside this module; the in-memory adapter stands in for it.
func (f *RepositoryFactory) CreateMessageStore() ports.MessageStore {
	return memory.NewMemoryMessageStore()
}

// RedisClient returns the shared client, or nil when running on memory
// repositories. The cluster bus and backup lock reuse it.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	if !f.useRedis {
		return nil
	}
	return f.redisClient
}

// Close releases the shared Redis client if one was opened.
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
