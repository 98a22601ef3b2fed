package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options tunes the shared client. One client serves the mailbox store, the
// cluster bus, and the snapshot lock.
type Options struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

// Connect opens the shared client, verifies it with a ping, and brings the
// mailbox keyspace to the current schema. Callers own the returned client and
// close it on shutdown.
func Connect(ctx context.Context, opts Options, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(setupCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis unreachable at %s: %w", opts.Address, err)
	}
	if err := Migrate(setupCtx, client, logger); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("mailbox keyspace preparation failed: %w", err)
	}

	logger.Infow("redis connected",
		"address", opts.Address,
		"db", opts.DB,
		"pool_size", opts.PoolSize,
	)
	return client, nil
}
