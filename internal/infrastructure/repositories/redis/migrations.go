package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey     = "pairlink:schema:version"
	currentSchemaVersion = 1
)

// Migrate brings the Redis keyspace to the current schema version. Version 1
// only claims the version key; later versions would rewrite mailbox indexes.
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	raw, err := client.Get(ctx, schemaVersionKey).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	version := 0
	if err == nil {
		version, err = strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid schema version %q: %w", raw, err)
		}
	}

	if version >= currentSchemaVersion {
		if logger != nil {
			logger.Infow("schema is up to date", "version", version)
		}
		return nil
	}

	if err := client.Set(ctx, schemaVersionKey, currentSchemaVersion, 0).Err(); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	if logger != nil {
		logger.Infow("schema migrated",
			"from_version", version,
			"to_version", currentSchemaVersion,
		)
	}
	return nil
}
