package cluster

import (
	"context"
	"fmt"
	"time"

	"pairlink/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

const (
	registryPrefix = "pairlink:registry:"

	// registryTTL bounds how long a stale entry outlives a crashed
	// instance. Live instances refresh well inside it.
	registryTTL     = 5 * time.Minute
	refreshInterval = registryTTL / 2
)

// PeerRegistry tracks which instances hold live connections for each peer.
// One peer may appear on several instances (multi-device). Entries expire so
// a crashed instance cannot pin a peer online forever.
type PeerRegistry struct {
	client *redis.Client
}

func NewPeerRegistry(client *redis.Client) *PeerRegistry {
	return &PeerRegistry{client: client}
}

func (r *PeerRegistry) key(peer domain.PeerID) string {
	return registryPrefix + string(peer)
}

// Register adds the instance to the peer's entry and refreshes its TTL.
func (r *PeerRegistry) Register(ctx context.Context, peer domain.PeerID, instanceID string) error {
	key := r.key(peer)
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, key, instanceID)
	pipe.Expire(ctx, key, registryTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register peer %s: %w", peer, err)
	}
	return nil
}

// Unregister removes the instance from the peer's entry.
func (r *PeerRegistry) Unregister(ctx context.Context, peer domain.PeerID, instanceID string) error {
	if err := r.client.SRem(ctx, r.key(peer), instanceID).Err(); err != nil {
		return fmt.Errorf("failed to unregister peer %s: %w", peer, err)
	}
	return nil
}

// IsOnline reports whether any instance holds a connection for the peer.
func (r *PeerRegistry) IsOnline(ctx context.Context, peer domain.PeerID) (bool, error) {
	count, err := r.client.SCard(ctx, r.key(peer)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check peer %s: %w", peer, err)
	}
	return count > 0, nil
}

// Instances lists the instances currently holding connections for the peer.
func (r *PeerRegistry) Instances(ctx context.Context, peer domain.PeerID) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.key(peer)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list instances for peer %s: %w", peer, err)
	}
	return members, nil
}

// RefreshLoop keeps the given peers' entries alive while their connections
// last. The hub feeds it the currently connected peer set.
func (r *PeerRegistry) RefreshLoop(ctx context.Context, instanceID string, connected func() []domain.PeerID) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, peer := range connected() {
				_ = r.Register(ctx, peer, instanceID)
			}
		}
	}
}
