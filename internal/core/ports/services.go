package ports

import (
	"context"
	"time"

	"pairlink/internal/core/domain"
)

// MailboxService gives negotiation signals at-least-once delivery regardless
// of recipient liveness. Submit validates and persists; DrainPending is the
// consuming pull path used on reconnect and by the background safety-net poll.
type MailboxService interface {
	Submit(ctx context.Context, signal *domain.Signal) (*domain.Signal, error)
	DrainPending(ctx context.Context, recipient domain.PeerID, session domain.SessionID) ([]*domain.Signal, error)
	CountPending(ctx context.Context, recipient domain.PeerID) (int, error)
}

// PresenceService tracks peer liveness independently of any single connection.
type PresenceService interface {
	Set(peer domain.PeerID, status domain.PresenceStatus) domain.PresenceRecord
	Get(peer domain.PeerID) domain.PresenceRecord
	Snapshot() []domain.PresenceRecord
}

// ICEConfig is the opaque, cacheable, time-limited bundle consumed by the
// negotiator. TTL is the issuer's validity hint.
type ICEConfig struct {
	Servers []ICEServer   `json:"ice_servers"`
	TTL     time.Duration `json:"ttl"`
}

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ICEConfigProvider yields negotiation configuration. Implementations may
// serve static operator configuration or mint dynamic TURN credentials.
type ICEConfigProvider interface {
	Config(ctx context.Context, peer domain.PeerID) (*ICEConfig, error)
}
