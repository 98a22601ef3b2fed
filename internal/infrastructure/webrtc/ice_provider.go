package webrtc

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	"pairlink/pkg/config"

	"go.uber.org/zap"
)

// StaticICEProvider serves the operator-configured ICE server list as-is.
type StaticICEProvider struct {
	servers []ports.ICEServer
	ttl     time.Duration
}

func NewStaticICEProvider(cfg *config.Config) *StaticICEProvider {
	servers := make([]ports.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		servers = append(servers, ports.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return &StaticICEProvider{servers: servers, ttl: cfg.WebRTC.ConfigTTL}
}

func (p *StaticICEProvider) Config(_ context.Context, _ domain.PeerID) (*ports.ICEConfig, error) {
	return &ports.ICEConfig{Servers: p.servers, TTL: p.ttl}, nil
}

// TURNCredentialProvider mints short-lived per-peer TURN credentials using
// the shared-secret scheme (username is "<expiry>:<peer>", credential is
// base64 HMAC-SHA1 of the username). STUN entries from static configuration
// are passed through untouched.
type TURNCredentialProvider struct {
	secret   []byte
	turnURLs []string
	static   []ports.ICEServer
	ttl      time.Duration
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func NewTURNCredentialProvider(cfg *config.Config, logger *zap.SugaredLogger) *TURNCredentialProvider {
	static := make([]ports.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		static = append(static, ports.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return &TURNCredentialProvider{
		secret:   []byte(cfg.WebRTC.TURNSecret),
		turnURLs: cfg.WebRTC.TURNURLs,
		static:   static,
		ttl:      cfg.WebRTC.ConfigTTL,
		logger:   logger,
		now:      time.Now,
	}
}

func (p *TURNCredentialProvider) Config(_ context.Context, peer domain.PeerID) (*ports.ICEConfig, error) {
	expiry := p.now().Add(p.ttl).Unix()
	username := fmt.Sprintf("%d:%s", expiry, peer)

	mac := hmac.New(sha1.New, p.secret)
	mac.Write([]byte(username))
	credential := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	servers := make([]ports.ICEServer, 0, len(p.static)+1)
	servers = append(servers, p.static...)
	servers = append(servers, ports.ICEServer{
		URLs:       p.turnURLs,
		Username:   username,
		Credential: credential,
	})

	p.logger.Debugw("minted turn credentials", "peer_id", peer, "expires_at", expiry)

	return &ports.ICEConfig{Servers: servers, TTL: p.ttl}, nil
}

// NewICEProvider picks the credential-minting provider when a TURN secret is
// configured, otherwise falls back to the static list.
func NewICEProvider(cfg *config.Config, logger *zap.SugaredLogger) ports.ICEConfigProvider {
	if cfg.WebRTC.TURNSecret != "" {
		return NewTURNCredentialProvider(cfg, logger)
	}
	return NewStaticICEProvider(cfg)
}
