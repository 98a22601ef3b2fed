package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	"pairlink/pkg/cache"
	"pairlink/pkg/retry"

	"go.uber.org/zap"
)

// staleWindow is how long before expiry a cached ICE bundle is already
// treated as stale. Re-fetching early keeps a negotiation from starting with
// credentials that age out mid-handshake.
const staleWindow = 60 * time.Second

const iceCacheKey = "ice-config"

// CachedICEProvider fetches ICE configuration over HTTP and caches it for
// the issuer's TTL. Implements ports.ICEConfigProvider for the negotiator.
type CachedICEProvider struct {
	endpoint string
	client   *http.Client
	cache    *cache.Cache
	retryCfg retry.Config
	clock    Clock
	logger   *zap.SugaredLogger
}

func NewCachedICEProvider(endpoint string, logger *zap.SugaredLogger) *CachedICEProvider {
	return &CachedICEProvider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		cache:    cache.New(5 * time.Minute),
		retryCfg: retry.DefaultConfig(),
		clock:    SystemClock(),
		logger:   logger,
	}
}

// Config returns the cached bundle while it has more than the stale window
// left, otherwise fetches a fresh one.
func (p *CachedICEProvider) Config(ctx context.Context, peerID domain.PeerID) (*ports.ICEConfig, error) {
	if cached, expiresAt, ok := p.cache.GetWithExpiry(iceCacheKey); ok {
		if expiresAt.Sub(p.clock.Now()) > staleWindow {
			return cached.(*ports.ICEConfig), nil
		}
		p.logger.Debugw("cached ICE config is stale, refetching",
			"expires_at", expiresAt,
		)
	}

	cfg, err := retry.DoWithResult(ctx, p.retryCfg, func() (*ports.ICEConfig, error) {
		return p.fetch(ctx, peerID)
	})
	if err != nil {
		return nil, err
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	p.cache.SetWithTTL(iceCacheKey, cfg, ttl)
	return cfg, nil
}

func (p *CachedICEProvider) fetch(ctx context.Context, peerID domain.PeerID) (*ports.ICEConfig, error) {
	u := p.endpoint + "?peerId=" + url.QueryEscape(string(peerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ICE config endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		ICEServers []ports.ICEServer `json:"iceServers"`
		TTLMs      int64             `json:"ttlMs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode ICE config: %w", err)
	}

	return &ports.ICEConfig{
		Servers: body.ICEServers,
		TTL:     time.Duration(body.TTLMs) * time.Millisecond,
	}, nil
}
