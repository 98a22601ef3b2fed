package peer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestCachedICEProvider_FetchAndCache(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "alice", r.URL.Query().Get("peerId"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"iceServers":[{"urls":["stun:stun.example.com:3478"]}],"ttlMs":300000}`))
	}))
	defer server.Close()

	provider := NewCachedICEProvider(server.URL, zaptest.NewLogger(t).Sugar())

	cfg, err := provider.Config(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, []string{"stun:stun.example.com:3478"}, cfg.Servers[0].URLs)
	assert.Equal(t, 5*time.Minute, cfg.TTL)

	// Well inside the TTL the cached bundle is reused.
	_, err = provider.Config(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestCachedICEProvider_RefetchesNearExpiry(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		// TTL shorter than the stale window: always considered stale.
		_, _ = w.Write([]byte(`{"iceServers":[{"urls":["stun:stun.example.com:3478"]}],"ttlMs":30000}`))
	}))
	defer server.Close()

	provider := NewCachedICEProvider(server.URL, zaptest.NewLogger(t).Sugar())

	_, err := provider.Config(context.Background(), "alice")
	require.NoError(t, err)
	_, err = provider.Config(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestCachedICEProvider_ErrorPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	provider := NewCachedICEProvider(server.URL, zaptest.NewLogger(t).Sugar())
	provider.retryCfg.MaxAttempts = 1

	_, err := provider.Config(context.Background(), "alice")
	assert.Error(t, err)
}
