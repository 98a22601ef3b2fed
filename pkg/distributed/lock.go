package distributed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Unlock when the lock expired or was taken over.
var ErrNotHeld = errors.New("lock not held by this owner")

// unlockScript deletes the key only when it still carries our owner token.
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Lock is a Redis-backed mutual exclusion primitive for work that must run
// on exactly one instance, like the scheduled mailbox backup. The lock
// auto-renews at half its TTL while held.
type Lock struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
	stop   chan struct{}
}

func NewLock(client *redis.Client, key string, ttl time.Duration) *Lock {
	token := make([]byte, 16)
	rand.Read(token)
	return &Lock{
		client: client,
		key:    key,
		owner:  hex.EncodeToString(token),
		ttl:    ttl,
	}
}

// TryAcquire attempts to take the lock without blocking. On success a
// renewal goroutine keeps the lock alive until Release.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if !acquired {
		return false, nil
	}

	l.stop = make(chan struct{})
	go l.renew()
	return true, nil
}

// Release gives the lock up. Releasing a lock someone else holds is an
// error, not a silent success.
func (l *Lock) Release(ctx context.Context) error {
	if l.stop != nil {
		close(l.stop)
		l.stop = nil
	}

	result, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.owner).Result()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	if result.(int64) == 0 {
		return ErrNotHeld
	}
	return nil
}

func (l *Lock) renew() {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/2)
			current, err := l.client.Get(ctx, l.key).Result()
			if err != nil || current != l.owner {
				cancel()
				return
			}
			l.client.Expire(ctx, l.key, l.ttl)
			cancel()

		case <-l.stop:
			return
		}
	}
}
