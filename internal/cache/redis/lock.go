package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/ratecore/internal/domain"
)

// unlockLua deletes a lock key only while it still carries the caller's
// token, so an expired holder cannot release its successor's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

var unlockScript = redis.NewScript(unlockLua)

// LockManager implements domain.LockManager using Redis SETNX with a TTL and
// a Lua-based conditional unlock. Index publication locks "index:{asset}";
// position changes lock "soap:{asset}:{direction}".
type LockManager struct {
	rdb *redis.Client
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{rdb: c.rdb}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire makes a single attempt to take key for ttl. It returns
// domain.ErrLockHeld when another writer holds it. The returned unlock
// function is idempotent.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			lm.release(lk, token)
		})
	}

	return unlock, nil
}

func (lm *LockManager) release(lk, token string) {
	// The caller's context may already be cancelled by the time it unlocks.
	unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = unlockScript.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
