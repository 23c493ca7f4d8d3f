package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/ratecore/internal/domain"
)

const (
	lockRetryInitial = 10 * time.Millisecond
	lockRetryMax     = 200 * time.Millisecond
)

func indexLockKey(asset common.Address) string {
	return "index:" + asset.Hex()
}

func bookLockKey(asset common.Address, dir domain.Direction) string {
	return "soap:" + asset.Hex() + ":" + dir.String()
}

// withLock runs fn while holding key, retrying with backoff while another
// writer holds it. It gives up when ctx ends.
func withLock(ctx context.Context, locks domain.LockManager, key string, ttl time.Duration, fn func() error) error {
	backoff := lockRetryInitial
	for {
		unlock, err := locks.Acquire(ctx, key, ttl)
		if err == nil {
			defer unlock()
			return fn()
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return err
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("waiting for lock %s: %w", key, errors.Join(domain.ErrLockHeld, ctx.Err()))
		case <-timer.C:
		}
		backoff = min(backoff*2, lockRetryMax)
	}
}
