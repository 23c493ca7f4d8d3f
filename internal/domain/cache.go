package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// IndexCache provides fast access to the latest published AssetIndex.
// Set never replaces a cached entry with an older LastUpdateTimestamp, so
// late writers cannot roll the cache back; Delete is the only way to move
// an asset backwards.
type IndexCache interface {
	Set(ctx context.Context, idx AssetIndex) error
	Get(ctx context.Context, asset common.Address) (AssetIndex, error)
	Delete(ctx context.Context, asset common.Address) error
}

// LockManager provides distributed locking. The accounting core requires a
// single writer per AssetIndex and per SoapIndicator; callers take the lock
// for the key before reading and release it after writing back.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub for index and SOAP events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Bus channels.
const (
	ChannelIndexes = "indexes"
	ChannelSoap    = "soap"
)

// RateLimiter admits at most limit events per key within a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
