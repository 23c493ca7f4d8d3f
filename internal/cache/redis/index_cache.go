package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/ratecore/internal/domain"
)

// setIndexLua writes the hash only when it is absent or its ts is not newer
// than ARGV[1]. Returns 1 when written.
//
// KEYS[1] key; ARGV[1] ts, ARGV[2..5] index_value, accumulator, ema, ewmv.
const setIndexLua = `
local cur = redis.call('HGET', KEYS[1], 'ts')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
    return 0
end
redis.call('HSET', KEYS[1],
    'ts', ARGV[1],
    'index_value', ARGV[2],
    'quasi_index_accumulator', ARGV[3],
    'ema', ARGV[4],
    'ewmv', ARGV[5])
return 1
`

var setIndexScript = redis.NewScript(setIndexLua)

// IndexCache implements domain.IndexCache with one Redis hash per asset at
// "index:{asset}". 256-bit fields are stored as decimal strings.
type IndexCache struct {
	rdb *redis.Client
}

// NewIndexCache creates an IndexCache backed by the given Client.
func NewIndexCache(c *Client) *IndexCache {
	return &IndexCache{rdb: c.rdb}
}

func indexKey(asset common.Address) string {
	return "index:" + asset.Hex()
}

const (
	fieldIndexValue  = "index_value"
	fieldAccumulator = "quasi_index_accumulator"
	fieldEMA         = "ema"
	fieldEWMV        = "ewmv"
	fieldTimestamp   = "ts"
)

// Set stores idx unless the cache already holds a newer state of the asset.
func (ic *IndexCache) Set(ctx context.Context, idx domain.AssetIndex) error {
	err := setIndexScript.Run(ctx, ic.rdb, []string{indexKey(idx.Asset)}, setIndexArgs(idx)...).Err()
	if err != nil {
		return fmt.Errorf("redis: set index %s: %w", idx.Asset.Hex(), err)
	}
	return nil
}

// Delete evicts asset so the next read falls through to the store.
func (ic *IndexCache) Delete(ctx context.Context, asset common.Address) error {
	if err := ic.rdb.Del(ctx, indexKey(asset)).Err(); err != nil {
		return fmt.Errorf("redis: delete index %s: %w", asset.Hex(), err)
	}
	return nil
}

// setIndexArgs orders the fields the way setIndexLua reads ARGV.
func setIndexArgs(idx domain.AssetIndex) []any {
	enc := encodeIndex(idx)
	return []any{
		enc[fieldTimestamp],
		enc[fieldIndexValue],
		enc[fieldAccumulator],
		enc[fieldEMA],
		enc[fieldEWMV],
	}
}

// Get returns the cached state of asset, or domain.ErrNotFound.
func (ic *IndexCache) Get(ctx context.Context, asset common.Address) (domain.AssetIndex, error) {
	vals, err := ic.rdb.HGetAll(ctx, indexKey(asset)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.AssetIndex{}, fmt.Errorf("redis: get index %s: %w", asset.Hex(), err)
	}
	if len(vals) == 0 {
		return domain.AssetIndex{}, domain.ErrNotFound
	}
	idx, err := decodeIndex(asset, vals)
	if err != nil {
		return domain.AssetIndex{}, fmt.Errorf("redis: decode index %s: %w", asset.Hex(), err)
	}
	return idx, nil
}

func encodeIndex(idx domain.AssetIndex) map[string]any {
	return map[string]any{
		fieldIndexValue:  idx.IndexValue.Dec(),
		fieldAccumulator: idx.QuasiIndexAccumulator.Dec(),
		fieldEMA:         idx.ExponentialMovingAverage.Dec(),
		fieldEWMV:        idx.ExponentialWeightedMovingVariance.Dec(),
		fieldTimestamp:   strconv.FormatUint(idx.LastUpdateTimestamp, 10),
	}
}

func decodeIndex(asset common.Address, vals map[string]string) (domain.AssetIndex, error) {
	idx := domain.AssetIndex{Asset: asset}
	fields := []struct {
		name string
		dst  *uint256.Int
	}{
		{fieldIndexValue, &idx.IndexValue},
		{fieldAccumulator, &idx.QuasiIndexAccumulator},
		{fieldEMA, &idx.ExponentialMovingAverage},
		{fieldEWMV, &idx.ExponentialWeightedMovingVariance},
	}
	for _, f := range fields {
		raw, ok := vals[f.name]
		if !ok {
			return domain.AssetIndex{}, fmt.Errorf("missing field %s", f.name)
		}
		v, err := uint256.FromDecimal(raw)
		if err != nil {
			return domain.AssetIndex{}, fmt.Errorf("field %s: %w", f.name, err)
		}
		f.dst.Set(v)
	}
	ts, err := strconv.ParseUint(vals[fieldTimestamp], 10, 64)
	if err != nil {
		return domain.AssetIndex{}, fmt.Errorf("field %s: %w", fieldTimestamp, err)
	}
	idx.LastUpdateTimestamp = ts
	return idx, nil
}

// Compile-time interface check.
var _ domain.IndexCache = (*IndexCache)(nil)
