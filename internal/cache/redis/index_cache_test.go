package redis

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ratecore/internal/domain"
)

func TestIndexCodecRoundTrip(t *testing.T) {
	asset := common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	idx := sampleIndex(asset)

	enc := encodeIndex(idx)
	vals := make(map[string]string, len(enc))
	for k, v := range enc {
		vals[k] = v.(string)
	}

	got, err := decodeIndex(asset, vals)
	require.NoError(t, err)
	assert.Equal(t, idx, got)
	assert.Equal(t, "index:0x6B175474E89094C44Da98b954EedeAC495271d0F", indexKey(asset))
}

func TestDecodeIndexErrors(t *testing.T) {
	asset := common.HexToAddress("0x01")
	enc := encodeIndex(sampleIndex(asset))
	full := make(map[string]string, len(enc))
	for k, v := range enc {
		full[k] = v.(string)
	}

	missing := copyMap(full)
	delete(missing, fieldEMA)
	_, err := decodeIndex(asset, missing)
	assert.ErrorContains(t, err, "missing field ema")

	garbled := copyMap(full)
	garbled[fieldIndexValue] = "-5"
	_, err = decodeIndex(asset, garbled)
	assert.Error(t, err)

	badTs := copyMap(full)
	badTs[fieldTimestamp] = "yesterday"
	_, err = decodeIndex(asset, badTs)
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "lock:index:abc", lockKey("index:abc"))
	assert.Equal(t, "ratelimit:10.0.0.1", rateLimitKey("10.0.0.1"))
}

func sampleIndex(asset common.Address) (idx domain.AssetIndex) {
	idx.Asset = asset
	idx.IndexValue.Set(uint256.NewInt(30_000_000_000_000_000))
	idx.QuasiIndexAccumulator.Set(uint256.MustFromDecimal("31600800000000000000000000"))
	idx.ExponentialMovingAverage.Set(uint256.NewInt(30_200_000_000_000_000))
	idx.ExponentialWeightedMovingVariance.Set(uint256.NewInt(36_000_000_000_000))
	idx.LastUpdateTimestamp = 1_700_000_000
	return idx
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func TestSetIndexArgsOrder(t *testing.T) {
	asset := common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	idx := sampleIndex(asset)

	args := setIndexArgs(idx)
	require.Len(t, args, 5)
	assert.Equal(t, "1700000000", args[0], "ts comes first so the script can compare it")
	assert.Equal(t, idx.IndexValue.Dec(), args[1])
	assert.Equal(t, idx.QuasiIndexAccumulator.Dec(), args[2])
	assert.Equal(t, idx.ExponentialMovingAverage.Dec(), args[3])
	assert.Equal(t, idx.ExponentialWeightedMovingVariance.Dec(), args[4])

	// The script writes the same field names the decoder reads.
	for _, f := range []string{fieldTimestamp, fieldIndexValue, fieldAccumulator, fieldEMA, fieldEWMV} {
		assert.Contains(t, setIndexLua, "'"+f+"'")
	}
}
