package s3blob

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ratecore/internal/crypto"
	"github.com/alanyoungcy/ratecore/internal/domain"
	"github.com/alanyoungcy/ratecore/internal/store/memory"
)

func newTestSnapshotter(t *testing.T, prefix string) (*Snapshotter, *memory.BlobStore, *memory.AssetIndexStore, *memory.SoapIndicatorStore, *memory.AuditStore) {
	t.Helper()
	blobs := memory.NewBlobStore()
	indexes := memory.NewAssetIndexStore()
	indicators := memory.NewSoapIndicatorStore()
	audit := memory.NewAuditStore()
	state := memory.NewStateStore(indexes, indicators)
	return NewSnapshotter(blobs, blobs, state, audit, prefix), blobs, indexes, indicators, audit
}

func TestSnapshotTakeAndRestore(t *testing.T) {
	ctx := context.Background()
	snap, blobs, indexes, indicators, audit := newTestSnapshotter(t, "/snapshots/")
	snap.now = func() time.Time { return time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC) }

	asset := common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	var idx domain.AssetIndex
	idx.Asset = asset
	idx.QuasiIndexAccumulator.Set(uint256.MustFromDecimal("31600800000000000000000000"))
	idx.LastUpdateTimestamp = 1_738_281_600
	require.NoError(t, indexes.Upsert(ctx, idx))

	ind := domain.SoapIndicator{Asset: asset, Direction: domain.ReceiveFixed, RebalanceTimestamp: 1_738_281_600}
	ind.TotalNotional.Set(uint256.MustFromDecimal("10000000000000000000000"))
	require.NoError(t, indicators.Upsert(ctx, ind))

	key, err := snap.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "snapshots/2025/01/31/1738281600.json", key)

	latest, err := snap.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, key, latest)

	// Restore into empty stores sharing the same bucket.
	restorer, _, indexes2, indicators2, _ := newTestSnapshotter(t, "snapshots")
	restorer.reader = blobs
	got, err := restorer.Restore(ctx, key)
	require.NoError(t, err)
	assert.Len(t, got.Indexes, 1)

	back, err := indexes2.Get(ctx, asset)
	require.NoError(t, err)
	assert.Equal(t, idx, back)
	book, err := indicators2.Get(ctx, asset, domain.ReceiveFixed)
	require.NoError(t, err)
	assert.Equal(t, ind, book)

	entries, err := audit.List(ctx, domain.ListOpts{Event: "snapshot.taken"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSnapshotLatestPicksNewest(t *testing.T) {
	ctx := context.Background()
	snap, _, _, _, _ := newTestSnapshotter(t, "snapshots")

	_, err := snap.Latest(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	for _, ts := range []int64{1_700_000_000, 1_738_281_600, 1_720_000_000} {
		at := time.Unix(ts, 0).UTC()
		snap.now = func() time.Time { return at }
		_, err := snap.Take(ctx)
		require.NoError(t, err)
	}
	latest, err := snap.Latest(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(latest, "/1738281600.json"), latest)
}

func TestSnapshotRestoreMissing(t *testing.T) {
	snap, _, _, _, _ := newTestSnapshotter(t, "snapshots")
	_, err := snap.Restore(context.Background(), "snapshots/none.json")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testSealer(t *testing.T, passphrase string) *crypto.Sealer {
	t.Helper()
	s, err := crypto.NewSealer(passphrase)
	require.NoError(t, err)
	return s.WithIterations(1_000)
}

func TestSnapshotSealedRestore(t *testing.T) {
	ctx := context.Background()
	snap, blobs, _, _, audit := newTestSnapshotter(t, "snapshots")
	snap.WithSealer(testSealer(t, "vault"))

	key, err := snap.Take(ctx)
	require.NoError(t, err)
	_, err = blobs.Get(ctx, key+".seal")
	require.NoError(t, err)

	// The seal sidecar is never picked as the latest snapshot.
	latest, err := snap.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, key, latest)

	entries, err := audit.List(ctx, domain.ListOpts{Event: "snapshot.taken"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, true, entries[0].Detail["sealed"])
	assert.NotEmpty(t, entries[0].Detail["keccak256"])

	_, err = snap.Restore(ctx, key)
	require.NoError(t, err)

	wrongKey, _, _, _, _ := newTestSnapshotter(t, "snapshots")
	wrongKey.reader = blobs
	wrongKey.WithSealer(testSealer(t, "not the vault"))
	_, err = wrongKey.Restore(ctx, key)
	assert.ErrorIs(t, err, domain.ErrIntegrity)
}

func TestSnapshotRestoreRejectsTamperedBody(t *testing.T) {
	ctx := context.Background()
	snap, blobs, _, _, _ := newTestSnapshotter(t, "snapshots")
	snap.WithSealer(testSealer(t, "vault"))

	key, err := snap.Take(ctx)
	require.NoError(t, err)
	tampered := []byte(`{"taken_at":"2025-01-31T00:00:00Z","indexes":[],"indicators":[]}`)
	require.NoError(t, blobs.Put(ctx, key, bytes.NewReader(tampered), "application/json"))

	_, err = snap.Restore(ctx, key)
	assert.ErrorIs(t, err, domain.ErrIntegrity)
}

func TestSnapshotRestoreRequiresSeal(t *testing.T) {
	ctx := context.Background()
	plain, blobs, _, _, _ := newTestSnapshotter(t, "snapshots")
	key, err := plain.Take(ctx)
	require.NoError(t, err)

	sealed, _, _, _, _ := newTestSnapshotter(t, "snapshots")
	sealed.reader = blobs
	sealed.WithSealer(testSealer(t, "vault"))
	_, err = sealed.Restore(ctx, key)
	assert.ErrorIs(t, err, domain.ErrIntegrity)
}

func TestSnapshotRestoreEvictsCachedIndexes(t *testing.T) {
	ctx := context.Background()
	snap, _, indexes, _, _ := newTestSnapshotter(t, "snapshots")
	cache := memory.NewIndexCache()
	snap.WithIndexCache(cache)

	asset := common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	var old domain.AssetIndex
	old.Asset = asset
	old.LastUpdateTimestamp = 1_700_000_000
	require.NoError(t, indexes.Upsert(ctx, old))

	key, err := snap.Take(ctx)
	require.NoError(t, err)

	newer := old
	newer.LastUpdateTimestamp = 1_702_592_000
	require.NoError(t, indexes.Upsert(ctx, newer))
	require.NoError(t, cache.Set(ctx, newer))

	_, err = snap.Restore(ctx, key)
	require.NoError(t, err)

	_, err = cache.Get(ctx, asset)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	back, err := indexes.Get(ctx, asset)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_700_000_000), back.LastUpdateTimestamp)
}
