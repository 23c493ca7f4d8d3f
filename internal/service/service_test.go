package service

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	s3blob "github.com/alanyoungcy/ratecore/internal/blob/s3"
	"github.com/alanyoungcy/ratecore/internal/domain"
	"github.com/alanyoungcy/ratecore/internal/fixedpoint"
	"github.com/alanyoungcy/ratecore/internal/store/memory"
)

const (
	t0   uint64 = 1_700_000_000
	year        = fixedpoint.SecondsPerYear
	day  uint64 = 86_400
)

var dai = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")

func wad(s string) *uint256.Int { return uint256.MustFromDecimal(s) }

func daiParams() domain.AssetParams {
	p := domain.AssetParams{
		Asset:          dai,
		Symbol:         "DAI",
		Decimals:       18,
		SecondsPerYear: year,
	}
	p.Scale.Set(fixedpoint.Wad)
	p.DecayFactor.Set(wad("10000000000000000"))         // 1%
	p.VarianceDecayFactor.Set(wad("10000000000000000")) // 1%
	p.CollateralizationFactor.Set(wad("10000000000000000000"))
	p.OpeningFeePct.Set(wad("300000000000000")) // 0.03%
	p.LiquidationDeposit.Set(wad("20000000000000000000"))
	p.PublicationFee.Set(wad("10000000000000000000"))
	p.TaxPct.Set(wad("100000000000000000"))      // 10%
	p.RedeemFeePct.Set(wad("5000000000000000")) // 0.5%
	return p
}

type fixture struct {
	store      *memory.AssetIndexStore
	cache      *memory.IndexCache
	locks      *memory.LockManager
	bus        *memory.SignalBus
	audit      *memory.AuditStore
	indicators *memory.SoapIndicatorStore
	index      *IndexService
	ledger     *LedgerService
	liquidity  *LiquidityService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	registry := NewAssetRegistry(map[common.Address]domain.AssetParams{dai: daiParams()})

	f := &fixture{
		locks:      memory.NewLockManager(),
		bus:        memory.NewSignalBus(),
		audit:      memory.NewAuditStore(),
		indicators: memory.NewSoapIndicatorStore(),
		store:      memory.NewAssetIndexStore(),
		cache:      memory.NewIndexCache(),
	}
	f.index = NewIndexService(registry, f.store, f.cache, f.locks, f.bus, f.audit, time.Second, logger)
	f.ledger = NewLedgerService(registry, f.index, f.indicators, f.locks, f.bus, f.audit, time.Second, logger)
	f.liquidity = NewLiquidityService(registry)
	return f
}

func TestPublishSeedsThenAccrues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	idx, err := f.index.Publish(ctx, dai, wad("30000000000000000"), t0)
	require.NoError(t, err)
	assert.Equal(t, t0, idx.LastUpdateTimestamp)

	price, err := f.index.IbtPrice(ctx, dai, t0)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", price.Dec())

	price, err = f.index.IbtPrice(ctx, dai, t0+year)
	require.NoError(t, err)
	assert.Equal(t, "1030000000000000000", price.Dec())

	idx, err = f.index.Publish(ctx, dai, wad("40000000000000000"), t0+year)
	require.NoError(t, err)
	assert.Equal(t, "30100000000000000", idx.ExponentialMovingAverage.Dec())

	// The price is continuous across the rate change.
	price, err = f.index.IbtPrice(ctx, dai, t0+year)
	require.NoError(t, err)
	assert.Equal(t, "1030000000000000000", price.Dec())

	entries, err := f.audit.List(ctx, domain.ListOpts{Event: "index.published"})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestPublishRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.index.Publish(ctx, common.HexToAddress("0x01"), wad("1"), t0)
	assert.ErrorIs(t, err, domain.ErrUnknownAsset)

	_, err = f.index.Publish(ctx, dai, wad("30000000000000000"), t0)
	require.NoError(t, err)
	_, err = f.index.Publish(ctx, dai, wad("30000000000000000"), t0-1)
	assert.ErrorIs(t, err, domain.ErrInvalidTimestamp)

	_, err = f.index.IbtPrice(ctx, dai, t0-1)
	assert.ErrorIs(t, err, domain.ErrInvalidTimestamp)
}

func TestIndexCacheKeepsNewestPublication(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	stale, err := f.index.Publish(ctx, dai, wad("30000000000000000"), t0)
	require.NoError(t, err)
	_, err = f.index.Publish(ctx, dai, wad("90000000000000000"), t0+30*day)
	require.NoError(t, err)

	// A backfill read before the second publication lands late.
	require.NoError(t, f.cache.Set(ctx, stale))

	got, err := f.index.Get(ctx, dai)
	require.NoError(t, err)
	assert.Equal(t, t0+30*day, got.LastUpdateTimestamp)
	assert.Equal(t, "90000000000000000", got.IndexValue.Dec())
}

func TestIndexServeRestoredState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	blobs := memory.NewBlobStore()
	snaps := s3blob.NewSnapshotter(blobs, blobs, memory.NewStateStore(f.store, f.indicators), f.audit, "snapshots").
		WithIndexCache(f.cache)

	_, err := f.index.Publish(ctx, dai, wad("30000000000000000"), t0)
	require.NoError(t, err)
	key, err := snaps.Take(ctx)
	require.NoError(t, err)

	_, err = f.index.Publish(ctx, dai, wad("90000000000000000"), t0+30*day)
	require.NoError(t, err)
	_, err = f.index.Get(ctx, dai)
	require.NoError(t, err)

	_, err = snaps.Restore(ctx, key)
	require.NoError(t, err)

	got, err := f.index.Get(ctx, dai)
	require.NoError(t, err)
	assert.Equal(t, t0, got.LastUpdateTimestamp)
	assert.Equal(t, "30000000000000000", got.IndexValue.Dec())

	price, err := f.index.IbtPrice(ctx, dai, t0+60*day)
	require.NoError(t, err)
	assert.Equal(t, "1004931506849315068", price.Dec())
}

func TestIndexGetBeforePublish(t *testing.T) {
	f := newFixture(t)
	_, err := f.index.Get(context.Background(), dai)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPublishWaitsForLock(t *testing.T) {
	f := newFixture(t)
	unlock, err := f.locks.Acquire(context.Background(), indexLockKey(dai), time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.index.Publish(ctx, dai, wad("30000000000000000"), t0)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	go func() {
		time.Sleep(20 * time.Millisecond)
		unlock()
	}()
	_, err = f.index.Publish(context.Background(), dai, wad("30000000000000000"), t0)
	require.NoError(t, err)
}

func TestOpenAndCloseSwap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.index.Publish(ctx, dai, wad("30000000000000000"), t0)
	require.NoError(t, err)

	events, err := f.bus.Subscribe(ctx, domain.ChannelSoap)
	require.NoError(t, err)

	req := OpenRequest{Asset: dai, Direction: domain.PayFixed, Timestamp: t0}
	req.TotalAmount.Set(wad("10000000000000000000000"))
	req.FixedRate.Set(wad("20000000000000000"))
	opened, err := f.ledger.OpenSwap(ctx, req)
	require.NoError(t, err)

	sized := opened.Sizing
	total := new(uint256.Int).Add(&sized.Deposit, &sized.OpeningFee)
	total.Add(total, wad("30000000000000000000"))
	gap := new(uint256.Int).Sub(&req.TotalAmount, total)
	assert.True(t, gap.LtUint64(4), "sizing gap %s", gap.Dec())
	assert.Equal(t, sized.Notional.Dec(), opened.Position.IbtQuantity.Dec(), "par IBT price")
	assert.Equal(t, sized.Notional.Dec(), opened.Indicator.TotalNotional.Dec())
	assert.Equal(t, "20000000000000000", opened.Indicator.AverageInterestRate.Dec())
	assert.Contains(t, string(<-events), `"event":"swap_opened"`)

	book, err := f.ledger.Soap(ctx, dai, t0)
	require.NoError(t, err)
	assert.Zero(t, book.Total.Sign())

	// A year at 3% floating against 2% fixed: pay-fixed earns about 1% of
	// notional.
	closeReq := CloseRequest{Asset: dai, Direction: domain.PayFixed, Position: opened.Position, Timestamp: t0 + year}
	closed, err := f.ledger.CloseSwap(ctx, closeReq)
	require.NoError(t, err)

	want := new(big.Int).Div(sized.Notional.ToBig(), big.NewInt(100))
	diff := new(big.Int).Sub(closed.Payoff, want)
	assert.LessOrEqual(t, diff.CmpAbs(big.NewInt(2)), 0, "payoff %s want %s", closed.Payoff, want)

	wantTax := new(big.Int).Div(closed.Payoff, big.NewInt(10))
	assert.Equal(t, wantTax.String(), closed.IncomeTax.Dec())
	assert.False(t, closed.Indicator.Active())
	assert.True(t, closed.Indicator.QuasiHypotheticalInterestCumulative.IsZero())
	assert.Contains(t, string(<-events), `"event":"swap_closed"`)
}

func TestSoapMirrorsAcrossDirections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.index.Publish(ctx, dai, wad("30000000000000000"), t0)
	require.NoError(t, err)

	for _, dir := range domain.Directions {
		req := OpenRequest{Asset: dai, Direction: dir, Timestamp: t0}
		req.TotalAmount.Set(wad("1000000000000000000000"))
		req.FixedRate.Set(wad("25000000000000000"))
		_, err := f.ledger.OpenSwap(ctx, req)
		require.NoError(t, err)
	}

	book, err := f.ledger.Soap(ctx, dai, t0+year/2)
	require.NoError(t, err)
	assert.Positive(t, book.PayFixed.Sign())
	assert.Equal(t, new(big.Int).Neg(book.PayFixed).String(), book.ReceiveFixed.String())
	assert.Zero(t, book.Total.Sign())
}

func TestCloseMoreThanBook(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.index.Publish(ctx, dai, wad("30000000000000000"), t0)
	require.NoError(t, err)

	ev := domain.PositionEvent{OpenedAt: t0}
	ev.Notional.Set(wad("1000000000000000000000"))
	ev.FixedRate.Set(wad("30000000000000000"))
	ev.IbtQuantity.Set(wad("1000000000000000000000"))
	_, err = f.ledger.CloseSwap(ctx, CloseRequest{Asset: dai, Direction: domain.ReceiveFixed, Position: ev, Timestamp: t0 + 10})
	assert.ErrorIs(t, err, domain.ErrUnderflow)

	_, err = f.indicators.Get(ctx, dai, domain.ReceiveFixed)
	assert.ErrorIs(t, err, domain.ErrNotFound, "failed close leaves no row")
}

func TestOpenSwapErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	req := OpenRequest{Asset: dai, Direction: domain.PayFixed, Timestamp: t0}
	req.TotalAmount.Set(wad("10000000000000000000000"))
	_, err := f.ledger.OpenSwap(ctx, req)
	assert.ErrorIs(t, err, domain.ErrNotFound, "no index published yet")

	_, err = f.index.Publish(ctx, dai, wad("30000000000000000"), t0)
	require.NoError(t, err)

	small := req
	small.TotalAmount.Set(wad("30000000000000000000"))
	_, err = f.ledger.OpenSwap(ctx, small)
	assert.ErrorIs(t, err, domain.ErrInsufficientAmount)

	bad := req
	bad.Direction = 7
	_, err = f.ledger.OpenSwap(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}

func TestPreviewRate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.index.Publish(ctx, dai, wad("30000000000000000"), t0)
	require.NoError(t, err)

	notional := wad("100000000000000000000")
	rate, err := f.ledger.PreviewRate(ctx, dai, domain.PayFixed, notional, wad("50000000000000000"), false)
	require.NoError(t, err)
	assert.Equal(t, "50000000000000000", rate.Dec(), "empty book takes the position rate")

	_, err = f.ledger.PreviewRate(ctx, dai, domain.PayFixed, notional, wad("50000000000000000"), true)
	assert.ErrorIs(t, err, domain.ErrUnderflow)
}

func TestLiquidityQuotes(t *testing.T) {
	f := newFixture(t)

	rate, err := f.liquidity.ExchangeRate(dai, wad("0"), wad("0"))
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", rate.Dec())

	q, err := f.liquidity.Deposit(dai, wad("100000000000000000000"), wad("1100000000000000000000"), wad("1000000000000000000000"))
	require.NoError(t, err)
	assert.Equal(t, "1100000000000000000", q.ExchangeRate.Dec())
	assert.Equal(t, "90909090909090909090", q.Shares.Dec())

	r, err := f.liquidity.Redeem(dai, wad("100000000000000000000"), wad("1100000000000000000000"), wad("1000000000000000000000"))
	require.NoError(t, err)
	assert.Equal(t, "110000000000000000000", r.Gross.Dec())
	assert.Equal(t, "550000000000000000", r.Fee.Dec())
	assert.Equal(t, "109450000000000000000", r.Net.Dec())

	tax, err := f.liquidity.IncomeTax(dai, wad("1000000000000000000"))
	require.NoError(t, err)
	assert.Equal(t, "100000000000000000", tax.Dec())

	_, err = f.liquidity.ExchangeRate(common.HexToAddress("0x09"), wad("1"), wad("1"))
	assert.ErrorIs(t, err, domain.ErrUnknownAsset)
}
