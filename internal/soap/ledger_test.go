package soap

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ratecore/internal/domain"
	"github.com/alanyoungcy/ratecore/internal/fixedpoint"
)

const (
	t0   uint64 = 1_700_000_000
	year        = fixedpoint.SecondsPerYear
)

var usdc = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")

func dec(s string) *uint256.Int {
	return uint256.MustFromDecimal(s)
}

func wad(units uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(units), fixedpoint.Wad)
}

func event(notional, rate, ibt *uint256.Int, openedAt uint64) domain.PositionEvent {
	var ev domain.PositionEvent
	ev.Notional.Set(notional)
	ev.FixedRate.Set(rate)
	ev.IbtQuantity.Set(ibt)
	ev.OpenedAt = openedAt
	return ev
}

func book(dir domain.Direction, total, avg, ibt *uint256.Int, ts uint64) domain.SoapIndicator {
	ind := domain.SoapIndicator{Asset: usdc, Direction: dir, RebalanceTimestamp: ts}
	ind.TotalNotional.Set(total)
	ind.AverageInterestRate.Set(avg)
	ind.TotalIbtQuantity.Set(ibt)
	return ind
}

func TestPreviewInterestRateOnOpenWeightsByNotional(t *testing.T) {
	ind := book(domain.PayFixed, wad(20_000), dec("80000000000000000"), wad(20_000), t0)

	got, err := PreviewInterestRateOnOpen(ind, wad(10_000), dec("40000000000000000"))
	require.NoError(t, err)
	assert.Equal(t, "66666666666666667", got.Dec())
}

func TestPreviewInterestRateOnOpenEmptyBook(t *testing.T) {
	ind := domain.SoapIndicator{Asset: usdc, Direction: domain.ReceiveFixed}
	got, err := PreviewInterestRateOnOpen(ind, wad(5), dec("41000000000000000"))
	require.NoError(t, err)
	assert.Equal(t, "41000000000000000", got.Dec())
}

func TestOpenPositionOnEmptyBook(t *testing.T) {
	ind := domain.SoapIndicator{Asset: usdc, Direction: domain.PayFixed}

	next, err := OpenPosition(ind, t0, event(wad(10_000), dec("50000000000000000"), wad(9_900), t0))
	require.NoError(t, err)

	assert.True(t, next.Active())
	assert.Equal(t, t0, next.RebalanceTimestamp)
	assert.True(t, next.TotalNotional.Eq(wad(10_000)))
	assert.True(t, next.TotalIbtQuantity.Eq(wad(9_900)))
	assert.Equal(t, "50000000000000000", next.AverageInterestRate.Dec())
	assert.True(t, next.QuasiHypotheticalInterestCumulative.IsZero())
	assert.False(t, ind.Active(), "input indicator must not change")
}

func TestOpenPositionAccruesExistingBookFirst(t *testing.T) {
	ind := book(domain.PayFixed, wad(20_000), dec("80000000000000000"), wad(20_000), t0)

	next, err := OpenPosition(ind, t0+year, event(wad(10_000), dec("40000000000000000"), wad(10_000), t0+year))
	require.NoError(t, err)

	// Interest for the year is at 8% on 20000, not at the blended rate on 30000.
	want := new(uint256.Int).Mul(wad(20_000), dec("80000000000000000"))
	want.Mul(want, uint256.NewInt(year))
	assert.True(t, next.QuasiHypotheticalInterestCumulative.Eq(want))
	assert.Equal(t, "66666666666666667", next.AverageInterestRate.Dec())
	assert.True(t, next.TotalNotional.Eq(wad(30_000)))
	assert.Equal(t, t0+year, next.RebalanceTimestamp)
}

func TestOpenPositionRejectsTimestampRegression(t *testing.T) {
	ind := book(domain.PayFixed, wad(1), dec("1"), wad(1), t0)
	_, err := OpenPosition(ind, t0-1, event(wad(1), dec("1"), wad(1), t0-1))
	assert.ErrorIs(t, err, domain.ErrInvalidTimestamp)

	empty := domain.SoapIndicator{RebalanceTimestamp: t0}
	_, err = OpenPosition(empty, t0-1, event(wad(1), dec("1"), wad(1), t0-1))
	assert.ErrorIs(t, err, domain.ErrInvalidTimestamp)
}

func TestOpenThenCloseRestoresTotals(t *testing.T) {
	ind := book(domain.ReceiveFixed, wad(20_000), dec("80000000000000000"), dec("19876543210987654321000"), t0)
	ev := event(wad(7_777), dec("43000000000000000"), dec("7712345678901234567890"), t0+3_600)

	opened, err := OpenPosition(ind, t0+3_600, ev)
	require.NoError(t, err)
	closed, err := ClosePosition(opened, t0+3_600, ev)
	require.NoError(t, err)

	assert.True(t, closed.TotalNotional.Eq(&ind.TotalNotional))
	assert.True(t, closed.TotalIbtQuantity.Eq(&ind.TotalIbtQuantity))

	drift := new(big.Int).Sub(closed.AverageInterestRate.ToBig(), ind.AverageInterestRate.ToBig())
	assert.True(t, drift.CmpAbs(big.NewInt(2)) <= 0, "average rate drifted by %s", drift)
}

func TestClosePositionUnderflow(t *testing.T) {
	ind := book(domain.PayFixed, wad(100), dec("50000000000000000"), wad(100), t0)
	before := ind

	_, err := ClosePosition(ind, t0+10, event(wad(101), dec("50000000000000000"), wad(101), t0))
	assert.ErrorIs(t, err, domain.ErrUnderflow)
	assert.Equal(t, before, ind)
}

func TestClosePositionIbtUnderflow(t *testing.T) {
	ind := book(domain.PayFixed, wad(100), dec("50000000000000000"), wad(10), t0)
	_, err := ClosePosition(ind, t0, event(wad(50), dec("50000000000000000"), wad(11), t0))
	assert.ErrorIs(t, err, domain.ErrUnderflow)
}

func TestClosePositionDrainsToBaseline(t *testing.T) {
	ind := domain.SoapIndicator{Asset: usdc, Direction: domain.PayFixed}
	ev := event(wad(1_000), dec("35000000000000000"), dec("999999999999999999999"), t0)

	opened, err := OpenPosition(ind, t0, ev)
	require.NoError(t, err)

	// The close reports one unit less IBT than was opened; draining still
	// clears the book.
	closeEv := ev
	closeEv.IbtQuantity.SubUint64(&closeEv.IbtQuantity, 1)
	drained, err := ClosePosition(opened, t0+86_400, closeEv)
	require.NoError(t, err)

	assert.False(t, drained.Active())
	assert.True(t, drained.AverageInterestRate.IsZero())
	assert.True(t, drained.TotalIbtQuantity.IsZero())
	assert.True(t, drained.QuasiHypotheticalInterestCumulative.IsZero())
	assert.Equal(t, t0+86_400, drained.RebalanceTimestamp)

	reopened, err := OpenPosition(drained, t0+2*86_400, event(wad(500), dec("61000000000000000"), wad(490), t0+2*86_400))
	require.NoError(t, err)
	assert.Equal(t, "61000000000000000", reopened.AverageInterestRate.Dec(), "reopened book seeds a fresh average")
}

func TestClosePositionAverageRateClamp(t *testing.T) {
	ind := book(domain.PayFixed, wad(100), dec("10000000000000000"), wad(100), t0)

	tests := []struct {
		name string
		rate string
		want string
	}{
		{"removed weight above book", "50000000000000000", "0"},
		{"removed weight equals book", "20000000000000000", "0"},
		{"just below the clamp", "19999999999999999", "1"},
		{"ordinary close", "10000000000000000", "10000000000000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := ClosePosition(ind, t0, event(wad(50), dec(tt.rate), wad(50), 0))
			require.NoError(t, err)
			assert.Equal(t, tt.want, next.AverageInterestRate.Dec())
			assert.True(t, next.TotalNotional.Eq(wad(50)))
		})
	}
}

func TestClosePositionRemovesOwnInterest(t *testing.T) {
	ind := domain.SoapIndicator{Asset: usdc, Direction: domain.ReceiveFixed}
	first := event(wad(1_000), dec("40000000000000000"), wad(1_000), t0)
	second := event(wad(1_000), dec("60000000000000000"), wad(1_000), t0+1_000)

	ind, err := OpenPosition(ind, t0, first)
	require.NoError(t, err)
	ind, err = OpenPosition(ind, t0+1_000, second)
	require.NoError(t, err)
	assert.Equal(t, "50000000000000000", ind.AverageInterestRate.Dec())

	ind, err = ClosePosition(ind, t0+5_000, first)
	require.NoError(t, err)

	want, err := quasiInterest(&second.Notional, &second.FixedRate, second.OpenedAt, t0+5_000)
	require.NoError(t, err)
	assert.True(t, ind.QuasiHypotheticalInterestCumulative.Eq(want))
	assert.Equal(t, "60000000000000000", ind.AverageInterestRate.Dec())
}

func TestClosePositionOpenedAfterClose(t *testing.T) {
	ind := book(domain.PayFixed, wad(100), dec("10000000000000000"), wad(100), t0)
	_, err := ClosePosition(ind, t0+5, event(wad(10), dec("10000000000000000"), wad(10), t0+6))
	assert.ErrorIs(t, err, domain.ErrInvalidTimestamp)
}

func TestCalculateSoap(t *testing.T) {
	pay := book(domain.PayFixed, wad(10_000), dec("50000000000000000"), wad(10_000), t0)
	price := dec("1030000000000000000")

	got, err := CalculateSoap(pay, t0+year, price, fixedpoint.Wad, year)
	require.NoError(t, err)
	// 10300 floating − 10000 notional − 500 fixed interest
	assert.Equal(t, "-200000000000000000000", got.String())

	receive := pay
	receive.Direction = domain.ReceiveFixed
	mirrored, err := CalculateSoap(receive, t0+year, price, fixedpoint.Wad, year)
	require.NoError(t, err)
	assert.Equal(t, "200000000000000000000", mirrored.String())
}

func TestCalculateSoapEmptyBookIsZero(t *testing.T) {
	ind := domain.SoapIndicator{Asset: usdc, Direction: domain.PayFixed, RebalanceTimestamp: t0}
	got, err := CalculateSoap(ind, t0+year, dec("1100000000000000000"), fixedpoint.Wad, year)
	require.NoError(t, err)
	assert.Zero(t, got.Sign())
}

func TestCalculateSoapRejectsInvalidInputs(t *testing.T) {
	ind := book(domain.Direction(7), wad(1), dec("1"), wad(1), t0)
	_, err := CalculateSoap(ind, t0, fixedpoint.Wad, fixedpoint.Wad, year)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	ind.Direction = domain.PayFixed
	_, err = CalculateSoap(ind, t0-1, fixedpoint.Wad, fixedpoint.Wad, year)
	assert.ErrorIs(t, err, domain.ErrInvalidTimestamp)

	_, err = CalculateSoap(ind, t0, fixedpoint.Wad, fixedpoint.Wad, 0)
	assert.ErrorIs(t, err, domain.ErrDivisionByZero)
}

func TestSinglePositionSoapEqualsPayoff(t *testing.T) {
	for _, dir := range domain.Directions {
		ev := event(dec("12345678901234567890123"), dec("37000000000000000"), dec("12001234567890123456789"), t0)
		ind, err := OpenPosition(domain.SoapIndicator{Asset: usdc, Direction: dir}, t0, ev)
		require.NoError(t, err)

		asOf := t0 + 90*86_400
		price := dec("1011000000000000000")

		soap, err := CalculateSoap(ind, asOf, price, fixedpoint.Wad, year)
		require.NoError(t, err)
		payoff, err := PositionPayoff(ev, dir, asOf, price, fixedpoint.Wad, year)
		require.NoError(t, err)
		assert.Equal(t, payoff.String(), soap.String(), dir.String())
	}
}

func TestPositionPayoffRequiresOpeningTime(t *testing.T) {
	_, err := PositionPayoff(event(wad(1), dec("1"), wad(1), 0), domain.PayFixed, t0, fixedpoint.Wad, fixedpoint.Wad, year)
	assert.ErrorIs(t, err, domain.ErrInvalidTimestamp)
}

func TestCalculateBook(t *testing.T) {
	pay := book(domain.PayFixed, wad(10_000), dec("50000000000000000"), wad(10_000), t0)
	receive := book(domain.ReceiveFixed, wad(4_000), dec("30000000000000000"), wad(4_000), t0)

	got, err := CalculateBook(pay, receive, t0+year, dec("1030000000000000000"), fixedpoint.Wad, year)
	require.NoError(t, err)
	// receive: −(4120 − 4000 − 120) = 0
	assert.Equal(t, "-200000000000000000000", got.PayFixed.String())
	assert.Zero(t, got.ReceiveFixed.Sign())
	assert.Equal(t, got.PayFixed.String(), got.Total.String())

	_, err = CalculateBook(receive, pay, t0+year, fixedpoint.Wad, fixedpoint.Wad, year)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}

func TestManyPartialClosesKeepBookConsistent(t *testing.T) {
	ind := domain.SoapIndicator{Asset: usdc, Direction: domain.PayFixed}
	ts := t0
	var err error

	rates := []string{"31000000000000000", "47000000000000000", "52000000000000000", "29000000000000000"}
	var opened []domain.PositionEvent
	for i, r := range rates {
		ev := event(wad(uint64(1_000*(i+1))), dec(r), wad(uint64(990*(i+1))), ts)
		ind, err = OpenPosition(ind, ts, ev)
		require.NoError(t, err)
		opened = append(opened, ev)
		ts += 3_600
	}
	assert.True(t, ind.TotalNotional.Eq(wad(10_000)))

	for i := len(opened) - 1; i >= 0; i-- {
		ind, err = ClosePosition(ind, ts, opened[i])
		require.NoError(t, err)
		ts += 3_600
	}
	assert.False(t, ind.Active())
	assert.True(t, ind.TotalIbtQuantity.IsZero())
	assert.True(t, ind.QuasiHypotheticalInterestCumulative.IsZero())
}
