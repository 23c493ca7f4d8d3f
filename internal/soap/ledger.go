// Package soap maintains the SOAP (sum of open positions) indicator of each
// (asset, direction) book and evaluates it.
//
// Every mutation first accrues the book's hypothetical fixed-leg interest up
// to the event timestamp using the book as it stood, then applies the event.
// Functions take an indicator by value and return the updated copy; on
// error the caller's state is untouched.
package soap

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/ratecore/internal/domain"
	"github.com/alanyoungcy/ratecore/internal/fixedpoint"
)

// quasiInterest returns notional·rate·(to−from), the fixed-leg interest in
// SCALE²·seconds.
func quasiInterest(notional, rate *uint256.Int, from, to uint64) (*uint256.Int, error) {
	if to < from {
		return nil, fmt.Errorf("soap: interest window %d..%d: %w", from, to, domain.ErrInvalidTimestamp)
	}
	if to == from || notional.IsZero() || rate.IsZero() {
		return new(uint256.Int), nil
	}
	perSecond, err := fixedpoint.Product(notional, rate)
	if err != nil {
		return nil, fmt.Errorf("soap: notional·rate: %w", err)
	}
	q, err := fixedpoint.Product(perSecond, uint256.NewInt(to-from))
	if err != nil {
		return nil, fmt.Errorf("soap: quasi interest: %w", err)
	}
	return q, nil
}

// QuasiHypotheticalInterestTotal is the book's cumulative quasi interest
// advanced to asOf.
func QuasiHypotheticalInterestTotal(ind domain.SoapIndicator, asOf uint64) (*uint256.Int, error) {
	delta, err := quasiInterest(&ind.TotalNotional, &ind.AverageInterestRate, ind.RebalanceTimestamp, asOf)
	if err != nil {
		return nil, err
	}
	total, err := fixedpoint.Add(&ind.QuasiHypotheticalInterestCumulative, delta)
	if err != nil {
		return nil, fmt.Errorf("soap: cumulative interest: %w", err)
	}
	return total, nil
}

// accrue moves the book's interest watermark to ts without changing its
// composition.
func accrue(ind domain.SoapIndicator, ts uint64) (domain.SoapIndicator, error) {
	total, err := QuasiHypotheticalInterestTotal(ind, ts)
	if err != nil {
		return domain.SoapIndicator{}, err
	}
	next := ind
	next.QuasiHypotheticalInterestCumulative.Set(total)
	next.RebalanceTimestamp = ts
	return next, nil
}

// PreviewInterestRateOnOpen returns the average rate the book would carry
// after adding notional at fixedRate. An empty book takes fixedRate as is.
func PreviewInterestRateOnOpen(ind domain.SoapIndicator, notional, fixedRate *uint256.Int) (*uint256.Int, error) {
	if ind.TotalNotional.IsZero() {
		return fixedRate.Clone(), nil
	}
	current, err := fixedpoint.Product(&ind.AverageInterestRate, &ind.TotalNotional)
	if err != nil {
		return nil, fmt.Errorf("soap: weighted book rate: %w", err)
	}
	added, err := fixedpoint.Product(fixedRate, notional)
	if err != nil {
		return nil, fmt.Errorf("soap: weighted position rate: %w", err)
	}
	num, err := fixedpoint.Add(current, added)
	if err != nil {
		return nil, fmt.Errorf("soap: rate numerator: %w", err)
	}
	den, err := fixedpoint.Add(&ind.TotalNotional, notional)
	if err != nil {
		return nil, fmt.Errorf("soap: rate denominator: %w", err)
	}
	return fixedpoint.DivRound(num, den)
}

// PreviewInterestRateOnClose returns the average rate left after removing
// notional at fixedRate. The result is clamped at zero, and a fully drained
// book has no average.
func PreviewInterestRateOnClose(ind domain.SoapIndicator, notional, fixedRate *uint256.Int) (*uint256.Int, error) {
	if notional.Gt(&ind.TotalNotional) {
		return nil, fmt.Errorf("soap: close %s exceeds book %s: %w",
			notional.Dec(), ind.TotalNotional.Dec(), domain.ErrUnderflow)
	}
	remaining := new(uint256.Int).Sub(&ind.TotalNotional, notional)
	if remaining.IsZero() {
		return new(uint256.Int), nil
	}
	current, err := fixedpoint.Product(&ind.AverageInterestRate, &ind.TotalNotional)
	if err != nil {
		return nil, fmt.Errorf("soap: weighted book rate: %w", err)
	}
	removed, err := fixedpoint.Product(fixedRate, notional)
	if err != nil {
		return nil, fmt.Errorf("soap: weighted position rate: %w", err)
	}
	// Rounding across many partial closes can push the numerator below zero.
	if !removed.Lt(current) {
		return new(uint256.Int), nil
	}
	return fixedpoint.DivRound(new(uint256.Int).Sub(current, removed), remaining)
}

// OpenPosition adds a position to the book at ts.
func OpenPosition(ind domain.SoapIndicator, ts uint64, ev domain.PositionEvent) (domain.SoapIndicator, error) {
	next, err := accrue(ind, ts)
	if err != nil {
		return domain.SoapIndicator{}, fmt.Errorf("soap: open: %w", err)
	}
	rate, err := PreviewInterestRateOnOpen(ind, &ev.Notional, &ev.FixedRate)
	if err != nil {
		return domain.SoapIndicator{}, fmt.Errorf("soap: open: %w", err)
	}
	total, err := fixedpoint.Add(&ind.TotalNotional, &ev.Notional)
	if err != nil {
		return domain.SoapIndicator{}, fmt.Errorf("soap: open notional: %w", err)
	}
	ibt, err := fixedpoint.Add(&ind.TotalIbtQuantity, &ev.IbtQuantity)
	if err != nil {
		return domain.SoapIndicator{}, fmt.Errorf("soap: open ibt quantity: %w", err)
	}

	next.AverageInterestRate.Set(rate)
	next.TotalNotional.Set(total)
	next.TotalIbtQuantity.Set(ibt)
	return next, nil
}

// ClosePosition removes a position from the book at ts. When ev.OpenedAt is
// set, the interest the position accrued since opening leaves the
// cumulative with it. A book that reaches zero notional is reset to the
// empty baseline.
func ClosePosition(ind domain.SoapIndicator, ts uint64, ev domain.PositionEvent) (domain.SoapIndicator, error) {
	next, err := accrue(ind, ts)
	if err != nil {
		return domain.SoapIndicator{}, fmt.Errorf("soap: close: %w", err)
	}
	rate, err := PreviewInterestRateOnClose(ind, &ev.Notional, &ev.FixedRate)
	if err != nil {
		return domain.SoapIndicator{}, fmt.Errorf("soap: close: %w", err)
	}
	remaining := new(uint256.Int).Sub(&ind.TotalNotional, &ev.Notional)

	if remaining.IsZero() {
		next.TotalNotional.Clear()
		next.AverageInterestRate.Clear()
		next.TotalIbtQuantity.Clear()
		next.QuasiHypotheticalInterestCumulative.Clear()
		return next, nil
	}

	ibt, err := fixedpoint.Sub(&ind.TotalIbtQuantity, &ev.IbtQuantity)
	if err != nil {
		return domain.SoapIndicator{}, fmt.Errorf("soap: close ibt quantity: %w", err)
	}
	if ev.OpenedAt != 0 {
		paid, err := quasiInterest(&ev.Notional, &ev.FixedRate, ev.OpenedAt, ts)
		if err != nil {
			return domain.SoapIndicator{}, fmt.Errorf("soap: close paid-out interest: %w", err)
		}
		cum := &next.QuasiHypotheticalInterestCumulative
		if paid.Gt(cum) {
			cum.Clear()
		} else {
			cum.Sub(cum, paid)
		}
	}

	next.AverageInterestRate.Set(rate)
	next.TotalNotional.Set(remaining)
	next.TotalIbtQuantity.Set(ibt)
	return next, nil
}

// CalculateSoap evaluates the book at asOf given the current IBT price:
//
//	sign(direction) · (Mul(totalIbtQuantity, ibtPrice) − totalNotional − hypotheticalInterest)
//
// where hypotheticalInterest is the quasi total divided by SCALE·secondsPerYear.
// The direction is the indicator's own.
func CalculateSoap(ind domain.SoapIndicator, asOf uint64, ibtPrice, scale *uint256.Int, secondsPerYear uint64) (*big.Int, error) {
	if !ind.Direction.Valid() {
		return nil, fmt.Errorf("soap: %s: %w", ind.Direction, domain.ErrInvalidParameter)
	}
	quasi, err := QuasiHypotheticalInterestTotal(ind, asOf)
	if err != nil {
		return nil, err
	}
	interest, err := deannualize(quasi, scale, secondsPerYear)
	if err != nil {
		return nil, err
	}
	floating, err := fixedpoint.Mul(&ind.TotalIbtQuantity, ibtPrice, scale)
	if err != nil {
		return nil, fmt.Errorf("soap: floating leg: %w", err)
	}
	return signedLeg(ind.Direction, floating, &ind.TotalNotional, interest)
}

// deannualize turns SCALE²·seconds into SCALE units.
func deannualize(quasi, scale *uint256.Int, secondsPerYear uint64) (*uint256.Int, error) {
	if secondsPerYear == 0 {
		return nil, fmt.Errorf("soap: seconds per year: %w", domain.ErrDivisionByZero)
	}
	denom, err := fixedpoint.Product(scale, uint256.NewInt(secondsPerYear))
	if err != nil {
		return nil, fmt.Errorf("soap: annualisation factor: %w", err)
	}
	if denom.IsZero() {
		return nil, fmt.Errorf("soap: zero scale: %w", domain.ErrInvalidParameter)
	}
	return new(uint256.Int).Div(quasi, denom), nil
}

func signedLeg(dir domain.Direction, floating, notional, interest *uint256.Int) (*big.Int, error) {
	v := new(big.Int).Sub(floating.ToBig(), notional.ToBig())
	v.Sub(v, interest.ToBig())
	if dir.Sign() < 0 {
		v.Neg(v)
	}
	if err := fixedpoint.CheckInt256(v); err != nil {
		return nil, fmt.Errorf("soap: result: %w", err)
	}
	return v, nil
}
