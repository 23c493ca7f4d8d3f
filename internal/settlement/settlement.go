// Package settlement holds the income-tax and liquidity-share conversions
// applied when swaps settle and when liquidity providers enter or leave
// the pool.
package settlement

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/ratecore/internal/domain"
	"github.com/alanyoungcy/ratecore/internal/fixedpoint"
)

// IncomeTax returns the tax withheld from a profit. profit is unsigned, so
// the non-negative precondition holds by construction; callers with a loss
// pass zero.
func IncomeTax(profit, taxPct, scale *uint256.Int) (*uint256.Int, error) {
	tax, err := fixedpoint.Mul(profit, taxPct, scale)
	if err != nil {
		return nil, fmt.Errorf("settlement: income tax: %w", err)
	}
	return tax, nil
}

// ExchangeRate is the value of one pool share. With no shares outstanding
// it is par (SCALE) whatever the pool holds, so the first depositor always
// gets one share per unit. Once shares exist an empty pool yields zero.
func ExchangeRate(totalAssets, totalShares, scale *uint256.Int) (*uint256.Int, error) {
	if totalShares.IsZero() {
		return scale.Clone(), nil
	}
	rate, err := fixedpoint.Div(totalAssets, totalShares, scale)
	if err != nil {
		return nil, fmt.Errorf("settlement: exchange rate: %w", err)
	}
	return rate, nil
}

// SharesForDeposit returns the shares minted for amount at rate.
func SharesForDeposit(amount, rate, scale *uint256.Int) (*uint256.Int, error) {
	shares, err := fixedpoint.Div(amount, rate, scale)
	if err != nil {
		return nil, fmt.Errorf("settlement: shares for deposit: %w", err)
	}
	return shares, nil
}

// AssetsForShares returns the assets backing shares at rate.
func AssetsForShares(shares, rate, scale *uint256.Int) (*uint256.Int, error) {
	assets, err := fixedpoint.Mul(shares, rate, scale)
	if err != nil {
		return nil, fmt.Errorf("settlement: assets for shares: %w", err)
	}
	return assets, nil
}

// Redemption is the split of a share redemption.
type Redemption struct {
	Gross uint256.Int
	Fee   uint256.Int
	Net   uint256.Int
}

// Redeem values shares at rate and withholds the redeem fee.
func Redeem(shares, rate, redeemFeePct, scale *uint256.Int) (Redemption, error) {
	if redeemFeePct.Gt(scale) {
		return Redemption{}, fmt.Errorf("settlement: redeem fee %s above scale: %w",
			redeemFeePct.Dec(), domain.ErrInvalidParameter)
	}
	gross, err := AssetsForShares(shares, rate, scale)
	if err != nil {
		return Redemption{}, err
	}
	fee, err := fixedpoint.Mul(gross, redeemFeePct, scale)
	if err != nil {
		return Redemption{}, fmt.Errorf("settlement: redeem fee: %w", err)
	}
	var out Redemption
	out.Gross.Set(gross)
	out.Fee.Set(fee)
	out.Net.Sub(gross, fee)
	return out, nil
}
