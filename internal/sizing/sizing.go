// Package sizing splits the amount a trader deposits into the components of
// a new swap.
package sizing

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/ratecore/internal/domain"
	"github.com/alanyoungcy/ratecore/internal/fixedpoint"
)

// Request carries the inputs of SizeDerivative. All amounts and
// percentages are in SCALE units.
type Request struct {
	TotalAmount             uint256.Int
	CollateralizationFactor uint256.Int
	LiquidationDeposit      uint256.Int
	PublicationFee          uint256.Int
	OpeningFeePct           uint256.Int
}

// RequestFromParams fills the fixed deductions and factors from the asset
// configuration.
func RequestFromParams(total *uint256.Int, params domain.AssetParams) Request {
	var r Request
	r.TotalAmount.Set(total)
	r.CollateralizationFactor.Set(&params.CollateralizationFactor)
	r.LiquidationDeposit.Set(&params.LiquidationDeposit)
	r.PublicationFee.Set(&params.PublicationFee)
	r.OpeningFeePct.Set(&params.OpeningFeePct)
	return r
}

// SizeDerivative splits TotalAmount into deposit, opening fee and notional.
//
// The opening fee is charged on notional, so the deposit solves
// deposit·(1 + collateralizationFactor·openingFeePct) = total − fixed fees:
//
//	deposit    = ⌊net·SCALE² / (SCALE² + collateralizationFactor·openingFeePct)⌋
//	notional   = Mul(deposit, collateralizationFactor)
//	openingFee = Mul(notional, openingFeePct)
//
// deposit + openingFee + liquidationDeposit + publicationFee equals
// TotalAmount to within a few units of floor rounding.
func SizeDerivative(req Request, scale *uint256.Int) (domain.DerivativeSizing, error) {
	if scale.IsZero() {
		return domain.DerivativeSizing{}, fmt.Errorf("sizing: zero scale: %w", domain.ErrInvalidParameter)
	}
	fixed, err := fixedpoint.Add(&req.LiquidationDeposit, &req.PublicationFee)
	if err != nil {
		return domain.DerivativeSizing{}, fmt.Errorf("sizing: fixed deductions: %w", err)
	}
	if !req.TotalAmount.Gt(fixed) {
		return domain.DerivativeSizing{}, fmt.Errorf("sizing: total %s does not cover deductions %s: %w",
			req.TotalAmount.Dec(), fixed.Dec(), domain.ErrInsufficientAmount)
	}
	net := new(uint256.Int).Sub(&req.TotalAmount, fixed)

	scaleSq, err := fixedpoint.Product(scale, scale)
	if err != nil {
		return domain.DerivativeSizing{}, fmt.Errorf("sizing: scale squared: %w", err)
	}
	feeLoad, err := fixedpoint.Product(&req.CollateralizationFactor, &req.OpeningFeePct)
	if err != nil {
		return domain.DerivativeSizing{}, fmt.Errorf("sizing: fee load: %w", err)
	}
	denom, err := fixedpoint.Add(scaleSq, feeLoad)
	if err != nil {
		return domain.DerivativeSizing{}, fmt.Errorf("sizing: denominator: %w", err)
	}

	deposit, err := fixedpoint.MulDiv(net, scaleSq, denom)
	if err != nil {
		return domain.DerivativeSizing{}, fmt.Errorf("sizing: deposit: %w", err)
	}
	notional, err := fixedpoint.Mul(deposit, &req.CollateralizationFactor, scale)
	if err != nil {
		return domain.DerivativeSizing{}, fmt.Errorf("sizing: notional: %w", err)
	}
	fee, err := fixedpoint.Mul(notional, &req.OpeningFeePct, scale)
	if err != nil {
		return domain.DerivativeSizing{}, fmt.Errorf("sizing: opening fee: %w", err)
	}

	var out domain.DerivativeSizing
	out.Deposit.Set(deposit)
	out.Notional.Set(notional)
	out.OpeningFee.Set(fee)
	return out, nil
}

// IbtQuantity normalises a notional onto the IBT basis at the given price.
func IbtQuantity(notional, ibtPrice, scale *uint256.Int) (*uint256.Int, error) {
	q, err := fixedpoint.Div(notional, ibtPrice, scale)
	if err != nil {
		return nil, fmt.Errorf("sizing: ibt quantity: %w", err)
	}
	return q, nil
}
