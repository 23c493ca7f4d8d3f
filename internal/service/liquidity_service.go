package service

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/ratecore/internal/settlement"
)

// Quote is a liquidity pool valuation at one exchange rate.
type Quote struct {
	ExchangeRate uint256.Int
	Shares       uint256.Int
	Assets       uint256.Int
}

// LiquidityService converts between pool assets and shares with each
// asset's configured redeem fee.
type LiquidityService struct {
	assets *AssetRegistry
}

// NewLiquidityService creates a LiquidityService.
func NewLiquidityService(assets *AssetRegistry) *LiquidityService {
	return &LiquidityService{assets: assets}
}

// ExchangeRate values one pool share given the pool's totals.
func (s *LiquidityService) ExchangeRate(asset common.Address, totalAssets, totalShares *uint256.Int) (*uint256.Int, error) {
	params, err := s.assets.Params(asset)
	if err != nil {
		return nil, fmt.Errorf("liquidity_service: exchange rate: %w", err)
	}
	return settlement.ExchangeRate(totalAssets, totalShares, &params.Scale)
}

// Deposit quotes the shares minted for amount.
func (s *LiquidityService) Deposit(asset common.Address, amount, totalAssets, totalShares *uint256.Int) (Quote, error) {
	params, err := s.assets.Params(asset)
	if err != nil {
		return Quote{}, fmt.Errorf("liquidity_service: deposit: %w", err)
	}
	rate, err := settlement.ExchangeRate(totalAssets, totalShares, &params.Scale)
	if err != nil {
		return Quote{}, err
	}
	shares, err := settlement.SharesForDeposit(amount, rate, &params.Scale)
	if err != nil {
		return Quote{}, err
	}
	var q Quote
	q.ExchangeRate.Set(rate)
	q.Shares.Set(shares)
	q.Assets.Set(amount)
	return q, nil
}

// Redeem quotes the assets paid out for shares, net of the redeem fee.
func (s *LiquidityService) Redeem(asset common.Address, shares, totalAssets, totalShares *uint256.Int) (settlement.Redemption, error) {
	params, err := s.assets.Params(asset)
	if err != nil {
		return settlement.Redemption{}, fmt.Errorf("liquidity_service: redeem: %w", err)
	}
	rate, err := settlement.ExchangeRate(totalAssets, totalShares, &params.Scale)
	if err != nil {
		return settlement.Redemption{}, err
	}
	return settlement.Redeem(shares, rate, &params.RedeemFeePct, &params.Scale)
}

// IncomeTax returns the tax withheld from profit.
func (s *LiquidityService) IncomeTax(asset common.Address, profit *uint256.Int) (*uint256.Int, error) {
	params, err := s.assets.Params(asset)
	if err != nil {
		return nil, fmt.Errorf("liquidity_service: income tax: %w", err)
	}
	return settlement.IncomeTax(profit, &params.TaxPct, &params.Scale)
}
