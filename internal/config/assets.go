package config

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/ratecore/internal/domain"
	"github.com/alanyoungcy/ratecore/internal/fixedpoint"
)

// Params parses the asset entry into the parameters the accounting core
// consumes.
func (a AssetConfig) Params(secondsPerYear uint64) (domain.AssetParams, error) {
	if a.Decimals != fixedpoint.WadDecimals && a.Decimals != fixedpoint.MicroDecimals {
		return domain.AssetParams{}, fmt.Errorf("decimals must be 6 or 18, got %d: %w", a.Decimals, domain.ErrInvalidParameter)
	}
	scale, err := fixedpoint.ScaleFor(a.Decimals)
	if err != nil {
		return domain.AssetParams{}, err
	}

	p := domain.AssetParams{
		Asset:          common.HexToAddress(a.Address),
		Symbol:         a.Symbol,
		Decimals:       a.Decimals,
		SecondsPerYear: secondsPerYear,
	}
	p.Scale.Set(scale)

	fields := []struct {
		name string
		raw  string
		dst  *uint256.Int
		pct  bool
	}{
		{"decay_factor", a.DecayFactor, &p.DecayFactor, true},
		{"variance_decay_factor", a.VarianceDecayFactor, &p.VarianceDecayFactor, true},
		{"collateralization_factor", a.CollateralizationFactor, &p.CollateralizationFactor, false},
		{"opening_fee_pct", a.OpeningFeePct, &p.OpeningFeePct, true},
		{"liquidation_deposit", a.LiquidationDeposit, &p.LiquidationDeposit, false},
		{"publication_fee", a.PublicationFee, &p.PublicationFee, false},
		{"tax_pct", a.TaxPct, &p.TaxPct, true},
		{"redeem_fee_pct", a.RedeemFeePct, &p.RedeemFeePct, true},
	}
	for _, f := range fields {
		v, err := fixedpoint.Parse(f.raw)
		if err != nil {
			return domain.AssetParams{}, fmt.Errorf("%s: %w", f.name, err)
		}
		if f.pct && v.Gt(scale) {
			return domain.AssetParams{}, fmt.Errorf("%s %s exceeds scale %s: %w", f.name, v.Dec(), scale.Dec(), domain.ErrInvalidParameter)
		}
		f.dst.Set(v)
	}
	if p.CollateralizationFactor.IsZero() {
		return domain.AssetParams{}, fmt.Errorf("collateralization_factor must be > 0: %w", domain.ErrInvalidParameter)
	}
	return p, nil
}

// AssetParams parses every configured asset, keyed by address.
func (c *Config) AssetParams() (map[common.Address]domain.AssetParams, error) {
	out := make(map[common.Address]domain.AssetParams, len(c.Engine.Assets))
	for _, a := range c.Engine.Assets {
		p, err := a.Params(c.Engine.SecondsPerYear)
		if err != nil {
			return nil, fmt.Errorf("config: asset %s: %w", a.Symbol, err)
		}
		out[p.Asset] = p
	}
	return out, nil
}
