// Package accrual advances an asset's reference index through time.
//
// The index is accrued into a quasi accumulator: the running sum of the
// index value multiplied by elapsed seconds. Dividing the accumulator by
// seconds-per-year gives the IBT price in SCALE units. Every function here
// is pure; callers persist the AssetIndex they get back.
package accrual

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/ratecore/internal/domain"
	"github.com/alanyoungcy/ratecore/internal/fixedpoint"
)

// AccrueQuasiIndex returns the accumulator advanced from the index's
// watermark to target. A target equal to the watermark returns the stored
// accumulator unchanged.
func AccrueQuasiIndex(index domain.AssetIndex, target uint64) (*uint256.Int, error) {
	if target < index.LastUpdateTimestamp {
		return nil, fmt.Errorf("accrual: target %d before watermark %d: %w",
			target, index.LastUpdateTimestamp, domain.ErrInvalidTimestamp)
	}
	delta := uint256.NewInt(target - index.LastUpdateTimestamp)
	growth, err := fixedpoint.Product(&index.IndexValue, delta)
	if err != nil {
		return nil, fmt.Errorf("accrual: index growth: %w", err)
	}
	acc, err := fixedpoint.Add(&index.QuasiIndexAccumulator, growth)
	if err != nil {
		return nil, fmt.Errorf("accrual: accumulate: %w", err)
	}
	return acc, nil
}

// SpotPrice converts a quasi accumulator into the IBT price.
func SpotPrice(accumulator *uint256.Int, secondsPerYear uint64) (*uint256.Int, error) {
	if secondsPerYear == 0 {
		return nil, fmt.Errorf("accrual: seconds per year: %w", domain.ErrDivisionByZero)
	}
	return new(uint256.Int).Div(accumulator, uint256.NewInt(secondsPerYear)), nil
}

// IbtPrice accrues the index to asOf and returns the spot IBT price.
func IbtPrice(index domain.AssetIndex, asOf, secondsPerYear uint64) (*uint256.Int, error) {
	acc, err := AccrueQuasiIndex(index, asOf)
	if err != nil {
		return nil, err
	}
	return SpotPrice(acc, secondsPerYear)
}

// CalculateEma blends a new index value into the moving average:
// Mul(previous, SCALE-decay) + Mul(value, decay). A zero decay keeps the
// previous average; a decay equal to SCALE replaces it with value.
func CalculateEma(previous, value, decay, scale *uint256.Int) (*uint256.Int, error) {
	keep, err := retained(decay, scale)
	if err != nil {
		return nil, err
	}
	old, err := fixedpoint.Mul(previous, keep, scale)
	if err != nil {
		return nil, fmt.Errorf("accrual: ema previous term: %w", err)
	}
	fresh, err := fixedpoint.Mul(value, decay, scale)
	if err != nil {
		return nil, fmt.Errorf("accrual: ema new term: %w", err)
	}
	return fixedpoint.Add(old, fresh)
}

// CalculateEwmv updates the exponentially weighted moving variance of the
// index around ema: Mul(SCALE-decay, variance + Mul(decay, diff²)).
func CalculateEwmv(variance, value, ema, decay, scale *uint256.Int) (*uint256.Int, error) {
	keep, err := retained(decay, scale)
	if err != nil {
		return nil, err
	}
	diff := new(uint256.Int)
	if value.Gt(ema) {
		diff.Sub(value, ema)
	} else {
		diff.Sub(ema, value)
	}
	sq, err := fixedpoint.Mul(diff, diff, scale)
	if err != nil {
		return nil, fmt.Errorf("accrual: ewmv square: %w", err)
	}
	weighted, err := fixedpoint.Mul(decay, sq, scale)
	if err != nil {
		return nil, fmt.Errorf("accrual: ewmv weight: %w", err)
	}
	inner, err := fixedpoint.Add(variance, weighted)
	if err != nil {
		return nil, fmt.Errorf("accrual: ewmv sum: %w", err)
	}
	return fixedpoint.Mul(keep, inner, scale)
}

func retained(decay, scale *uint256.Int) (*uint256.Int, error) {
	if scale.IsZero() {
		return nil, fmt.Errorf("accrual: zero scale: %w", domain.ErrInvalidParameter)
	}
	if decay.Gt(scale) {
		return nil, fmt.Errorf("accrual: decay factor %s above scale %s: %w",
			decay.Dec(), scale.Dec(), domain.ErrInvalidParameter)
	}
	return new(uint256.Int).Sub(scale, decay), nil
}

// Seed creates the state of a newly listed asset. The accumulator starts at
// SCALE·secondsPerYear so the initial IBT price is exactly one.
func Seed(asset common.Address, initial *uint256.Int, ts uint64, params domain.AssetParams) (domain.AssetIndex, error) {
	acc, err := fixedpoint.Product(&params.Scale, uint256.NewInt(params.SecondsPerYear))
	if err != nil {
		return domain.AssetIndex{}, fmt.Errorf("accrual: seed accumulator: %w", err)
	}
	idx := domain.AssetIndex{
		Asset:               asset,
		LastUpdateTimestamp: ts,
	}
	idx.IndexValue.Set(initial)
	idx.QuasiIndexAccumulator.Set(acc)
	idx.ExponentialMovingAverage.Set(initial)
	return idx, nil
}

// ApplyObservation folds a published index value into the stored state:
// the accumulator is accrued at the old rate up to the observation, then the
// new value, averages and watermark are recorded. The input is not modified.
func ApplyObservation(index domain.AssetIndex, obs domain.IndexObservation, params domain.AssetParams) (domain.AssetIndex, error) {
	acc, err := AccrueQuasiIndex(index, obs.Timestamp)
	if err != nil {
		return domain.AssetIndex{}, err
	}
	ema, err := CalculateEma(&index.ExponentialMovingAverage, &obs.IndexValue, &params.DecayFactor, &params.Scale)
	if err != nil {
		return domain.AssetIndex{}, fmt.Errorf("accrual: ema: %w", err)
	}
	ewmv, err := CalculateEwmv(&index.ExponentialWeightedMovingVariance, &obs.IndexValue, ema,
		&params.VarianceDecayFactor, &params.Scale)
	if err != nil {
		return domain.AssetIndex{}, fmt.Errorf("accrual: ewmv: %w", err)
	}

	next := index
	next.IndexValue.Set(&obs.IndexValue)
	next.QuasiIndexAccumulator.Set(acc)
	next.ExponentialMovingAverage.Set(ema)
	next.ExponentialWeightedMovingVariance.Set(ewmv)
	next.LastUpdateTimestamp = obs.Timestamp
	return next, nil
}
