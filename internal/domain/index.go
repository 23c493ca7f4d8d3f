package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AssetIndex is the accrual state of one asset's reference index.
//
// QuasiIndexAccumulator is the running sum of IndexValue multiplied by the
// elapsed seconds; dividing it by seconds-per-year yields the IBT price in
// SCALE units. All uint256 fields are values so that copying an AssetIndex
// copies its state.
type AssetIndex struct {
	Asset                    common.Address
	IndexValue               uint256.Int
	QuasiIndexAccumulator    uint256.Int
	ExponentialMovingAverage uint256.Int
	// ExponentialWeightedMovingVariance tracks the dispersion of IndexValue
	// around the moving average, in SCALE units.
	ExponentialWeightedMovingVariance uint256.Int
	LastUpdateTimestamp               uint64
}

// IndexObservation is a newly published index value.
type IndexObservation struct {
	Asset      common.Address
	IndexValue uint256.Int
	Timestamp  uint64
}

// AssetParams is the per-asset configuration consumed by the core. It is
// owned by the caller and passed into every operation that needs it.
type AssetParams struct {
	Asset                   common.Address
	Symbol                  string
	Decimals                uint8
	Scale                   uint256.Int
	SecondsPerYear          uint64
	DecayFactor             uint256.Int
	VarianceDecayFactor     uint256.Int
	CollateralizationFactor uint256.Int
	OpeningFeePct           uint256.Int
	LiquidationDeposit      uint256.Int
	PublicationFee          uint256.Int
	TaxPct                  uint256.Int
	RedeemFeePct            uint256.Int
}
