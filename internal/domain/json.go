package domain

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// 256-bit fields are encoded as decimal strings; JSON numbers lose
// precision above 2^53.

type assetIndexJSON struct {
	Asset                             common.Address `json:"asset"`
	IndexValue                        string         `json:"index_value"`
	QuasiIndexAccumulator             string         `json:"quasi_index_accumulator"`
	ExponentialMovingAverage          string         `json:"exponential_moving_average"`
	ExponentialWeightedMovingVariance string         `json:"exponential_weighted_moving_variance"`
	LastUpdateTimestamp               uint64         `json:"last_update_timestamp"`
}

// MarshalJSON implements json.Marshaler.
func (a AssetIndex) MarshalJSON() ([]byte, error) {
	return json.Marshal(assetIndexJSON{
		Asset:                             a.Asset,
		IndexValue:                        a.IndexValue.Dec(),
		QuasiIndexAccumulator:             a.QuasiIndexAccumulator.Dec(),
		ExponentialMovingAverage:          a.ExponentialMovingAverage.Dec(),
		ExponentialWeightedMovingVariance: a.ExponentialWeightedMovingVariance.Dec(),
		LastUpdateTimestamp:               a.LastUpdateTimestamp,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *AssetIndex) UnmarshalJSON(data []byte) error {
	var raw assetIndexJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out AssetIndex
	out.Asset = raw.Asset
	out.LastUpdateTimestamp = raw.LastUpdateTimestamp
	if err := decodeFields(
		decField{"index_value", raw.IndexValue, &out.IndexValue},
		decField{"quasi_index_accumulator", raw.QuasiIndexAccumulator, &out.QuasiIndexAccumulator},
		decField{"exponential_moving_average", raw.ExponentialMovingAverage, &out.ExponentialMovingAverage},
		decField{"exponential_weighted_moving_variance", raw.ExponentialWeightedMovingVariance, &out.ExponentialWeightedMovingVariance},
	); err != nil {
		return err
	}
	*a = out
	return nil
}

type soapIndicatorJSON struct {
	Asset                               common.Address `json:"asset"`
	Direction                           string         `json:"direction"`
	RebalanceTimestamp                  uint64         `json:"rebalance_timestamp"`
	TotalNotional                       string         `json:"total_notional"`
	AverageInterestRate                 string         `json:"average_interest_rate"`
	TotalIbtQuantity                    string         `json:"total_ibt_quantity"`
	QuasiHypotheticalInterestCumulative string         `json:"quasi_hypothetical_interest_cumulative"`
}

// MarshalJSON implements json.Marshaler.
func (s SoapIndicator) MarshalJSON() ([]byte, error) {
	return json.Marshal(soapIndicatorJSON{
		Asset:                               s.Asset,
		Direction:                           s.Direction.String(),
		RebalanceTimestamp:                  s.RebalanceTimestamp,
		TotalNotional:                       s.TotalNotional.Dec(),
		AverageInterestRate:                 s.AverageInterestRate.Dec(),
		TotalIbtQuantity:                    s.TotalIbtQuantity.Dec(),
		QuasiHypotheticalInterestCumulative: s.QuasiHypotheticalInterestCumulative.Dec(),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *SoapIndicator) UnmarshalJSON(data []byte) error {
	var raw soapIndicatorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	dir, err := ParseDirection(raw.Direction)
	if err != nil {
		return err
	}
	out := SoapIndicator{
		Asset:              raw.Asset,
		Direction:          dir,
		RebalanceTimestamp: raw.RebalanceTimestamp,
	}
	if err := decodeFields(
		decField{"total_notional", raw.TotalNotional, &out.TotalNotional},
		decField{"average_interest_rate", raw.AverageInterestRate, &out.AverageInterestRate},
		decField{"total_ibt_quantity", raw.TotalIbtQuantity, &out.TotalIbtQuantity},
		decField{"quasi_hypothetical_interest_cumulative", raw.QuasiHypotheticalInterestCumulative, &out.QuasiHypotheticalInterestCumulative},
	); err != nil {
		return err
	}
	*s = out
	return nil
}

type decField struct {
	name string
	raw  string
	dst  *uint256.Int
}

func decodeFields(fields ...decField) error {
	for _, f := range fields {
		v, err := uint256.FromDecimal(f.raw)
		if err != nil {
			return fmt.Errorf("%s %q: %w", f.name, f.raw, ErrInvalidParameter)
		}
		f.dst.Set(v)
	}
	return nil
}
