package soap

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/ratecore/internal/domain"
	"github.com/alanyoungcy/ratecore/internal/fixedpoint"
)

// PositionPayoff values a single position the way CalculateSoap values a
// book. A book holding only this position has a SOAP equal to its payoff.
func PositionPayoff(ev domain.PositionEvent, dir domain.Direction, asOf uint64, ibtPrice, scale *uint256.Int, secondsPerYear uint64) (*big.Int, error) {
	if !dir.Valid() {
		return nil, fmt.Errorf("soap: %s: %w", dir, domain.ErrInvalidParameter)
	}
	if ev.OpenedAt == 0 {
		return nil, fmt.Errorf("soap: position without opening time: %w", domain.ErrInvalidTimestamp)
	}
	quasi, err := quasiInterest(&ev.Notional, &ev.FixedRate, ev.OpenedAt, asOf)
	if err != nil {
		return nil, err
	}
	interest, err := deannualize(quasi, scale, secondsPerYear)
	if err != nil {
		return nil, err
	}
	floating, err := fixedpoint.Mul(&ev.IbtQuantity, ibtPrice, scale)
	if err != nil {
		return nil, fmt.Errorf("soap: position floating leg: %w", err)
	}
	return signedLeg(dir, floating, &ev.Notional, interest)
}

// Book is the SOAP of both directions of one asset.
type Book struct {
	PayFixed     *big.Int
	ReceiveFixed *big.Int
	Total        *big.Int
}

// CalculateBook evaluates the pay-fixed and receive-fixed indicators of one
// asset and sums them.
func CalculateBook(payFixed, receiveFixed domain.SoapIndicator, asOf uint64, ibtPrice, scale *uint256.Int, secondsPerYear uint64) (Book, error) {
	if payFixed.Direction != domain.PayFixed || receiveFixed.Direction != domain.ReceiveFixed {
		return Book{}, fmt.Errorf("soap: book legs %s/%s: %w", payFixed.Direction, receiveFixed.Direction, domain.ErrInvalidParameter)
	}
	pf, err := CalculateSoap(payFixed, asOf, ibtPrice, scale, secondsPerYear)
	if err != nil {
		return Book{}, fmt.Errorf("soap: pay fixed: %w", err)
	}
	rf, err := CalculateSoap(receiveFixed, asOf, ibtPrice, scale, secondsPerYear)
	if err != nil {
		return Book{}, fmt.Errorf("soap: receive fixed: %w", err)
	}
	total := new(big.Int).Add(pf, rf)
	if err := fixedpoint.CheckInt256(total); err != nil {
		return Book{}, fmt.Errorf("soap: book total: %w", err)
	}
	return Book{PayFixed: pf, ReceiveFixed: rf, Total: total}, nil
}
