package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Direction is the leg of an interest-rate swap held by the position owner.
type Direction uint8

const (
	PayFixed Direction = iota
	ReceiveFixed
)

// Directions lists both legs in a stable order.
var Directions = [2]Direction{PayFixed, ReceiveFixed}

// Sign is +1 for PayFixed and -1 for ReceiveFixed. The SOAP and payoff
// formulas are written once and multiplied by this sign.
func (d Direction) Sign() int {
	if d == ReceiveFixed {
		return -1
	}
	return 1
}

// Valid reports whether d is one of the two defined legs.
func (d Direction) Valid() bool {
	return d == PayFixed || d == ReceiveFixed
}

func (d Direction) String() string {
	switch d {
	case PayFixed:
		return "pay_fixed"
	case ReceiveFixed:
		return "receive_fixed"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// ParseDirection accepts the String form as well as the short aliases
// "pay"/"receive".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pay_fixed", "pay", "payfixed":
		return PayFixed, nil
	case "receive_fixed", "receive", "receivefixed":
		return ReceiveFixed, nil
	}
	return 0, fmt.Errorf("direction %q: %w", s, ErrInvalidParameter)
}

// SoapIndicator is the aggregate position book for one (asset, direction)
// pair. A zero TotalNotional means the book is empty; an indicator that was
// never opened and one that was drained are treated identically.
type SoapIndicator struct {
	Asset              common.Address
	Direction          Direction
	RebalanceTimestamp uint64
	TotalNotional      uint256.Int
	// AverageInterestRate is the notional-weighted fixed rate of the book.
	AverageInterestRate uint256.Int
	TotalIbtQuantity    uint256.Int
	// QuasiHypotheticalInterestCumulative is the fixed-leg interest accrued up
	// to RebalanceTimestamp, in SCALE² × seconds.
	QuasiHypotheticalInterestCumulative uint256.Int
}

// Active reports whether the book holds any notional.
func (s SoapIndicator) Active() bool {
	return !s.TotalNotional.IsZero()
}

// PositionEvent is what an externally owned swap position contributes to a
// SoapIndicator when it is opened or closed.
type PositionEvent struct {
	Notional    uint256.Int
	FixedRate   uint256.Int
	IbtQuantity uint256.Int
	// OpenedAt is the opening timestamp. On close it lets the ledger remove
	// the position's own hypothetical interest; zero means unknown.
	OpenedAt uint64
}

// DerivativeSizing splits a gross amount into its components. It is computed
// per request and never persisted.
type DerivativeSizing struct {
	Notional   uint256.Int
	OpeningFee uint256.Int
	Deposit    uint256.Int
}
