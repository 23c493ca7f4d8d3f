// Package fixedpoint implements scaled integer arithmetic on 256-bit
// unsigned values. A value v with scale S represents the real number v/S;
// S is 10^18 for accounting amounts and rates, 10^6 for six-decimal assets.
//
// Mul and Div round toward zero. Intermediate products are computed in 512
// bits, so a result only fails with ErrArithmeticOverflow when the true
// quotient does not fit in 256 bits.
package fixedpoint

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/ratecore/internal/domain"
)

// SecondsPerYear is the 365-day year used by the accrual formulas.
const SecondsPerYear uint64 = 31_536_000

const (
	WadDecimals   uint8 = 18
	MicroDecimals uint8 = 6
)

var (
	// Wad is 10^18.
	Wad = uint256.NewInt(1_000_000_000_000_000_000)
	// Micro is 10^6.
	Micro = uint256.NewInt(1_000_000)
)

// ScaleFor returns 10^decimals. Scales above 10^77 do not fit in 256 bits.
func ScaleFor(decimals uint8) (*uint256.Int, error) {
	if decimals > 77 {
		return nil, fmt.Errorf("fixedpoint: scale 10^%d: %w", decimals, domain.ErrArithmeticOverflow)
	}
	return uint256.MustFromBig(math.BigPow(10, int64(decimals))), nil
}

// MulDiv returns ⌊x·y/d⌋ computed with a 512-bit intermediate product.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, domain.ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, domain.ErrArithmeticOverflow
	}
	return z, nil
}

// MulDivRound returns x·y/d rounded half up.
func MulDivRound(x, y, d *uint256.Int) (*uint256.Int, error) {
	z, err := MulDiv(x, y, d)
	if err != nil {
		return nil, err
	}
	// r >= d-r is 2r >= d without the doubling overflowing.
	r := new(uint256.Int).MulMod(x, y, d)
	if !r.Lt(new(uint256.Int).Sub(d, r)) {
		if _, overflow := z.AddOverflow(z, uint256.NewInt(1)); overflow {
			return nil, domain.ErrArithmeticOverflow
		}
	}
	return z, nil
}

// Mul returns ⌊a·b/scale⌋.
func Mul(a, b, scale *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, b, scale)
}

// Div returns ⌊a·scale/b⌋.
func Div(a, b, scale *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, domain.ErrDivisionByZero
	}
	return MulDiv(a, scale, b)
}

// DivRound returns x/y rounded half up. Neither operand is rescaled.
func DivRound(x, y *uint256.Int) (*uint256.Int, error) {
	return MulDivRound(x, uint256.NewInt(1), y)
}

// Add returns a+b or ErrArithmeticOverflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, domain.ErrArithmeticOverflow
	}
	return z, nil
}

// Sub returns a-b or ErrUnderflow when b > a.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, domain.ErrUnderflow
	}
	return z, nil
}

// Product returns a·b or ErrArithmeticOverflow.
func Product(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, domain.ErrArithmeticOverflow
	}
	return z, nil
}

// Parse reads a decimal or 0x-prefixed hex integer bounded to 256 bits.
func Parse(s string) (*uint256.Int, error) {
	b, ok := math.ParseBig256(s)
	if !ok {
		return nil, fmt.Errorf("fixedpoint: parse %q: %w", s, domain.ErrInvalidParameter)
	}
	if b.Sign() < 0 {
		return nil, fmt.Errorf("fixedpoint: parse %q: negative: %w", s, domain.ErrInvalidParameter)
	}
	return uint256.MustFromBig(b), nil
}

var (
	maxInt256 = new(big.Int).Rsh(math.MaxBig256, 1)
	minInt256 = new(big.Int).Neg(new(big.Int).Add(maxInt256, big.NewInt(1)))
)

// CheckInt256 fails with ErrArithmeticOverflow when v is outside the signed
// 256-bit range.
func CheckInt256(v *big.Int) error {
	if v.Cmp(maxInt256) > 0 || v.Cmp(minInt256) < 0 {
		return domain.ErrArithmeticOverflow
	}
	return nil
}
