package fixedpoint

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ratecore/internal/domain"
)

func dec(s string) *uint256.Int {
	return uint256.MustFromDecimal(s)
}

func TestMulFloors(t *testing.T) {
	tests := []struct {
		name  string
		a, b  string
		scale *uint256.Int
		want  string
	}{
		{"whole numbers", "500000000000000000000", "60000000000000000", Wad, "30000000000000000000"},
		{"truncates fraction", "1", "1", Wad, "0"},
		{"just below one unit", "999999999999999999", "1", Wad, "0"},
		{"micro scale", "2500000", "1500000", Micro, "3750000"},
		{"zero operand", "0", "123", Wad, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Mul(dec(tt.a), dec(tt.b), tt.scale)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Dec())
		})
	}
}

func TestDivFloors(t *testing.T) {
	got, err := Div(dec("1000000000000000000"), dec("3000000000000000000"), Wad)
	require.NoError(t, err)
	assert.Equal(t, "333333333333333333", got.Dec())

	got, err = Div(dec("1000000000000000000"), dec("2000000000000000000"), Wad)
	require.NoError(t, err)
	assert.Equal(t, "500000000000000000", got.Dec())
}

func TestDivLargeRatio(t *testing.T) {
	got, err := Div(dec("1000000000000000000"), uint256.NewInt(1), Wad)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000000000000000000000", got.Dec())
}

func TestDivByZero(t *testing.T) {
	_, err := Div(uint256.NewInt(1), new(uint256.Int), Wad)
	assert.ErrorIs(t, err, domain.ErrDivisionByZero)

	_, err = MulDiv(uint256.NewInt(1), uint256.NewInt(1), new(uint256.Int))
	assert.ErrorIs(t, err, domain.ErrDivisionByZero)
}

func TestOverflowOnlyWhenResultUnrepresentable(t *testing.T) {
	max := new(uint256.Int).SetAllOne()

	// max·max overflows 256 bits but dividing by max brings it back.
	got, err := MulDiv(max, max, max)
	require.NoError(t, err)
	assert.True(t, got.Eq(max))

	_, err = Mul(max, dec("2000000000000000000"), Wad)
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)

	_, err = Div(max, uint256.NewInt(1), Wad)
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
}

func TestMulDivRound(t *testing.T) {
	tests := []struct {
		name    string
		x, y, d uint64
		want    uint64
	}{
		{"exact", 10, 3, 5, 6},
		{"below half", 10, 1, 3, 3},
		{"exactly half rounds up", 5, 1, 2, 3},
		{"above half", 2, 1, 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MulDivRound(uint256.NewInt(tt.x), uint256.NewInt(tt.y), uint256.NewInt(tt.d))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Uint64())
		})
	}
}

func TestDivRoundOddDivisorNearMax(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	got, err := DivRound(max, max)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Uint64())
}

func TestAddSubProduct(t *testing.T) {
	max := new(uint256.Int).SetAllOne()

	_, err := Add(max, uint256.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)

	_, err = Sub(uint256.NewInt(1), uint256.NewInt(2))
	assert.ErrorIs(t, err, domain.ErrUnderflow)

	_, err = Product(max, uint256.NewInt(2))
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)

	z, err := Sub(uint256.NewInt(5), uint256.NewInt(2))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), z.Uint64())
}

func TestScaleFor(t *testing.T) {
	s, err := ScaleFor(18)
	require.NoError(t, err)
	assert.True(t, s.Eq(Wad))

	s, err = ScaleFor(6)
	require.NoError(t, err)
	assert.True(t, s.Eq(Micro))

	_, err = ScaleFor(78)
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
}

func TestParse(t *testing.T) {
	v, err := Parse("300000000000000")
	require.NoError(t, err)
	assert.Equal(t, "300000000000000", v.Dec())

	v, err = Parse("0x10")
	require.NoError(t, err)
	assert.Equal(t, uint64(16), v.Uint64())

	_, err = Parse("-1")
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	_, err = Parse("not a number")
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}

func TestCheckInt256(t *testing.T) {
	assert.NoError(t, CheckInt256(big.NewInt(-5)))
	assert.NoError(t, CheckInt256(new(big.Int).Set(maxInt256)))
	assert.NoError(t, CheckInt256(new(big.Int).Set(minInt256)))
	assert.ErrorIs(t, CheckInt256(new(big.Int).Add(maxInt256, big.NewInt(1))), domain.ErrArithmeticOverflow)
	assert.ErrorIs(t, CheckInt256(new(big.Int).Sub(minInt256, big.NewInt(1))), domain.ErrArithmeticOverflow)
}

// FuzzMulMatchesBigInt checks Mul against math/big floor division.
func FuzzMulMatchesBigInt(f *testing.F) {
	f.Add(uint64(0), uint64(0), uint64(0), uint64(0))
	f.Add(uint64(1), uint64(1), uint64(1), uint64(1))
	f.Add(^uint64(0), ^uint64(0), ^uint64(0), ^uint64(0))

	f.Fuzz(func(t *testing.T, a0, a1, b0, b1 uint64) {
		a := &uint256.Int{a0, a1, 0, 0}
		b := &uint256.Int{b0, b1, 0, 0}
		got, err := Mul(a, b, Wad)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := new(big.Int).Mul(a.ToBig(), b.ToBig())
		want.Quo(want, Wad.ToBig())
		if got.ToBig().Cmp(want) != 0 {
			t.Fatalf("Mul(%s, %s) = %s, want %s", a.Dec(), b.Dec(), got.Dec(), want)
		}
	})
}

// FuzzDivMatchesBigInt checks Div against math/big floor division.
func FuzzDivMatchesBigInt(f *testing.F) {
	f.Add(uint64(1), uint64(0), uint64(1), uint64(0))
	f.Add(uint64(7), uint64(3), uint64(0), uint64(1))

	f.Fuzz(func(t *testing.T, a0, a1, b0, b1 uint64) {
		a := &uint256.Int{a0, a1, 0, 0}
		b := &uint256.Int{b0, b1, 0, 0}
		got, err := Div(a, b, Wad)
		if b.IsZero() {
			if err == nil {
				t.Fatal("expected division by zero")
			}
			return
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := new(big.Int).Mul(a.ToBig(), Wad.ToBig())
		want.Quo(want, b.ToBig())
		if got.ToBig().Cmp(want) != 0 {
			t.Fatalf("Div(%s, %s) = %s, want %s", a.Dec(), b.Dec(), got.Dec(), want)
		}
	})
}
