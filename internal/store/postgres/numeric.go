package postgres

import (
	"fmt"
	"math"

	"github.com/holiman/uint256"
)

// numeric renders v for a NUMERIC(78,0) parameter. Queries cast the
// placeholder with ::numeric.
func numeric(v *uint256.Int) string {
	return v.Dec()
}

// decodeNumeric parses a NUMERIC(78,0) column selected as ::text.
func decodeNumeric(dst *uint256.Int, column, s string) error {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return fmt.Errorf("postgres: decode %s %q: %w", column, s, err)
	}
	dst.Set(v)
	return nil
}

// timestamp converts a unix timestamp to BIGINT.
func timestamp(ts uint64) (int64, error) {
	if ts > math.MaxInt64 {
		return 0, fmt.Errorf("postgres: timestamp %d exceeds bigint", ts)
	}
	return int64(ts), nil
}

func decodeTimestamp(column string, v int64) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("postgres: negative %s %d", column, v)
	}
	return uint64(v), nil
}
