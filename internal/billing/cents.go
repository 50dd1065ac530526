package billing

import (
	"fmt"
	"math"
	"strconv"
)

// ParseCents converts a decimal amount string from the billing API into
// integer cents. Totals are accumulated as integers and converted back
// to dollars exactly once, so summing hundreds of small amounts cannot
// pick up binary floating-point drift. Sub-cent amounts round to the
// nearest cent.
func ParseCents(amount string) (int64, error) {
	f, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %v", amount, err)
	}
	return int64(math.Round(f * 100)), nil
}

func absCents(c int64) int64 {
	if c < 0 {
		return -c
	}
	return c
}

func centsToDollars(c int64) float64 {
	return float64(c) / 100
}
