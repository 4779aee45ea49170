// Package coin converts between decimal coin strings and integer base units.
package coin

import (
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	// Coin and Cent are the wire amounts for 1 and 0.01 coins at 8 decimal places.
	Coin int64 = 100_000_000
	Cent int64 = 1_000_000

	// JSONValueDecimals is the scale of the `value` field in block JSON documents:
	// one coin there is 10^9 base units.
	JSONValueDecimals = 9
)

var (
	ErrInvalidAmount    = errors.New("invalid decimal amount")
	ErrNonIntegerAmount = errors.New("amount is not a whole number of base units")
	ErrAmountRange      = errors.New("amount out of range")
)

// ToNanoCoins parses a decimal coin amount, e.g. "1.01" or "1E-2", into wire
// units at 8 decimal places. Negative amounts are allowed.
func ToNanoCoins(s string) (int64, error) {
	v, err := scale(s, 8)
	if err != nil {
		return 0, err
	}
	if !v.IsInt64() {
		return 0, errors.Wrapf(ErrAmountRange, "%q", s)
	}
	return v.Int64(), nil
}

// ParseUnits parses a non-negative decimal amount and scales it by
// 10^decimals. The result must be an exact integer that fits in a uint64.
func ParseUnits(s string, decimals int) (uint64, error) {
	v, err := scale(s, decimals)
	if err != nil {
		return 0, err
	}
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, errors.Wrapf(ErrAmountRange, "%q", s)
	}
	return v.Uint64(), nil
}

// FormatUnits renders units/10^decimals as an exact decimal string with
// trailing zeros trimmed: FormatUnits(1_500_000_000, 9) == "1.5".
func FormatUnits(units uint64, decimals int) string {
	digits := strconv.FormatUint(units, 10)
	if decimals <= 0 {
		return digits
	}
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}

	whole, frac := digits[:len(digits)-decimals], strings.TrimRight(digits[len(digits)-decimals:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

func scale(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.Wrap(ErrInvalidAmount, "empty string")
	}
	if decimals < 0 || decimals > math.MaxInt32 {
		return nil, errors.Newf("bad decimal count %d", decimals)
	}

	// big.Rat also takes fractions and hex floats, amounts are plain decimals
	if strings.Trim(s, "0123456789.eE+-") != "" {
		return nil, errors.Wrapf(ErrInvalidAmount, "%q", s)
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidAmount, "%q", s)
	}

	r.Mul(r, new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)))
	if !r.IsInt() {
		return nil, errors.Wrapf(ErrNonIntegerAmount, "%q at %d decimals", s, decimals)
	}
	return new(big.Int).Set(r.Num()), nil
}
