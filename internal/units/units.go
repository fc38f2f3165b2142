// Package units converts between human-readable token quantities and the
// integer base units used on chain. No binary floating point is involved.
package units

import (
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"ammswap/internal/swaperr"
)

// BipsDenominator is the number of basis points in one whole.
const BipsDenominator = 10_000

var bipsDen = big.NewInt(BipsDenominator)

// Plain decimals only: no sign, no exponent.
var decimalPattern = regexp.MustCompile(`^[0-9]*\.?[0-9]*$`)

// FitsUint256 reports whether v is a valid uint256 ABI value.
func FitsUint256(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.BitLen() <= 256
}

// ParseUnits converts a decimal quantity such as "1.25" into base units for a
// token with the given precision. Quantities that need more fractional digits
// than decimals are rejected, never truncated. Trailing zeros past the
// precision ("1.2500" with 2 decimals) are accepted since the value is exact.
// Signs, exponents and results wider than 256 bits are rejected.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, swaperr.Newf(swaperr.KindPrecision, "units.parse", "amount is empty")
	}
	if !decimalPattern.MatchString(amount) || amount == "." {
		return nil, swaperr.Newf(swaperr.KindPrecision, "units.parse", "invalid amount %q", amount)
	}
	if strings.HasPrefix(amount, ".") {
		amount = "0" + amount
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, swaperr.Newf(swaperr.KindPrecision, "units.parse", "invalid amount %q: %v", amount, err)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return nil, swaperr.Newf(swaperr.KindPrecision, "units.parse",
			"amount %s has more than %d fractional digits", amount, decimals)
	}
	v := shifted.BigInt()
	if !FitsUint256(v) {
		return nil, swaperr.Newf(swaperr.KindPrecision, "units.parse", "amount %s overflows uint256", amount)
	}
	return v, nil
}

// FormatUnits renders base units as a decimal string without trailing zeros.
func FormatUnits(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -int32(decimals)).String()
}

// EncodeHex returns the 0x-prefixed quantity encoding used on the JSON-RPC wire.
func EncodeHex(v *big.Int) string {
	if v == nil {
		return "0x0"
	}
	return hexutil.EncodeBig(v)
}

// MulBipsFloor returns floor(v * (10000 - bips) / 10000). bips must not exceed 10000.
func MulBipsFloor(v *big.Int, bips uint32) *big.Int {
	num := new(big.Int).Mul(v, big.NewInt(int64(BipsDenominator)-int64(bips)))
	return num.Div(num, bipsDen)
}

// MulBipsCeil returns ceil(v * (10000 + bips) / 10000).
func MulBipsCeil(v *big.Int, bips uint32) *big.Int {
	num := new(big.Int).Mul(v, big.NewInt(int64(BipsDenominator)+int64(bips)))
	return ceilDiv(num, bipsDen)
}

func ceilDiv(num, den *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
