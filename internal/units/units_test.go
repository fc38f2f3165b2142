package units

import (
	"math/big"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ammswap/internal/swaperr"
)

func TestParseUnits(t *testing.T) {
	cases := []struct {
		in       string
		decimals uint8
		want     string
	}{
		{"1.23", 6, "1230000"},
		{"0.000001", 6, "1"},
		{"10", 18, "10000000000000000000"},
		{".5", 2, "50"},
		{"1.2500", 2, "125"},
		{"0", 18, "0"},
		{" 42 ", 0, "42"},
	}
	for _, tc := range cases {
		v, err := ParseUnits(tc.in, tc.decimals)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, v.String(), tc.in)
	}
}

func TestParseUnitsRejectsExcessPrecision(t *testing.T) {
	_, err := ParseUnits("0.0000001", 6)
	require.ErrorIs(t, err, swaperr.ErrPrecision)

	_, err = ParseUnits("1.5", 0)
	require.ErrorIs(t, err, swaperr.ErrPrecision)
}

func TestParseUnitsRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "1.2.3"} {
		_, err := ParseUnits(in, 18)
		assert.ErrorIs(t, err, swaperr.ErrPrecision, in)
	}
}

func TestParseUnitsRejectsExponentNotation(t *testing.T) {
	for _, in := range []string{"1e3", "1E3", "1e2000000000", "2.5e-1", "+1", "."} {
		_, err := ParseUnits(in, 18)
		assert.ErrorIs(t, err, swaperr.ErrPrecision, in)
	}
}

func TestParseUnitsUint256Ceiling(t *testing.T) {
	limit := new(big.Int).Lsh(big.NewInt(1), 256)
	maxValue := new(big.Int).Sub(limit, big.NewInt(1))

	v, err := ParseUnits(maxValue.String(), 0)
	require.NoError(t, err)
	assert.Zero(t, v.Cmp(maxValue))

	_, err = ParseUnits(limit.String(), 0)
	require.ErrorIs(t, err, swaperr.ErrPrecision)

	// fits as a number of tokens, not once scaled by 18 decimals
	_, err = ParseUnits("1"+strings.Repeat("0", 60), 18)
	require.ErrorIs(t, err, swaperr.ErrPrecision)

	assert.True(t, FitsUint256(big.NewInt(0)))
	assert.False(t, FitsUint256(big.NewInt(-1)))
	assert.False(t, FitsUint256(nil))
}

func TestFormatParseRoundTrip(t *testing.T) {
	for _, in := range []string{"1.5", "0.000000000000000001", "123456789.987654321", "7"} {
		v, err := ParseUnits(in, 18)
		require.NoError(t, err)
		out := FormatUnits(v, 18)
		assert.True(t, decimal.RequireFromString(in).Equal(decimal.RequireFromString(out)), "%s != %s", in, out)

		back, err := ParseUnits(out, 18)
		require.NoError(t, err)
		assert.Zero(t, back.Cmp(v))
	}
	assert.Equal(t, "0", FormatUnits(nil, 6))
	assert.Equal(t, "1.5", FormatUnits(big.NewInt(1_500_000), 6))
}

func TestEncodeHex(t *testing.T) {
	assert.Equal(t, "0x0", EncodeHex(big.NewInt(0)))
	assert.Equal(t, "0x3e8", EncodeHex(big.NewInt(1000)))
	assert.Equal(t, "0x0", EncodeHex(nil))
}

func TestMulBips(t *testing.T) {
	assert.Equal(t, "18", MulBipsFloor(big.NewInt(19), 50).String())
	assert.Equal(t, "19", MulBipsFloor(big.NewInt(19), 0).String())
	assert.Equal(t, "0", MulBipsFloor(big.NewInt(19), 10_000).String())

	assert.Equal(t, "11", MulBipsCeil(big.NewInt(10), 50).String())
	assert.Equal(t, "10", MulBipsCeil(big.NewInt(10), 0).String())
	assert.Equal(t, "1005", MulBipsCeil(big.NewInt(1000), 50).String())
}
