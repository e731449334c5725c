package money

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParseUsesCurrencyScale(t *testing.T) {
	amount, err := Parse("1000.25", "usd")
	require.NoError(t, err)
	require.Equal(t, Minor(100025), amount)

	amount, err = Parse("1500", "JPY")
	require.NoError(t, err)
	require.Equal(t, Minor(1500), amount)
}

func TestParseRejectsSubMinorPrecision(t *testing.T) {
	_, err := Parse("10.001", "USD")
	require.ErrorIs(t, err, ErrPrecision)
}

func TestNormalizeCurrencyRejectsUnknown(t *testing.T) {
	_, err := NormalizeCurrency("XYZ1")
	require.ErrorIs(t, err, ErrUnknownCurrency)

	code, err := NormalizeCurrency(" idr ")
	require.NoError(t, err)
	require.Equal(t, "IDR", code)
}

func TestFormatRoundTrips(t *testing.T) {
	require.Equal(t, "-6.00", Minor(-600).Format("USD"))
	require.True(t, Minor(123456).Decimal("EUR").Equal(decimal.RequireFromString("1234.56")))
}

func TestSplitTruncates(t *testing.T) {
	require.Equal(t, Minor(3333), Split(10000, 3333, 10000))
	require.Equal(t, Minor(600), Split(1000, 6000, 10000))
	require.Equal(t, Minor(0), Split(1000, 1, 0))
}

func TestSplitLargeAmountsDoNotWrap(t *testing.T) {
	basis := Minor(2_000_000_000_000_000)
	require.Equal(t, Minor(1_200_000_000_000_000), Split(basis, 6000, 10000))
	require.Equal(t, Minor(800_000_000_000_000), Split(basis, 4000, 10000))
	require.Equal(t, Minor(math.MaxInt64/10000*3333+(math.MaxInt64%10000)*3333/10000), Split(Minor(math.MaxInt64), 3333, 10000))
	require.Equal(t, Minor(-3), Split(-10, 3333, 10000))
}

func TestParseRejectsAmountsBeyondMinorRange(t *testing.T) {
	_, err := Parse("92233720368547758.08", "USD")
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = Parse("-92233720368547758.09", "USD")
	require.ErrorIs(t, err, ErrOutOfRange)

	amount, err := Parse("92233720368547758.07", "USD")
	require.NoError(t, err)
	require.Equal(t, Minor(math.MaxInt64), amount)
}
