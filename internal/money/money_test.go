package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAmountArithmeticIsExact(t *testing.T) {
	a := MustParse("0.1")
	b := MustParse("0.2")
	sum := a.Add(b)
	require.True(t, sum.Equal(MustParse("0.3")), "0.1 + 0.2 must equal 0.3 exactly, got %s", sum)

	diff := MustParse("1000000.01").Sub(MustParse("0.01"))
	require.True(t, diff.Equal(FromInt(1000000)))
}

func TestAmountComparisons(t *testing.T) {
	require.Equal(t, -1, FromInt(5).Cmp(FromInt(7)))
	require.Equal(t, 0, MustParse("5.00").Cmp(FromInt(5)))
	require.Equal(t, 1, FromInt(7).Cmp(FromInt(5)))

	require.True(t, FromInt(5).Min(FromInt(7)).Equal(FromInt(5)))
	require.True(t, FromInt(7).Min(FromInt(5)).Equal(FromInt(5)))

	require.True(t, Zero().IsZero())
	require.True(t, FromInt(-1).IsNegative())
	require.False(t, FromInt(1).IsNegative())
	require.True(t, FromInt(1).IsPositive())
}

func TestAmountJSONRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "0.01", "199.99", "12345678.9", "-42.5"} {
		a := MustParse(s)
		data, err := json.Marshal(a)
		require.NoError(t, err)

		var back Amount
		require.NoError(t, json.Unmarshal(data, &back))
		require.True(t, a.Equal(back), "round trip changed %s to %s", a, back)
	}

	// bare numbers from older clients are still accepted
	var a Amount
	require.NoError(t, json.Unmarshal([]byte(`150.25`), &a))
	require.True(t, a.Equal(MustParse("150.25")))
}

func TestAmountScan(t *testing.T) {
	var a Amount
	require.NoError(t, a.Scan("123.45"))
	require.True(t, a.Equal(MustParse("123.45")))

	require.NoError(t, a.Scan([]byte("67.89")))
	require.True(t, a.Equal(MustParse("67.89")))
}

func TestAmountDisplay(t *testing.T) {
	require.Equal(t, "150.00", FromInt(150).Display())
	require.Equal(t, "0.50", MustParse("0.5").Display())
}
