package sortable

import (
	"math"
	"math/big"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHeights(t *testing.T) []*big.Int {
	t.Helper()

	var heights []*big.Int
	for _, h := range []uint64{0, 1, 7, 8, 9, 10, 11, 99, 100, 12345678, 99999999, 100000000, 123456789, math.MaxUint64} {
		heights = append(heights, new(big.Int).SetUint64(h))
	}

	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		heights = append(heights, new(big.Int).SetUint64(rnd.Uint64()>>uint(rnd.Intn(64))))
	}

	// Values long enough to need a nested length prefix.
	for _, digits := range []int{9, 10, 99, 100, 1000, 123456} {
		v, ok := new(big.Int).SetString("1"+strings.Repeat("0", digits-1), 10)
		require.True(t, ok)
		heights = append(heights, v, new(big.Int).Sub(v, big.NewInt(1)))
	}

	return heights
}

func TestEncodePreservesOrder(t *testing.T) {
	heights := sampleHeights(t)
	sort.Slice(heights, func(i, j int) bool { return heights[i].Cmp(heights[j]) < 0 })

	for i := 1; i < len(heights); i++ {
		a, err := FromBig(heights[i-1])
		require.NoError(t, err)
		b, err := FromBig(heights[i])
		require.NoError(t, err)

		ea, eb := Encode(a), Encode(b)
		switch heights[i-1].Cmp(heights[i]) {
		case 0:
			assert.Equal(t, ea, eb)
		default:
			assert.Less(t, ea, eb, "%s should sort before %s", heights[i-1], heights[i])
		}
	}
}

func TestPermanentSortsFirst(t *testing.T) {
	require.Less(t, Encode(PermanentHeight()), Encode(FromUint64(0)))
	require.Less(t, Permanent, EncodeUint64(0))
	require.Equal(t, -1, PermanentHeight().Cmp(FromUint64(0)))
	require.Equal(t, 0, PermanentHeight().Cmp(PermanentHeight()))
}

func TestRoundTrip(t *testing.T) {
	for _, h := range sampleHeights(t) {
		height, err := FromBig(h)
		require.NoError(t, err)

		decoded, err := Decode(Encode(height))
		require.NoError(t, err)
		require.Equal(t, 0, h.Cmp(decoded.Big()), "height %s", h)
	}

	decoded, err := Decode(Encode(PermanentHeight()))
	require.NoError(t, err)
	require.True(t, decoded.IsPermanent())
}

func TestUint64Helpers(t *testing.T) {
	for _, h := range []uint64{0, 5, 10, 1 << 40, math.MaxUint64} {
		s := EncodeUint64(h)
		require.Equal(t, Encode(FromUint64(h)), s)

		decoded, err := DecodeUint64(s)
		require.NoError(t, err)
		require.Equal(t, h, decoded)
	}

	require.Equal(t, "110", EncodeUint64(0))
	require.Equal(t, "1210", EncodeUint64(10))
	require.Equal(t, "1899999999", EncodeUint64(99999999))
	require.Equal(t, "1919123456789", EncodeUint64(123456789))
	require.Equal(t, "192101234567890", EncodeUint64(1234567890))
}

func TestDecodeRejectsMalformed(t *testing.T) {
	tooBig := Encode(mustBig(t, "18446744073709551616"))

	for _, s := range []string{
		"",
		"2",
		"1",
		"10",
		"1a5",
		"115x",
		"12",
		"1205",
		"12x0",
		"193123",
		"19",
		"1905",
		"01",
	} {
		_, err := Decode(s)
		var decodeErr *DecodeError
		require.ErrorAs(t, err, &decodeErr, "input %q", s)
	}

	_, err := DecodeUint64(tooBig)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)

	_, err = DecodeUint64(Permanent)
	require.ErrorAs(t, err, &decodeErr)
}

func TestFromBigRejectsNegative(t *testing.T) {
	_, err := FromBig(big.NewInt(-1))
	require.Error(t, err)
}

func mustBig(t *testing.T, s string) Height {
	t.Helper()

	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok)
	h, err := FromBig(v)
	require.NoError(t, err)

	return h
}
