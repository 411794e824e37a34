package hexenc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	require.Equal(t, "0000", Encode(0, 16))
	require.Equal(t, "0001", Encode(1, 16))
	require.Equal(t, "1234", Encode(4660, 16))
	require.Equal(t, "ffff", Encode(-1, 16))
	require.Equal(t, "8000", Encode(-32768, 16))
	require.Equal(t, "7fff", Encode(32767, 16))
	require.Equal(t, "ff", Encode(-1, 8))
	require.Equal(t, "80", Encode(-128, 8))
	require.Equal(t, "ffffffff", Encode(-1, 32))
}

func TestDecode(t *testing.T) {
	goodDecode := func(expected int64, h string, nbits int) {
		val, err := Decode(h, nbits)
		require.NoError(t, err)
		require.Equal(t, expected, val)
	}

	goodDecode(0, "0000", 16)
	goodDecode(1, "0001", 16)
	goodDecode(4660, "1234", 16)
	goodDecode(-1, "ffff", 16)
	goodDecode(-32768, "8000", 16)
	goodDecode(32767, "7fff", 16)
	goodDecode(-128, "80", 8)

	badDecode := func(h string, nbits int) {
		_, err := Decode(h, nbits)
		require.Error(t, err)
	}

	badDecode("", 16)
	badDecode("zz", 16)
	badDecode("10000", 16)
	badDecode("100", 8)
}

func TestBitWidthBounds(t *testing.T) {
	// Full 64-bit width, where the sign bit is the top bit of the word
	require.Equal(t, "ffffffffffffffff", Encode(-1, 64))
	require.Equal(t, "8000000000000000", Encode(-9223372036854775808, 64))
	v, err := Decode("ffffffffffffffff", 64)
	require.NoError(t, err)
	require.Equal(t, int64(-1), v)
	v, err = Decode("8000000000000000", 64)
	require.NoError(t, err)
	require.Equal(t, int64(-9223372036854775808), v)

	// 63 bits
	require.Equal(t, "7fffffffffffffff", Encode(-1, 63))
	v, err = Decode("7fffffffffffffff", 63)
	require.NoError(t, err)
	require.Equal(t, int64(-1), v)

	// Out of range widths clamp instead of panicking
	require.Equal(t, "1", Encode(5, 0))
	require.Equal(t, "ffffffffffffffff", Encode(-1, 99))
	v, err = Decode("1", -3)
	require.NoError(t, err)
	require.Equal(t, int64(-1), v)
	_, err = Decode("zz", 0)
	require.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	// Every representable 16-bit value survives an encode/decode cycle
	for v := int64(-32768); v <= 32767; v++ {
		decoded, err := Decode(Encode(v, 16), 16)
		require.NoError(t, err)
		require.Equal(t, v, decoded)
	}
	for v := int64(-128); v <= 127; v++ {
		decoded, err := Decode(Encode(v, 8), 8)
		require.NoError(t, err)
		require.Equal(t, v, decoded)
	}
}
