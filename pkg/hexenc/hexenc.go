// Package hexenc encodes signed integers as fixed-width, two's-complement
// hexadecimal strings, which is how the SIYI gimbal cameras represent numeric
// fields on the wire.
package hexenc

import (
	"fmt"
	"strconv"
)

var ErrValueOutOfRange = fmt.Errorf("Value out of range for bit width")

// Encode returns the two's-complement hexadecimal encoding of v, using the
// given number of bits. The result is always nbits/4 digits, zero padded.
// nbits is clamped to 1..64; the wire formats use 8, 16 and 32.
// Examples (nbits = 16):
// 1    -> "0001"
// -1   -> "ffff"
// 4660 -> "1234"
func Encode(v int64, nbits int) string {
	nbits = clampBits(nbits)
	mask := ^uint64(0) >> (64 - uint(nbits))
	return fmt.Sprintf("%0*x", (nbits+3)/4, uint64(v)&mask)
}

// Decode parses a two's-complement hexadecimal string of the given bit width,
// and returns the signed value it represents. nbits is clamped to 1..64.
func Decode(h string, nbits int) (int64, error) {
	nbits = clampBits(nbits)
	v, err := strconv.ParseUint(h, 16, 64)
	if err != nil {
		return 0, err
	}
	if nbits < 64 && v >= uint64(1)<<uint(nbits) {
		return 0, ErrValueOutOfRange
	}
	if nbits < 64 && v&(uint64(1)<<uint(nbits-1)) != 0 {
		// Sign extend
		v |= ^uint64(0) << uint(nbits)
	}
	return int64(v), nil
}

func clampBits(nbits int) int {
	if nbits < 1 {
		return 1
	}
	if nbits > 64 {
		return 64
	}
	return nbits
}
