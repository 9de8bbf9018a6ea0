// Package bits holds the small bit and byte helpers shared by the APDU and SAM layers.
//
// Bit numbering follows ISO/IEC 7816: bits of a byte are numbered 8 (MSB) to 1 (LSB).
// Multi-byte values (counters, ceilings, masks) are big-endian on 3 bytes.
package bits

import "fmt"

// Uint24Max is the largest value a 3-byte field can carry.
const Uint24Max = 0xFFFFFF

// Bit returns a byte with only the n-th bit set (1 to 8).
func Bit(n uint) byte {
	if n < 1 || n > 8 {
		return 0
	}
	return 1 << (n - 1)
}

// IsSet checks if the n-th bit is set (1 to 8).
func IsSet(b byte, n uint) bool {
	return b&Bit(n) != 0
}

// GetRange extracts the value from a range of bits (e.g., bits 4 to 3).
// Example: GetRange(0b00001100, 4, 3) returns 3 (0b11)
func GetRange(b byte, high, low uint) byte {
	if high < low || high > 8 || low < 1 {
		return 0
	}

	width := high - low + 1
	mask := byte((1 << width) - 1)

	return (b >> (low - 1)) & mask
}

// Set raises bit n.
func Set(b byte, n uint) byte {
	return b | Bit(n)
}

// Uint24 decodes a big-endian 3-byte value. It panics if b is shorter than 3 bytes.
func Uint24(b []byte) uint32 {
	_ = b[2]
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// PutUint24 writes v as a big-endian 3-byte value into b.
func PutUint24(b []byte, v uint32) error {
	if v > Uint24Max {
		return fmt.Errorf("value 0x%X does not fit on 3 bytes", v)
	}
	_ = b[2]
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
	return nil
}

// AppendUint24 appends v as a big-endian 3-byte value. Bits above 24 are dropped.
func AppendUint24(b []byte, v uint32) []byte {
	return append(b, byte(v>>16), byte(v>>8), byte(v))
}

// Mask24 packs flags into a 3-byte mask: flag i lands on bit i counted from the
// least significant bit of the last byte. Flags beyond index 23 are ignored.
func Mask24(flags []bool) []byte {
	var v uint32
	for i, f := range flags {
		if f && i < 24 {
			v |= 1 << uint(i)
		}
	}
	return AppendUint24(nil, v)
}

// Flags24 is the reverse of Mask24 and returns the first n flags of a 3-byte mask.
func Flags24(mask []byte, n int) []bool {
	v := Uint24(mask)
	flags := make([]bool, n)
	for i := 0; i < n && i < 24; i++ {
		flags[i] = v&(1<<uint(i)) != 0
	}
	return flags
}
