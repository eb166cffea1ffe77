// Package bits manipulates single bytes using the 1-based bit numbering of ISO/IEC 7816
// (bit 1 is the least significant bit, bit 8 the most significant).
package bits

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

// Mask returns a byte with bits high..low set.
func Mask(high, low uint) byte {
	if high < low || high > 8 || low < 1 {
		return 0
	}
	width := high - low + 1
	return byte((1<<width)-1) << (low - 1)
}

// GetRange extracts the value held in bits high..low, shifted down to bit 1.
// Example: GetRange(0b00001100, 4, 3) returns 3 (0b11)
func GetRange(b byte, high, low uint) byte {
	m := Mask(high, low)
	if m == 0 {
		return 0
	}
	return (b & m) >> (low - 1)
}

// Set returns b with bit n set.
func Set(b byte, n uint) byte {
	return b | Bit(n)
}

// Clear returns b with bit n cleared.
func Clear(b byte, n uint) byte {
	return b &^ Bit(n)
}

// ClearRange returns b with bits high..low cleared.
func ClearRange(b byte, high, low uint) byte {
	return b &^ Mask(high, low)
}
