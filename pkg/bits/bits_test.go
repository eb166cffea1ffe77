package bits

import "testing"

func TestBit(t *testing.T) {
	tests := []struct {
		n        uint
		expected byte
	}{
		{1, 0x01}, {7, 0x40}, {8, 0x80},
		{0, 0x00}, {9, 0x00}, // out of range
	}

	for _, tt := range tests {
		if res := Bit(tt.n); res != tt.expected {
			t.Errorf("Bit(%d) = 0x%02X; want 0x%02X", tt.n, res, tt.expected)
		}
	}
}

func TestIsSet(t *testing.T) {
	cla := byte(0x41) // further interindustry, channel 5
	if !IsSet(cla, 7) {
		t.Error("Bit 7 should be set")
	}
	if IsSet(cla, 8) {
		t.Error("Bit 8 should NOT be set")
	}
	if !IsSet(cla, 1) {
		t.Error("Bit 1 should be set")
	}
}

func TestMaskAndRange(t *testing.T) {
	tests := []struct {
		name      string
		input     byte
		high, low uint
		mask      byte
		value     byte
	}{
		{"Channel bits of first interindustry", 0b0000_0011, 2, 1, 0x03, 3},
		{"SM bits", 0b0000_1100, 4, 3, 0x0C, 3},
		{"Channel nibble of further interindustry", 0x4F, 4, 1, 0x0F, 15},
		{"Top two bits", 0b0100_0000, 8, 7, 0xC0, 1},
		{"Full byte", 0xAA, 8, 1, 0xFF, 0xAA},
		{"Inverted range", 0xFF, 1, 4, 0x00, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if m := Mask(tt.high, tt.low); m != tt.mask {
				t.Errorf("Mask(%d, %d) = 0x%02X; want 0x%02X", tt.high, tt.low, m, tt.mask)
			}
			if v := GetRange(tt.input, tt.high, tt.low); v != tt.value {
				t.Errorf("GetRange(0x%02X, %d, %d) = %d; want %d", tt.input, tt.high, tt.low, v, tt.value)
			}
		})
	}
}

func TestSetAndClear(t *testing.T) {
	b := Set(0, 7)
	if b != 0x40 {
		t.Errorf("Set(0, 7) = 0b%08b; want 0b01000000", b)
	}
	if b = Clear(b, 7); b != 0 {
		t.Errorf("Clear(0x40, 7) = 0b%08b; want 0", b)
	}
	if got := ClearRange(0xFF, 4, 1); got != 0xF0 {
		t.Errorf("ClearRange(0xFF, 4, 1) = 0x%02X; want 0xF0", got)
	}
	if got := ClearRange(0x87, 2, 1); got != 0x84 {
		t.Errorf("ClearRange(0x87, 2, 1) = 0x%02X; want 0x84", got)
	}
}
