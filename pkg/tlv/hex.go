package tlv

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// hexSeparators are dropped before decoding so "00 A4:04-00" is accepted.
var hexSeparators = strings.NewReplacer(" ", "", ":", "", "-", "", "\t", "", "\n", "")

// ParseHex decodes a series of hex strings, ignoring separators.
func ParseHex(parts ...string) ([]byte, error) {
	clean := hexSeparators.Replace(strings.Join(parts, ""))

	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", clean, err)
	}
	return data, nil
}

// Hex is ParseHex for literals known to be valid; it panics otherwise.
func Hex(parts ...string) []byte {
	data, err := ParseHex(parts...)
	if err != nil {
		panic(err.Error())
	}
	return data
}
