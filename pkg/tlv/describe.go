package tlv

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"

	"github.com/moov-io/bertlv"
)

var tlvSliceType = reflect.TypeOf([]bertlv.TLV{})

// WriteStructFields writes one line per populated []byte field of s, plus one line per
// packet held in []bertlv.TLV fields. Lines are joined with "\n" and no trailing newline
// is written; a separating newline is added first when sb already has content.
//
// The `fmt` struct tag selects the rendering: "ascii" appends a printable form,
// "int" appends the big-endian decimal value, anything else is plain hex.
func WriteStructFields(sb *strings.Builder, prefix string, s interface{}) {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return
	}

	typ := val.Type()
	var lines []string

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		sf := typ.Field(i)

		switch {
		case isByteSlice(field):
			if field.Len() == 0 {
				continue
			}
			name := sf.Name
			if tag := sf.Tag.Get("tlv"); tag != "" {
				name = fmt.Sprintf("%s (%s)", name, tag)
			}
			lines = append(lines, fmt.Sprintf("    - %s.%s: %s", prefix, name, formatBytes(field.Bytes(), sf.Tag.Get("fmt"))))

		case field.Type() == tlvSliceType:
			for _, p := range field.Interface().([]bertlv.TLV) {
				lines = append(lines, fmt.Sprintf("    - %s.Unknown Tag %s: %s", prefix, p.Tag, strings.ToUpper(hex.EncodeToString(p.Value))))
			}
		}
	}

	if len(lines) == 0 {
		return
	}
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString(strings.Join(lines, "\n"))
}

func formatBytes(data []byte, format string) string {
	switch format {
	case "ascii":
		return fmt.Sprintf("%X (%q)", data, MakeSafeASCII(data))
	case "int":
		var n int
		for _, b := range data {
			n = n<<8 | int(b)
		}
		return fmt.Sprintf("%X (Dec: %d)", data, n)
	default:
		return strings.ToUpper(hex.EncodeToString(data))
	}
}

// MakeSafeASCII replaces every non-printable byte with '.'.
func MakeSafeASCII(data []byte) string {
	return strings.Map(func(r rune) rune {
		if r >= 32 && r <= 126 {
			return r
		}
		return '.'
	}, string(data))
}
