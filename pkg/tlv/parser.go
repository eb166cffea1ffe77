// Package tlv maps BER-TLV data (Tag-Length-Value) returned by secure elements into
// Go structures using `tlv:"<tag>"` struct tags, and looks tags up by path.
package tlv

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"

	"github.com/moov-io/bertlv"
)

// Unmarshaler allows custom types to implement their own TLV parsing logic.
type Unmarshaler interface {
	UnmarshalTLV(data []byte) error
}

// Unmarshal decodes raw BER-TLV data into target, which must be a non-nil struct pointer.
func Unmarshal(data []byte, target interface{}) error {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return fmt.Errorf("bertlv decode failed: %w", err)
	}
	return UnmarshalFromPackets(packets, target)
}

// UnmarshalFromPackets maps already decoded packets into target.
//
// Fields are matched on the first element of their `tlv` tag (case-insensitive hex).
// A slice field (other than []byte) receives one element per occurrence.
// Packets matching no field land in the field tagged `tlv:",unknown"` or named Unknown.
func UnmarshalFromPackets(packets []bertlv.TLV, target interface{}) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fmt.Errorf("target must be a non-nil pointer")
	}
	v = v.Elem()
	t := v.Type()

	consumed := make([]bool, len(packets))
	unknown := reflect.Value{}

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		sf := t.Field(i)
		tag := sf.Tag.Get("tlv")

		if tag == ",unknown" || sf.Name == "Unknown" {
			unknown = field
			continue
		}
		if tag == "" {
			continue
		}

		want := strings.Split(tag, ",")[0]
		for idx, p := range packets {
			if !strings.EqualFold(p.Tag, want) {
				continue
			}
			if err := assign(p, field); err != nil {
				return fmt.Errorf("tag %s: %w", want, err)
			}
			consumed[idx] = true
		}
	}

	if !unknown.IsValid() || !unknown.CanSet() {
		return nil
	}

	var leftovers []bertlv.TLV
	for idx, p := range packets {
		if !consumed[idx] {
			leftovers = append(leftovers, p)
		}
	}
	if len(leftovers) > 0 {
		unknown.Set(reflect.ValueOf(leftovers))
	}
	return nil
}

// assign stores one packet into a field, appending when the field is a slice of values.
func assign(p bertlv.TLV, field reflect.Value) error {
	if field.Kind() == reflect.Slice && !isByteSlice(field) {
		elem := reflect.New(field.Type().Elem()).Elem()
		if err := decodeValue(p, elem); err != nil {
			return err
		}
		field.Set(reflect.Append(field, elem))
		return nil
	}
	return decodeValue(p, field)
}

func decodeValue(p bertlv.TLV, field reflect.Value) error {
	if field.CanAddr() {
		if u, ok := field.Addr().Interface().(Unmarshaler); ok {
			return u.UnmarshalTLV(rawValue(p))
		}
	}

	switch {
	case isByteSlice(field):
		field.SetBytes(rawValue(p))
	case field.Kind() == reflect.String:
		field.SetString(hex.EncodeToString(p.Value))
	case field.Kind() == reflect.Struct:
		return unmarshalNested(p, field.Addr().Interface())
	case field.Kind() == reflect.Ptr && field.Type().Elem().Kind() == reflect.Struct:
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		return unmarshalNested(p, field.Interface())
	}
	return nil
}

func unmarshalNested(p bertlv.TLV, target interface{}) error {
	if len(p.TLVs) > 0 {
		return UnmarshalFromPackets(p.TLVs, target)
	}
	return Unmarshal(p.Value, target)
}

// rawValue returns the value bytes; constructed packets are re-encoded.
func rawValue(p bertlv.TLV) []byte {
	if len(p.TLVs) > 0 {
		if enc, err := bertlv.Encode(p.TLVs); err == nil {
			return enc
		}
	}
	return p.Value
}

// FindPath walks nested templates along tags (hex strings such as "6F", "84")
// and returns the value of the last one.
func FindPath(data []byte, tags ...string) ([]byte, error) {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return nil, err
	}

	for depth, tag := range tags {
		var found *bertlv.TLV
		for i := range packets {
			if strings.EqualFold(packets[i].Tag, tag) {
				found = &packets[i]
				break
			}
		}
		if found == nil {
			return nil, fmt.Errorf("tag %s not found", strings.Join(tags[:depth+1], "/"))
		}
		if depth == len(tags)-1 {
			return rawValue(*found), nil
		}
		packets = found.TLVs
	}

	return nil, fmt.Errorf("empty tag path")
}

func isByteSlice(v reflect.Value) bool {
	return v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8
}
