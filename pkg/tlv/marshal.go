package tlv

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"

	"github.com/moov-io/bertlv"
)

// Marshal is the reverse of Unmarshal: it walks the `tlv:"XX"` tags of a struct and
// produces the BER-TLV encoding, fields in declaration order.
//
// Supported field types:
//   - []byte: one primitive TLV, skipped when empty.
//   - [][]byte: one primitive TLV per element (repeated tag).
//   - string: hex text, the reverse of the Unmarshal string mapping.
//   - struct or *struct: one constructed TLV holding the marshaled fields.
//   - []struct: one constructed TLV per element.
func Marshal(v interface{}) ([]byte, error) {
	packets, err := MarshalToPackets(v)
	if err != nil {
		return nil, err
	}
	return bertlv.Encode(packets)
}

// MarshalToPackets is Marshal without the final byte encoding.
func MarshalToPackets(v interface{}) ([]bertlv.TLV, error) {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil, fmt.Errorf("cannot marshal nil pointer")
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return nil, fmt.Errorf("cannot marshal %s, struct expected", val.Kind())
	}

	typ := val.Type()
	var packets []bertlv.TLV

	for i := 0; i < val.NumField(); i++ {
		tag := fieldTag(typ.Field(i))
		if tag == "" {
			continue
		}
		field := val.Field(i)

		if isByteSlice(field) {
			if field.Len() > 0 {
				packets = append(packets, bertlv.NewTag(tag, field.Bytes()))
			}
			continue
		}

		if field.Kind() == reflect.Slice {
			for j := 0; j < field.Len(); j++ {
				p, ok, err := marshalValue(tag, field.Index(j))
				if err != nil {
					return nil, fmt.Errorf("field %s[%d]: %w", typ.Field(i).Name, j, err)
				}
				if ok {
					packets = append(packets, p)
				}
			}
			continue
		}

		p, ok, err := marshalValue(tag, field)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", typ.Field(i).Name, err)
		}
		if ok {
			packets = append(packets, p)
		}
	}

	return packets, nil
}

func marshalValue(tag string, v reflect.Value) (bertlv.TLV, bool, error) {
	switch {
	case isByteSlice(v):
		return bertlv.NewTag(tag, v.Bytes()), true, nil

	case v.Kind() == reflect.String:
		raw, err := hex.DecodeString(v.String())
		if err != nil {
			return bertlv.TLV{}, false, err
		}
		return bertlv.NewTag(tag, raw), true, nil

	case isStructOrPtrToStruct(v):
		if v.Kind() == reflect.Ptr && v.IsNil() {
			return bertlv.TLV{}, false, nil
		}
		children, err := MarshalToPackets(v.Interface())
		if err != nil {
			return bertlv.TLV{}, false, err
		}
		return bertlv.NewComposite(tag, children...), true, nil
	}

	return bertlv.TLV{}, false, fmt.Errorf("unsupported kind %s for tag %s", v.Kind(), tag)
}

// fieldTag returns the upper-case tag of a field, or "" for untagged and catch-all fields.
func fieldTag(f reflect.StructField) string {
	return strings.ToUpper(strings.Split(f.Tag.Get("tlv"), ",")[0])
}
