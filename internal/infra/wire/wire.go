// Package wire provides a schema-less encoder and decoder for the subset of
// the protobuf wire format used by the login and client-token endpoints.
//
// Decoding has no descriptors to work with, so length-delimited values are
// disambiguated with a heuristic: a value whose first byte is a control byte
// (< 0x20) and which parses cleanly is a nested message, anything else is a
// string. Callers know which tags are nested and re-project the result into
// typed structs with Decode, or read it with the Message accessors, both of
// which re-interpret a value whose heuristic guess was wrong.
package wire

import (
	"sort"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/osa030/spotwatch/internal/domain/fault"
)

// Message is a decoded message keyed by field number. Values are uint64
// (varint), Fixed32, Fixed64, string or Message.
type Message map[int]any

// Fixed32 and Fixed64 keep the wire type of fixed-width fields so Encode
// writes them back byte for byte.
type (
	Fixed32 uint32
	Fixed64 uint64
)

// EncodeVarint encodes v as a base-128 varint.
func EncodeVarint(v uint64) []byte {
	return protowire.AppendVarint(nil, v)
}

// DecodeVarint decodes a varint starting at off and returns the value and
// the number of bytes consumed.
func DecodeVarint(b []byte, off int) (uint64, int, error) {
	if off < 0 || off >= len(b) {
		return 0, 0, errors.Mark(errors.Newf("varint offset %d out of range (len %d)", off, len(b)), fault.ErrDecode)
	}
	v, n := protowire.ConsumeVarint(b[off:])
	if n < 0 {
		return 0, 0, errors.Mark(errors.Wrap(protowire.ParseError(n), "failed to decode varint"), fault.ErrDecode)
	}
	return v, n, nil
}

// EncodeStringField encodes a length-delimited string field.
func EncodeStringField(tag int, s string) []byte {
	b := protowire.AppendTag(nil, protowire.Number(tag), protowire.BytesType)
	return protowire.AppendString(b, s)
}

// EncodeNestedField encodes payload as a length-delimited nested message.
func EncodeNestedField(tag int, payload []byte) []byte {
	b := protowire.AppendTag(nil, protowire.Number(tag), protowire.BytesType)
	return protowire.AppendBytes(b, payload)
}

// EncodeVarintField encodes a varint field.
func EncodeVarintField(tag int, v uint64) []byte {
	b := protowire.AppendTag(nil, protowire.Number(tag), protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// ParseMessage decodes b into a Message.
func ParseMessage(b []byte) (Message, error) {
	msg := make(Message)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, decodeErr(protowire.ParseError(n), "failed to decode field key")
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, decodeErr(protowire.ParseError(n), "failed to decode varint field %d", num)
			}
			msg[int(num)] = v
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, decodeErr(protowire.ParseError(n), "failed to decode length-delimited field %d", num)
			}
			msg[int(num)] = parseValue(v)
			b = b[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, decodeErr(protowire.ParseError(n), "failed to decode fixed32 field %d", num)
			}
			msg[int(num)] = Fixed32(v)
			b = b[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, decodeErr(protowire.ParseError(n), "failed to decode fixed64 field %d", num)
			}
			msg[int(num)] = Fixed64(v)
			b = b[n:]
		default:
			return nil, errors.Mark(errors.Newf("unsupported wire type %d for field %d", typ, num), fault.ErrDecode)
		}
	}
	return msg, nil
}

func parseValue(v []byte) any {
	if len(v) > 0 && v[0] < 0x20 {
		if nested, err := ParseMessage(v); err == nil {
			return nested
		}
	}
	return string(v)
}

// Encode re-encodes msg in ascending field order. Values of any type other
// than those ParseMessage produces are skipped.
func Encode(msg Message) []byte {
	tags := make([]int, 0, len(msg))
	for tag := range msg {
		tags = append(tags, tag)
	}
	sort.Ints(tags)

	var out []byte
	for _, tag := range tags {
		switch v := msg[tag].(type) {
		case uint64:
			out = append(out, EncodeVarintField(tag, v)...)
		case Fixed32:
			out = protowire.AppendTag(out, protowire.Number(tag), protowire.Fixed32Type)
			out = protowire.AppendFixed32(out, uint32(v))
		case Fixed64:
			out = protowire.AppendTag(out, protowire.Number(tag), protowire.Fixed64Type)
			out = protowire.AppendFixed64(out, uint64(v))
		case string:
			out = append(out, EncodeStringField(tag, v)...)
		case Message:
			out = append(out, EncodeNestedField(tag, Encode(v))...)
		}
	}
	return out
}

// String returns field tag as a string. A value the heuristic decoded as a
// nested message is re-encoded to its original bytes.
func (m Message) String(tag int) (string, bool) {
	switch v := m[tag].(type) {
	case string:
		return v, true
	case Message:
		s := string(Encode(v))
		return s, utf8.ValidString(s)
	default:
		return "", false
	}
}

// Message returns field tag as a nested message. A value the heuristic
// decoded as a string is parsed again.
func (m Message) Message(tag int) (Message, bool) {
	switch v := m[tag].(type) {
	case Message:
		return v, true
	case string:
		nested, err := ParseMessage([]byte(v))
		if err != nil {
			return nil, false
		}
		return nested, true
	default:
		return nil, false
	}
}

// Uint returns field tag as an unsigned integer, whatever its integer wire type.
func (m Message) Uint(tag int) (uint64, bool) {
	switch v := m[tag].(type) {
	case uint64:
		return v, true
	case Fixed32:
		return uint64(v), true
	case Fixed64:
		return uint64(v), true
	default:
		return 0, false
	}
}

func decodeErr(err error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, format, args...), fault.ErrDecode)
}
