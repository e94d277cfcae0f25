package store

import (
	"fmt"
	"github.com/ssau-fiit/livetype-api/typing"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the stored typing record. Every field is optional on
// decode so partial records from other writers still normalize.
const (
	fieldIsTyping       protowire.Number = 1
	fieldText           protowire.Number = 2
	fieldCursorPosition protowire.Number = 3
	fieldSelectionStart protowire.Number = 4
	fieldSelectionEnd   protowire.Number = 5
	fieldTimestamp      protowire.Number = 6
)

// Encode writes s in protobuf wire format. All fields are always present.
func Encode(s typing.TypingState) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldIsTyping, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(s.IsTyping))
	b = protowire.AppendTag(b, fieldText, protowire.BytesType)
	b = protowire.AppendString(b, s.Text)
	b = appendInt(b, fieldCursorPosition, int64(s.CursorPosition))
	b = appendInt(b, fieldSelectionStart, int64(s.SelectionStart))
	b = appendInt(b, fieldSelectionEnd, int64(s.SelectionEnd))
	b = appendInt(b, fieldTimestamp, s.Timestamp)
	return b
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

// Decode reads a record. On malformed input it returns the fields decoded
// so far together with the error.
func Decode(b []byte) (typing.Record, error) {
	var r typing.Record
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, fmt.Errorf("decode typing record: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldText && typ == protowire.BytesType:
			var v string
			v, n = protowire.ConsumeString(b)
			if n >= 0 {
				r.Text = &v
			}
		case typ == protowire.VarintType && num >= fieldIsTyping && num <= fieldTimestamp:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			if n >= 0 {
				setVarint(&r, num, v)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return r, fmt.Errorf("decode typing record field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return r, nil
}

func setVarint(r *typing.Record, num protowire.Number, v uint64) {
	switch num {
	case fieldIsTyping:
		b := protowire.DecodeBool(v)
		r.IsTyping = &b
	case fieldCursorPosition:
		i := int(int64(v))
		r.CursorPosition = &i
	case fieldSelectionStart:
		i := int(int64(v))
		r.SelectionStart = &i
	case fieldSelectionEnd:
		i := int(int64(v))
		r.SelectionEnd = &i
	case fieldTimestamp:
		ts := int64(v)
		r.Timestamp = &ts
	}
}
