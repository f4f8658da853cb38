// Package buntmem is the in-process reference MemoryService backend: a
// tidwall/buntdb instance gives every scope native per-key TTL and ordered
// iteration, while list values are msgp-encoded blobs keyed by scope+list
// name. It exists so the coordination core (mutexcore, dbcore, backup) has
// at least one concrete, testable MemoryService — spec.md §1 excludes
// production provider adapters (Redis, DynamoDB, ...) from this repo's
// scope, not the existence of a reference implementation.
package buntmem

import (
	"fmt"

	"github.com/bkio/crosscloudkit/primitive"
	"github.com/tinylib/msgp/msgp"
)

// encodePrimitives serializes a slice of Primitives into an opaque byte
// string suitable for storage as a single buntdb value: one byte tag per
// element followed by its msgp-encoded payload.
func encodePrimitives(values []primitive.Primitive) []byte {
	b := msgp.AppendArrayHeader(nil, uint32(len(values)))
	for _, v := range values {
		b = encodeOne(b, v)
	}
	return b
}

func encodeOne(b []byte, v primitive.Primitive) []byte {
	b = append(b, byte(v.Kind()))
	switch v.Kind() {
	case primitive.KindString:
		s, _ := v.AsString()
		b = msgp.AppendString(b, s)
	case primitive.KindInteger:
		i, _ := v.AsInteger()
		b = msgp.AppendInt64(b, i)
	case primitive.KindDouble:
		d, _ := v.AsDouble()
		b = msgp.AppendFloat64(b, d)
	case primitive.KindBytes:
		by, _ := v.AsBytes()
		b = msgp.AppendBytes(b, by)
	}
	return b
}

// decodePrimitives is the inverse of encodePrimitives.
func decodePrimitives(b []byte) ([]primitive.Primitive, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, err
	}
	out := make([]primitive.Primitive, 0, n)
	for i := uint32(0); i < n; i++ {
		var v primitive.Primitive
		v, b, err = decodeOne(b)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeOne(b []byte) (primitive.Primitive, []byte, error) {
	if len(b) == 0 {
		return primitive.Primitive{}, nil, fmt.Errorf("buntmem: truncated primitive encoding")
	}
	kind := primitive.Kind(b[0])
	rest := b[1:]
	switch kind {
	case primitive.KindString:
		s, rest, err := msgp.ReadStringBytes(rest)
		return primitive.String(s), rest, err
	case primitive.KindInteger:
		i, rest, err := msgp.ReadInt64Bytes(rest)
		return primitive.Integer(i), rest, err
	case primitive.KindDouble:
		d, rest, err := msgp.ReadFloat64Bytes(rest)
		return primitive.Double(d), rest, err
	case primitive.KindBytes:
		by, rest, err := msgp.ReadBytesBytes(rest, nil)
		return primitive.Bytes(by), rest, err
	default:
		return primitive.Primitive{}, nil, fmt.Errorf("buntmem: unknown primitive tag %d", kind)
	}
}

// encodeSingle/decodeSingle wrap a lone Primitive for the scalar KV path,
// reusing the list codec so there is exactly one encoding scheme in this
// package.
func encodeSingle(v primitive.Primitive) []byte {
	return encodePrimitives([]primitive.Primitive{v})
}

func decodeSingle(b []byte) (primitive.Primitive, error) {
	values, err := decodePrimitives(b)
	if err != nil {
		return primitive.Primitive{}, err
	}
	if len(values) != 1 {
		return primitive.Primitive{}, fmt.Errorf("buntmem: expected 1 value, got %d", len(values))
	}
	return values[0], nil
}
