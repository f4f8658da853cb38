// Package primitive implements the tagged-union value that every
// CrossCloudKit memory-store and database key is built from: exactly one of
// {string, i64, f64, bytes}.
package primitive

import (
	"encoding/base64"
	"math"
	"strconv"

	"github.com/OneOfOne/xxhash"
)

// Kind discriminates the tagged union. The zero Kind is invalid on purpose:
// a zero-value Primitive should never be mistaken for a valid String("").
type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindInteger
	KindDouble
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindDouble:
		return "double"
	case KindBytes:
		return "bytes"
	default:
		return "invalid"
	}
}

// doubleEqTolerance is the absolute tolerance spec §3 mandates for Double
// equality.
const doubleEqTolerance = 1e-7

// Primitive is an immutable value, exactly one of {String, Integer, Double,
// Bytes}. Construct via the String/Integer/Double/Bytes helpers below; the
// zero value is KindInvalid and must not be used as a key or item value.
type Primitive struct {
	kind Kind
	str  string
	i64  int64
	f64  float64
	byts []byte
}

func String(v string) Primitive  { return Primitive{kind: KindString, str: v} }
func Integer(v int64) Primitive  { return Primitive{kind: KindInteger, i64: v} }
func Double(v float64) Primitive { return Primitive{kind: KindDouble, f64: v} }

// Bytes copies its input so the resulting Primitive stays immutable even if
// the caller mutates the slice afterwards.
func Bytes(v []byte) Primitive {
	cp := make([]byte, len(v))
	copy(cp, v)
	return Primitive{kind: KindBytes, byts: cp}
}

func (p Primitive) Kind() Kind   { return p.kind }
func (p Primitive) IsValid() bool { return p.kind != KindInvalid }

func (p Primitive) AsString() (string, bool) {
	if p.kind != KindString {
		return "", false
	}
	return p.str, true
}

func (p Primitive) AsInteger() (int64, bool) {
	if p.kind != KindInteger {
		return 0, false
	}
	return p.i64, true
}

func (p Primitive) AsDouble() (float64, bool) {
	if p.kind != KindDouble {
		return 0, false
	}
	return p.f64, true
}

func (p Primitive) AsBytes() ([]byte, bool) {
	if p.kind != KindBytes {
		return nil, false
	}
	cp := make([]byte, len(p.byts))
	copy(cp, p.byts)
	return cp, true
}

// Equal implements the exhaustive tagged-union equality of spec §3: ordinal
// string comparison, content comparison for Bytes, and absolute-tolerance
// comparison for Double. Values of different Kind are never equal.
func (p Primitive) Equal(other Primitive) bool {
	if p.kind != other.kind {
		return false
	}
	switch p.kind {
	case KindString:
		return p.str == other.str
	case KindInteger:
		return p.i64 == other.i64
	case KindDouble:
		return math.Abs(p.f64-other.f64) <= doubleEqTolerance
	case KindBytes:
		return string(p.byts) == string(other.byts)
	default:
		return false
	}
}

// Less provides the ordinal-by-(kind,value) ordering multi-key lock
// acquisition (spec §4.5, §5) requires to avoid deadlock. Ordering across
// differing Kinds is by Kind value, which is stable and arbitrary but
// consistent for a given process.
func (p Primitive) Less(other Primitive) bool {
	if p.kind != other.kind {
		return p.kind < other.kind
	}
	switch p.kind {
	case KindString:
		return p.str < other.str
	case KindInteger:
		return p.i64 < other.i64
	case KindDouble:
		return p.f64 < other.f64
	case KindBytes:
		return string(p.byts) < string(other.byts)
	default:
		return false
	}
}

// Hash must be consistent with Equal: equal Primitives hash identically.
// Grounded on the teacher's cluster/map.go use of OneOfOne/xxhash for node
// hashing; here it hashes a tagged byte encoding of the value instead.
func (p Primitive) Hash() uint64 {
	h := xxhash.New64()
	h.Write([]byte{byte(p.kind)})
	switch p.kind {
	case KindString:
		h.Write([]byte(p.str))
	case KindInteger:
		var buf [8]byte
		putUint64(buf[:], uint64(p.i64))
		h.Write(buf[:])
	case KindDouble:
		// Round to the same tolerance used by Equal so that two doubles
		// considered equal also hash equal.
		rounded := math.Round(p.f64/doubleEqTolerance) * doubleEqTolerance
		var buf [8]byte
		putUint64(buf[:], math.Float64bits(rounded))
		h.Write(buf[:])
	case KindBytes:
		h.Write(p.byts)
	}
	return h.Sum64()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// ToJSON implements the primitive-to-JSON projection of spec §6: String and
// Double render as their native JSON form, Integer as a JSON integer, Bytes
// as base64. It is used both for key-attribute serialization and whenever a
// backend writes a key's value into an item body.
func (p Primitive) ToJSON() interface{} {
	switch p.kind {
	case KindString:
		return p.str
	case KindInteger:
		return p.i64
	case KindDouble:
		return p.f64
	case KindBytes:
		return base64.StdEncoding.EncodeToString(p.byts)
	default:
		return nil
	}
}

// KeyString renders the Primitive the way a DbKey's value must appear when
// used as a map key or mutex-key component: deterministic, collision-free
// across Kinds.
func (p Primitive) KeyString() string {
	switch p.kind {
	case KindString:
		return "s:" + p.str
	case KindInteger:
		return "i:" + strconv.FormatInt(p.i64, 10)
	case KindDouble:
		return "d:" + strconv.FormatFloat(p.f64, 'g', -1, 64)
	case KindBytes:
		return "b:" + base64.StdEncoding.EncodeToString(p.byts)
	default:
		return "?"
	}
}

func (p Primitive) String() string {
	switch p.kind {
	case KindString:
		return p.str
	case KindInteger:
		return strconv.FormatInt(p.i64, 10)
	case KindDouble:
		return strconv.FormatFloat(p.f64, 'g', -1, 64)
	case KindBytes:
		return base64.StdEncoding.EncodeToString(p.byts)
	default:
		return "<invalid primitive>"
	}
}
