// Package keys defines the secondary key kinds supported by table indexes
// and their byte encodings.
//
// Every kind has two encodings:
//
//   - a canonical form: fixed-width, big-endian, order-preserving, so that
//     bytes.Compare on canonical forms matches the numeric (or IEEE-754
//     total) order of the values. Indexes store canonical forms.
//   - a wire form: fixed-width little-endian, used at serialization
//     boundaries (the SQLite export). Persistence stores canonical forms.
package keys

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/holiman/uint256"
)

// Kind identifies a secondary key type.
type Kind uint8

const (
	KindUint64 Kind = iota
	KindUint128
	KindUint256
	KindFloat64
	KindFloat128
)

// String returns the kind name as it appears in ABI documents.
func (k Kind) String() string {
	switch k {
	case KindUint64:
		return "i64"
	case KindUint128:
		return "i128"
	case KindUint256:
		return "i256"
	case KindFloat64:
		return "float64"
	case KindFloat128:
		return "float128"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind parses an ABI index-kind name.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "i64":
		return KindUint64, nil
	case "i128":
		return KindUint128, nil
	case "i256":
		return KindUint256, nil
	case "float64":
		return KindFloat64, nil
	case "float128":
		return KindFloat128, nil
	default:
		return 0, fmt.Errorf("unknown index kind %q", s)
	}
}

// Size returns the canonical (and wire) width in bytes.
func (k Kind) Size() int {
	switch k {
	case KindUint64, KindFloat64:
		return 8
	case KindUint128, KindFloat128:
		return 16
	case KindUint256:
		return 32
	default:
		return 0
	}
}

// Uint128 is an unsigned 128-bit integer.
type Uint128 struct {
	Hi uint64
	Lo uint64
}

// Cmp compares u and v numerically.
func (u Uint128) Cmp(v Uint128) int {
	switch {
	case u.Hi < v.Hi:
		return -1
	case u.Hi > v.Hi:
		return 1
	case u.Lo < v.Lo:
		return -1
	case u.Lo > v.Lo:
		return 1
	default:
		return 0
	}
}

// Float128 holds the raw bits of an IEEE-754 binary128 value.
// The engine never does float128 arithmetic; it only orders bit patterns.
type Float128 struct {
	Hi uint64 // sign, exponent, top of mantissa
	Lo uint64
}

// IsNaN reports whether f is any NaN bit pattern.
func (f Float128) IsNaN() bool {
	return f.Hi>>48&0x7fff == 0x7fff && (f.Hi&0x0000ffffffffffff != 0 || f.Lo != 0)
}

// canonicalNaN128 is the single NaN representation stored in indexes.
var canonicalNaN128 = Float128{Hi: 0x7fff800000000000, Lo: 0}

// canonicalNaN64 is the single float64 NaN representation stored in indexes.
const canonicalNaN64 = 0x7ff8000000000000

// Codec marshals values of one secondary key kind.
type Codec[K any] struct {
	Kind      Kind
	Marshal   func(K) []byte   // canonical order-preserving form
	Unmarshal func([]byte) K   // inverse of Marshal
	Wire      func(K) []byte   // little-endian wire form
	FromWire  func([]byte) K   // inverse of Wire
}

// Uint64Codec encodes u64 secondary keys.
var Uint64Codec = Codec[uint64]{
	Kind: KindUint64,
	Marshal: func(v uint64) []byte {
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, v)
		return b
	},
	Unmarshal: func(b []byte) uint64 {
		return binary.BigEndian.Uint64(b)
	},
	Wire: func(v uint64) []byte {
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, v)
		return b
	},
	FromWire: func(b []byte) uint64 {
		return binary.LittleEndian.Uint64(b)
	},
}

// Uint128Codec encodes u128 secondary keys.
var Uint128Codec = Codec[Uint128]{
	Kind: KindUint128,
	Marshal: func(v Uint128) []byte {
		b := make([]byte, 16)
		binary.BigEndian.PutUint64(b[:8], v.Hi)
		binary.BigEndian.PutUint64(b[8:], v.Lo)
		return b
	},
	Unmarshal: func(b []byte) Uint128 {
		return Uint128{Hi: binary.BigEndian.Uint64(b[:8]), Lo: binary.BigEndian.Uint64(b[8:])}
	},
	Wire: func(v Uint128) []byte {
		b := make([]byte, 16)
		binary.LittleEndian.PutUint64(b[:8], v.Lo)
		binary.LittleEndian.PutUint64(b[8:], v.Hi)
		return b
	},
	FromWire: func(b []byte) Uint128 {
		return Uint128{Lo: binary.LittleEndian.Uint64(b[:8]), Hi: binary.LittleEndian.Uint64(b[8:])}
	},
}

// Uint256Codec encodes u256 secondary keys.
var Uint256Codec = Codec[*uint256.Int]{
	Kind: KindUint256,
	Marshal: func(v *uint256.Int) []byte {
		b := v.Bytes32()
		return b[:]
	},
	Unmarshal: func(b []byte) *uint256.Int {
		return new(uint256.Int).SetBytes(b)
	},
	Wire: func(v *uint256.Int) []byte {
		b := make([]byte, 32)
		binary.LittleEndian.PutUint64(b[0:8], v[0])
		binary.LittleEndian.PutUint64(b[8:16], v[1])
		binary.LittleEndian.PutUint64(b[16:24], v[2])
		binary.LittleEndian.PutUint64(b[24:32], v[3])
		return b
	},
	FromWire: func(b []byte) *uint256.Int {
		v := new(uint256.Int)
		v[0] = binary.LittleEndian.Uint64(b[0:8])
		v[1] = binary.LittleEndian.Uint64(b[8:16])
		v[2] = binary.LittleEndian.Uint64(b[16:24])
		v[3] = binary.LittleEndian.Uint64(b[24:32])
		return v
	},
}

// Float64Codec encodes f64 secondary keys using IEEE-754 total order.
// Any NaN bit pattern is collapsed to one canonical NaN that sorts after +inf.
var Float64Codec = Codec[float64]{
	Kind: KindFloat64,
	Marshal: func(v float64) []byte {
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, totalOrder64(v))
		return b
	},
	Unmarshal: func(b []byte) float64 {
		return fromTotalOrder64(binary.BigEndian.Uint64(b))
	},
	Wire: func(v float64) []byte {
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, canonicalBits64(v))
		return b
	},
	FromWire: func(b []byte) float64 {
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	},
}

// Float128Codec encodes f128 secondary keys using IEEE-754 total order on
// the raw binary128 bit pattern.
var Float128Codec = Codec[Float128]{
	Kind: KindFloat128,
	Marshal: func(v Float128) []byte {
		hi, lo := totalOrder128(v)
		b := make([]byte, 16)
		binary.BigEndian.PutUint64(b[:8], hi)
		binary.BigEndian.PutUint64(b[8:], lo)
		return b
	},
	Unmarshal: func(b []byte) Float128 {
		return fromTotalOrder128(binary.BigEndian.Uint64(b[:8]), binary.BigEndian.Uint64(b[8:]))
	},
	Wire: func(v Float128) []byte {
		if v.IsNaN() {
			v = canonicalNaN128
		}
		b := make([]byte, 16)
		binary.LittleEndian.PutUint64(b[:8], v.Lo)
		binary.LittleEndian.PutUint64(b[8:], v.Hi)
		return b
	},
	FromWire: func(b []byte) Float128 {
		return Float128{Lo: binary.LittleEndian.Uint64(b[:8]), Hi: binary.LittleEndian.Uint64(b[8:])}
	},
}

// WireFromCanonical converts a canonical index key into its little-endian
// wire form, used at serialization boundaries.
func WireFromCanonical(k Kind, canonical []byte) ([]byte, error) {
	if len(canonical) != k.Size() {
		return nil, fmt.Errorf("canonical %s key has %d bytes, want %d", k, len(canonical), k.Size())
	}
	switch k {
	case KindUint64:
		return Uint64Codec.Wire(Uint64Codec.Unmarshal(canonical)), nil
	case KindUint128:
		return Uint128Codec.Wire(Uint128Codec.Unmarshal(canonical)), nil
	case KindUint256:
		return Uint256Codec.Wire(Uint256Codec.Unmarshal(canonical)), nil
	case KindFloat64:
		return Float64Codec.Wire(Float64Codec.Unmarshal(canonical)), nil
	case KindFloat128:
		return Float128Codec.Wire(Float128Codec.Unmarshal(canonical)), nil
	default:
		return nil, fmt.Errorf("unknown index kind %d", uint8(k))
	}
}

// canonicalBits64 returns v's bits with every NaN collapsed to the canonical one.
func canonicalBits64(v float64) uint64 {
	if math.IsNaN(v) {
		return canonicalNaN64
	}
	return math.Float64bits(v)
}

// totalOrder64 maps float64 bits to a uint64 whose unsigned order is the
// IEEE-754 total order: negatives flip all bits, non-negatives set the sign
// bit. -0.0 sorts before +0.0 and the canonical NaN sorts after +inf.
func totalOrder64(v float64) uint64 {
	u := canonicalBits64(v)
	if u&(1<<63) != 0 {
		return ^u
	}
	return u | 1<<63
}

func fromTotalOrder64(u uint64) float64 {
	if u&(1<<63) != 0 {
		return math.Float64frombits(u &^ (1 << 63))
	}
	return math.Float64frombits(^u)
}

// totalOrder128 is totalOrder64 extended to a 128-bit pattern.
func totalOrder128(v Float128) (hi, lo uint64) {
	if v.IsNaN() {
		v = canonicalNaN128
	}
	if v.Hi&(1<<63) != 0 {
		return ^v.Hi, ^v.Lo
	}
	return v.Hi | 1<<63, v.Lo
}

func fromTotalOrder128(hi, lo uint64) Float128 {
	if hi&(1<<63) != 0 {
		return Float128{Hi: hi &^ (1 << 63), Lo: lo}
	}
	return Float128{Hi: ^hi, Lo: ^lo}
}
