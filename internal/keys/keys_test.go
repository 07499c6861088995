package keys

import (
	"bytes"
	"math"
	"testing"

	"github.com/holiman/uint256"
)

func TestKindRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindUint64, KindUint128, KindUint256, KindFloat64, KindFloat128} {
		got, err := ParseKind(k.String())
		if err != nil {
			t.Fatalf("ParseKind(%q) error = %v", k.String(), err)
		}
		if got != k {
			t.Errorf("ParseKind(%q) = %v, want %v", k.String(), got, k)
		}
	}
	if _, err := ParseKind("i512"); err == nil {
		t.Error("ParseKind(i512) expected error, got nil")
	}
}

func TestUint64CanonicalOrder(t *testing.T) {
	values := []uint64{0, 1, 255, 256, 1 << 32, math.MaxUint64 - 1, math.MaxUint64}
	for i := 1; i < len(values); i++ {
		a := Uint64Codec.Marshal(values[i-1])
		b := Uint64Codec.Marshal(values[i])
		if bytes.Compare(a, b) >= 0 {
			t.Errorf("canonical(%d) >= canonical(%d)", values[i-1], values[i])
		}
	}
	for _, v := range values {
		if got := Uint64Codec.Unmarshal(Uint64Codec.Marshal(v)); got != v {
			t.Errorf("round trip = %d, want %d", got, v)
		}
		if got := Uint64Codec.FromWire(Uint64Codec.Wire(v)); got != v {
			t.Errorf("wire round trip = %d, want %d", got, v)
		}
	}
}

func TestUint128Order(t *testing.T) {
	values := []Uint128{
		{0, 0}, {0, 1}, {0, math.MaxUint64}, {1, 0}, {1, 1}, {math.MaxUint64, math.MaxUint64},
	}
	for i := 1; i < len(values); i++ {
		if values[i-1].Cmp(values[i]) != -1 {
			t.Errorf("Cmp(%v, %v) != -1", values[i-1], values[i])
		}
		a := Uint128Codec.Marshal(values[i-1])
		b := Uint128Codec.Marshal(values[i])
		if bytes.Compare(a, b) >= 0 {
			t.Errorf("canonical order broken at %v < %v", values[i-1], values[i])
		}
	}
	v := Uint128{Hi: 7, Lo: 9}
	if got := Uint128Codec.Unmarshal(Uint128Codec.Marshal(v)); got != v {
		t.Errorf("round trip = %v, want %v", got, v)
	}
	if got := Uint128Codec.FromWire(Uint128Codec.Wire(v)); got != v {
		t.Errorf("wire round trip = %v, want %v", got, v)
	}
}

func TestUint256Order(t *testing.T) {
	values := []*uint256.Int{
		uint256.NewInt(0),
		uint256.NewInt(1),
		uint256.NewInt(math.MaxUint64),
		new(uint256.Int).Lsh(uint256.NewInt(1), 128),
		new(uint256.Int).Lsh(uint256.NewInt(1), 255),
	}
	for i := 1; i < len(values); i++ {
		a := Uint256Codec.Marshal(values[i-1])
		b := Uint256Codec.Marshal(values[i])
		if bytes.Compare(a, b) >= 0 {
			t.Errorf("canonical order broken at index %d", i)
		}
	}
	v := new(uint256.Int).Lsh(uint256.NewInt(12345), 100)
	if got := Uint256Codec.Unmarshal(Uint256Codec.Marshal(v)); got.Cmp(v) != 0 {
		t.Errorf("round trip = %v, want %v", got, v)
	}
	if got := Uint256Codec.FromWire(Uint256Codec.Wire(v)); got.Cmp(v) != 0 {
		t.Errorf("wire round trip = %v, want %v", got, v)
	}
}

func TestFloat64TotalOrder(t *testing.T) {
	// Expected total order, including the signed-zero split and NaN last.
	values := []float64{
		math.Inf(-1), -1.5, math.Copysign(0, -1), 0, 1.0, 1.5, math.Inf(1), math.NaN(),
	}
	for i := 1; i < len(values); i++ {
		a := Float64Codec.Marshal(values[i-1])
		b := Float64Codec.Marshal(values[i])
		if bytes.Compare(a, b) >= 0 {
			t.Errorf("canonical(%v) >= canonical(%v)", values[i-1], values[i])
		}
	}
}

func TestFloat64NaNCanonical(t *testing.T) {
	// Two different NaN bit patterns must collapse to the same canonical form.
	nan1 := math.NaN()
	nan2 := math.Float64frombits(math.Float64bits(math.NaN()) | 1)
	a := Float64Codec.Marshal(nan1)
	b := Float64Codec.Marshal(nan2)
	if !bytes.Equal(a, b) {
		t.Errorf("NaN canonical forms differ: %x vs %x", a, b)
	}
	got := Float64Codec.Unmarshal(a)
	if !math.IsNaN(got) {
		t.Errorf("Unmarshal(canonical NaN) = %v, want NaN", got)
	}
}

func TestFloat64RoundTrip(t *testing.T) {
	values := []float64{math.Inf(-1), -123.456, math.Copysign(0, -1), 0, 0.25, math.MaxFloat64, math.Inf(1)}
	for _, v := range values {
		got := Float64Codec.Unmarshal(Float64Codec.Marshal(v))
		if got != v {
			t.Errorf("round trip = %v, want %v", got, v)
		}
		if math.Signbit(got) != math.Signbit(v) {
			t.Errorf("round trip sign flipped for %v", v)
		}
	}
}

func TestFloat128Order(t *testing.T) {
	negInf := Float128{Hi: 0xffff000000000000}
	negOne := Float128{Hi: 0xbfff000000000000}
	negZero := Float128{Hi: 0x8000000000000000}
	posZero := Float128{}
	one := Float128{Hi: 0x3fff000000000000}
	posInf := Float128{Hi: 0x7fff000000000000}
	nan := Float128{Hi: 0x7fff000000000000, Lo: 1}

	values := []Float128{negInf, negOne, negZero, posZero, one, posInf, nan}
	for i := 1; i < len(values); i++ {
		a := Float128Codec.Marshal(values[i-1])
		b := Float128Codec.Marshal(values[i])
		if bytes.Compare(a, b) >= 0 {
			t.Errorf("canonical order broken at index %d", i)
		}
	}

	if !nan.IsNaN() {
		t.Error("IsNaN() = false for NaN pattern")
	}
	if posInf.IsNaN() {
		t.Error("IsNaN() = true for +inf")
	}

	// All NaN patterns collapse to one canonical form that round-trips as NaN.
	nan2 := Float128{Hi: 0xffff000000000000, Lo: 42}
	if !bytes.Equal(Float128Codec.Marshal(nan), Float128Codec.Marshal(nan2)) {
		t.Error("NaN canonical forms differ")
	}
	if got := Float128Codec.Unmarshal(Float128Codec.Marshal(nan)); !got.IsNaN() {
		t.Errorf("Unmarshal(canonical NaN) = %v, want NaN", got)
	}

	if got := Float128Codec.Unmarshal(Float128Codec.Marshal(negOne)); got != negOne {
		t.Errorf("round trip = %v, want %v", got, negOne)
	}
	if got := Float128Codec.FromWire(Float128Codec.Wire(one)); got != one {
		t.Errorf("wire round trip = %v, want %v", got, one)
	}
}

func TestKindSize(t *testing.T) {
	sizes := map[Kind]int{
		KindUint64:   8,
		KindUint128:  16,
		KindUint256:  32,
		KindFloat64:  8,
		KindFloat128: 16,
	}
	for k, want := range sizes {
		if got := k.Size(); got != want {
			t.Errorf("%v.Size() = %d, want %d", k, got, want)
		}
		if got := len(marshalZero(k)); got != want {
			t.Errorf("len(canonical zero %v) = %d, want %d", k, got, want)
		}
	}
}

func marshalZero(k Kind) []byte {
	switch k {
	case KindUint64:
		return Uint64Codec.Marshal(0)
	case KindUint128:
		return Uint128Codec.Marshal(Uint128{})
	case KindUint256:
		return Uint256Codec.Marshal(uint256.NewInt(0))
	case KindFloat64:
		return Float64Codec.Marshal(0)
	case KindFloat128:
		return Float128Codec.Marshal(Float128{})
	default:
		return nil
	}
}
