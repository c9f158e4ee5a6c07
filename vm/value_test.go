package vm

import (
	"fmt"
	"testing"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	if !cond {
		t.Fatalf(fmt.Sprintf("%v %s", cond, format), args...)
	}
}

func TestImmediateRoundTrip(t *testing.T) {
	values := []Immediate{
		None(), U8(7), I8(-7), U16(1000), I16(-1000),
		U32(1 << 20), I32(-(1 << 20)), U64(1 << 40), I64(-(1 << 40)),
		F32(3.5), F64(-2.25),
	}
	for _, v := range values {
		enc := v.Encode()
		got, n, err := DecodeImmediate(enc, 0)
		assert(t, err == nil, "decode failed for %v: %s", v, err)
		assert(t, n == len(enc), "decode consumed %d bytes, want %d", n, len(enc))
		eq := got.Kind == v.Kind && got.bits == v.bits
		assert(t, eq, "round trip mismatch: got %v want %v", got, v)
	}
}

func TestDecodeUnknownTagYieldsNoneZeroPayload(t *testing.T) {
	got, n, err := DecodeImmediate([]byte{0xAA, 0x01, 0x02}, 0)
	assert(t, err == nil, "unexpected error: %s", err)
	assert(t, n == 1, "unknown tag should consume exactly 1 byte, got %d", n)
	assert(t, got.Kind == KindNone, "unknown tag should decode to None, got %v", got.Kind)
}

func TestArithmeticSameVariant(t *testing.T) {
	sum, err := Add(I32(2), I32(3))
	assert(t, err == nil, "add failed: %s", err)
	assert(t, sum.AsI32() == 5, "2+3 should be 5, got %d", sum.AsI32())

	_, err = Add(I32(2), U32(3))
	assert(t, err == errKindMismatch, "mixed-variant add should report a kind mismatch")

	_, err = Div(I32(1), I32(0))
	assert(t, err == errDivisionByZero, "div by zero should be reported distinctly")
}

func TestCompareSameVariant(t *testing.T) {
	eq, err := Equal(U8(5), U8(5))
	assert(t, err == nil && eq, "5 == 5 should hold")

	gt, err := Greater(I32(-1), I32(-2))
	assert(t, err == nil && gt, "-1 > -2 should hold for signed comparison")

	gt, err = Greater(U32(1), U32(2))
	assert(t, err == nil && !gt, "1 > 2 should not hold")
}

func TestShiftAndBitwise(t *testing.T) {
	v, err := Shl(U8(1), U8(3))
	assert(t, err == nil && v.AsU8() == 8, "1<<3 should be 8, got %v err=%s", v, err)

	v, err = And(U8(0b1100), U8(0b1010))
	assert(t, err == nil && v.AsU8() == 0b1000, "bitwise and mismatch: got %v", v)
}

func TestSignedShiftRightIsArithmetic(t *testing.T) {
	v, err := Shr(I8(-8), I8(1))
	assert(t, err == nil && v.AsI8() == -4, "-8>>1 should sign-propagate to -4, got %v err=%s", v, err)

	v, err = Shr(I32(-16), I32(2))
	assert(t, err == nil && v.AsI32() == -4, "-16>>2 should sign-propagate to -4, got %v err=%s", v, err)
}
