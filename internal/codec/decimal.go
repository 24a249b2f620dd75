package codec

import (
	"fmt"
	"math/big"
)

// Decimal is the exact-arithmetic field type backing TypeDecimal. The
// archived wire form is a sign byte (1 for negative), then the magnitude
// of the rational's numerator and then its denominator, each an unsigned
// big-endian byte string with a little-endian uint16 length prefix.

// DecimalFromAny coerces a value to *big.Rat, used when a caller hands
// Insert a native Go number
// or numeric string for a TypeDecimal field.
func DecimalFromAny(v any) (*big.Rat, bool) {
	switch t := v.(type) {
	case *big.Rat:
		return t, true
	case big.Rat:
		return &t, true
	case string:
		r := new(big.Rat)
		if _, ok := r.SetString(t); ok {
			return r, true
		}
		return nil, false
	case int:
		return new(big.Rat).SetInt64(int64(t)), true
	case int64:
		return new(big.Rat).SetInt64(t), true
	case float64:
		return new(big.Rat).SetFloat64(t), true
	default:
		return nil, false
	}
}

func decimalArchiveSize(r *big.Rat) int {
	num := r.Num().Bytes()
	den := r.Denom().Bytes()
	neg := r.Sign() < 0
	_ = neg
	return 1 /*sign*/ + 2 + len(num) + 2 + len(den)
}

func writeDecimal(buf []byte, r *big.Rat) int {
	off := 0
	if r.Sign() < 0 {
		buf[off] = 1
	} else {
		buf[off] = 0
	}
	off++
	num := new(big.Int).Abs(r.Num()).Bytes()
	putU16(buf[off:], uint16(len(num)))
	off += 2
	off += copy(buf[off:], num)
	den := r.Denom().Bytes()
	putU16(buf[off:], uint16(len(den)))
	off += 2
	off += copy(buf[off:], den)
	return off
}

func readDecimal(buf []byte) (*big.Rat, int, error) {
	if len(buf) < 1 {
		return nil, 0, fmt.Errorf("decimal: truncated sign byte")
	}
	neg := buf[0] != 0
	off := 1
	if off+2 > len(buf) {
		return nil, 0, fmt.Errorf("decimal: truncated numerator length")
	}
	numLen := int(getU16(buf[off:]))
	off += 2
	if off+numLen > len(buf) {
		return nil, 0, fmt.Errorf("decimal: truncated numerator")
	}
	num := new(big.Int).SetBytes(buf[off : off+numLen])
	off += numLen
	if off+2 > len(buf) {
		return nil, 0, fmt.Errorf("decimal: truncated denominator length")
	}
	denLen := int(getU16(buf[off:]))
	off += 2
	if off+denLen > len(buf) {
		return nil, 0, fmt.Errorf("decimal: truncated denominator")
	}
	den := new(big.Int).SetBytes(buf[off : off+denLen])
	off += denLen
	if den.Sign() == 0 {
		den.SetInt64(1)
	}
	if neg {
		num.Neg(num)
	}
	r := new(big.Rat).SetFrac(num, den)
	return r, off, nil
}

// DecimalToString returns a plain decimal string.
func DecimalToString(r *big.Rat) string {
	if r == nil {
		return ""
	}
	return r.RatString()
}
