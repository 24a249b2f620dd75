package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

func putU16(buf []byte, v uint16) { binary.LittleEndian.PutUint16(buf, v) }
func getU16(buf []byte) uint16    { return binary.LittleEndian.Uint16(buf) }
func putU32(buf []byte, v uint32) { binary.LittleEndian.PutUint32(buf, v) }
func getU32(buf []byte) uint32    { return binary.LittleEndian.Uint32(buf) }
func putU64(buf []byte, v uint64) { binary.LittleEndian.PutUint64(buf, v) }
func getU64(buf []byte) uint64    { return binary.LittleEndian.Uint64(buf) }

// ArchiveSize returns the number of bytes v will occupy when written by
// this codec for a field of type t, not counting any out-of-band
// indirection byte the record composer may add.
func ArchiveSize(t Type, v any) (int, error) {
	switch t {
	case TypeInt32:
		return 4, nil
	case TypeInt64:
		return 8, nil
	case TypeFloat64:
		return 8, nil
	case TypeBool:
		return 1, nil
	case TypeString:
		s, err := asString(v)
		if err != nil {
			return 0, err
		}
		return 2 + len(s), nil
	case TypeText:
		s, err := asString(v)
		if err != nil {
			return 0, err
		}
		return 2 + len(s), nil
	case TypeBytes:
		b, err := asBytes(v)
		if err != nil {
			return 0, err
		}
		return 2 + len(b), nil
	case TypeDecimal:
		r, ok := DecimalFromAny(v)
		if !ok {
			return 0, fmt.Errorf("codec: value %v is not decimal-compatible", v)
		}
		return decimalArchiveSize(r), nil
	default:
		return 0, fmt.Errorf("codec: ArchiveSize unsupported for %s (use ArchiveSizeArray)", t)
	}
}

// ArchiveSizeArray returns the archived size of an array field whose
// elements are of elemType.
func ArchiveSizeArray(elemType Type, elems []any) (int, error) {
	total := 2 // element count
	for _, e := range elems {
		if elemType.IsFixed() {
			n, err := ArchiveSize(elemType, e)
			if err != nil {
				return 0, err
			}
			total += n
			continue
		}
		n, err := ArchiveSize(elemType, e)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func asString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	default:
		return "", fmt.Errorf("codec: %T is not string-compatible", v)
	}
}

func asBytes(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	default:
		return nil, fmt.Errorf("codec: %T is not bytes-compatible", v)
	}
}

// Write encodes v into buf for field type t, returning the number of
// bytes consumed. buf must be at least ArchiveSize(t, v) bytes.
func Write(buf []byte, t Type, v any) (int, error) {
	switch t {
	case TypeInt32:
		n, err := asInt64(v)
		if err != nil {
			return 0, err
		}
		putU32(buf, uint32(int32(n)))
		return 4, nil
	case TypeInt64:
		n, err := asInt64(v)
		if err != nil {
			return 0, err
		}
		putU64(buf, uint64(n))
		return 8, nil
	case TypeFloat64:
		f, err := asFloat64(v)
		if err != nil {
			return 0, err
		}
		putU64(buf, math.Float64bits(f))
		return 8, nil
	case TypeBool:
		b, ok := v.(bool)
		if !ok {
			return 0, fmt.Errorf("codec: %T is not bool", v)
		}
		if b {
			buf[0] = 1
		} else {
			buf[0] = 0
		}
		return 1, nil
	case TypeString, TypeText:
		s, err := asString(v)
		if err != nil {
			return 0, err
		}
		putU16(buf, uint16(len(s)))
		copy(buf[2:], s)
		return 2 + len(s), nil
	case TypeBytes:
		b, err := asBytes(v)
		if err != nil {
			return 0, err
		}
		putU16(buf, uint16(len(b)))
		copy(buf[2:], b)
		return 2 + len(b), nil
	case TypeDecimal:
		r, ok := DecimalFromAny(v)
		if !ok {
			return 0, fmt.Errorf("codec: %v is not decimal-compatible", v)
		}
		return writeDecimal(buf, r), nil
	default:
		return 0, fmt.Errorf("codec: Write unsupported for %s", t)
	}
}

// WriteArray encodes an array field whose elements are of elemType.
func WriteArray(buf []byte, elemType Type, elems []any) (int, error) {
	putU16(buf, uint16(len(elems)))
	off := 2
	for _, e := range elems {
		n, err := Write(buf[off:], elemType, e)
		if err != nil {
			return 0, err
		}
		off += n
	}
	return off, nil
}

// Read decodes a value of field type t from buf, returning the value and
// the number of bytes consumed.
func Read(buf []byte, t Type) (any, int, error) {
	switch t {
	case TypeInt32:
		if len(buf) < 4 {
			return nil, 0, fmt.Errorf("codec: truncated int32")
		}
		return int32(getU32(buf)), 4, nil
	case TypeInt64:
		if len(buf) < 8 {
			return nil, 0, fmt.Errorf("codec: truncated int64")
		}
		return int64(getU64(buf)), 8, nil
	case TypeFloat64:
		if len(buf) < 8 {
			return nil, 0, fmt.Errorf("codec: truncated float64")
		}
		return math.Float64frombits(getU64(buf)), 8, nil
	case TypeBool:
		if len(buf) < 1 {
			return nil, 0, fmt.Errorf("codec: truncated bool")
		}
		return buf[0] != 0, 1, nil
	case TypeString, TypeText:
		if len(buf) < 2 {
			return nil, 0, fmt.Errorf("codec: truncated string length")
		}
		n := int(getU16(buf))
		if len(buf) < 2+n {
			return nil, 0, fmt.Errorf("codec: truncated string data")
		}
		return string(buf[2 : 2+n]), 2 + n, nil
	case TypeBytes:
		if len(buf) < 2 {
			return nil, 0, fmt.Errorf("codec: truncated bytes length")
		}
		n := int(getU16(buf))
		if len(buf) < 2+n {
			return nil, 0, fmt.Errorf("codec: truncated bytes data")
		}
		out := make([]byte, n)
		copy(out, buf[2:2+n])
		return out, 2 + n, nil
	case TypeDecimal:
		return readDecimal(buf)
	default:
		return nil, 0, fmt.Errorf("codec: Read unsupported for %s", t)
	}
}

// ReadArray decodes an array field whose elements are of elemType.
func ReadArray(buf []byte, elemType Type) ([]any, int, error) {
	if len(buf) < 2 {
		return nil, 0, fmt.Errorf("codec: truncated array count")
	}
	count := int(getU16(buf))
	off := 2
	elems := make([]any, count)
	for i := 0; i < count; i++ {
		v, n, err := Read(buf[off:], elemType)
		if err != nil {
			return nil, 0, fmt.Errorf("codec: array element %d: %w", i, err)
		}
		elems[i] = v
		off += n
	}
	return elems, off, nil
}

func asInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint32:
		return int64(t), nil
	default:
		return 0, fmt.Errorf("codec: %T is not integer-compatible", v)
	}
}

func asFloat64(v any) (float64, error) {
	switch t := v.(type) {
	case float32:
		return float64(t), nil
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	default:
		return 0, fmt.Errorf("codec: %T is not float-compatible", v)
	}
}

// Compare compares two non-null values of the same type t, ignoring
// direction and nulls (those are composite-level concerns handled by
// internal/btree's key comparator). Returns -1, 0, or +1.
func Compare(a, b any, t Type) int {
	switch t {
	case TypeInt32, TypeInt64:
		ai, _ := asInt64(a)
		bi, _ := asInt64(b)
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	case TypeFloat64:
		af, _ := asFloat64(a)
		bf, _ := asFloat64(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	case TypeBool:
		ab, _ := a.(bool)
		bb, _ := b.(bool)
		if ab == bb {
			return 0
		}
		if !ab && bb {
			return -1
		}
		return 1
	case TypeString, TypeText:
		as, _ := asString(a)
		bs, _ := asString(b)
		return bytes.Compare([]byte(as), []byte(bs))
	case TypeBytes:
		ab, _ := asBytes(a)
		bb, _ := asBytes(b)
		return bytes.Compare(ab, bb)
	case TypeDecimal:
		ar, _ := DecimalFromAny(a)
		br, _ := DecimalFromAny(b)
		return ar.Cmp(br)
	default:
		return 0
	}
}
