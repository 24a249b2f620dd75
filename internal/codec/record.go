package codec

import "fmt"

// OutsideThreshold returns the size (in bytes) above which a variable
// field is moved out-of-band rather than stored inline: half of the
// page payload.
func OutsideThreshold(pageSize int) int { return pageSize / 2 }

// isVariable reports whether values of t need a per-field out-of-band/
// inline marker byte when composed into a tuple.
func isVariable(t Type) bool {
	return t == TypeString || t == TypeBytes || t == TypeText || t == TypeArray
}

// FieldPlacement is the per-field value handed to EncodeTuple/decoded by
// DecodeTuple for a tuple's variable fields.
type FieldPlacement struct {
	OutOfBand bool  // true: Value is an already-encoded 8-byte OID
	Value     any   // the field value (or 8-byte OID bytes when OutOfBand)
	Null      bool
}

// EncodeTuple composes a null bitmap followed by each field's bytes, in
// field order. Fixed fields are written directly; variable fields carry a
// leading marker byte (0 = inline, 1 = out-of-band OID follows).
func EncodeTuple(fields []FieldDef, placements []FieldPlacement) ([]byte, error) {
	if len(fields) != len(placements) {
		return nil, fmt.Errorf("codec: field/placement count mismatch (%d vs %d)", len(fields), len(placements))
	}
	bmp := NewNullBitmap(len(fields))
	bodies := make([][]byte, len(fields))
	total := len(bmp)

	for i, f := range fields {
		p := placements[i]
		if p.Null {
			bmp.SetNull(i, true)
			continue
		}
		if isVariable(f.Type) {
			if p.OutOfBand {
				oid, ok := p.Value.([]byte)
				if !ok || len(oid) != 8 {
					return nil, fmt.Errorf("codec: field %q out-of-band placement needs 8-byte OID", f.Name)
				}
				body := make([]byte, 1+8)
				body[0] = 1
				copy(body[1:], oid)
				bodies[i] = body
				total += len(body)
				continue
			}
			var sz int
			var err error
			if f.Type == TypeArray {
				elems, ok := p.Value.([]any)
				if !ok {
					return nil, fmt.Errorf("codec: field %q array value has wrong type %T", f.Name, p.Value)
				}
				sz, err = ArchiveSizeArray(f.ElemType, elems)
			} else {
				sz, err = ArchiveSize(f.Type, p.Value)
			}
			if err != nil {
				return nil, fmt.Errorf("codec: field %q: %w", f.Name, err)
			}
			body := make([]byte, 1+sz)
			body[0] = 0
			if f.Type == TypeArray {
				elems := p.Value.([]any)
				if _, err := WriteArray(body[1:], f.ElemType, elems); err != nil {
					return nil, err
				}
			} else if _, err := Write(body[1:], f.Type, p.Value); err != nil {
				return nil, err
			}
			bodies[i] = body
			total += len(body)
			continue
		}
		sz, err := ArchiveSize(f.Type, p.Value)
		if err != nil {
			return nil, fmt.Errorf("codec: field %q: %w", f.Name, err)
		}
		body := make([]byte, sz)
		if _, err := Write(body, f.Type, p.Value); err != nil {
			return nil, err
		}
		bodies[i] = body
		total += len(body)
	}

	out := make([]byte, 0, total)
	out = append(out, bmp...)
	for _, b := range bodies {
		out = append(out, b...)
	}
	return out, nil
}

// DecodeTuple is the inverse of EncodeTuple. For out-of-band fields the
// returned FieldPlacement.Value is the raw 8-byte OID; the caller
// resolves it through internal/oob.
func DecodeTuple(fields []FieldDef, buf []byte) ([]FieldPlacement, error) {
	bmpLen := BitmapSize(len(fields))
	if len(buf) < bmpLen {
		return nil, fmt.Errorf("codec: tuple shorter than null bitmap")
	}
	bmp := NullBitmap(buf[:bmpLen])
	off := bmpLen
	out := make([]FieldPlacement, len(fields))

	for i, f := range fields {
		if bmp.IsNull(i) {
			out[i] = FieldPlacement{Null: true}
			continue
		}
		if isVariable(f.Type) {
			if off >= len(buf) {
				return nil, fmt.Errorf("codec: truncated marker for field %q", f.Name)
			}
			marker := buf[off]
			off++
			if marker == 1 {
				if off+8 > len(buf) {
					return nil, fmt.Errorf("codec: truncated OID for field %q", f.Name)
				}
				oid := append([]byte{}, buf[off:off+8]...)
				off += 8
				out[i] = FieldPlacement{OutOfBand: true, Value: oid}
				continue
			}
			var v any
			var n int
			var err error
			if f.Type == TypeArray {
				v, n, err = ReadArray(buf[off:], f.ElemType)
			} else {
				v, n, err = Read(buf[off:], f.Type)
			}
			if err != nil {
				return nil, fmt.Errorf("codec: field %q: %w", f.Name, err)
			}
			out[i] = FieldPlacement{Value: v}
			off += n
			continue
		}
		v, n, err := Read(buf[off:], f.Type)
		if err != nil {
			return nil, fmt.Errorf("codec: field %q: %w", f.Name, err)
		}
		out[i] = FieldPlacement{Value: v}
		off += n
	}
	return out, nil
}

// CompareKeyTuple is the composite comparator used throughout the B+tree
// engine: lexicographic over key fields under each field's declared
// direction, with NULL treated as greater than every non-null value under
// ascending order. a and b must have one entry per key
// field in fields, with nil meaning SQL NULL.
func CompareKeyTuple(fields []FieldDef, a, b []any) int {
	for i, f := range fields {
		an, bn := a[i] == nil, b[i] == nil
		var c int
		switch {
		case an && bn:
			c = 0
		case an:
			c = 1
		case bn:
			c = -1
		default:
			c = Compare(a[i], b[i], f.Type)
		}
		if f.Direction == Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}
