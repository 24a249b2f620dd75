// Package codec implements typed field encoding: encode/decode of key
// and value fields to/from area bytes, the per-record null bitmap, and
// the fixed/variable/out-of-band/array dispatch, with a declared
// per-column schema, directional comparison, and out-of-band placement
// decisions.
package codec

import "fmt"

// Type identifies the wire representation and comparison rule of a field.
type Type uint8

const (
	TypeInt32 Type = iota + 1
	TypeInt64
	TypeFloat64
	TypeBool
	TypeString  // variable-length UTF-8, compared byte-lexicographically
	TypeBytes   // variable-length binary
	TypeText    // full-text: indexed via internal/tokenizer, stored like TypeString
	TypeDecimal // exact-arithmetic *big.Rat, see decimal.go
	TypeArray   // homogeneous array of ElemType
)

func (t Type) String() string {
	switch t {
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeFloat64:
		return "float64"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	case TypeBytes:
		return "bytes"
	case TypeText:
		return "text"
	case TypeDecimal:
		return "decimal"
	case TypeArray:
		return "array"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// IsFixed reports whether values of t archive to a constant size.
func (t Type) IsFixed() bool {
	switch t {
	case TypeInt32, TypeInt64, TypeFloat64, TypeBool:
		return true
	default:
		return false
	}
}

// Direction is a key field's declared sort order; each key field carries
// its own direction independent of the others.
type Direction uint8

const (
	Asc Direction = iota
	Desc
)

func (d Direction) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

// FieldDef declares one column of a record's schema.
type FieldDef struct {
	Name      string
	Type      Type
	Direction Direction // meaningful only for key fields
	Nullable  bool
	ElemType  Type // meaningful only when Type == TypeArray
}

// Schema is the ordered list of key fields followed by value fields.
// K (len(Keys)) must be >= 1.
type Schema struct {
	Keys   []FieldDef
	Values []FieldDef
}

func (s *Schema) NumKeys() int   { return len(s.Keys) }
func (s *Schema) NumValues() int { return len(s.Values) }

// FieldAt returns the field definition at a global column index, keys
// first then values.
func (s *Schema) FieldAt(i int) FieldDef {
	if i < len(s.Keys) {
		return s.Keys[i]
	}
	return s.Values[i-len(s.Keys)]
}

func (s *Schema) NumFields() int { return len(s.Keys) + len(s.Values) }
