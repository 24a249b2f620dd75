// Package fileinfo owns the two opaque blobs carried by the physical
// File Info page (store.FileInfo.Schema / TokenizerDesc): the record
// schema and the tokenizer descriptor. The on-disk form referenced from
// File Info is always the compact binary encoding below; YAML is only a
// human-readable debug/test projection of the same data, for test
// fixtures and the inspection surface, never the wire format itself.
package fileinfo

import (
	"encoding/binary"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/SimonWaldherr/btreeindex/internal/codec"
)

// yamlField/yamlSchema mirror codec.FieldDef/Schema with yaml tags; kept
// separate from codec so that package stays free of a yaml.v3 dependency
// (it is a pure field-encoding library, not a config-format one).
type yamlField struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	Direction string `yaml:"direction,omitempty"`
	Nullable  bool   `yaml:"nullable,omitempty"`
	ElemType  string `yaml:"elem_type,omitempty"`
}

type yamlSchema struct {
	Keys   []yamlField `yaml:"keys"`
	Values []yamlField `yaml:"values"`
}

var typeNames = map[codec.Type]string{
	codec.TypeInt32:   "int32",
	codec.TypeInt64:   "int64",
	codec.TypeFloat64: "float64",
	codec.TypeBool:    "bool",
	codec.TypeString:  "string",
	codec.TypeBytes:   "bytes",
	codec.TypeText:    "text",
	codec.TypeDecimal: "decimal",
	codec.TypeArray:   "array",
}

var namesToType = func() map[string]codec.Type {
	m := make(map[string]codec.Type, len(typeNames))
	for t, s := range typeNames {
		m[s] = t
	}
	return m
}()

func toYAMLField(f codec.FieldDef) yamlField {
	dir := "asc"
	if f.Direction == codec.Desc {
		dir = "desc"
	}
	yf := yamlField{Name: f.Name, Type: typeNames[f.Type], Direction: dir, Nullable: f.Nullable}
	if f.Type == codec.TypeArray {
		yf.ElemType = typeNames[f.ElemType]
	}
	return yf
}

func fromYAMLField(yf yamlField) (codec.FieldDef, error) {
	t, ok := namesToType[yf.Type]
	if !ok {
		return codec.FieldDef{}, fmt.Errorf("fileinfo: unknown field type %q", yf.Type)
	}
	dir := codec.Asc
	if yf.Direction == "desc" {
		dir = codec.Desc
	}
	f := codec.FieldDef{Name: yf.Name, Type: t, Direction: dir, Nullable: yf.Nullable}
	if t == codec.TypeArray {
		et, ok := namesToType[yf.ElemType]
		if !ok {
			return codec.FieldDef{}, fmt.Errorf("fileinfo: unknown array elem type %q", yf.ElemType)
		}
		f.ElemType = et
	}
	return f, nil
}

// MarshalSchemaYAML renders schema as a human-readable YAML document, for
// test fixtures and the InspectYAML inspection output.
func MarshalSchemaYAML(s *codec.Schema) ([]byte, error) {
	ys := yamlSchema{}
	for _, f := range s.Keys {
		ys.Keys = append(ys.Keys, toYAMLField(f))
	}
	for _, f := range s.Values {
		ys.Values = append(ys.Values, toYAMLField(f))
	}
	return yaml.Marshal(&ys)
}

// UnmarshalSchemaYAML parses a YAML schema document, as used by test
// fixtures that declare a file's schema in a readable format before
// CreateFile encodes it to the binary blob.
func UnmarshalSchemaYAML(data []byte) (*codec.Schema, error) {
	var ys yamlSchema
	if err := yaml.Unmarshal(data, &ys); err != nil {
		return nil, fmt.Errorf("fileinfo: parse schema YAML: %w", err)
	}
	s := &codec.Schema{}
	for _, yf := range ys.Keys {
		f, err := fromYAMLField(yf)
		if err != nil {
			return nil, err
		}
		s.Keys = append(s.Keys, f)
	}
	for _, yf := range ys.Values {
		f, err := fromYAMLField(yf)
		if err != nil {
			return nil, err
		}
		s.Values = append(s.Values, f)
	}
	return s, nil
}

// EncodeSchema renders s into the compact binary blob stored in File
// Info: a count-prefixed list of (type, direction, nullable, elemType)
// for key fields, then the same for value fields, each field preceded by
// a uint16 name length and the name bytes.
func EncodeSchema(s *codec.Schema) []byte {
	var buf []byte
	buf = appendFields(buf, s.Keys)
	buf = appendFields(buf, s.Values)
	return buf
}

func appendFields(buf []byte, fields []codec.FieldDef) []byte {
	var cnt [2]byte
	binary.LittleEndian.PutUint16(cnt[:], uint16(len(fields)))
	buf = append(buf, cnt[:]...)
	for _, f := range fields {
		var nl [2]byte
		binary.LittleEndian.PutUint16(nl[:], uint16(len(f.Name)))
		buf = append(buf, nl[:]...)
		buf = append(buf, f.Name...)
		buf = append(buf, byte(f.Type), byte(f.Direction), boolByte(f.Nullable), byte(f.ElemType))
	}
	return buf
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// DecodeSchema is the inverse of EncodeSchema.
func DecodeSchema(buf []byte) (*codec.Schema, error) {
	s := &codec.Schema{}
	off := 0
	var err error
	s.Keys, off, err = readFields(buf, off)
	if err != nil {
		return nil, fmt.Errorf("fileinfo: decode key fields: %w", err)
	}
	s.Values, off, err = readFields(buf, off)
	if err != nil {
		return nil, fmt.Errorf("fileinfo: decode value fields: %w", err)
	}
	_ = off
	return s, nil
}

func readFields(buf []byte, off int) ([]codec.FieldDef, int, error) {
	if off+2 > len(buf) {
		return nil, 0, fmt.Errorf("truncated field count")
	}
	n := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	fields := make([]codec.FieldDef, n)
	for i := 0; i < n; i++ {
		if off+2 > len(buf) {
			return nil, 0, fmt.Errorf("truncated name length at field %d", i)
		}
		nl := int(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
		if off+nl+4 > len(buf) {
			return nil, 0, fmt.Errorf("truncated field %d", i)
		}
		name := string(buf[off : off+nl])
		off += nl
		fields[i] = codec.FieldDef{
			Name:      name,
			Type:      codec.Type(buf[off]),
			Direction: codec.Direction(buf[off+1]),
			Nullable:  buf[off+2] != 0,
			ElemType:  codec.Type(buf[off+3]),
		}
		off += 4
	}
	return fields, off, nil
}
