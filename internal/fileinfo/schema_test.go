package fileinfo

import (
	"testing"

	"github.com/SimonWaldherr/btreeindex/internal/codec"
)

func sampleSchema() *codec.Schema {
	return &codec.Schema{
		Keys: []codec.FieldDef{
			{Name: "id", Type: codec.TypeInt64, Direction: codec.Asc},
			{Name: "name", Type: codec.TypeString, Direction: codec.Desc, Nullable: true},
		},
		Values: []codec.FieldDef{
			{Name: "body", Type: codec.TypeText},
			{Name: "tags", Type: codec.TypeArray, ElemType: codec.TypeString},
		},
	}
}

func TestSchemaBinaryRoundTrip(t *testing.T) {
	s := sampleSchema()
	got, err := DecodeSchema(EncodeSchema(s))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Keys) != 2 || len(got.Values) != 2 {
		t.Fatalf("arity mismatch: %+v", got)
	}
	if got.Keys[1].Name != "name" || got.Keys[1].Direction != codec.Desc || !got.Keys[1].Nullable {
		t.Errorf("key 1 = %+v", got.Keys[1])
	}
	if got.Values[1].Type != codec.TypeArray || got.Values[1].ElemType != codec.TypeString {
		t.Errorf("value 1 = %+v", got.Values[1])
	}
}

func TestSchemaYAMLRoundTrip(t *testing.T) {
	s := sampleSchema()
	doc, err := MarshalSchemaYAML(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalSchemaYAML(doc)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Keys) != 2 || len(got.Values) != 2 {
		t.Fatalf("arity mismatch: %+v", got)
	}
	if got.Keys[0].Name != "id" || got.Keys[0].Type != codec.TypeInt64 {
		t.Errorf("key 0 = %+v", got.Keys[0])
	}
	if got.Values[1].ElemType != codec.TypeString {
		t.Errorf("array elem type lost: %+v", got.Values[1])
	}
}

func TestDecodeSchemaTruncated(t *testing.T) {
	s := sampleSchema()
	blob := EncodeSchema(s)
	if _, err := DecodeSchema(blob[:len(blob)-3]); err == nil {
		t.Fatal("truncated blob should fail")
	}
}
