package btreeindex

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/SimonWaldherr/btreeindex/internal/codec"
	"github.com/SimonWaldherr/btreeindex/internal/errs"
)

func newTestFile(t *testing.T, schema Schema, unique bool) *File {
	t.Helper()
	f, err := CreateFile(Config{
		Path:     filepath.Join(t.TempDir(), "idx.db"),
		PageSize: 4096,
		Schema:   schema,
		Unique:   unique,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func docSchema() Schema {
	return Schema{
		Keys: []FieldDef{
			{Name: "id", Type: codec.TypeInt64},
		},
		Values: []FieldDef{
			{Name: "title", Type: codec.TypeString},
			{Name: "score", Type: codec.TypeInt64},
		},
	}
}

func TestFileInsertSearchRoundTrip(t *testing.T) {
	f := newTestFile(t, docSchema(), false)
	txn := NewTxn(context.Background())

	for i := int64(0); i < 10; i++ {
		if err := f.Insert(txn, []any{i, "title", i * 10}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if got := f.RecordCount(); got != 10 {
		t.Fatalf("count = %d", got)
	}

	it, err := f.Search(txn, Predicate{Conds: []Comparison{
		{Column: "id", Op: GE, Value: int64(3)},
		{Column: "id", Op: LE, Value: int64(7)},
	}}, Forward, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var ids []int64
	for {
		row, ok, err := it.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		ids = append(ids, row[0].(int64))
	}
	want := []int64{3, 4, 5, 6, 7}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v", ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
	if err := f.CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

func TestFileCount(t *testing.T) {
	f := newTestFile(t, docSchema(), false)
	txn := NewTxn(context.Background())
	for i := int64(0); i < 20; i++ {
		f.Insert(txn, []any{i, "t", int64(0)})
	}
	n, err := f.Count(txn, Predicate{Conds: []Comparison{{Column: "id", Op: LT, Value: int64(5)}}})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 5 {
		t.Errorf("count = %d, want 5", n)
	}
}

func TestFileUpdateAndExpunge(t *testing.T) {
	f := newTestFile(t, docSchema(), false)
	txn := NewTxn(context.Background())
	f.Insert(txn, []any{int64(1), "old", int64(0)})

	if err := f.Update(txn, []any{int64(1)}, map[string]any{"title": "new", "score": int64(9)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	it, _ := f.Fetch(txn, []any{int64(1)}, Forward)
	row, ok, err := it.Next()
	if err != nil || !ok {
		t.Fatalf("fetch: ok=%v err=%v", ok, err)
	}
	if row[1] != "new" || row[2] != int64(9) {
		t.Errorf("row = %v", row)
	}

	if err := f.Update(txn, []any{int64(1)}, map[string]any{"missing": 1}); !errs.Is(err, errs.KindBadArgument) {
		t.Errorf("unknown column: %v", err)
	}

	if err := f.Expunge(txn, []any{int64(1)}); err != nil {
		t.Fatalf("expunge: %v", err)
	}
	if err := f.Expunge(txn, []any{int64(1)}); !errs.Is(err, errs.KindEntryNotFound) {
		t.Errorf("double expunge: %v", err)
	}
	if err := f.ExpungeIfExists(txn, []any{int64(1)}); err != nil {
		t.Errorf("expunge_if_exists should be a no-op: %v", err)
	}
}

func TestFileReadOnlyMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ro.db")
	f, err := CreateFile(Config{Path: path, PageSize: 4096, Schema: docSchema()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	txn := NewTxn(context.Background())
	f.Insert(txn, []any{int64(1), "t", int64(0)})
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ro, err := OpenFile(path, ModeRead)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer ro.Close()
	if err := ro.Insert(txn, []any{int64(2), "t", int64(0)}); !errs.Is(err, errs.KindIllegalFileAccess) {
		t.Errorf("write on read-only file: %v", err)
	}
	it, err := ro.Fetch(txn, []any{int64(1)}, Forward)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, ok, _ := it.Next(); !ok {
		t.Error("persisted record missing after reopen")
	}
}

func TestFilePersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persist.db")
	f, err := CreateFile(Config{Path: path, PageSize: 4096, Schema: docSchema()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	txn := NewTxn(context.Background())
	for i := int64(0); i < 100; i++ {
		if err := f.Insert(txn, []any{i, "t", i}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	instance := f.InstanceID()
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f2, err := OpenFile(path, ModeUpdate)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f2.Close()
	if got := f2.RecordCount(); got != 100 {
		t.Errorf("count after reopen = %d", got)
	}
	if f2.InstanceID() != instance {
		t.Errorf("instance id changed across reopen")
	}
	if err := f2.CheckInvariants(); err != nil {
		t.Errorf("invariants after reopen: %v", err)
	}
	if err := f2.Insert(txn, []any{int64(100), "t", int64(100)}); err != nil {
		t.Errorf("insert after reopen: %v", err)
	}
}

func TestFileTextKeyNormalization(t *testing.T) {
	schema := Schema{
		Keys:   []FieldDef{{Name: "body", Type: codec.TypeText}},
		Values: []FieldDef{{Name: "n", Type: codec.TypeInt64}},
	}
	f := newTestFile(t, schema, false)
	if f.Tokenizer() == nil {
		t.Fatal("text schema should provision a tokenizer")
	}
	txn := NewTxn(context.Background())
	if err := f.Insert(txn, []any{"Hello World", int64(1)}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// Query literals fold the same way the stored key did.
	it, err := f.Search(txn, Predicate{Conds: []Comparison{
		{Column: "body", Op: EQ, Value: "HELLO world"},
	}}, Forward, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	row, ok, err := it.Next()
	if err != nil || !ok {
		t.Fatalf("normalized match missed: ok=%v err=%v", ok, err)
	}
	if row[0] != "hello world" {
		t.Errorf("stored key = %v, want normalized form", row[0])
	}
}

func TestFileLikeOverText(t *testing.T) {
	schema := Schema{
		Keys:   []FieldDef{{Name: "word", Type: codec.TypeText}},
		Values: []FieldDef{{Name: "n", Type: codec.TypeInt64}},
	}
	f := newTestFile(t, schema, false)
	txn := NewTxn(context.Background())
	for i, w := range []string{"Apple", "Apricot", "Banana", "apex"} {
		if err := f.Insert(txn, []any{w, int64(i)}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	it, err := f.Search(txn, Predicate{Conds: []Comparison{
		{Column: "word", Op: Like, Pattern: "Ap%"},
	}}, Forward, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var got []string
	for {
		row, ok, err := it.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, row[0].(string))
	}
	want := []string{"apex", "apple", "apricot"}
	if len(got) != len(want) {
		t.Fatalf("LIKE = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("LIKE = %v, want %v", got, want)
		}
	}
}

func TestInspectYAML(t *testing.T) {
	f := newTestFile(t, docSchema(), false)
	out, err := f.InspectYAML()
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	for _, want := range []string{"record_count: 0", "schema:", "page_size: 4096"} {
		if !strings.Contains(out, want) {
			t.Errorf("inspect output missing %q:\n%s", want, out)
		}
	}
}

func TestMaintenanceSpecValidation(t *testing.T) {
	_, err := CreateFile(Config{
		Path:            filepath.Join(t.TempDir(), "bad.db"),
		PageSize:        4096,
		Schema:          docSchema(),
		MaintenanceSpec: "not a cron spec",
	})
	if !errs.Is(err, errs.KindBadArgument) {
		t.Fatalf("bad cron spec: %v", err)
	}
}
