package query

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/SimonWaldherr/btreeindex/internal/btree"
	"github.com/SimonWaldherr/btreeindex/internal/codec"
	"github.com/SimonWaldherr/btreeindex/internal/errs"
	"github.com/SimonWaldherr/btreeindex/internal/store"
	"github.com/SimonWaldherr/btreeindex/internal/tokenizer"
)

func newTestTree(t *testing.T) *btree.Tree {
	t.Helper()
	dir := t.TempDir()
	nodeStore, err := store.Open(store.PageStoreConfig{Path: filepath.Join(dir, "node.db"), PageSize: 4096})
	if err != nil {
		t.Fatalf("open node store: %v", err)
	}
	valueStore, err := store.Open(store.PageStoreConfig{Path: filepath.Join(dir, "value.db"), PageSize: 4096})
	if err != nil {
		t.Fatalf("open value store: %v", err)
	}
	t.Cleanup(func() {
		valueStore.Close()
		nodeStore.Close()
	})
	schema := codec.Schema{
		Keys:   []codec.FieldDef{{Name: "k", Type: codec.TypeInt64}},
		Values: []codec.FieldDef{{Name: "v", Type: codec.TypeString}},
	}
	tree, err := btree.CreateTree(nodeStore, valueStore, btree.Config{Schema: schema})
	if err != nil {
		t.Fatalf("create tree: %v", err)
	}
	return tree
}

func TestCompileMapsColumnsAndOps(t *testing.T) {
	schema := &codec.Schema{
		Keys: []codec.FieldDef{
			{Name: "a", Type: codec.TypeInt64},
			{Name: "b", Type: codec.TypeString},
		},
	}
	p := Predicate{Conds: []Comparison{
		{Column: "a", Op: EQ, Value: int64(1)},
		{Column: "b", Op: Like, Pattern: "x%"},
	}}
	compiled, err := Compile(schema, nil, p)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(compiled.Conds) != 2 {
		t.Fatalf("conds = %v", compiled.Conds)
	}
	if compiled.Conds[0].Field != 0 || compiled.Conds[0].Op != btree.OpEQ {
		t.Errorf("cond 0 = %+v", compiled.Conds[0])
	}
	if compiled.Conds[1].Field != 1 || compiled.Conds[1].Op != btree.OpLike || compiled.Conds[1].Pattern != "x%" {
		t.Errorf("cond 1 = %+v", compiled.Conds[1])
	}
}

func TestCompileRejectsUnknownColumn(t *testing.T) {
	schema := &codec.Schema{Keys: []codec.FieldDef{{Name: "a", Type: codec.TypeInt64}}}
	_, err := Compile(schema, nil, Predicate{Conds: []Comparison{{Column: "nope", Op: EQ, Value: int64(1)}}})
	if !errs.Is(err, errs.KindBadArgument) {
		t.Fatalf("expected BadArgument, got %v", err)
	}
}

func TestCompileNormalizesTextLiterals(t *testing.T) {
	schema := &codec.Schema{Keys: []codec.FieldDef{{Name: "t", Type: codec.TypeText}}}
	tok := tokenizer.New(tokenizer.DefaultDescriptor())
	compiled, err := Compile(schema, tok, Predicate{Conds: []Comparison{
		{Column: "t", Op: EQ, Value: "HeLLo"},
	}})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if compiled.Conds[0].Value != "hello" {
		t.Errorf("text literal not normalized: %v", compiled.Conds[0].Value)
	}

	liked, err := Compile(schema, tok, Predicate{Conds: []Comparison{
		{Column: "t", Op: Like, Pattern: "AbC%dEf"},
	}})
	if err != nil {
		t.Fatalf("compile like: %v", err)
	}
	if liked.Conds[0].Pattern != "abc%def" {
		t.Errorf("pattern literals not normalized: %q", liked.Conds[0].Pattern)
	}
}

func TestIteratorReadAheadAndPrev(t *testing.T) {
	tree := newTestTree(t)
	for i := int64(0); i < 10; i++ {
		if err := tree.Insert([]any{i}, []any{"x"}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	inner, err := tree.Search(btree.Predicate{}, btree.Forward)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	txn := NewTxn(context.Background())
	it := NewIterator(txn, inner, 2, nil)

	for want := int64(0); want < 6; want++ {
		row, ok, err := it.Next()
		if err != nil || !ok {
			t.Fatalf("next %d: ok=%v err=%v", want, ok, err)
		}
		if row[0] != want {
			t.Fatalf("row = %v, want key %d", row, want)
		}
	}
	// Caller sits on key 5; Prev re-enters key 4 despite the read-ahead
	// queue holding later rows.
	row, ok, err := it.Prev()
	if err != nil || !ok {
		t.Fatalf("prev: ok=%v err=%v", ok, err)
	}
	if row[0] != int64(4) {
		t.Errorf("prev row = %v, want key 4", row)
	}
	// Next resumes forward from there.
	row, ok, err = it.Next()
	if err != nil || !ok {
		t.Fatalf("next after prev: ok=%v err=%v", ok, err)
	}
	if row[0] != int64(5) {
		t.Errorf("resume row = %v, want key 5", row)
	}
}

func TestIteratorExhaustsThenPrev(t *testing.T) {
	tree := newTestTree(t)
	for i := int64(0); i < 3; i++ {
		tree.Insert([]any{i}, []any{"x"})
	}
	inner, err := tree.Search(btree.Predicate{}, btree.Forward)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	it := NewIterator(NewTxn(context.Background()), inner, 2, nil)
	seen := 0
	for {
		_, ok, err := it.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		seen++
	}
	if seen != 3 {
		t.Fatalf("saw %d rows, want 3", seen)
	}
	row, ok, err := it.Prev()
	if err != nil || !ok {
		t.Fatalf("prev after end: ok=%v err=%v", ok, err)
	}
	if row[0] != int64(1) {
		t.Errorf("prev after end = %v, want key 1", row)
	}
}

func TestIteratorProjection(t *testing.T) {
	tree := newTestTree(t)
	tree.Insert([]any{int64(1)}, []any{"hello"})
	inner, _ := tree.Search(btree.Predicate{}, btree.Forward)
	it := NewIterator(NewTxn(context.Background()), inner, 2, []int{1})
	row, ok, err := it.Next()
	if err != nil || !ok {
		t.Fatalf("next: ok=%v err=%v", ok, err)
	}
	if len(row) != 1 || row[0] != "hello" {
		t.Errorf("projected row = %v", row)
	}
}

func TestCancellationStopsIteration(t *testing.T) {
	tree := newTestTree(t)
	for i := int64(0); i < 5; i++ {
		tree.Insert([]any{i}, []any{"x"})
	}
	inner, _ := tree.Search(btree.Predicate{}, btree.Forward)
	ctx, cancel := context.WithCancel(context.Background())
	txn := NewTxn(ctx)
	it := NewIterator(txn, inner, 2, nil)

	if _, ok, err := it.Next(); err != nil || !ok {
		t.Fatalf("first next: ok=%v err=%v", ok, err)
	}
	cancel()
	_, _, err := it.Next()
	if !errs.Is(err, errs.KindCancelled) {
		t.Fatalf("expected Cancelled, got %v", err)
	}
}

func TestAbortStopsIteration(t *testing.T) {
	tree := newTestTree(t)
	tree.Insert([]any{int64(1)}, []any{"x"})
	inner, _ := tree.Search(btree.Predicate{}, btree.Forward)
	txn := NewTxn(context.Background())
	it := NewIterator(txn, inner, 2, nil)
	txn.Abort()
	if _, _, err := it.Next(); !errs.Is(err, errs.KindCancelled) {
		t.Fatalf("expected Cancelled after abort, got %v", err)
	}
}
