package btree

import (
	"bytes"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/SimonWaldherr/btreeindex/internal/codec"
	"github.com/SimonWaldherr/btreeindex/internal/errs"
	"github.com/SimonWaldherr/btreeindex/internal/store"
)

func newTestTree(t *testing.T, schema codec.Schema, unique bool) *Tree {
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
	tree, err := CreateTree(nodeStore, valueStore, Config{Schema: schema, Unique: unique})
	if err != nil {
		t.Fatalf("create tree: %v", err)
	}
	return tree
}

func intKeySchema() codec.Schema {
	return codec.Schema{
		Keys:   []codec.FieldDef{{Name: "k", Type: codec.TypeInt64}},
		Values: []codec.FieldDef{{Name: "v", Type: codec.TypeString}},
	}
}

func collectKeys(t *testing.T, it *Iterator) []int64 {
	t.Helper()
	var out []int64
	for {
		_, ok, err := it.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			return out
		}
		out = append(out, it.Key()[0].(int64))
	}
}

func TestInsertAndRangeScan(t *testing.T) {
	tree := newTestTree(t, intKeySchema(), false)
	for i := int64(0); i < 10; i++ {
		if err := tree.Insert([]any{i}, []any{fmt.Sprintf("v%d", i)}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	span := Predicate{Conds: []Cond{
		{Field: 0, Op: OpGE, Value: int64(3)},
		{Field: 0, Op: OpLE, Value: int64(7)},
	}}

	it, err := tree.Search(span, Forward)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	got := collectKeys(t, it)
	want := []int64{3, 4, 5, 6, 7}
	if len(got) != len(want) {
		t.Fatalf("forward span = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("forward span = %v, want %v", got, want)
		}
	}

	rit, err := tree.Search(span, Reverse)
	if err != nil {
		t.Fatalf("reverse search: %v", err)
	}
	rgot := collectKeys(t, rit)
	for i := range want {
		if rgot[i] != want[len(want)-1-i] {
			t.Fatalf("reverse span = %v", rgot)
		}
	}
}

func TestSingleFieldShapes(t *testing.T) {
	tree := newTestTree(t, intKeySchema(), false)
	for i := int64(0); i < 20; i++ {
		if err := tree.Insert([]any{i}, []any{"x"}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	cases := []struct {
		name string
		pred Predicate
		want []int64
	}{
		{"equals", Predicate{Conds: []Cond{{Field: 0, Op: OpEQ, Value: int64(5)}}}, []int64{5}},
		{"less", Predicate{Conds: []Cond{{Field: 0, Op: OpLT, Value: int64(3)}}}, []int64{0, 1, 2}},
		{"less equal", Predicate{Conds: []Cond{{Field: 0, Op: OpLE, Value: int64(2)}}}, []int64{0, 1, 2}},
		{"greater", Predicate{Conds: []Cond{{Field: 0, Op: OpGT, Value: int64(17)}}}, []int64{18, 19}},
		{"greater equal", Predicate{Conds: []Cond{{Field: 0, Op: OpGE, Value: int64(18)}}}, []int64{18, 19}},
		{"equals missing", Predicate{Conds: []Cond{{Field: 0, Op: OpEQ, Value: int64(99)}}}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			it, err := tree.Search(tc.pred, Forward)
			if err != nil {
				t.Fatalf("search: %v", err)
			}
			got := collectKeys(t, it)
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestRandomInsertDeleteInvariants(t *testing.T) {
	tree := newTestTree(t, intKeySchema(), false)
	const n = 1500
	rng := rand.New(rand.NewSource(1))
	keys := rng.Perm(n)

	for i, k := range keys {
		if err := tree.Insert([]any{int64(k)}, []any{fmt.Sprintf("v%d", k)}); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
		if i%250 == 249 {
			if err := tree.CheckInvariants(); err != nil {
				t.Fatalf("invariants after %d inserts: %v", i+1, err)
			}
		}
	}
	if err := tree.CheckInvariants(); err != nil {
		t.Fatalf("invariants after load: %v", err)
	}

	deleted := 0
	for i, k := range keys {
		if k%3 != 0 {
			continue
		}
		if err := tree.Expunge([]any{int64(k)}); err != nil {
			t.Fatalf("expunge %d: %v", k, err)
		}
		deleted++
		if i%250 == 249 {
			if err := tree.CheckInvariants(); err != nil {
				t.Fatalf("invariants mid-delete: %v", err)
			}
		}
	}
	if err := tree.CheckInvariants(); err != nil {
		t.Fatalf("invariants after deletes: %v", err)
	}
	if got, want := tree.RecordCount(), uint64(n-deleted); got != want {
		t.Errorf("record count = %d, want %d", got, want)
	}

	// Every surviving key scans back in order.
	it, err := tree.Search(Predicate{}, Forward)
	if err != nil {
		t.Fatalf("full scan: %v", err)
	}
	got := collectKeys(t, it)
	if len(got) != n-deleted {
		t.Fatalf("scan returned %d keys, want %d", len(got), n-deleted)
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Fatalf("scan out of order at %d: %d >= %d", i, got[i-1], got[i])
		}
	}
}

func TestCompositeKeyDirections(t *testing.T) {
	schema := codec.Schema{
		Keys: []codec.FieldDef{
			{Name: "n", Type: codec.TypeInt64, Direction: codec.Asc},
			{Name: "s", Type: codec.TypeString, Direction: codec.Desc},
		},
		Values: []codec.FieldDef{{Name: "v", Type: codec.TypeInt64}},
	}
	tree := newTestTree(t, schema, false)
	if tree.KeyMode() != KeyModeIndirect {
		t.Fatalf("string key should force indirect mode")
	}
	records := [][]any{
		{int64(1), "b"},
		{int64(1), "a"},
		{int64(2), "a"},
	}
	for i, r := range records {
		if err := tree.Insert(r, []any{int64(i)}); err != nil {
			t.Fatalf("insert %v: %v", r, err)
		}
	}

	it, err := tree.Search(Predicate{}, Forward)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var got [][]any
	for {
		_, ok, err := it.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, it.Key())
	}
	want := [][]any{{int64(1), "b"}, {int64(1), "a"}, {int64(2), "a"}}
	if len(got) != len(want) {
		t.Fatalf("scan = %v", got)
	}
	for i := range want {
		if got[i][0] != want[i][0] || got[i][1] != want[i][1] {
			t.Fatalf("slot %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDuplicatesIterateInInsertionOrder(t *testing.T) {
	tree := newTestTree(t, intKeySchema(), false)
	for i := 0; i < 5; i++ {
		if err := tree.Insert([]any{int64(7)}, []any{fmt.Sprintf("dup%d", i)}); err != nil {
			t.Fatalf("insert dup %d: %v", i, err)
		}
	}
	tree.Insert([]any{int64(3)}, []any{"before"})
	tree.Insert([]any{int64(9)}, []any{"after"})

	it, err := tree.Search(Predicate{Conds: []Cond{{Field: 0, Op: OpEQ, Value: int64(7)}}}, Forward)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var vals []string
	for {
		_, ok, err := it.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		rec, err := it.Record()
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		vals = append(vals, rec[1].(string))
	}
	if len(vals) != 5 {
		t.Fatalf("duplicate run = %v", vals)
	}
	for i, v := range vals {
		if v != fmt.Sprintf("dup%d", i) {
			t.Fatalf("insertion order broken: %v", vals)
		}
	}
}

func TestUniqueRejectsDuplicate(t *testing.T) {
	tree := newTestTree(t, intKeySchema(), true)
	if err := tree.Insert([]any{int64(1)}, []any{"a"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := tree.Insert([]any{int64(1)}, []any{"b"})
	if !errs.Is(err, errs.KindDuplicate) {
		t.Fatalf("expected Duplicate, got %v", err)
	}
}

func TestLikePrefix(t *testing.T) {
	schema := codec.Schema{
		Keys:   []codec.FieldDef{{Name: "s", Type: codec.TypeString}},
		Values: []codec.FieldDef{{Name: "v", Type: codec.TypeInt64}},
	}
	tree := newTestTree(t, schema, false)
	words := []string{"abc", "abcde", "abd", "abcz", "xyz", "ab", "abca", "zzz", "aaa"}
	for i, w := range words {
		if err := tree.Insert([]any{w}, []any{int64(i)}); err != nil {
			t.Fatalf("insert %q: %v", w, err)
		}
	}
	like := Predicate{Conds: []Cond{{Field: 0, Op: OpLike, Pattern: "abc%"}}}

	it, err := tree.Search(like, Forward)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var got []string
	for {
		_, ok, err := it.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, it.Key()[0].(string))
	}
	want := []string{"abc", "abca", "abcde", "abcz"}
	if len(got) != len(want) {
		t.Fatalf("LIKE forward = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("LIKE forward = %v, want %v", got, want)
		}
	}

	rit, err := tree.Search(like, Reverse)
	if err != nil {
		t.Fatalf("reverse search: %v", err)
	}
	var rgot []string
	for {
		_, ok, err := rit.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		rgot = append(rgot, rit.Key()[0].(string))
	}
	for i := range want {
		if rgot[i] != want[len(want)-1-i] {
			t.Fatalf("LIKE reverse = %v", rgot)
		}
	}
}

func TestLikeWithUnderscore(t *testing.T) {
	schema := codec.Schema{
		Keys:   []codec.FieldDef{{Name: "s", Type: codec.TypeString}},
		Values: []codec.FieldDef{{Name: "v", Type: codec.TypeInt64}},
	}
	tree := newTestTree(t, schema, false)
	for i, w := range []string{"cat", "car", "cart", "dog"} {
		tree.Insert([]any{w}, []any{int64(i)})
	}
	it, err := tree.Search(Predicate{Conds: []Cond{{Field: 0, Op: OpLike, Pattern: "ca_"}}}, Forward)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var got []string
	for {
		_, ok, err := it.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, it.Key()[0].(string))
	}
	if len(got) != 2 || got[0] != "car" || got[1] != "cat" {
		t.Fatalf("ca_ = %v, want [car cat]", got)
	}
}

func TestIsNullPredicate(t *testing.T) {
	schema := codec.Schema{
		Keys:   []codec.FieldDef{{Name: "k", Type: codec.TypeInt64, Nullable: true}},
		Values: []codec.FieldDef{{Name: "v", Type: codec.TypeString}},
	}
	tree := newTestTree(t, schema, false)
	tree.Insert([]any{int64(1)}, []any{"one"})
	tree.Insert([]any{nil}, []any{"null-a"})
	tree.Insert([]any{int64(2)}, []any{"two"})
	tree.Insert([]any{nil}, []any{"null-b"})

	it, err := tree.Search(Predicate{Conds: []Cond{{Field: 0, Op: OpIsNull}}}, Forward)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	count := 0
	for {
		_, ok, err := it.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		if it.Key()[0] != nil {
			t.Fatalf("non-null key in is-null scan: %v", it.Key())
		}
		count++
	}
	if count != 2 {
		t.Errorf("is-null matched %d records, want 2", count)
	}

	// NULL sorts greater than every non-null under ascending order, so a
	// full forward scan ends with the nulls.
	full, err := tree.Search(Predicate{}, Forward)
	if err != nil {
		t.Fatalf("full scan: %v", err)
	}
	var keys []any
	for {
		_, ok, err := full.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		keys = append(keys, full.Key()[0])
	}
	if len(keys) != 4 || keys[0] != int64(1) || keys[1] != int64(2) || keys[2] != nil || keys[3] != nil {
		t.Errorf("null ordering wrong: %v", keys)
	}
}

func TestCompoundPredicateWithGapField(t *testing.T) {
	schema := codec.Schema{
		Keys: []codec.FieldDef{
			{Name: "a", Type: codec.TypeInt64},
			{Name: "b", Type: codec.TypeInt64},
			{Name: "c", Type: codec.TypeInt64},
		},
		Values: []codec.FieldDef{{Name: "v", Type: codec.TypeInt64}},
	}
	tree := newTestTree(t, schema, false)
	id := int64(0)
	for a := int64(0); a < 3; a++ {
		for b := int64(0); b < 3; b++ {
			for c := int64(0); c < 3; c++ {
				tree.Insert([]any{a, b, c}, []any{id})
				id++
			}
		}
	}
	// a = 1 restricted, b unrestricted (gap), c = 2 filtered locally.
	pred := Predicate{Conds: []Cond{
		{Field: 0, Op: OpEQ, Value: int64(1)},
		{Field: 2, Op: OpEQ, Value: int64(2)},
	}}
	it, err := tree.Search(pred, Forward)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var got [][]any
	for {
		_, ok, err := it.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, it.Key())
	}
	if len(got) != 3 {
		t.Fatalf("gap predicate matched %d, want 3: %v", len(got), got)
	}
	for i, k := range got {
		if k[0] != int64(1) || k[1] != int64(i) || k[2] != int64(2) {
			t.Fatalf("gap result %d = %v", i, k)
		}
	}
}

func TestFetchByPrefix(t *testing.T) {
	schema := codec.Schema{
		Keys: []codec.FieldDef{
			{Name: "a", Type: codec.TypeInt64},
			{Name: "b", Type: codec.TypeInt64},
		},
		Values: []codec.FieldDef{{Name: "v", Type: codec.TypeInt64}},
	}
	tree := newTestTree(t, schema, false)
	for a := int64(0); a < 4; a++ {
		for b := int64(0); b < 4; b++ {
			tree.Insert([]any{a, b}, []any{a*10 + b})
		}
	}
	it, err := tree.Fetch([]any{int64(2)}, Forward)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	count := 0
	for {
		_, ok, err := it.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		if it.Key()[0] != int64(2) {
			t.Fatalf("fetch leaked key %v", it.Key())
		}
		count++
	}
	if count != 4 {
		t.Errorf("fetch matched %d, want 4", count)
	}
}

func TestOversizeValueRoundTrip(t *testing.T) {
	schema := codec.Schema{
		Keys:   []codec.FieldDef{{Name: "k", Type: codec.TypeInt64}},
		Values: []codec.FieldDef{{Name: "blob", Type: codec.TypeBytes}},
	}
	tree := newTestTree(t, schema, false)

	rng := rand.New(rand.NewSource(3))
	blob := make([]byte, 3*4096)
	rng.Read(blob)

	if err := tree.Insert([]any{int64(1)}, []any{blob}); err != nil {
		t.Fatalf("insert oversize: %v", err)
	}
	it, err := tree.Fetch([]any{int64(1)}, Forward)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, ok, err := it.Next(); err != nil || !ok {
		t.Fatalf("next: ok=%v err=%v", ok, err)
	}
	rec, err := it.Record()
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !bytes.Equal(rec[1].([]byte), blob) {
		t.Fatalf("oversize value mismatch: %d bytes", len(rec[1].([]byte)))
	}

	if err := tree.Expunge([]any{int64(1)}); err != nil {
		t.Fatalf("expunge: %v", err)
	}
	// A fresh oversize record still round-trips after the chain was freed.
	rng.Read(blob)
	if err := tree.Insert([]any{int64(2)}, []any{blob}); err != nil {
		t.Fatalf("reinsert: %v", err)
	}
	it2, _ := tree.Fetch([]any{int64(2)}, Forward)
	if _, ok, err := it2.Next(); err != nil || !ok {
		t.Fatalf("next: ok=%v err=%v", ok, err)
	}
	rec2, err := it2.Record()
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !bytes.Equal(rec2[1].([]byte), blob) {
		t.Fatalf("reinserted value mismatch")
	}
}

func TestUpdateValueOnly(t *testing.T) {
	tree := newTestTree(t, intKeySchema(), false)
	tree.Insert([]any{int64(1)}, []any{"old"})
	if err := tree.Update([]any{int64(1)}, map[int]any{1: "new"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	it, _ := tree.Fetch([]any{int64(1)}, Forward)
	if _, ok, _ := it.Next(); !ok {
		t.Fatal("record vanished")
	}
	rec, err := it.Record()
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec[1] != "new" {
		t.Errorf("value = %v, want new", rec[1])
	}
	if err := tree.CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

func TestUpdateKeyMove(t *testing.T) {
	tree := newTestTree(t, intKeySchema(), false)
	for i := int64(0); i < 10; i++ {
		tree.Insert([]any{i}, []any{fmt.Sprintf("v%d", i)})
	}
	if err := tree.Update([]any{int64(3)}, map[int]any{0: int64(100)}); err != nil {
		t.Fatalf("update key: %v", err)
	}
	if _, err := tree.Fetch([]any{int64(3)}, Forward); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	it, _ := tree.Fetch([]any{int64(3)}, Forward)
	if _, ok, _ := it.Next(); ok {
		t.Fatal("old key still present")
	}
	it2, _ := tree.Fetch([]any{int64(100)}, Forward)
	if _, ok, _ := it2.Next(); !ok {
		t.Fatal("moved key missing")
	}
	rec, err := it2.Record()
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec[1] != "v3" {
		t.Errorf("value after key move = %v, want v3", rec[1])
	}
	if got := tree.RecordCount(); got != 10 {
		t.Errorf("record count = %d, want 10", got)
	}
	if err := tree.CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

func TestExpungeErrors(t *testing.T) {
	tree := newTestTree(t, intKeySchema(), false)
	tree.Insert([]any{int64(1)}, []any{"a"})
	err := tree.Expunge([]any{int64(2)})
	if !errs.Is(err, errs.KindEntryNotFound) {
		t.Fatalf("expected EntryNotFound, got %v", err)
	}
	if err := tree.Expunge([]any{int64(1)}); err != nil {
		t.Fatalf("expunge: %v", err)
	}
	if got := tree.RecordCount(); got != 0 {
		t.Errorf("count = %d after delete", got)
	}
}

func TestInsertDeleteIdentity(t *testing.T) {
	tree := newTestTree(t, intKeySchema(), false)
	for i := int64(0); i < 50; i++ {
		tree.Insert([]any{i}, []any{fmt.Sprintf("v%d", i)})
	}
	before := func() []int64 {
		it, _ := tree.Search(Predicate{}, Forward)
		return collectKeys(t, it)
	}()

	tree.Insert([]any{int64(999)}, []any{"transient"})
	tree.Expunge([]any{int64(999)})

	after := func() []int64 {
		it, _ := tree.Search(Predicate{}, Forward)
		return collectKeys(t, it)
	}()
	if len(before) != len(after) {
		t.Fatalf("observable state changed: %d vs %d records", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("iteration order changed at %d", i)
		}
	}
	if err := tree.CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

func TestNextThenPrev(t *testing.T) {
	tree := newTestTree(t, intKeySchema(), false)
	for i := int64(0); i < 5; i++ {
		tree.Insert([]any{i}, []any{"x"})
	}
	it, err := tree.Search(Predicate{}, Forward)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for i := int64(0); i < 3; i++ {
		if _, ok, _ := it.Next(); !ok {
			t.Fatalf("next %d failed", i)
		}
	}
	// Cursor at key 2; Prev re-enters key 1.
	if _, ok, err := it.Prev(); err != nil || !ok {
		t.Fatalf("prev: ok=%v err=%v", ok, err)
	}
	if got := it.Key()[0].(int64); got != 1 {
		t.Errorf("prev landed on %d, want 1", got)
	}
	// Walking past the start returns end without exhausting.
	it.Prev() // key 0
	if _, ok, _ := it.Prev(); ok {
		t.Error("prev past start should report end")
	}
	if _, ok, err := it.Next(); err != nil || !ok {
		t.Fatalf("next after prev-at-start: ok=%v err=%v", ok, err)
	}
	if got := it.Key()[0].(int64); got != 1 {
		t.Errorf("resumed at %d, want 1", got)
	}
}

func TestMaterializeProjection(t *testing.T) {
	schema := codec.Schema{
		Keys: []codec.FieldDef{{Name: "k", Type: codec.TypeInt64}},
		Values: []codec.FieldDef{
			{Name: "a", Type: codec.TypeString},
			{Name: "b", Type: codec.TypeInt64},
		},
	}
	tree := newTestTree(t, schema, false)
	tree.Insert([]any{int64(1)}, []any{"alpha", int64(42)})
	it, _ := tree.Fetch([]any{int64(1)}, Forward)
	if _, ok, _ := it.Next(); !ok {
		t.Fatal("record missing")
	}
	got, err := it.Materialize([]int{2, 0})
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if got[0] != int64(42) || got[1] != int64(1) {
		t.Errorf("projection = %v", got)
	}
}
