// Package btreeindex is a disk-resident B+tree index engine: records of
// typed key fields followed by typed value fields, stored through a paged
// physical file pair (node store + value store), with point lookup, range
// scan, prefix (LIKE) matching, sorted forward/backward iteration, and
// transactional update. Text-typed key fields are lowered through the
// dual word/n-gram tokenizer before they reach the tree.
//
// The file-level API on File is the sole public surface; there is no CLI
// and no wire protocol.
package btreeindex

import (
	"fmt"
	"log"
	"os"

	"github.com/SimonWaldherr/btreeindex/internal/btree"
	"github.com/SimonWaldherr/btreeindex/internal/codec"
	"github.com/SimonWaldherr/btreeindex/internal/errs"
	"github.com/SimonWaldherr/btreeindex/internal/maintenance"
	"github.com/SimonWaldherr/btreeindex/internal/objectid"
	"github.com/SimonWaldherr/btreeindex/internal/query"
	"github.com/SimonWaldherr/btreeindex/internal/store"
	"github.com/SimonWaldherr/btreeindex/internal/tokenizer"
)

// Re-exported façade types so callers deal with one import.
type (
	Txn        = query.Txn
	Predicate  = query.Predicate
	Comparison = query.Comparison
	Schema     = codec.Schema
	FieldDef   = codec.FieldDef
)

// Scan directions.
const (
	Forward = btree.Forward
	Reverse = btree.Reverse
)

// Comparison operators re-exported from the query façade.
const (
	EQ     = query.EQ
	LT     = query.LT
	LE     = query.LE
	GT     = query.GT
	GE     = query.GE
	IsNull = query.IsNull
	Like   = query.Like
)

// NewTxn builds a transaction context re-exported from the query façade.
var NewTxn = query.NewTxn

// OpenMode says whether a File accepts mutations.
type OpenMode uint8

const (
	ModeRead OpenMode = iota
	ModeUpdate
)

// Config parameterizes CreateFile.
type Config struct {
	// Path is the node-store file path; the value store lives beside it
	// at Path + ".val", their WALs at the usual ".wal" suffixes.
	Path     string
	PageSize int // power of two; 0 means the default
	Schema   codec.Schema
	Unique   bool
	// Tokenizer configures text-typed fields; nil picks the default
	// dual-mode descriptor when the schema declares any text field.
	Tokenizer *tokenizer.Descriptor
	// MaintenanceSpec is a cron expression (with seconds) for the periodic
	// checkpoint and vacuum jobs; empty disables background maintenance.
	MaintenanceSpec string
}

// File is an open index file.
type File struct {
	nodeStore  *store.PageStore
	valueStore *store.PageStore
	tree       *btree.Tree
	schema     codec.Schema
	tok        *tokenizer.Tokenizer
	sched      *maintenance.Scheduler
	instance   objectid.InstanceID
	mode       OpenMode
	corrupted  bool
}

func hasTextField(s *codec.Schema) bool {
	for _, f := range s.Keys {
		if f.Type == codec.TypeText {
			return true
		}
	}
	for _, f := range s.Values {
		if f.Type == codec.TypeText {
			return true
		}
	}
	return false
}

// CreateFile initializes a brand-new index file pair and returns it open
// in update mode. Fails if the node-store path already exists.
func CreateFile(cfg Config) (*File, error) {
	const op = "btreeindex.CreateFile"
	if cfg.Schema.NumKeys() < 1 {
		return nil, errs.New(op, errs.KindBadArgument, fmt.Errorf("schema needs at least one key field"))
	}
	if _, err := os.Stat(cfg.Path); err == nil {
		return nil, errs.New(op, errs.KindBadArgument, fmt.Errorf("%s already exists", cfg.Path))
	}

	nodeStore, err := store.Open(store.PageStoreConfig{Path: cfg.Path, PageSize: cfg.PageSize})
	if err != nil {
		return nil, errs.New(op, errs.KindIOError, err)
	}
	valueStore, err := store.Open(store.PageStoreConfig{Path: cfg.Path + ".val", PageSize: cfg.PageSize})
	if err != nil {
		nodeStore.Close()
		return nil, errs.New(op, errs.KindIOError, err)
	}

	mode := btree.DeriveKeyMode(cfg.Schema.Keys)
	tree, err := btree.CreateTree(nodeStore, valueStore, btree.Config{
		Schema:  cfg.Schema,
		Unique:  cfg.Unique,
		KeyMode: mode,
	})
	if err != nil {
		valueStore.Close()
		nodeStore.Close()
		return nil, err
	}

	f := &File{
		nodeStore:  nodeStore,
		valueStore: valueStore,
		tree:       tree,
		schema:     cfg.Schema,
		instance:   objectid.NewInstanceID(),
		mode:       ModeUpdate,
	}

	if cfg.Tokenizer != nil || hasTextField(&cfg.Schema) {
		desc := tokenizer.DefaultDescriptor()
		if cfg.Tokenizer != nil {
			desc = *cfg.Tokenizer
		}
		f.tok = tokenizer.New(desc)
		nodeStore.UpdateFileInfo(func(fi *store.FileInfo) {
			fi.TokenizerDesc = f.tok.Descriptor().Encode()
			fi.Flags |= store.FlagHasTokenizer
		})
	}
	nodeStore.UpdateFileInfo(func(fi *store.FileInfo) {
		copy(fi.InstanceID[:], f.instance.Bytes())
	})
	if err := nodeStore.Checkpoint(); err != nil {
		f.Close()
		return nil, errs.New(op, errs.KindIOError, err)
	}

	if err := f.startMaintenance(cfg.MaintenanceSpec); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// OpenFile opens an existing index file pair.
func OpenFile(path string, mode OpenMode) (*File, error) {
	const op = "btreeindex.OpenFile"
	if _, err := os.Stat(path); err != nil {
		return nil, errs.New(op, errs.KindNotOpen, err)
	}

	nodeStore, err := store.Open(store.PageStoreConfig{Path: path})
	if err != nil {
		return nil, errs.New(op, errs.KindIOError, err)
	}
	valueStore, err := store.Open(store.PageStoreConfig{Path: path + ".val"})
	if err != nil {
		nodeStore.Close()
		return nil, errs.New(op, errs.KindIOError, err)
	}

	tree, err := btree.OpenTree(nodeStore, valueStore)
	if err != nil {
		valueStore.Close()
		nodeStore.Close()
		return nil, err
	}

	f := &File{
		nodeStore:  nodeStore,
		valueStore: valueStore,
		tree:       tree,
		schema:     *tree.Schema(),
		mode:       mode,
	}

	fi := nodeStore.FileInfo()
	copy(f.instance[:], fi.InstanceID[:])
	if fi.HasFlag(store.FlagHasTokenizer) {
		desc, err := tokenizer.DecodeDescriptor(fi.TokenizerDesc)
		if err != nil {
			f.Close()
			return nil, errs.New(op, errs.KindCorruptFile, err)
		}
		f.tok = tokenizer.New(desc)
	}
	return f, nil
}

func (f *File) startMaintenance(spec string) error {
	if spec == "" {
		return nil
	}
	f.sched = maintenance.NewScheduler(f.instance.String())
	err := f.sched.Add(maintenance.Job{
		Name: "checkpoint",
		Spec: spec,
		Run: func() error {
			if err := f.nodeStore.Checkpoint(); err != nil {
				return err
			}
			return f.valueStore.Checkpoint()
		},
	})
	if err != nil {
		return errs.New("btreeindex.CreateFile", errs.KindBadArgument, err)
	}
	err = f.sched.Add(maintenance.Job{
		Name: "vacuum",
		Spec: spec,
		Run: func() error {
			if _, err := f.valueStore.Vacuum(); err != nil {
				return err
			}
			_, err := f.nodeStore.Vacuum()
			return err
		},
	})
	if err != nil {
		return errs.New("btreeindex.CreateFile", errs.KindBadArgument, err)
	}
	f.sched.Start()
	return nil
}

// guardWrite rejects mutations on read-only or corruption-marked files
// and surfaces transaction cancellation before any I/O.
func (f *File) guardWrite(op string, txn *Txn) error {
	if err := txn.Err(); err != nil {
		return err
	}
	if f.corrupted {
		return errs.New(op, errs.KindCorruptFile, fmt.Errorf("file marked read-only after corruption"))
	}
	if f.mode != ModeUpdate {
		return errs.New(op, errs.KindIllegalFileAccess, fmt.Errorf("file opened read-only"))
	}
	return nil
}

// noteCorruption marks the file read-only for the rest of the session
// when err is a corruption-kind error.
func (f *File) noteCorruption(err error) error {
	if errs.Is(err, errs.KindCorruptFile) || errs.Is(err, errs.KindIOError) {
		f.corrupted = true
	}
	return err
}

// lowerTextKeys normalizes text-typed key fields through the file's
// tokenizer so they are stored (and later compared) in canonical form.
func (f *File) lowerTextKeys(keys []any) []any {
	if f.tok == nil {
		return keys
	}
	out := append([]any{}, keys...)
	for i, fd := range f.schema.Keys {
		if fd.Type != codec.TypeText || i >= len(out) {
			continue
		}
		if s, ok := out[i].(string); ok {
			out[i] = f.tok.Normalize(s)
		}
	}
	return out
}

// Insert adds one record: key fields followed by value fields, in schema
// order.
func (f *File) Insert(txn *Txn, record []any) error {
	const op = "btreeindex.Insert"
	if err := f.guardWrite(op, txn); err != nil {
		return err
	}
	if err := errs.InjectFault(txn.Fault, op); err != nil {
		return err
	}
	K := f.schema.NumKeys()
	if len(record) != f.schema.NumFields() {
		return errs.New(op, errs.KindBadArgument, fmt.Errorf("expected %d fields, got %d", f.schema.NumFields(), len(record)))
	}
	keys := f.lowerTextKeys(record[:K])
	if err := f.tree.Insert(keys, record[K:]); err != nil {
		return f.noteCorruption(err)
	}
	return nil
}

// Expunge deletes the record with the given full composite key.
func (f *File) Expunge(txn *Txn, key []any) error {
	const op = "btreeindex.Expunge"
	if err := f.guardWrite(op, txn); err != nil {
		return err
	}
	if err := errs.InjectFault(txn.Fault, op); err != nil {
		return err
	}
	if err := f.tree.Expunge(f.lowerTextKeys(key)); err != nil {
		return f.noteCorruption(err)
	}
	return nil
}

// ExpungeIfExists deletes the record when present; a missing record is
// logged as a warning and otherwise a no-op.
func (f *File) ExpungeIfExists(txn *Txn, key []any) error {
	err := f.Expunge(txn, key)
	if errs.Is(err, errs.KindEntryNotFound) {
		log.Printf("btreeindex[%s]: expunge_if_exists: %v", txn.Correlation, err)
		return nil
	}
	return err
}

// Update rewrites the record at key, applying changes by column name.
func (f *File) Update(txn *Txn, key []any, changes map[string]any) error {
	const op = "btreeindex.Update"
	if err := f.guardWrite(op, txn); err != nil {
		return err
	}
	if err := errs.InjectFault(txn.Fault, op); err != nil {
		return err
	}
	byIndex := make(map[int]any, len(changes))
	for name, v := range changes {
		idx := -1
		for i := 0; i < f.schema.NumFields(); i++ {
			if f.schema.FieldAt(i).Name == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return errs.New(op, errs.KindBadArgument, fmt.Errorf("unknown column %q", name))
		}
		if f.tok != nil && f.schema.FieldAt(idx).Type == codec.TypeText {
			if s, ok := v.(string); ok && idx < f.schema.NumKeys() {
				v = f.tok.Normalize(s)
			}
		}
		byIndex[idx] = v
	}
	if err := f.tree.Update(f.lowerTextKeys(key), byIndex); err != nil {
		return f.noteCorruption(err)
	}
	return nil
}

// Search resolves a predicate into an iterator over matching records.
// projection lists global column indices (keys first, then values); nil
// projects every column.
func (f *File) Search(txn *Txn, p Predicate, dir btree.ScanDir, projection []int) (*query.Iterator, error) {
	if err := txn.Err(); err != nil {
		return nil, err
	}
	compiled, err := query.Compile(&f.schema, f.tok, p)
	if err != nil {
		return nil, err
	}
	inner, err := f.tree.Search(compiled, dir)
	if err != nil {
		return nil, f.noteCorruption(err)
	}
	return query.NewIterator(txn, inner, f.schema.NumFields(), projection), nil
}

// Fetch yields every record whose composite key starts with keyPrefix.
func (f *File) Fetch(txn *Txn, keyPrefix []any, dir btree.ScanDir) (*query.Iterator, error) {
	if err := txn.Err(); err != nil {
		return nil, err
	}
	inner, err := f.tree.Fetch(f.lowerTextKeys(keyPrefix), dir)
	if err != nil {
		return nil, f.noteCorruption(err)
	}
	return query.NewIterator(txn, inner, f.schema.NumFields(), nil), nil
}

// Count returns the number of records matching the predicate.
func (f *File) Count(txn *Txn, p Predicate) (int, error) {
	if err := txn.Err(); err != nil {
		return 0, err
	}
	compiled, err := query.Compile(&f.schema, f.tok, p)
	if err != nil {
		return 0, err
	}
	n, err := f.tree.Count(compiled)
	if err != nil {
		return 0, f.noteCorruption(err)
	}
	return n, nil
}

// RecordCount returns the file's maintained record count.
func (f *File) RecordCount() uint64 { return f.tree.RecordCount() }

// Schema returns the file's schema.
func (f *File) Schema() *codec.Schema { return &f.schema }

// Tokenizer returns the file's tokenizer, or nil when no field is text.
func (f *File) Tokenizer() *tokenizer.Tokenizer { return f.tok }

// InstanceID returns the file-instance identifier stamped at creation.
func (f *File) InstanceID() objectid.InstanceID { return f.instance }

// CheckInvariants verifies the tree's structural invariants; intended for
// tests and diagnostics.
func (f *File) CheckInvariants() error { return f.tree.CheckInvariants() }

// Vacuum compacts freed areas on value and out-of-band pages in both
// stores. Also run periodically when background maintenance is enabled.
func (f *File) Vacuum() error {
	if f.mode != ModeUpdate {
		return errs.New("btreeindex.Vacuum", errs.KindIllegalFileAccess, fmt.Errorf("file opened read-only"))
	}
	if _, err := f.valueStore.Vacuum(); err != nil {
		return err
	}
	_, err := f.nodeStore.Vacuum()
	return err
}

// Close stops maintenance, checkpoints both stores, and closes them.
func (f *File) Close() error {
	if f.sched != nil {
		f.sched.Stop()
		f.sched = nil
	}
	verr := f.valueStore.Close()
	nerr := f.nodeStore.Close()
	if nerr != nil {
		return nerr
	}
	return verr
}
