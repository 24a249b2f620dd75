package btree

import (
	"fmt"

	"github.com/SimonWaldherr/btreeindex/internal/codec"
	"github.com/SimonWaldherr/btreeindex/internal/errs"
	"github.com/SimonWaldherr/btreeindex/internal/fileinfo"
	"github.com/SimonWaldherr/btreeindex/internal/store"
)

// NodeMergeThreshold is the minimum occupancy below which a leaf or
// inner node is a merge/borrow candidate: ceil(M/4). A caller-
// configurable hysteresis band on top keeps a borderline node from
// thrashing between merge and re-split.
func NodeMergeThreshold(M int) int {
	t := (M + 3) / 4
	if t < 1 {
		t = 1
	}
	return t
}

// Config configures a Tree at CreateTree time.
type Config struct {
	Schema       codec.Schema
	Unique       bool
	KeyMode      KeyMode // requested mode; inline is upgraded to indirect when DeriveKeyMode says the keys do not fit
	Hysteresis   int     // extra slots a sibling must hold beyond the merge threshold before it lends one; default 1
}

// DeriveKeyMode picks inline mode when every key field is fixed-width
// and the composite archive size fits InlineKeyLimit, indirect mode
// otherwise. The mode is fixed at file-creation time, never per record.
func DeriveKeyMode(keys []codec.FieldDef) KeyMode {
	total := 0
	for _, f := range keys {
		if !f.Type.IsFixed() {
			return KeyModeIndirect
		}
		switch f.Type {
		case codec.TypeInt32:
			total += 4
		case codec.TypeInt64, codec.TypeFloat64:
			total += 8
		case codec.TypeBool:
			total += 1
		}
	}
	if total > InlineKeyLimit {
		return KeyModeIndirect
	}
	return KeyModeInline
}

// Tree is the B+tree engine bound to one node store and one value
// store: node pages and value pages are two logically separate paged
// stores, here always two *store.PageStore instances.
type Tree struct {
	nodeStore  *store.PageStore
	valueStore *store.PageStore
	schema     codec.Schema
	mode       KeyMode
	unique     bool
	hysteresis int

	curKeyObjPage store.PageID // indirect-mode key-object packing cursor
	curValuePage  store.PageID // value-object packing cursor
}

// CreateTree initializes a brand-new file: writes the schema into File
// Info, allocates the first (empty, leaf) root page, and returns a ready
// Tree.
func CreateTree(nodeStore, valueStore *store.PageStore, cfg Config) (*Tree, error) {
	if cfg.Schema.NumKeys() < 1 {
		return nil, errs.New("btree.CreateTree", errs.KindBadArgument, fmt.Errorf("schema needs at least one key field"))
	}
	mode := cfg.KeyMode
	if mode == KeyModeInline && DeriveKeyMode(cfg.Schema.Keys) == KeyModeIndirect {
		mode = KeyModeIndirect
	}
	t := &Tree{
		nodeStore:  nodeStore,
		valueStore: valueStore,
		schema:     cfg.Schema,
		mode:       mode,
		unique:     cfg.Unique,
		hysteresis: cfg.Hysteresis,
	}
	if t.hysteresis <= 0 {
		t.hysteresis = 1
	}

	rootID, rootBuf := nodeStore.AllocPage()
	InitNode(rootBuf, rootID, true, mode, cfg.Schema.NumKeys())
	tx, err := nodeStore.BeginTx()
	if err != nil {
		return nil, err
	}
	if err := nodeStore.WritePage(tx, rootID, rootBuf); err != nil {
		return nil, err
	}
	nodeStore.UnpinPage(rootID)

	nodeStore.UpdateFileInfo(func(fi *store.FileInfo) {
		fi.RootPageID = rootID
		fi.TreeDepth = 1
		fi.FirstLeafPageID = rootID
		fi.LastLeafPageID = rootID
		fi.RecordCount = 0
		fi.Schema = fileinfo.EncodeSchema(&cfg.Schema)
		if mode == KeyModeIndirect {
			fi.Flags |= store.FlagKeyModeIndirect
		}
		if cfg.Unique {
			fi.Flags |= store.FlagUnique
		}
	})
	if err := nodeStore.CommitTx(tx); err != nil {
		return nil, err
	}
	return t, nil
}

// OpenTree reconstructs a Tree from an already-opened node/value store
// pair by reading the persisted schema and flags out of File Info.
func OpenTree(nodeStore, valueStore *store.PageStore) (*Tree, error) {
	fi := nodeStore.FileInfo()
	schema, err := fileinfo.DecodeSchema(fi.Schema)
	if err != nil {
		return nil, errs.New("btree.OpenTree", errs.KindCorruptFile, err)
	}
	mode := KeyModeInline
	if fi.HasFlag(store.FlagKeyModeIndirect) {
		mode = KeyModeIndirect
	}
	return &Tree{
		nodeStore:  nodeStore,
		valueStore: valueStore,
		schema:     *schema,
		mode:       mode,
		unique:     fi.HasFlag(store.FlagUnique),
		hysteresis: 1,
	}, nil
}

func (t *Tree) Schema() *codec.Schema { return &t.schema }
func (t *Tree) KeyMode() KeyMode      { return t.mode }

func (t *Tree) numKeys() int { return t.schema.NumKeys() }

func (t *Tree) capacity() int {
	return Capacity(t.nodeStore.PageSize(), t.mode, t.numKeys())
}

func (t *Tree) mergeThreshold() int {
	return NodeMergeThreshold(t.capacity())
}

// pinNode reads and wraps a node page.
func (t *Tree) pinNode(id store.PageID) (*Node, error) {
	buf, err := t.nodeStore.ReadPage(id)
	if err != nil {
		return nil, errs.New("btree.pinNode", errs.KindIOError, err)
	}
	return WrapNode(buf, t.mode, t.numKeys()), nil
}

func (t *Tree) unpinNode(id store.PageID) { t.nodeStore.UnpinPage(id) }

func (t *Tree) writeNode(tx store.TxID, n *Node) error {
	return t.nodeStore.WritePage(tx, n.PageID(), n.Bytes())
}

func (t *Tree) allocNode(isLeaf bool) (*Node, error) {
	id, buf := t.nodeStore.AllocPage()
	return InitNode(buf, id, isLeaf, t.mode, t.numKeys()), nil
}

// decodeSlotKey extracts the composite key tuple of slot s, resolving an
// indirect key object through the key store when needed.
func (t *Tree) decodeSlotKey(s Slot) ([]any, error) {
	if t.mode == KeyModeInline {
		return decodeInlineKey(t.schema.Keys, s.InlineNulls, s.InlineKey)
	}
	return t.readKeyObject(s.KeyOID)
}

// keyOf is a convenience: the composite key of slot i of node n.
func (t *Tree) keyOf(n *Node, i int) ([]any, error) {
	return t.decodeSlotKey(n.GetSlot(i))
}

// RecordCount returns File Info's maintained record count.
func (t *Tree) RecordCount() uint64 { return t.nodeStore.FileInfo().RecordCount }
