// Package btree implements the B+tree engine: the node/leaf page
// format, key information slots, split/merge/rebalance, the locator and
// search state machine, and forward/backward iteration, with dual
// inline/indirect key placement and per-field directional composite
// ordering over doubly chained leaves.
package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/SimonWaldherr/btreeindex/internal/objectid"
	"github.com/SimonWaldherr/btreeindex/internal/store"
)

// KeyMode is fixed per file at creation time: the choice between inline
// and indirect key storage is baked into every node page's slot size,
// not a per-record choice.
type KeyMode uint8

const (
	// KeyModeInline stores the whole composite key (<= InlineKeyLimit
	// bytes) directly in the slot; only usable when every key field is
	// fixed-width and the sum of their archive sizes fits the limit.
	KeyModeInline KeyMode = iota
	// KeyModeIndirect stores a pointer to a separately allocated key
	// object area on some node-store page.
	KeyModeIndirect
)

// InlineKeyLimit is the inline-mode composite key size ceiling.
const InlineKeyLimit = 12

const (
	nodeHdrOff          = store.PageHeaderSize // 32
	nodeIsLeafOff        = nodeHdrOff
	nodeInUseOff         = nodeHdrOff + 1  // 33, 2 bytes
	nodeParentOff        = nodeHdrOff + 3  // 35, 4 bytes
	nodePrevLeafOff      = nodeHdrOff + 7  // 39, 4 bytes
	nodeNextLeafOff      = nodeHdrOff + 11 // 43, 4 bytes
	nodeOverflowOff      = nodeHdrOff + 15 // 47, 4 bytes
	nodeHeaderSize       = 19              // 32..51
	nodeSlotArrayOff     = nodeHdrOff + nodeHeaderSize
	pointerSize          = 8 // an OID-width pointer: child page id or value OID
	keyOIDSize           = 8
)

// SlotSize returns the fixed byte width of one key information slot under
// the given key mode for a composite key of numKeyFields fields.
func SlotSize(mode KeyMode, numKeyFields int) int {
	if mode == KeyModeIndirect {
		return pointerSize + keyOIDSize
	}
	return pointerSize + bitmapSize(numKeyFields) + InlineKeyLimit
}

func bitmapSize(n int) int { return (n + 7) / 8 }

// Capacity returns M, the maximum number of slots a node page of the
// given size can hold under this key mode.
func Capacity(pageSize int, mode KeyMode, numKeyFields int) int {
	avail := pageSize - nodeSlotArrayOff
	return avail / SlotSize(mode, numKeyFields)
}

// Node wraps a page buffer as a B+tree node or leaf page.
type Node struct {
	buf      []byte
	mode     KeyMode
	numKeys  int
	slotSize int
}

// WrapNode wraps an existing node page buffer.
func WrapNode(buf []byte, mode KeyMode, numKeyFields int) *Node {
	return &Node{buf: buf, mode: mode, numKeys: numKeyFields, slotSize: SlotSize(mode, numKeyFields)}
}

// InitNode initializes buf as a fresh, empty node page.
func InitNode(buf []byte, id store.PageID, isLeaf bool, mode KeyMode, numKeyFields int) *Node {
	pt := store.PageTypeNodeInternal
	if isLeaf {
		pt = store.PageTypeNodeLeaf
	}
	h := &store.PageHeader{Type: pt, ID: id}
	store.MarshalHeader(h, buf)
	if isLeaf {
		buf[nodeIsLeafOff] = 1
	} else {
		buf[nodeIsLeafOff] = 0
	}
	binary.LittleEndian.PutUint16(buf[nodeInUseOff:], 0)
	binary.LittleEndian.PutUint32(buf[nodeParentOff:], uint32(store.InvalidPageID))
	binary.LittleEndian.PutUint32(buf[nodePrevLeafOff:], uint32(store.InvalidPageID))
	binary.LittleEndian.PutUint32(buf[nodeNextLeafOff:], uint32(store.InvalidPageID))
	binary.LittleEndian.PutUint32(buf[nodeOverflowOff:], uint32(store.InvalidPageID))
	return &Node{buf: buf, mode: mode, numKeys: numKeyFields, slotSize: SlotSize(mode, numKeyFields)}
}

func (n *Node) IsLeaf() bool { return n.buf[nodeIsLeafOff] == 1 }

func (n *Node) InUse() int { return int(binary.LittleEndian.Uint16(n.buf[nodeInUseOff:])) }

func (n *Node) setInUse(c int) { binary.LittleEndian.PutUint16(n.buf[nodeInUseOff:], uint16(c)) }

func (n *Node) ParentPageID() store.PageID {
	return store.PageID(binary.LittleEndian.Uint32(n.buf[nodeParentOff:]))
}
func (n *Node) SetParentPageID(id store.PageID) {
	binary.LittleEndian.PutUint32(n.buf[nodeParentOff:], uint32(id))
}

func (n *Node) PrevLeafPageID() store.PageID {
	return store.PageID(binary.LittleEndian.Uint32(n.buf[nodePrevLeafOff:]))
}
func (n *Node) SetPrevLeafPageID(id store.PageID) {
	binary.LittleEndian.PutUint32(n.buf[nodePrevLeafOff:], uint32(id))
}

func (n *Node) NextLeafPageID() store.PageID {
	return store.PageID(binary.LittleEndian.Uint32(n.buf[nodeNextLeafOff:]))
}
func (n *Node) SetNextLeafPageID(id store.PageID) {
	binary.LittleEndian.PutUint32(n.buf[nodeNextLeafOff:], uint32(id))
}

func (n *Node) OverflowPageID() store.PageID {
	return store.PageID(binary.LittleEndian.Uint32(n.buf[nodeOverflowOff:]))
}
func (n *Node) SetOverflowPageID(id store.PageID) {
	binary.LittleEndian.PutUint32(n.buf[nodeOverflowOff:], uint32(id))
}

func (n *Node) PageID() store.PageID {
	return store.PageID(binary.LittleEndian.Uint32(n.buf[4:8]))
}

func (n *Node) slotOffset(i int) int { return nodeSlotArrayOff + i*n.slotSize }

// Slot is one key information entry, decoded into memory.
type Slot struct {
	// Pointer is the child page id (inner node, in the OID's page-id field)
	// or the value OID (leaf).
	Pointer objectid.OID
	// KeyOID is valid only in indirect mode: the key object's OID.
	KeyOID objectid.OID
	// InlineKey/InlineNulls are valid only in inline mode.
	InlineKey   []byte
	InlineNulls []byte
}

// ChildPageID interprets Pointer as an inner-node child page id.
func (s Slot) ChildPageID() store.PageID { return store.PageID(s.Pointer.PageID()) }

// GetSlot decodes slot i.
func (n *Node) GetSlot(i int) Slot {
	off := n.slotOffset(i)
	var s Slot
	s.Pointer = objectid.UnmarshalOID(n.buf[off:])
	off += pointerSize
	if n.mode == KeyModeIndirect {
		s.KeyOID = objectid.UnmarshalOID(n.buf[off:])
		return s
	}
	bs := bitmapSize(n.numKeys)
	s.InlineNulls = append([]byte{}, n.buf[off:off+bs]...)
	off += bs
	s.InlineKey = append([]byte{}, n.buf[off:off+InlineKeyLimit]...)
	return s
}

// SetSlot writes slot i.
func (n *Node) SetSlot(i int, s Slot) {
	off := n.slotOffset(i)
	objectid.MarshalOID(s.Pointer, n.buf[off:])
	off += pointerSize
	if n.mode == KeyModeIndirect {
		objectid.MarshalOID(s.KeyOID, n.buf[off:])
		return
	}
	bs := bitmapSize(n.numKeys)
	copy(n.buf[off:off+bs], s.InlineNulls)
	off += bs
	var kb [InlineKeyLimit]byte
	copy(kb[:], s.InlineKey)
	copy(n.buf[off:off+InlineKeyLimit], kb[:])
}

// InsertSlotAt shifts slots >= i right by one and writes s at i.
func (n *Node) InsertSlotAt(i int, s Slot) error {
	count := n.InUse()
	if count >= Capacity(len(n.buf), n.mode, n.numKeys) {
		return fmt.Errorf("node: page full (in_use=%d)", count)
	}
	for j := count; j > i; j-- {
		n.copySlot(j-1, j)
	}
	n.SetSlot(i, s)
	n.setInUse(count + 1)
	return nil
}

// RemoveSlotAt shifts slots > i left by one.
func (n *Node) RemoveSlotAt(i int) {
	count := n.InUse()
	for j := i; j < count-1; j++ {
		n.copySlot(j+1, j)
	}
	n.setInUse(count - 1)
}

func (n *Node) copySlot(from, to int) {
	src := n.slotOffset(from)
	dst := n.slotOffset(to)
	copy(n.buf[dst:dst+n.slotSize], n.buf[src:src+n.slotSize])
}

// Bytes returns the underlying page buffer.
func (n *Node) Bytes() []byte { return n.buf }

// Capacity returns M for this node's page size and key mode.
func (n *Node) Capacity() int { return Capacity(len(n.buf), n.mode, n.numKeys) }
