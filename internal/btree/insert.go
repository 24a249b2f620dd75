package btree

import (
	"fmt"

	"github.com/SimonWaldherr/btreeindex/internal/errs"
	"github.com/SimonWaldherr/btreeindex/internal/objectid"
	"github.com/SimonWaldherr/btreeindex/internal/store"
)

// keyEncoding holds the slot-format pieces of a composite key, independent
// of whether it ends up on a leaf slot (paired with a value OID) or an
// inner-node slot (paired with a child page id); both use the exact same
// Slot.KeyOID / Slot.InlineKey / Slot.InlineNulls fields.
type keyEncoding struct {
	KeyOID      objectid.OID
	InlineKey   []byte
	InlineNulls []byte
}

func (t *Tree) encodeKey(tx store.TxID, keyValues []any) (keyEncoding, error) {
	if t.mode == KeyModeInline {
		nulls, key, err := encodeInlineKey(t.schema.Keys, keyValues)
		if err != nil {
			return keyEncoding{}, err
		}
		return keyEncoding{InlineKey: key, InlineNulls: nulls}, nil
	}
	oid, err := t.writeKeyObject(tx, keyValues)
	if err != nil {
		return keyEncoding{}, err
	}
	return keyEncoding{KeyOID: oid}, nil
}

func (ke keyEncoding) applyTo(s *Slot) {
	s.KeyOID = ke.KeyOID
	s.InlineKey = ke.InlineKey
	s.InlineNulls = ke.InlineNulls
}

// childOID packs a node page id as the slot pointer an inner node stores
// for one of its children.
func childOID(id store.PageID) objectid.OID { return objectid.Pack(uint32(id), 0) }

// representativeOf returns the key-format fields of n's last slot: the
// representative key for n as a whole (a slot's key is the
// largest key in the subtree it roots). Reused verbatim when n is promoted
// as a child of some inner node, since indirect-mode representatives are
// literally the same key object as the leaf/inner entry that holds the
// subtree's maximum, not a fresh copy.
func representativeOf(n *Node) Slot {
	return n.GetSlot(n.InUse() - 1)
}

// refreshLeafBackPointers rewrites the (leaf,slot) back-pointer stored in
// every value object from index from onward, after a shift changed their
// position or owning page.
func (t *Tree) refreshLeafBackPointers(tx store.TxID, n *Node, id store.PageID, from int) error {
	if !n.IsLeaf() {
		return nil
	}
	for i := from; i < n.InUse(); i++ {
		if err := t.setValueBackPointer(tx, n.GetSlot(i).Pointer, backPointer{LeafPageID: id, SlotIndex: uint16(i)}); err != nil {
			return err
		}
	}
	return nil
}

// insertIntoNode inserts s at index idx of the already-pinned node n
// (backed by page id), splitting n in two when it has no room. On split,
// n keeps the lower half in place and a freshly allocated node holds the
// upper half; leaf chaining and child parent-pointers are fixed up.
func (t *Tree) insertIntoNode(tx store.TxID, id store.PageID, n *Node, idx int, s Slot) (newID store.PageID, split bool, err error) {
	if n.InUse() < n.Capacity() {
		if err := n.InsertSlotAt(idx, s); err != nil {
			return 0, false, errs.New("btree.insert", errs.KindIOError, err)
		}
		return 0, false, t.writeNode(tx, n)
	}

	old := make([]Slot, n.InUse())
	for i := range old {
		old[i] = n.GetSlot(i)
	}
	full := make([]Slot, 0, len(old)+1)
	full = append(full, old[:idx]...)
	full = append(full, s)
	full = append(full, old[idx:]...)

	mid := (len(full) + 1) / 2
	right, err := t.allocNode(n.IsLeaf())
	if err != nil {
		return 0, false, err
	}

	n.setInUse(0)
	for i, sl := range full[:mid] {
		n.SetSlot(i, sl)
	}
	n.setInUse(mid)
	for i, sl := range full[mid:] {
		right.SetSlot(i, sl)
	}
	right.setInUse(len(full) - mid)

	if n.IsLeaf() {
		oldNext := n.NextLeafPageID()
		right.SetPrevLeafPageID(id)
		right.SetNextLeafPageID(oldNext)
		n.SetNextLeafPageID(right.PageID())
		if oldNext != store.InvalidPageID {
			nextNode, err := t.pinNode(oldNext)
			if err != nil {
				return 0, false, err
			}
			nextNode.SetPrevLeafPageID(right.PageID())
			if err := t.writeNode(tx, nextNode); err != nil {
				t.unpinNode(oldNext)
				return 0, false, err
			}
			t.unpinNode(oldNext)
		}
		fi := t.nodeStore.FileInfo()
		if fi.LastLeafPageID == id {
			t.nodeStore.UpdateFileInfo(func(fi *store.FileInfo) { fi.LastLeafPageID = right.PageID() })
		}
	} else {
		right.SetParentPageID(n.ParentPageID())
		for i := 0; i < right.InUse(); i++ {
			childID := right.GetSlot(i).ChildPageID()
			child, err := t.pinNode(childID)
			if err != nil {
				return 0, false, err
			}
			child.SetParentPageID(right.PageID())
			if err := t.writeNode(tx, child); err != nil {
				t.unpinNode(childID)
				return 0, false, err
			}
			t.unpinNode(childID)
		}
	}

	if err := t.writeNode(tx, n); err != nil {
		return 0, false, err
	}
	if err := t.writeNode(tx, right); err != nil {
		return 0, false, err
	}
	t.unpinNode(right.PageID())
	return right.PageID(), true, nil
}

// propagateSplit updates ancestors bottom-up after a child split into
// (leftID, rightID): the existing slot pointing at leftID gets its
// representative refreshed, and a new slot for rightID is inserted right
// after it, splitting the parent in turn if necessary. With no ancestors
// left, a new root is promoted.
func (t *Tree) propagateSplit(tx store.TxID, path []ancestor, leftID, rightID store.PageID) error {
	for i := len(path) - 1; i >= 0; i-- {
		anc := path[i]
		parent, err := t.pinNode(anc.pageID)
		if err != nil {
			return err
		}

		leftNode, err := t.pinNode(leftID)
		if err != nil {
			t.unpinNode(anc.pageID)
			return err
		}
		leftRep := representativeOf(leftNode)
		t.unpinNode(leftID)

		existing := parent.GetSlot(anc.slotIdx)
		existing.KeyOID = leftRep.KeyOID
		existing.InlineKey = leftRep.InlineKey
		existing.InlineNulls = leftRep.InlineNulls
		parent.SetSlot(anc.slotIdx, existing)

		rightNode, err := t.pinNode(rightID)
		if err != nil {
			t.unpinNode(anc.pageID)
			return err
		}
		rightRep := representativeOf(rightNode)
		t.unpinNode(rightID)

		newSlot := Slot{Pointer: childOID(rightID), KeyOID: rightRep.KeyOID, InlineKey: rightRep.InlineKey, InlineNulls: rightRep.InlineNulls}

		newRightID, split, err := t.insertIntoNode(tx, anc.pageID, parent, anc.slotIdx+1, newSlot)
		t.unpinNode(anc.pageID)
		if err != nil {
			return err
		}
		if !split {
			return nil
		}
		leftID, rightID = anc.pageID, newRightID
	}
	return t.promoteNewRoot(tx, leftID, rightID)
}

// promoteNewRoot builds a fresh two-child root over leftID/rightID,
// increasing the tree's depth by one.
func (t *Tree) promoteNewRoot(tx store.TxID, leftID, rightID store.PageID) error {
	newRoot, err := t.allocNode(false)
	if err != nil {
		return err
	}

	leftNode, err := t.pinNode(leftID)
	if err != nil {
		return err
	}
	leftRep := representativeOf(leftNode)
	t.unpinNode(leftID)

	rightNode, err := t.pinNode(rightID)
	if err != nil {
		return err
	}
	rightRep := representativeOf(rightNode)
	t.unpinNode(rightID)

	if err := newRoot.InsertSlotAt(0, Slot{Pointer: childOID(leftID), KeyOID: leftRep.KeyOID, InlineKey: leftRep.InlineKey, InlineNulls: leftRep.InlineNulls}); err != nil {
		return err
	}
	if err := newRoot.InsertSlotAt(1, Slot{Pointer: childOID(rightID), KeyOID: rightRep.KeyOID, InlineKey: rightRep.InlineKey, InlineNulls: rightRep.InlineNulls}); err != nil {
		return err
	}
	rootID := newRoot.PageID()
	if err := t.writeNode(tx, newRoot); err != nil {
		return err
	}
	t.unpinNode(rootID)

	for _, childID := range [2]store.PageID{leftID, rightID} {
		child, err := t.pinNode(childID)
		if err != nil {
			return err
		}
		child.SetParentPageID(rootID)
		werr := t.writeNode(tx, child)
		t.unpinNode(childID)
		if werr != nil {
			return werr
		}
	}

	t.nodeStore.UpdateFileInfo(func(fi *store.FileInfo) {
		fi.RootPageID = rootID
		fi.TreeDepth++
	})
	return nil
}

// Insert adds one record: materialize the value object
// (and, in indirect mode, the key object) first, locate the target leaf,
// reject on a uniqueness violation, then insert the slot, splitting and
// promoting a new root as needed.
func (t *Tree) Insert(keyValues, values []any) error {
	if len(keyValues) != t.numKeys() {
		return errs.New("btree.Insert", errs.KindBadArgument, fmt.Errorf("expected %d key fields, got %d", t.numKeys(), len(keyValues)))
	}
	if len(values) != len(t.schema.Values) {
		return errs.New("btree.Insert", errs.KindBadArgument, fmt.Errorf("expected %d value fields, got %d", len(t.schema.Values), len(values)))
	}

	ntx, err := t.nodeStore.BeginTx()
	if err != nil {
		return errs.New("btree.Insert", errs.KindIOError, err)
	}
	vtx, err := t.valueStore.BeginTx()
	if err != nil {
		t.nodeStore.AbortTx(ntx)
		return errs.New("btree.Insert", errs.KindIOError, err)
	}
	abort := func() {
		t.nodeStore.AbortTx(ntx)
		t.valueStore.AbortTx(vtx)
	}

	valueOID, err := t.writeValueObject(vtx, values)
	if err != nil {
		abort()
		return err
	}

	if err := t.insertRecord(ntx, vtx, keyValues, valueOID, t.unique); err != nil {
		abort()
		return err
	}

	t.nodeStore.UpdateFileInfo(func(fi *store.FileInfo) { fi.RecordCount++ })

	if err := t.nodeStore.CommitTx(ntx); err != nil {
		abort()
		return err
	}
	if err := t.valueStore.CommitTx(vtx); err != nil {
		return err
	}
	return nil
}
