package btree

import (
	"fmt"

	"github.com/SimonWaldherr/btreeindex/internal/codec"
	"github.com/SimonWaldherr/btreeindex/internal/store"
)

// CheckInvariants walks the whole tree and verifies the structural
// invariants: per-node key ordering, inner-slot representatives, the
// doubly linked leaf chain and its File Info endpoints, non-root minimum
// occupancy, the record count, and value-object back-pointers. Intended
// for tests and the inspection surface, not the hot path.
func (t *Tree) CheckInvariants() error {
	fi := t.nodeStore.FileInfo()
	leafCount := uint64(0)
	if err := t.checkSubtree(fi.RootPageID, true, &leafCount); err != nil {
		return err
	}
	if leafCount != fi.RecordCount {
		return fmt.Errorf("btree: record count %d but leaves hold %d slots", fi.RecordCount, leafCount)
	}
	return t.checkLeafChain(fi)
}

func (t *Tree) checkSubtree(id store.PageID, isRoot bool, leafCount *uint64) error {
	n, err := t.pinNode(id)
	if err != nil {
		return err
	}
	defer t.unpinNode(id)

	count := n.InUse()
	if !isRoot && count < t.mergeThreshold() {
		return fmt.Errorf("btree: node %d under-full: %d < %d", id, count, t.mergeThreshold())
	}
	if count > n.Capacity() {
		return fmt.Errorf("btree: node %d over-full: %d > %d", id, count, n.Capacity())
	}

	var prev []any
	for i := 0; i < count; i++ {
		key, err := t.keyOf(n, i)
		if err != nil {
			return err
		}
		if prev != nil && codec.CompareKeyTuple(t.schema.Keys, prev, key) > 0 {
			return fmt.Errorf("btree: node %d slots %d,%d out of order", id, i-1, i)
		}
		prev = key
	}

	if n.IsLeaf() {
		*leafCount += uint64(count)
		for i := 0; i < count; i++ {
			s := n.GetSlot(i)
			_, bp, err := t.readValueObjectProj(s.Pointer, func(int) bool { return false })
			if err != nil {
				return fmt.Errorf("btree: leaf %d slot %d value object: %w", id, i, err)
			}
			if bp.LeafPageID != id || int(bp.SlotIndex) != i {
				return fmt.Errorf("btree: leaf %d slot %d back-pointer says (%d,%d)", id, i, bp.LeafPageID, bp.SlotIndex)
			}
		}
		return nil
	}

	for i := 0; i < count; i++ {
		rep, err := t.keyOf(n, i)
		if err != nil {
			return err
		}
		childID := n.GetSlot(i).ChildPageID()
		max, err := t.subtreeMax(childID)
		if err != nil {
			return err
		}
		if codec.CompareKeyTuple(t.schema.Keys, rep, max) != 0 {
			return fmt.Errorf("btree: node %d slot %d representative does not equal subtree max of child %d", id, i, childID)
		}
		if err := t.checkSubtree(childID, false, leafCount); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) subtreeMax(id store.PageID) ([]any, error) {
	for {
		n, err := t.pinNode(id)
		if err != nil {
			return nil, err
		}
		if n.InUse() == 0 {
			t.unpinNode(id)
			return nil, fmt.Errorf("btree: empty node %d in representative check", id)
		}
		last := n.GetSlot(n.InUse() - 1)
		if n.IsLeaf() {
			key, err := t.decodeSlotKey(last)
			t.unpinNode(id)
			return key, err
		}
		child := last.ChildPageID()
		t.unpinNode(id)
		id = child
	}
}

func (t *Tree) checkLeafChain(fi store.FileInfo) error {
	id := fi.FirstLeafPageID
	var prevID store.PageID = store.InvalidPageID
	for id != store.InvalidPageID {
		n, err := t.pinNode(id)
		if err != nil {
			return err
		}
		if !n.IsLeaf() {
			t.unpinNode(id)
			return fmt.Errorf("btree: page %d on leaf chain is not a leaf", id)
		}
		if n.PrevLeafPageID() != prevID {
			t.unpinNode(id)
			return fmt.Errorf("btree: leaf %d prev link %d, expected %d", id, n.PrevLeafPageID(), prevID)
		}
		next := n.NextLeafPageID()
		t.unpinNode(id)
		if next == store.InvalidPageID && id != fi.LastLeafPageID {
			return fmt.Errorf("btree: chain ends at %d but File Info last leaf is %d", id, fi.LastLeafPageID)
		}
		prevID, id = id, next
	}
	return nil
}
