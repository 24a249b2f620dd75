package btree

import (
	"bytes"

	"github.com/SimonWaldherr/btreeindex/internal/errs"
	"github.com/SimonWaldherr/btreeindex/internal/objectid"
	"github.com/SimonWaldherr/btreeindex/internal/store"
)

// insertRecord locates the target leaf for keyValues and inserts a slot
// carrying valueOID, splitting/promoting as needed. Shared by Insert and
// Update's key-move path, which reuses an existing value object instead of
// allocating a fresh one.
func (t *Tree) insertRecord(ntx, vtx store.TxID, keyValues []any, valueOID objectid.OID, checkUnique bool) error {
	ke, err := t.encodeKey(ntx, keyValues)
	if err != nil {
		return err
	}
	// Descend biased toward the last duplicate so equal keys land in
	// insertion order among themselves.
	path, leafID, err := t.descendPath(keyValues, biasUpper)
	if err != nil {
		return err
	}
	leaf, err := t.pinNode(leafID)
	if err != nil {
		return err
	}
	slotIdx, matched, err := t.locateInLeaf(leaf, t.schema.Keys, keyValues, biasUpper)
	if err != nil {
		t.unpinNode(leafID)
		return err
	}
	if matched && checkUnique {
		t.unpinNode(leafID)
		return errs.New("btree.Insert", errs.KindDuplicate, errDuplicateKey)
	}
	if matched {
		// locateInLeaf's upper bias lands on the last duplicate; the new
		// record goes just past it.
		slotIdx++
	}

	var s Slot
	s.Pointer = valueOID
	ke.applyTo(&s)

	newRightID, split, err := t.insertIntoNode(ntx, leafID, leaf, slotIdx, s)
	if err != nil {
		t.unpinNode(leafID)
		return err
	}
	if split {
		if err := t.refreshLeafBackPointers(vtx, leaf, leafID, slotIdx); err != nil {
			t.unpinNode(leafID)
			return err
		}
		right, err := t.pinNode(newRightID)
		if err != nil {
			t.unpinNode(leafID)
			return err
		}
		rerr := t.refreshLeafBackPointers(vtx, right, newRightID, 0)
		t.unpinNode(newRightID)
		if rerr != nil {
			t.unpinNode(leafID)
			return rerr
		}
	} else if err := t.refreshLeafBackPointers(vtx, leaf, leafID, slotIdx); err != nil {
		t.unpinNode(leafID)
		return err
	}
	t.unpinNode(leafID)

	if split {
		if err := t.propagateSplit(ntx, path, leafID, newRightID); err != nil {
			return err
		}
	}

	// A new subtree maximum must be reflected in every ancestor's
	// representative. Re-descend so the path's slot
	// indices are valid post-split, then cascade bottom-up until a level
	// where the representative is not its parent's last slot.
	repPath, repLeafID, err := t.descendPath(keyValues, biasUpper)
	if err != nil {
		return err
	}
	return t.propagateRepresentativeUpdate(ntx, repPath, repLeafID)
}

// removeRecord deletes the slot matching the full composite key keyValues,
// rebalancing the leaf chain as needed, and returns the value OID it held
// so a caller (Update's key-move path) can reuse it without reallocating.
// freeValue controls whether the value object itself is released.
func (t *Tree) removeRecord(ntx, vtx store.TxID, keyValues []any, freeValue bool) (objectid.OID, error) {
	path, leafID, err := t.descendPath(keyValues, biasLower)
	if err != nil {
		return objectid.Invalid, err
	}
	leaf, err := t.pinNode(leafID)
	if err != nil {
		return objectid.Invalid, err
	}
	idx, matched, err := t.locateInLeaf(leaf, t.schema.Keys, keyValues, biasLower)
	if err != nil {
		t.unpinNode(leafID)
		return objectid.Invalid, err
	}
	if !matched {
		t.unpinNode(leafID)
		return objectid.Invalid, errs.New("btree.Expunge", errs.KindEntryNotFound, errKeyNotFound)
	}

	slot := leaf.GetSlot(idx)
	valueOID := slot.Pointer
	if t.mode == KeyModeIndirect {
		if err := t.freeKeyObject(ntx, slot.KeyOID); err != nil {
			t.unpinNode(leafID)
			return objectid.Invalid, err
		}
	}
	if freeValue {
		if err := t.freeValueObject(vtx, valueOID); err != nil {
			t.unpinNode(leafID)
			return objectid.Invalid, err
		}
	}

	wasLast := idx == leaf.InUse()-1
	leaf.RemoveSlotAt(idx)
	if err := t.writeNode(ntx, leaf); err != nil {
		t.unpinNode(leafID)
		return objectid.Invalid, err
	}
	if err := t.refreshLeafBackPointers(vtx, leaf, leafID, idx); err != nil {
		t.unpinNode(leafID)
		return objectid.Invalid, err
	}

	fi := t.nodeStore.FileInfo()
	isRoot := leafID == fi.RootPageID

	if wasLast && len(path) > 0 {
		if err := t.propagateRepresentativeUpdate(ntx, path, leafID); err != nil {
			t.unpinNode(leafID)
			return objectid.Invalid, err
		}
	}

	if !isRoot && leaf.InUse() < t.mergeThreshold() {
		if err := t.rebalance(ntx, vtx, path, leafID, leaf); err != nil {
			t.unpinNode(leafID)
			return objectid.Invalid, err
		}
	} else if isRoot {
		if err := t.maybeDemoteRoot(ntx, leafID, leaf); err != nil {
			t.unpinNode(leafID)
			return objectid.Invalid, err
		}
	}
	t.unpinNode(leafID)
	return valueOID, nil
}

// Expunge deletes the record with the given full composite key.
func (t *Tree) Expunge(keyValues []any) error {
	if len(keyValues) != t.numKeys() {
		return errs.New("btree.Expunge", errs.KindBadArgument, errKeyNotFound)
	}

	ntx, err := t.nodeStore.BeginTx()
	if err != nil {
		return errs.New("btree.Expunge", errs.KindIOError, err)
	}
	vtx, err := t.valueStore.BeginTx()
	if err != nil {
		t.nodeStore.AbortTx(ntx)
		return errs.New("btree.Expunge", errs.KindIOError, err)
	}
	abort := func() {
		t.nodeStore.AbortTx(ntx)
		t.valueStore.AbortTx(vtx)
	}

	if _, err := t.removeRecord(ntx, vtx, keyValues, true); err != nil {
		abort()
		return err
	}

	t.nodeStore.UpdateFileInfo(func(fi *store.FileInfo) {
		if fi.RecordCount > 0 {
			fi.RecordCount--
		}
	})

	if err := t.nodeStore.CommitTx(ntx); err != nil {
		abort()
		return err
	}
	if err := t.valueStore.CommitTx(vtx); err != nil {
		return err
	}
	return nil
}

// propagateRepresentativeUpdate refreshes the representative key an
// ancestor chain stores for childID, stopping as soon as the updated slot
// is not its parent's own last slot (so the parent's own max is
// unaffected and nothing above needs to change).
func (t *Tree) propagateRepresentativeUpdate(tx store.TxID, path []ancestor, childID store.PageID) error {
	for i := len(path) - 1; i >= 0; i-- {
		anc := path[i]
		parent, err := t.pinNode(anc.pageID)
		if err != nil {
			return err
		}
		child, err := t.pinNode(childID)
		if err != nil {
			t.unpinNode(anc.pageID)
			return err
		}
		if child.InUse() == 0 {
			t.unpinNode(childID)
			t.unpinNode(anc.pageID)
			return nil
		}
		rep := representativeOf(child)
		t.unpinNode(childID)

		existing := parent.GetSlot(anc.slotIdx)
		if sameSlotKey(existing, rep, t.mode) {
			t.unpinNode(anc.pageID)
			return nil
		}
		existing.KeyOID = rep.KeyOID
		existing.InlineKey = rep.InlineKey
		existing.InlineNulls = rep.InlineNulls
		parent.SetSlot(anc.slotIdx, existing)
		if err := t.writeNode(tx, parent); err != nil {
			t.unpinNode(anc.pageID)
			return err
		}
		isLast := anc.slotIdx == parent.InUse()-1
		t.unpinNode(anc.pageID)
		if !isLast {
			return nil
		}
		childID = anc.pageID
	}
	return nil
}

// rebalance restores minimum occupancy for node n (id, already pinned)
// after a removal, borrowing from a sibling when one has slack beyond the
// merge threshold plus hysteresis, else merging with a sibling, which may
// in turn underflow the parent, handled by looping up path. With no parent
// left, a lone-child root is demoted.
func (t *Tree) rebalance(ntx, vtx store.TxID, path []ancestor, id store.PageID, n *Node) error {
	for {
		if len(path) == 0 {
			return t.maybeDemoteRoot(ntx, id, n)
		}
		if n.InUse() >= t.mergeThreshold() {
			return nil
		}
		anc := path[len(path)-1]
		parentPath := path[:len(path)-1]
		parent, err := t.pinNode(anc.pageID)
		if err != nil {
			return err
		}

		lendThreshold := t.mergeThreshold() + t.hysteresis

		if anc.slotIdx+1 < parent.InUse() {
			rightID := parent.GetSlot(anc.slotIdx + 1).ChildPageID()
			right, err := t.pinNode(rightID)
			if err != nil {
				t.unpinNode(anc.pageID)
				return err
			}
			if right.InUse() > lendThreshold {
				borrowed := right.GetSlot(0)
				right.RemoveSlotAt(0)
				if err := n.InsertSlotAt(n.InUse(), borrowed); err != nil {
					t.unpinNode(rightID)
					t.unpinNode(anc.pageID)
					return err
				}
				if n.IsLeaf() {
					if err := t.refreshLeafBackPointers(vtx, n, id, n.InUse()-1); err != nil {
						return err
					}
					if err := t.refreshLeafBackPointers(vtx, right, rightID, 0); err != nil {
						return err
					}
				} else if err := t.reparentChild(ntx, borrowed.ChildPageID(), id); err != nil {
					return err
				}
				rep := representativeOf(n)
				existing := parent.GetSlot(anc.slotIdx)
				existing.KeyOID, existing.InlineKey, existing.InlineNulls = rep.KeyOID, rep.InlineKey, rep.InlineNulls
				parent.SetSlot(anc.slotIdx, existing)
				if err := t.writeNode(ntx, n); err != nil {
					return err
				}
				if err := t.writeNode(ntx, right); err != nil {
					return err
				}
				if err := t.writeNode(ntx, parent); err != nil {
					return err
				}
				t.unpinNode(rightID)
				t.unpinNode(anc.pageID)
				return nil
			}
			t.unpinNode(rightID)
		}

		if anc.slotIdx > 0 {
			leftID := parent.GetSlot(anc.slotIdx - 1).ChildPageID()
			left, err := t.pinNode(leftID)
			if err != nil {
				t.unpinNode(anc.pageID)
				return err
			}
			if left.InUse() > lendThreshold {
				borrowed := left.GetSlot(left.InUse() - 1)
				left.RemoveSlotAt(left.InUse() - 1)
				if err := n.InsertSlotAt(0, borrowed); err != nil {
					t.unpinNode(leftID)
					t.unpinNode(anc.pageID)
					return err
				}
				if n.IsLeaf() {
					if err := t.refreshLeafBackPointers(vtx, n, id, 0); err != nil {
						return err
					}
				} else if err := t.reparentChild(ntx, borrowed.ChildPageID(), id); err != nil {
					return err
				}
				rep := representativeOf(left)
				existing := parent.GetSlot(anc.slotIdx - 1)
				existing.KeyOID, existing.InlineKey, existing.InlineNulls = rep.KeyOID, rep.InlineKey, rep.InlineNulls
				parent.SetSlot(anc.slotIdx-1, existing)
				if err := t.writeNode(ntx, left); err != nil {
					return err
				}
				if err := t.writeNode(ntx, n); err != nil {
					return err
				}
				if err := t.writeNode(ntx, parent); err != nil {
					return err
				}
				t.unpinNode(leftID)
				t.unpinNode(anc.pageID)
				return nil
			}
			t.unpinNode(leftID)
		}

		// No sibling has slack: merge. Prefer absorbing n into its left
		// sibling; otherwise absorb the right sibling into n.
		if anc.slotIdx > 0 {
			leftID := parent.GetSlot(anc.slotIdx - 1).ChildPageID()
			left, err := t.pinNode(leftID)
			if err != nil {
				t.unpinNode(anc.pageID)
				return err
			}
			base := left.InUse()
			for i := 0; i < n.InUse(); i++ {
				if err := left.InsertSlotAt(base+i, n.GetSlot(i)); err != nil {
					t.unpinNode(leftID)
					t.unpinNode(anc.pageID)
					return err
				}
			}
			if left.IsLeaf() {
				left.SetNextLeafPageID(n.NextLeafPageID())
				if nxt := n.NextLeafPageID(); nxt != store.InvalidPageID {
					if err := t.relinkPrev(ntx, nxt, leftID); err != nil {
						return err
					}
				}
				if t.nodeStore.FileInfo().LastLeafPageID == id {
					t.nodeStore.UpdateFileInfo(func(fi *store.FileInfo) { fi.LastLeafPageID = leftID })
				}
				if err := t.refreshLeafBackPointers(vtx, left, leftID, base); err != nil {
					return err
				}
			} else {
				for i := base; i < left.InUse(); i++ {
					if err := t.reparentChild(ntx, left.GetSlot(i).ChildPageID(), leftID); err != nil {
						return err
					}
				}
			}
			// The left sibling's max is now the absorbed node's max; its
			// parent slot must say so before anything above is touched.
			rep := representativeOf(left)
			existing := parent.GetSlot(anc.slotIdx - 1)
			existing.KeyOID, existing.InlineKey, existing.InlineNulls = rep.KeyOID, rep.InlineKey, rep.InlineNulls
			parent.SetSlot(anc.slotIdx-1, existing)

			if err := t.writeNode(ntx, left); err != nil {
				return err
			}
			t.unpinNode(leftID)
			t.unpinNode(id)
			t.nodeStore.FreePage(id)

			parent.RemoveSlotAt(anc.slotIdx)
			if err := t.writeNode(ntx, parent); err != nil {
				t.unpinNode(anc.pageID)
				return err
			}
			t.unpinNode(anc.pageID)

			id, n, path = anc.pageID, parent, parentPath
			continue
		}

		rightID := parent.GetSlot(anc.slotIdx + 1).ChildPageID()
		right, err := t.pinNode(rightID)
		if err != nil {
			t.unpinNode(anc.pageID)
			return err
		}
		base := n.InUse()
		for i := 0; i < right.InUse(); i++ {
			if err := n.InsertSlotAt(base+i, right.GetSlot(i)); err != nil {
				t.unpinNode(rightID)
				t.unpinNode(anc.pageID)
				return err
			}
		}
		if n.IsLeaf() {
			n.SetNextLeafPageID(right.NextLeafPageID())
			if nxt := right.NextLeafPageID(); nxt != store.InvalidPageID {
				if err := t.relinkPrev(ntx, nxt, id); err != nil {
					return err
				}
			}
			if t.nodeStore.FileInfo().LastLeafPageID == rightID {
				t.nodeStore.UpdateFileInfo(func(fi *store.FileInfo) { fi.LastLeafPageID = id })
			}
			if err := t.refreshLeafBackPointers(vtx, n, id, base); err != nil {
				return err
			}
		} else {
			for i := base; i < n.InUse(); i++ {
				if err := t.reparentChild(ntx, n.GetSlot(i).ChildPageID(), id); err != nil {
					return err
				}
			}
		}
		rep := representativeOf(n)
		existing := parent.GetSlot(anc.slotIdx)
		existing.KeyOID, existing.InlineKey, existing.InlineNulls = rep.KeyOID, rep.InlineKey, rep.InlineNulls
		parent.SetSlot(anc.slotIdx, existing)

		if err := t.writeNode(ntx, n); err != nil {
			return err
		}
		t.unpinNode(rightID)
		t.nodeStore.FreePage(rightID)

		parent.RemoveSlotAt(anc.slotIdx + 1)
		if err := t.writeNode(ntx, parent); err != nil {
			t.unpinNode(anc.pageID)
			return err
		}
		t.unpinNode(anc.pageID)

		id, n, path = anc.pageID, parent, parentPath
		continue
	}
}

// sameSlotKey reports whether two slots carry the identical key bytes
// (indirect mode: the same key object).
func sameSlotKey(a, b Slot, mode KeyMode) bool {
	if mode == KeyModeIndirect {
		return a.KeyOID == b.KeyOID
	}
	return bytes.Equal(a.InlineKey, b.InlineKey) && bytes.Equal(a.InlineNulls, b.InlineNulls)
}

func (t *Tree) reparentChild(tx store.TxID, childID, newParent store.PageID) error {
	child, err := t.pinNode(childID)
	if err != nil {
		return err
	}
	child.SetParentPageID(newParent)
	err = t.writeNode(tx, child)
	t.unpinNode(childID)
	return err
}

func (t *Tree) relinkPrev(tx store.TxID, id, prev store.PageID) error {
	n, err := t.pinNode(id)
	if err != nil {
		return err
	}
	n.SetPrevLeafPageID(prev)
	err = t.writeNode(tx, n)
	t.unpinNode(id)
	return err
}

// maybeDemoteRoot collapses the root one level when it is an inner node
// left with a single child.
func (t *Tree) maybeDemoteRoot(tx store.TxID, id store.PageID, n *Node) error {
	if n.IsLeaf() || n.InUse() != 1 {
		return nil
	}
	child := n.GetSlot(0).ChildPageID()
	if err := t.reparentChild(tx, child, store.InvalidPageID); err != nil {
		return err
	}
	t.nodeStore.FreePage(id)
	t.nodeStore.UpdateFileInfo(func(fi *store.FileInfo) {
		fi.RootPageID = child
		fi.TreeDepth--
	})
	return nil
}
