package btree

import (
	"fmt"

	"github.com/SimonWaldherr/btreeindex/internal/codec"
	"github.com/SimonWaldherr/btreeindex/internal/errs"
	"github.com/SimonWaldherr/btreeindex/internal/store"
)

// Update rewrites the record whose composite key equals match, applying
// changes keyed by global column index (keys first, then values).
// Value-only changes rewrite the value object (in place
// when the new encoding fits); a key change that does not move the key's
// sort position rewrites the key in place; a key change that moves it is
// executed as remove+insert reusing the existing value object.
func (t *Tree) Update(match []any, changes map[int]any) error {
	const op = "btree.Update"
	if len(match) != t.numKeys() {
		return errs.New(op, errs.KindBadArgument, fmt.Errorf("expected %d key fields, got %d", t.numKeys(), len(match)))
	}
	if len(changes) == 0 {
		return errs.New(op, errs.KindBadArgument, fmt.Errorf("no changed columns"))
	}
	K := t.numKeys()
	keyChanges := make(map[int]any)
	valueChanges := make(map[int]any)
	for col, v := range changes {
		switch {
		case col >= 0 && col < K:
			keyChanges[col] = v
		case col >= K && col < t.schema.NumFields():
			valueChanges[col-K] = v
		default:
			return errs.New(op, errs.KindBadArgument, fmt.Errorf("unknown column index %d", col))
		}
	}

	ntx, err := t.nodeStore.BeginTx()
	if err != nil {
		return errs.New(op, errs.KindIOError, err)
	}
	vtx, err := t.valueStore.BeginTx()
	if err != nil {
		t.nodeStore.AbortTx(ntx)
		return errs.New(op, errs.KindIOError, err)
	}
	abort := func() {
		t.nodeStore.AbortTx(ntx)
		t.valueStore.AbortTx(vtx)
	}

	finalKey, err := t.applyKeyChanges(ntx, vtx, match, keyChanges)
	if err != nil {
		abort()
		return err
	}

	if len(valueChanges) > 0 {
		if err := t.applyValueChanges(ntx, vtx, finalKey, valueChanges); err != nil {
			abort()
			return err
		}
	}

	if err := t.nodeStore.CommitTx(ntx); err != nil {
		abort()
		return err
	}
	return t.valueStore.CommitTx(vtx)
}

// applyKeyChanges rewrites the key side of the record at match and returns
// the key the record ends up under.
func (t *Tree) applyKeyChanges(ntx, vtx store.TxID, match []any, keyChanges map[int]any) ([]any, error) {
	const op = "btree.Update"
	if len(keyChanges) == 0 {
		// Still verify the record exists so a pure value update on a
		// missing key surfaces EntryNotFound, not a silent no-op.
		leafID, _, _, err := t.lookupExact(match)
		if err != nil {
			return nil, err
		}
		t.unpinLookup(leafID)
		return match, nil
	}

	newKey := append([]any{}, match...)
	for col, v := range keyChanges {
		newKey[col] = v
	}

	if codec.CompareKeyTuple(t.schema.Keys, match, newKey) == 0 {
		// Same sort position: rewrite the key object / inline key in place.
		leafID, leaf, idx, err := t.lookupExact(match)
		if err != nil {
			return nil, err
		}
		s := leaf.GetSlot(idx)
		if t.mode == KeyModeIndirect {
			if err := t.freeKeyObject(ntx, s.KeyOID); err != nil {
				t.unpinLookup(leafID)
				return nil, err
			}
			oid, err := t.writeKeyObject(ntx, newKey)
			if err != nil {
				t.unpinLookup(leafID)
				return nil, err
			}
			s.KeyOID = oid
		} else {
			nulls, kb, err := encodeInlineKey(t.schema.Keys, newKey)
			if err != nil {
				t.unpinLookup(leafID)
				return nil, errs.New(op, errs.KindBadArgument, err)
			}
			s.InlineNulls, s.InlineKey = nulls, kb
		}
		leaf.SetSlot(idx, s)
		if err := t.writeNode(ntx, leaf); err != nil {
			t.unpinLookup(leafID)
			return nil, err
		}
		// Inner-node representatives alias the leaf's key object, so a
		// last-slot rewrite must be propagated before the old object's OID
		// goes stale in any ancestor.
		if t.mode == KeyModeIndirect && idx == leaf.InUse()-1 {
			path, _, perr := t.descendPath(newKey, biasLower)
			if perr != nil {
				t.unpinLookup(leafID)
				return nil, perr
			}
			if perr := t.propagateRepresentativeUpdate(ntx, path, leafID); perr != nil {
				t.unpinLookup(leafID)
				return nil, perr
			}
		}
		t.unpinLookup(leafID)
		return newKey, nil
	}

	// The key moves: expunge then re-insert under the new key, reusing the
	// value object so its OID (and the bytes behind it) stay put.
	valueOID, err := t.removeRecord(ntx, vtx, match, false)
	if err != nil {
		return nil, err
	}
	if err := t.insertRecord(ntx, vtx, newKey, valueOID, t.unique); err != nil {
		return nil, err
	}
	return newKey, nil
}

// applyValueChanges reads the record's current values, overlays the
// changed columns, and rewrites the value object, fixing the leaf slot's
// value OID when the rewrite had to relocate the object.
func (t *Tree) applyValueChanges(ntx, vtx store.TxID, key []any, valueChanges map[int]any) error {
	leafID, leaf, idx, err := t.lookupExact(key)
	if err != nil {
		return err
	}
	s := leaf.GetSlot(idx)
	oldOID := s.Pointer

	values, bp, err := t.readValueObject(oldOID)
	if err != nil {
		t.unpinLookup(leafID)
		return err
	}
	for col, v := range valueChanges {
		values[col] = v
	}

	newOID, err := t.rewriteValueObject(vtx, oldOID, values)
	if err != nil {
		t.unpinLookup(leafID)
		return err
	}
	if newOID != oldOID {
		s.Pointer = newOID
		leaf.SetSlot(idx, s)
		if err := t.writeNode(ntx, leaf); err != nil {
			t.unpinLookup(leafID)
			return err
		}
		if err := t.setValueBackPointer(vtx, newOID, bp); err != nil {
			t.unpinLookup(leafID)
			return err
		}
	}
	t.unpinLookup(leafID)
	return nil
}

// lookupExact locates the leaf slot holding the record with the full
// composite key keyValues, returning the pinned leaf. The caller must
// release it with unpinLookup.
func (t *Tree) lookupExact(keyValues []any) (store.PageID, *Node, int, error) {
	res, err := t.descend(keyValues, biasLower)
	if err != nil {
		return store.InvalidPageID, nil, 0, err
	}
	if !res.matched {
		t.unpinNode(res.leafID)
		return store.InvalidPageID, nil, 0, errs.New("btree.Update", errs.KindEntryNotFound, errKeyNotFound)
	}
	return res.leafID, res.leaf, res.slot, nil
}

func (t *Tree) unpinLookup(leafID store.PageID) {
	if leafID != store.InvalidPageID {
		t.unpinNode(leafID)
	}
}
