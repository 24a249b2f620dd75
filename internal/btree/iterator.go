package btree

import (
	"fmt"

	"github.com/SimonWaldherr/btreeindex/internal/codec"
	"github.com/SimonWaldherr/btreeindex/internal/errs"
	"github.com/SimonWaldherr/btreeindex/internal/objectid"
	"github.com/SimonWaldherr/btreeindex/internal/store"
)

// ScanDir is the direction a search iterates in.
type ScanDir uint8

const (
	Forward ScanDir = iota
	Reverse
)

// Iterator is the stateful cursor over one compiled search: the current
// (leaf page id, slot index), the residual predicate, and the scan
// direction. It pins at most one leaf page at a time, re-pinning
// on every advance.
type Iterator struct {
	t         *Tree
	plan      scanPlan
	dir       ScanDir
	leafID    store.PageID
	slot      int
	pending   bool // the current position is the first candidate, not yet returned
	exhausted bool

	curKey      []any
	curValueOID objectid.OID
}

// Search resolves a predicate into a positioned iterator. The iterator
// yields nothing until the first Next call.
func (t *Tree) Search(p Predicate, dir ScanDir) (*Iterator, error) {
	plan, err := t.compile(p)
	if err != nil {
		return nil, err
	}
	return t.startScan(plan, dir)
}

// Fetch yields every record whose composite key starts with keyPrefix.
func (t *Tree) Fetch(keyPrefix []any, dir ScanDir) (*Iterator, error) {
	plan, err := t.fetchPlan(keyPrefix)
	if err != nil {
		return nil, err
	}
	return t.startScan(plan, dir)
}

// Count runs the predicate to exhaustion and returns the number of
// matching records.
func (t *Tree) Count(p Predicate) (int, error) {
	it, err := t.Search(p, Forward)
	if err != nil {
		return 0, err
	}
	n := 0
	for {
		_, ok, err := it.Next()
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		n++
	}
	return n, nil
}

func (t *Tree) startScan(plan scanPlan, dir ScanDir) (*Iterator, error) {
	it := &Iterator{t: t, plan: plan, dir: dir}
	if err := it.seekStart(); err != nil {
		return nil, err
	}
	return it, nil
}

// seekStart positions the cursor on the first candidate slot: the lower
// boundary's locate result going forward, the upper boundary's going in
// reverse, or the chain extremes when that side is unbounded.
func (it *Iterator) seekStart() error {
	t := it.t
	fi := t.nodeStore.FileInfo()

	if it.dir == Forward {
		if !it.plan.hasLower {
			it.leafID, it.slot = fi.FirstLeafPageID, 0
			it.pending = true
			return it.skipStrictBound()
		}
		res, err := t.descend(it.plan.lower, biasLower)
		if err != nil {
			return err
		}
		it.leafID, it.slot = res.leafID, res.slot
		t.unpinNode(res.leafID)
		it.pending = true
		return it.skipStrictBound()
	}

	if !it.plan.hasUpper {
		it.leafID = fi.LastLeafPageID
		leaf, err := t.pinNode(it.leafID)
		if err != nil {
			return err
		}
		it.slot = leaf.InUse() - 1
		t.unpinNode(it.leafID)
		it.pending = true
		return it.skipStrictBound()
	}
	res, err := t.descend(it.plan.upper, biasUpper)
	if err != nil {
		return err
	}
	it.leafID = res.leafID
	if res.matched {
		it.slot = res.slot
	} else {
		// res.slot is the insert position: the first slot past the upper
		// boundary, so the scan starts one before it.
		it.slot = res.slot - 1
	}
	t.unpinNode(res.leafID)
	it.pending = true
	return it.skipStrictBound()
}

// skipStrictBound walks the cursor past any slots a strict start boundary
// excludes (lower bound going forward, upper going in reverse), leaving
// pending set on the first admissible position.
func (it *Iterator) skipStrictBound() error {
	strict := it.plan.lowerStrict
	bound := it.plan.lower
	if it.dir == Reverse {
		strict = it.plan.upperStrict
		bound = it.plan.upper
	}
	if !strict {
		return nil
	}
	fields := it.t.schema.Keys[:len(bound)]
	for {
		key, _, ok, err := it.slotAt(it.leafID, it.slot)
		if err != nil {
			return err
		}
		if !ok {
			if moved, err := it.step(); err != nil {
				return err
			} else if !moved {
				it.exhausted = true
				return nil
			}
			continue
		}
		if codec.CompareKeyTuple(fields, key[:len(bound)], bound) != 0 {
			return nil
		}
		if moved, err := it.step(); err != nil {
			return err
		} else if !moved {
			it.exhausted = true
			return nil
		}
	}
}

// slotAt decodes the key and value OID at (leafID, slot), reporting
// ok=false when the slot index is outside the leaf's in-use range.
func (it *Iterator) slotAt(leafID store.PageID, slot int) ([]any, objectid.OID, bool, error) {
	if leafID == store.InvalidPageID || slot < 0 {
		return nil, objectid.Invalid, false, nil
	}
	leaf, err := it.t.pinNode(leafID)
	if err != nil {
		return nil, objectid.Invalid, false, err
	}
	defer it.t.unpinNode(leafID)
	if slot >= leaf.InUse() {
		return nil, objectid.Invalid, false, nil
	}
	s := leaf.GetSlot(slot)
	key, err := it.t.decodeSlotKey(s)
	if err != nil {
		return nil, objectid.Invalid, false, err
	}
	return key, s.Pointer, true, nil
}

// step moves one slot along the scan direction, following the leaf chain
// when the cursor walks off either end. Returns false when there is no
// further leaf.
func (it *Iterator) step() (bool, error) {
	delta := 1
	if it.dir == Reverse {
		delta = -1
	}
	return it.move(delta)
}

// move advances the cursor delta slots (+1 toward larger keys, -1 toward
// smaller), skipping empty leaves.
func (it *Iterator) move(delta int) (bool, error) {
	t := it.t
	for {
		it.slot += delta
		leaf, err := t.pinNode(it.leafID)
		if err != nil {
			return false, err
		}
		inUse := leaf.InUse()
		var nextID store.PageID
		if delta > 0 && it.slot >= inUse {
			nextID = leaf.NextLeafPageID()
		} else if delta < 0 && it.slot < 0 {
			nextID = leaf.PrevLeafPageID()
		} else {
			t.unpinNode(it.leafID)
			return true, nil
		}
		t.unpinNode(it.leafID)
		if nextID == store.InvalidPageID {
			return false, nil
		}
		it.leafID = nextID
		if delta > 0 {
			it.slot = -1
		} else {
			nl, err := t.pinNode(nextID)
			if err != nil {
				return false, err
			}
			it.slot = nl.InUse()
			t.unpinNode(nextID)
		}
	}
}

// violatesEnd reports whether key lies past the boundary that terminates
// the scan in its own direction.
func (it *Iterator) violatesEnd(key []any) bool {
	if it.dir == Forward {
		if !it.plan.hasUpper {
			return false
		}
		fields := it.t.schema.Keys[:len(it.plan.upper)]
		c := codec.CompareKeyTuple(fields, key[:len(it.plan.upper)], it.plan.upper)
		return c > 0 || (c == 0 && it.plan.upperStrict)
	}
	if !it.plan.hasLower {
		return false
	}
	fields := it.t.schema.Keys[:len(it.plan.lower)]
	c := codec.CompareKeyTuple(fields, key[:len(it.plan.lower)], it.plan.lower)
	return c < 0 || (c == 0 && it.plan.lowerStrict)
}

// violatesStart reports whether key lies before the scan's own starting
// boundary, only reachable by stepping backward with Prev.
func (it *Iterator) violatesStart(key []any) bool {
	if it.dir == Forward {
		if !it.plan.hasLower {
			return false
		}
		fields := it.t.schema.Keys[:len(it.plan.lower)]
		c := codec.CompareKeyTuple(fields, key[:len(it.plan.lower)], it.plan.lower)
		return c < 0 || (c == 0 && it.plan.lowerStrict)
	}
	if !it.plan.hasUpper {
		return false
	}
	fields := it.t.schema.Keys[:len(it.plan.upper)]
	c := codec.CompareKeyTuple(fields, key[:len(it.plan.upper)], it.plan.upper)
	return c > 0 || (c == 0 && it.plan.upperStrict)
}

func (it *Iterator) passesResidual(key []any) bool {
	for _, f := range it.plan.residual {
		if !f(key) {
			return false
		}
	}
	return true
}

// Next returns the value OID of the next matching record in the scan
// direction, or ok=false at the end of the range.
func (it *Iterator) Next() (objectid.OID, bool, error) {
	if it.exhausted {
		return objectid.Invalid, false, nil
	}
	for {
		if it.pending {
			it.pending = false
		} else {
			moved, err := it.step()
			if err != nil {
				return objectid.Invalid, false, err
			}
			if !moved {
				it.exhausted = true
				return objectid.Invalid, false, nil
			}
		}
		key, valueOID, ok, err := it.slotAt(it.leafID, it.slot)
		if err != nil {
			return objectid.Invalid, false, err
		}
		if !ok {
			// Off-range slot inside a live leaf (e.g. an empty root leaf):
			// keep stepping; step handles chain ends.
			moved, err := it.step()
			if err != nil {
				return objectid.Invalid, false, err
			}
			if !moved {
				it.exhausted = true
				return objectid.Invalid, false, nil
			}
			it.pending = true
			continue
		}
		if it.violatesEnd(key) {
			it.exhausted = true
			return objectid.Invalid, false, nil
		}
		if !it.passesResidual(key) {
			continue
		}
		it.curKey = key
		it.curValueOID = valueOID
		return valueOID, true, nil
	}
}

// Prev steps the cursor against the scan direction, re-entering records
// Next already returned. Hitting the scan's own starting boundary returns
// ok=false without exhausting the iterator and leaves the cursor on the
// first record, so a later Next returns the record after it.
func (it *Iterator) Prev() (objectid.OID, bool, error) {
	if it.exhausted {
		// A Prev after the scan ran off its end re-enters the range from
		// the last record.
		it.exhausted = false
		it.pending = true
	}
	delta := -1
	if it.dir == Reverse {
		delta = 1
	}
	saveLeaf, saveSlot, savePending := it.leafID, it.slot, it.pending
	for {
		if it.pending {
			it.pending = false
		} else {
			moved, err := it.move(delta)
			if err != nil {
				return objectid.Invalid, false, err
			}
			if !moved {
				it.leafID, it.slot, it.pending = saveLeaf, saveSlot, savePending
				return objectid.Invalid, false, nil
			}
		}
		key, valueOID, ok, err := it.slotAt(it.leafID, it.slot)
		if err != nil {
			return objectid.Invalid, false, err
		}
		if !ok {
			moved, err := it.move(delta)
			if err != nil {
				return objectid.Invalid, false, err
			}
			if !moved {
				it.leafID, it.slot, it.pending = saveLeaf, saveSlot, savePending
				return objectid.Invalid, false, nil
			}
			it.pending = true
			continue
		}
		if it.violatesStart(key) {
			it.leafID, it.slot, it.pending = saveLeaf, saveSlot, savePending
			return objectid.Invalid, false, nil
		}
		if it.violatesEnd(key) || !it.passesResidual(key) {
			continue
		}
		it.curKey = key
		it.curValueOID = valueOID
		return valueOID, true, nil
	}
}

// Key returns the composite key of the record the cursor last returned.
func (it *Iterator) Key() []any { return it.curKey }

// ValueOID returns the value OID of the record the cursor last returned.
func (it *Iterator) ValueOID() objectid.OID { return it.curValueOID }

// Materialize decodes the projected columns of the record the cursor last
// returned, keys first then values by global column index. Out-of-band
// value fields are read only when projected.
func (it *Iterator) Materialize(projection []int) ([]any, error) {
	if it.curKey == nil {
		return nil, errs.New("btree.Materialize", errs.KindBadArgument, fmt.Errorf("no current record"))
	}
	t := it.t
	K := t.numKeys()

	needValues := false
	include := make(map[int]bool, len(projection))
	for _, col := range projection {
		if col < 0 || col >= t.schema.NumFields() {
			return nil, errs.New("btree.Materialize", errs.KindBadArgument, fmt.Errorf("column %d out of range", col))
		}
		include[col] = true
		if col >= K {
			needValues = true
		}
	}

	var values []any
	if needValues {
		wanted := func(i int) bool { return include[K+i] }
		v, _, err := t.readValueObjectProj(it.curValueOID, wanted)
		if err != nil {
			return nil, err
		}
		values = v
	}

	out := make([]any, len(projection))
	for i, col := range projection {
		if col < K {
			out[i] = it.curKey[col]
		} else {
			out[i] = values[col-K]
		}
	}
	return out, nil
}

// Record materializes the full record at the cursor: key fields followed
// by value fields.
func (it *Iterator) Record() ([]any, error) {
	proj := make([]int, it.t.schema.NumFields())
	for i := range proj {
		proj[i] = i
	}
	return it.Materialize(proj)
}
