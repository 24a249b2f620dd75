package btree

import (
	"github.com/SimonWaldherr/btreeindex/internal/codec"
	"github.com/SimonWaldherr/btreeindex/internal/errs"
	"github.com/SimonWaldherr/btreeindex/internal/store"
)

// locateBias picks which duplicate-run boundary a descent resolves to
// when the target key exactly matches more than one representative or
// leaf slot: Lower finds the first duplicate (used by ascending search
// and fetch-by-key), Upper finds the last (used by insert's target leaf,
// so a new record lands after the last duplicate, and by descending
// search so a reverse scan starts on the final duplicate).
type locateBias int

const (
	biasLower locateBias = iota
	biasUpper
)

// locateResult is the outcome of a descent: the leaf it landed on and the
// slot index where boundary is, or would be inserted.
type locateResult struct {
	leaf    *Node
	leafID  store.PageID
	slot    int
	matched bool
}

// descend walks from the root to a leaf: at each
// inner node, find the child whose subtree could contain boundary (the
// smallest representative >= boundary under the composite order), biased
// per locateBias when several consecutive slots share a representative.
// boundary may be a prefix of the full composite key (length <= K);
// comparisons only consider the first len(boundary) key fields.
func (t *Tree) descend(boundary []any, bias locateBias) (locateResult, error) {
	fields := t.schema.Keys[:len(boundary)]

	id := t.nodeStore.FileInfo().RootPageID
	for {
		n, err := t.pinNode(id)
		if err != nil {
			return locateResult{}, err
		}
		if n.IsLeaf() {
			slot, matched, err := t.locateInLeaf(n, fields, boundary, bias)
			if err != nil {
				t.unpinNode(id)
				return locateResult{}, err
			}
			return locateResult{leaf: n, leafID: id, slot: slot, matched: matched}, nil
		}

		idx, err := t.locateChildIndex(n, fields, boundary, bias)
		if err != nil {
			t.unpinNode(id)
			return locateResult{}, err
		}
		child := n.GetSlot(idx).ChildPageID()
		t.unpinNode(id)
		id = child
	}
}

// locateChildIndex finds the inner-node slot whose child to descend into.
func (t *Tree) locateChildIndex(n *Node, fields []codec.FieldDef, boundary []any, bias locateBias) (int, error) {
	count := n.InUse()
	if count == 0 {
		return 0, errs.New("btree.locate", errs.KindCorruptFile, errCorruptEmptyInner)
	}
	lo, hi := 0, count-1
	idx := count - 1
	for lo <= hi {
		mid := (lo + hi) / 2
		rep, err := t.keyOf(n, mid)
		if err != nil {
			return 0, err
		}
		c := codec.CompareKeyTuple(fields, rep[:len(boundary)], boundary)
		if c >= 0 {
			idx = mid
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}
	if bias == biasUpper {
		for idx < count-1 {
			rep, err := t.keyOf(n, idx)
			if err != nil {
				return 0, err
			}
			repNext, err := t.keyOf(n, idx+1)
			if err != nil {
				return 0, err
			}
			if codec.CompareKeyTuple(fields, rep[:len(boundary)], boundary) == 0 &&
				codec.CompareKeyTuple(fields, repNext[:len(boundary)], boundary) == 0 {
				idx++
				continue
			}
			break
		}
	}
	return idx, nil
}

// ancestor records one step of a root-to-leaf descent: the inner node
// visited and the slot index whose child was followed. Insert/Expunge walk
// this list bottom-up to propagate splits, merges, and representative-key
// rewrites.
type ancestor struct {
	pageID  store.PageID
	slotIdx int
}

// descendPath walks root-to-leaf like descend, but collects every inner
// node visited so callers can propagate structural changes back up without
// re-descending the tree.
func (t *Tree) descendPath(boundary []any, bias locateBias) (path []ancestor, leafID store.PageID, err error) {
	fields := t.schema.Keys[:len(boundary)]
	id := t.nodeStore.FileInfo().RootPageID
	for {
		n, err := t.pinNode(id)
		if err != nil {
			return nil, 0, err
		}
		if n.IsLeaf() {
			t.unpinNode(id)
			return path, id, nil
		}
		idx, err := t.locateChildIndex(n, fields, boundary, bias)
		if err != nil {
			t.unpinNode(id)
			return nil, 0, err
		}
		child := n.GetSlot(idx).ChildPageID()
		path = append(path, ancestor{pageID: id, slotIdx: idx})
		t.unpinNode(id)
		id = child
	}
}

// locateInLeaf binary-searches a leaf's slots for boundary, returning the
// match/insertion slot under the requested bias.
func (t *Tree) locateInLeaf(n *Node, fields []codec.FieldDef, boundary []any, bias locateBias) (int, bool, error) {
	count := n.InUse()
	lo, hi := 0, count
	for lo < hi {
		mid := (lo + hi) / 2
		k, err := t.keyOf(n, mid)
		if err != nil {
			return 0, false, err
		}
		c := codec.CompareKeyTuple(fields, k[:len(boundary)], boundary)
		if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	// lo is now the first slot whose key >= boundary (lower_bound).
	matched := lo < count
	if matched {
		k, err := t.keyOf(n, lo)
		if err != nil {
			return 0, false, err
		}
		matched = codec.CompareKeyTuple(fields, k[:len(boundary)], boundary) == 0
	}
	if bias == biasLower || !matched {
		return lo, matched, nil
	}
	// biasUpper with a match: advance over every further slot whose key
	// still equals boundary on the given prefix, landing on the last
	// duplicate.
	i := lo
	for i < count {
		k, err := t.keyOf(n, i)
		if err != nil {
			return 0, false, err
		}
		if codec.CompareKeyTuple(fields, k[:len(boundary)], boundary) != 0 {
			break
		}
		i++
	}
	return i - 1, true, nil
}
