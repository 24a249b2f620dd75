package query

import (
	"github.com/SimonWaldherr/btreeindex/internal/btree"
)

// readAheadDepth is the bound on the materialized-record queue the
// iterator keeps ahead of the caller.
const readAheadDepth = 4

// Iterator is the façade cursor: it owns the engine's tree iterator, a
// bounded read-ahead queue of materialized rows, and the projection the
// caller asked for. Cancellation is checked on every advance; an aborted
// transaction surfaces Cancelled without further I/O.
type Iterator struct {
	txn   *Txn
	inner *btree.Iterator
	proj  []int
	queue [][]any
	done  bool
}

// NewIterator wraps a positioned engine iterator. projection lists the
// global column indices (keys first, then values) each returned row
// carries; nil means every column.
func NewIterator(txn *Txn, inner *btree.Iterator, numFields int, projection []int) *Iterator {
	if projection == nil {
		projection = make([]int, numFields)
		for i := range projection {
			projection[i] = i
		}
	}
	return &Iterator{txn: txn, inner: inner, proj: projection}
}

// fill pulls rows from the engine into the read-ahead queue.
func (it *Iterator) fill() error {
	for !it.done && len(it.queue) < readAheadDepth {
		_, ok, err := it.inner.Next()
		if err != nil {
			return err
		}
		if !ok {
			it.done = true
			return nil
		}
		row, err := it.inner.Materialize(it.proj)
		if err != nil {
			return err
		}
		it.queue = append(it.queue, row)
	}
	return nil
}

// Next returns the next projected row, or ok=false at the end of the
// result set.
func (it *Iterator) Next() ([]any, bool, error) {
	if err := it.txn.Err(); err != nil {
		return nil, false, err
	}
	if len(it.queue) == 0 {
		if err := it.fill(); err != nil {
			return nil, false, err
		}
		if len(it.queue) == 0 {
			return nil, false, nil
		}
	}
	row := it.queue[0]
	it.queue = it.queue[1:]
	return row, true, nil
}

// Prev steps backward over the result set, re-entering rows Next already
// returned. Prefetched rows are unwound first so the engine cursor and
// the caller's view agree on the current position.
func (it *Iterator) Prev() ([]any, bool, error) {
	if err := it.txn.Err(); err != nil {
		return nil, false, err
	}
	unwind := len(it.queue)
	if it.done {
		// An exhausted engine cursor sits one virtual step past the last
		// prefetched row; the first Prev only steps back onto it.
		unwind++
	}
	for i := 0; i < unwind; i++ {
		if _, _, err := it.inner.Prev(); err != nil {
			return nil, false, err
		}
	}
	it.queue = it.queue[:0]
	it.done = false

	_, ok, err := it.inner.Prev()
	if err != nil || !ok {
		return nil, ok, err
	}
	row, err := it.inner.Materialize(it.proj)
	if err != nil {
		return nil, false, err
	}
	return row, true, nil
}
