package btree

import "errors"

var (
	errCorruptEmptyInner = errors.New("btree: inner node has zero slots")
	errKeyNotFound       = errors.New("btree: key not found")
	errDuplicateKey      = errors.New("btree: duplicate key violates uniqueness")
)
