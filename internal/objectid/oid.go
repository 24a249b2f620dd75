// Package objectid defines the 64-bit object identifier that names a
// record fragment anywhere in the file: a page id plus an area id within
// that page. It also stamps a file-instance identifier used to correlate
// log lines across concurrent writers.
package objectid

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// OID names an area on a page: page_id (4B), area_id (2B), reserved (2B).
// The reserved bytes keep the wire width at a full 8 bytes so a future
// revision can widen area_id without a format bump.
type OID uint64

// Invalid is the null OID; no page 0 area is ever addressed this way
// since page 0 of the node store is File Info, not a leaf/value page.
const Invalid OID = 0

// Pack builds an OID from a page id and area id.
func Pack(pageID uint32, areaID uint16) OID {
	return OID(uint64(pageID)<<32 | uint64(areaID)<<16)
}

// PageID extracts the page id component.
func (o OID) PageID() uint32 { return uint32(o >> 32) }

// AreaID extracts the area id component.
func (o OID) AreaID() uint16 { return uint16(o >> 16) }

// Valid reports whether the OID names a real location.
func (o OID) Valid() bool { return o != Invalid }

func (o OID) String() string {
	return fmt.Sprintf("oid(page=%d,area=%d)", o.PageID(), o.AreaID())
}

// MarshalOID writes o as 8 bytes little-endian into buf.
func MarshalOID(o OID, buf []byte) {
	binary.LittleEndian.PutUint64(buf, uint64(o))
}

// UnmarshalOID reads an OID from the first 8 bytes of buf.
func UnmarshalOID(buf []byte) OID {
	return OID(binary.LittleEndian.Uint64(buf))
}

// InstanceID is a per-file identity stamped at CreateFile time so log
// lines and fault-injection traces from concurrent writers against the
// same open file can be correlated even across process restarts that
// reopen the same path.
type InstanceID uuid.UUID

// NewInstanceID mints a fresh file-instance identifier.
func NewInstanceID() InstanceID {
	return InstanceID(uuid.New())
}

func (id InstanceID) String() string { return uuid.UUID(id).String() }

// Bytes returns the 16-byte representation.
func (id InstanceID) Bytes() []byte {
	u := uuid.UUID(id)
	return u[:]
}

// ParseInstanceID parses a textual UUID into an InstanceID.
func ParseInstanceID(s string) (InstanceID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return InstanceID{}, err
	}
	return InstanceID(u), nil
}

// TxCorrelation is a per-transaction identifier used purely for log
// correlation; it has no bearing on durability or isolation (the engine
// keeps no undo log of its own).
type TxCorrelation uuid.UUID

// NewTxCorrelation mints a fresh per-transaction correlation id.
func NewTxCorrelation() TxCorrelation {
	return TxCorrelation(uuid.New())
}

func (c TxCorrelation) String() string { return uuid.UUID(c).String() }
