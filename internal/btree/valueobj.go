package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/SimonWaldherr/btreeindex/internal/codec"
	"github.com/SimonWaldherr/btreeindex/internal/objectid"
	"github.com/SimonWaldherr/btreeindex/internal/oob"
	"github.com/SimonWaldherr/btreeindex/internal/store"
)

// backPointerSize is the (leaf_page_id, slot_index) pair every value
// object carries so rebalancing can rewrite the owning leaf's value OID
// when the object itself is relocated.
const backPointerSize = 6 // 4-byte page id + 2-byte slot index

type backPointer struct {
	LeafPageID store.PageID
	SlotIndex  uint16
}

func marshalBackPointer(b backPointer, buf []byte) {
	binary.LittleEndian.PutUint32(buf, uint32(b.LeafPageID))
	binary.LittleEndian.PutUint16(buf[4:], b.SlotIndex)
}

func unmarshalBackPointer(buf []byte) backPointer {
	return backPointer{
		LeafPageID: store.PageID(binary.LittleEndian.Uint32(buf)),
		SlotIndex:  binary.LittleEndian.Uint16(buf[4:]),
	}
}

type valuePager struct{ ps *store.PageStore }

func (v valuePager) AllocPage() (store.PageID, []byte)        { return v.ps.AllocPage() }
func (v valuePager) ReadPage(id store.PageID) ([]byte, error) { return v.ps.ReadPage(id) }
func (v valuePager) UnpinPage(id store.PageID)                { v.ps.UnpinPage(id) }
func (v valuePager) WritePage(tx store.TxID, id store.PageID, b []byte) error {
	return v.ps.WritePage(tx, id, b)
}
func (v valuePager) FreePage(id store.PageID) { v.ps.FreePage(id) }
func (v valuePager) PageSize() int            { return v.ps.PageSize() }

// buildValuePlacements resolves out-of-band placement for every variable
// value field, materializing their chains and OIDs before the value
// object itself is allocated.
func (t *Tree) buildValuePlacements(tx store.TxID, values []any) ([]codec.FieldPlacement, error) {
	placements := make([]codec.FieldPlacement, len(t.schema.Values))
	threshold := codec.OutsideThreshold(t.valueStore.PageSize())
	pager := valuePager{t.valueStore}

	for i, f := range t.schema.Values {
		if values[i] == nil {
			placements[i] = codec.FieldPlacement{Null: true}
			continue
		}
		switch f.Type {
		case codec.TypeString, codec.TypeBytes, codec.TypeText:
			sz, err := codec.ArchiveSize(f.Type, values[i])
			if err != nil {
				return nil, fmt.Errorf("btree: value field %q: %w", f.Name, err)
			}
			if sz > threshold {
				raw, err := toRawBytes(f.Type, values[i])
				if err != nil {
					return nil, err
				}
				oid, err := oob.Write(pager, tx, raw)
				if err != nil {
					return nil, err
				}
				buf := make([]byte, 8)
				objectid.MarshalOID(oid, buf)
				placements[i] = codec.FieldPlacement{OutOfBand: true, Value: buf}
				continue
			}
		case codec.TypeArray:
			elems, _ := values[i].([]any)
			sz, err := codec.ArchiveSizeArray(f.ElemType, elems)
			if err != nil {
				return nil, fmt.Errorf("btree: value field %q: %w", f.Name, err)
			}
			if sz > threshold {
				body := make([]byte, sz)
				if _, err := codec.WriteArray(body, f.ElemType, elems); err != nil {
					return nil, err
				}
				oid, err := oob.Write(pager, tx, body)
				if err != nil {
					return nil, err
				}
				buf := make([]byte, 8)
				objectid.MarshalOID(oid, buf)
				placements[i] = codec.FieldPlacement{OutOfBand: true, Value: buf}
				continue
			}
		}
		placements[i] = codec.FieldPlacement{Value: values[i]}
	}
	return placements, nil
}

// writeValueObject allocates a fresh value object with a zeroed (not yet
// known) back-pointer; the caller fills it in once the leaf slot is
// known.
func (t *Tree) writeValueObject(tx store.TxID, values []any) (objectid.OID, error) {
	placements, err := t.buildValuePlacements(tx, values)
	if err != nil {
		return objectid.Invalid, err
	}
	tuple, err := codec.EncodeTuple(t.schema.Values, placements)
	if err != nil {
		return objectid.Invalid, err
	}
	body := make([]byte, backPointerSize+len(tuple))
	copy(body[backPointerSize:], tuple)
	return t.allocValueArea(tx, body)
}

func (t *Tree) allocValueArea(tx store.TxID, body []byte) (objectid.OID, error) {
	if t.curValuePage != store.InvalidPageID {
		buf, err := t.valueStore.ReadPage(t.curValuePage)
		if err == nil {
			ap := store.WrapAreaPage(buf)
			if ap.FreeSpace() >= len(body) {
				areaID, aerr := ap.AllocateArea(body)
				if aerr == nil {
					t.valueStore.UnpinPage(t.curValuePage)
					if werr := t.valueStore.WritePage(tx, t.curValuePage, ap.Bytes()); werr != nil {
						return objectid.Invalid, werr
					}
					return objectid.Pack(uint32(t.curValuePage), uint16(areaID)), nil
				}
			}
			t.valueStore.UnpinPage(t.curValuePage)
		}
	}
	pid, buf := t.valueStore.AllocPage()
	ap := store.InitAreaPage(buf, store.PageTypeValue, pid)
	areaID, err := ap.AllocateArea(body)
	if err != nil {
		t.valueStore.FreePage(pid)
		return objectid.Invalid, fmt.Errorf("btree: value object too large for an empty page: %w", err)
	}
	if err := t.valueStore.WritePage(tx, pid, ap.Bytes()); err != nil {
		return objectid.Invalid, err
	}
	t.valueStore.UnpinPage(pid)
	t.curValuePage = pid
	return objectid.Pack(uint32(pid), uint16(areaID)), nil
}

// setValueBackPointer rewrites the (leaf_page_id, slot_index) header of
// the value object at oid in place; the header is fixed-size so this
// never requires relocating the object.
func (t *Tree) setValueBackPointer(tx store.TxID, oid objectid.OID, bp backPointer) error {
	pid := store.PageID(oid.PageID())
	buf, err := t.valueStore.ReadPage(pid)
	if err != nil {
		return err
	}
	ap := store.WrapAreaPage(buf)
	area := ap.AreaBytes(store.AreaID(oid.AreaID()))
	if area == nil {
		t.valueStore.UnpinPage(pid)
		return fmt.Errorf("btree: value object %v is free", oid)
	}
	marshalBackPointer(bp, area[:backPointerSize])
	t.valueStore.UnpinPage(pid)
	return t.valueStore.WritePage(tx, pid, ap.Bytes())
}

// readValueObject decodes the value tuple and back-pointer at oid,
// dereferencing out-of-band fields.
func (t *Tree) readValueObject(oid objectid.OID) ([]any, backPointer, error) {
	return t.readValueObjectProj(oid, func(int) bool { return true })
}

// readValueObjectProj decodes the value tuple at oid, dereferencing an
// out-of-band field only when wanted reports its index projected; other
// out-of-band fields decode to nil so a projection never pays their I/O.
func (t *Tree) readValueObjectProj(oid objectid.OID, wanted func(i int) bool) ([]any, backPointer, error) {
	buf, err := t.valueStore.ReadPage(store.PageID(oid.PageID()))
	if err != nil {
		return nil, backPointer{}, err
	}
	ap := store.WrapAreaPage(buf)
	area := ap.AreaBytes(store.AreaID(oid.AreaID()))
	t.valueStore.UnpinPage(store.PageID(oid.PageID()))
	if area == nil {
		return nil, backPointer{}, fmt.Errorf("btree: value object %v is free", oid)
	}
	bp := unmarshalBackPointer(area[:backPointerSize])

	placements, err := codec.DecodeTuple(t.schema.Values, area[backPointerSize:])
	if err != nil {
		return nil, backPointer{}, err
	}
	pager := valuePager{t.valueStore}
	out := make([]any, len(t.schema.Values))
	for i, p := range placements {
		f := t.schema.Values[i]
		switch {
		case p.Null:
			out[i] = nil
		case p.OutOfBand:
			if !wanted(i) {
				out[i] = nil
				continue
			}
			refOID := objectid.UnmarshalOID(p.Value.([]byte))
			raw, err := oob.Read(pager, refOID)
			if err != nil {
				return nil, backPointer{}, err
			}
			switch f.Type {
			case codec.TypeBytes:
				out[i] = raw
			case codec.TypeArray:
				elems, _, err := codec.ReadArray(raw, f.ElemType)
				if err != nil {
					return nil, backPointer{}, err
				}
				out[i] = elems
			default:
				out[i] = string(raw)
			}
		default:
			out[i] = p.Value
		}
	}
	return out, bp, nil
}

// freeValueObject releases a value object's area and any out-of-band
// chains its fields reference.
func (t *Tree) freeValueObject(tx store.TxID, oid objectid.OID) error {
	pid := store.PageID(oid.PageID())
	buf, err := t.valueStore.ReadPage(pid)
	if err != nil {
		return err
	}
	ap := store.WrapAreaPage(buf)
	area := ap.AreaBytes(store.AreaID(oid.AreaID()))
	if area == nil {
		t.valueStore.UnpinPage(pid)
		return nil
	}
	placements, derr := codec.DecodeTuple(t.schema.Values, area[backPointerSize:])
	if derr == nil {
		pager := valuePager{t.valueStore}
		for _, p := range placements {
			if p.OutOfBand {
				refOID := objectid.UnmarshalOID(p.Value.([]byte))
				_ = oob.Free(pager, refOID)
			}
		}
	}
	_ = ap.FreeArea(store.AreaID(oid.AreaID()))
	t.valueStore.UnpinPage(pid)
	return t.valueStore.WritePage(tx, pid, ap.Bytes())
}

// freeOutOfBandRefs releases every out-of-band chain the tuple bytes of
// the value object at oid reference, leaving the area itself in place.
func (t *Tree) freeOutOfBandRefs(oid objectid.OID) error {
	pid := store.PageID(oid.PageID())
	buf, err := t.valueStore.ReadPage(pid)
	if err != nil {
		return err
	}
	ap := store.WrapAreaPage(buf)
	area := ap.AreaBytes(store.AreaID(oid.AreaID()))
	t.valueStore.UnpinPage(pid)
	if area == nil {
		return nil
	}
	placements, err := codec.DecodeTuple(t.schema.Values, area[backPointerSize:])
	if err != nil {
		return err
	}
	pager := valuePager{t.valueStore}
	for _, p := range placements {
		if p.OutOfBand {
			refOID := objectid.UnmarshalOID(p.Value.([]byte))
			if err := oob.Free(pager, refOID); err != nil {
				return err
			}
		}
	}
	return nil
}

// rewriteValueObject updates the value tuple at oid in place when it
// still fits the area, otherwise frees and reallocates, preserving the
// back-pointer. Out-of-band chains the old tuple
// referenced are released; the new tuple re-materializes its own.
func (t *Tree) rewriteValueObject(tx store.TxID, oid objectid.OID, values []any) (objectid.OID, error) {
	_, bp, err := t.readValueObject(oid)
	if err != nil {
		return objectid.Invalid, err
	}
	if err := t.freeOutOfBandRefs(oid); err != nil {
		return objectid.Invalid, err
	}
	placements, err := t.buildValuePlacements(tx, values)
	if err != nil {
		return objectid.Invalid, err
	}
	tuple, err := codec.EncodeTuple(t.schema.Values, placements)
	if err != nil {
		return objectid.Invalid, err
	}
	body := make([]byte, backPointerSize+len(tuple))
	marshalBackPointer(bp, body[:backPointerSize])
	copy(body[backPointerSize:], tuple)

	pid := store.PageID(oid.PageID())
	buf, err := t.valueStore.ReadPage(pid)
	if err != nil {
		return objectid.Invalid, err
	}
	ap := store.WrapAreaPage(buf)
	if err := ap.ExpandArea(store.AreaID(oid.AreaID()), body); err == nil {
		t.valueStore.UnpinPage(pid)
		if werr := t.valueStore.WritePage(tx, pid, ap.Bytes()); werr != nil {
			return objectid.Invalid, werr
		}
		return oid, nil
	}
	// Does not fit in place: release just the area (its out-of-band refs
	// are already freed above) and reallocate.
	_ = ap.FreeArea(store.AreaID(oid.AreaID()))
	t.valueStore.UnpinPage(pid)
	if err := t.valueStore.WritePage(tx, pid, ap.Bytes()); err != nil {
		return objectid.Invalid, err
	}
	return t.allocValueArea(tx, body)
}
