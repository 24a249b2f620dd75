package btree

import (
	"fmt"

	"github.com/SimonWaldherr/btreeindex/internal/codec"
	"github.com/SimonWaldherr/btreeindex/internal/objectid"
	"github.com/SimonWaldherr/btreeindex/internal/oob"
	"github.com/SimonWaldherr/btreeindex/internal/store"
)

// encodeInlineKey packs a composite key into the slot's fixed 12-byte
// field, used only when the tree was created in KeyModeInline (every key
// field fixed-width, composite <= InlineKeyLimit bytes).
func encodeInlineKey(fields []codec.FieldDef, values []any) (nulls, key []byte, err error) {
	nulls = make([]byte, bitmapSize(len(fields)))
	key = make([]byte, InlineKeyLimit)
	off := 0
	for i, f := range fields {
		if values[i] == nil {
			nulls[i/8] |= 1 << uint(i%8)
			continue
		}
		n, werr := codec.Write(key[off:], f.Type, values[i])
		if werr != nil {
			return nil, nil, fmt.Errorf("btree: inline key field %q: %w", f.Name, werr)
		}
		off += n
	}
	return nulls, key, nil
}

func decodeInlineKey(fields []codec.FieldDef, nulls, key []byte) ([]any, error) {
	out := make([]any, len(fields))
	off := 0
	for i, f := range fields {
		if nulls != nil && i/8 < len(nulls) && nulls[i/8]&(1<<uint(i%8)) != 0 {
			out[i] = nil
			continue
		}
		v, n, err := codec.Read(key[off:], f.Type)
		if err != nil {
			return nil, fmt.Errorf("btree: decode inline key field %q: %w", f.Name, err)
		}
		out[i] = v
		off += n
	}
	return out, nil
}

// keyObjectPager adapts *store.PageStore to oob.Pager so out-of-band key
// fields can be chained through the node store exactly like value/array
// fields are through the value store.
type keyObjectPager struct{ ps *store.PageStore }

func (k keyObjectPager) AllocPage() (store.PageID, []byte)             { return k.ps.AllocPage() }
func (k keyObjectPager) ReadPage(id store.PageID) ([]byte, error)      { return k.ps.ReadPage(id) }
func (k keyObjectPager) UnpinPage(id store.PageID)                    { k.ps.UnpinPage(id) }
func (k keyObjectPager) WritePage(tx store.TxID, id store.PageID, b []byte) error {
	return k.ps.WritePage(tx, id, b)
}
func (k keyObjectPager) FreePage(id store.PageID) { k.ps.FreePage(id) }
func (k keyObjectPager) PageSize() int            { return k.ps.PageSize() }

// writeKeyObject materializes a composite key (indirect mode) as a tuple
// area, moving any oversize variable field out-of-band first, then
// allocates it into the key-object page pool.
func (t *Tree) writeKeyObject(tx store.TxID, values []any) (objectid.OID, error) {
	placements := make([]codec.FieldPlacement, len(t.schema.Keys))
	threshold := codec.OutsideThreshold(t.nodeStore.PageSize())
	pager := keyObjectPager{t.nodeStore}

	for i, f := range t.schema.Keys {
		if values[i] == nil {
			placements[i] = codec.FieldPlacement{Null: true}
			continue
		}
		if f.Type == codec.TypeString || f.Type == codec.TypeBytes || f.Type == codec.TypeText {
			sz, err := codec.ArchiveSize(f.Type, values[i])
			if err != nil {
				return objectid.Invalid, err
			}
			if sz > threshold {
				raw, err := toRawBytes(f.Type, values[i])
				if err != nil {
					return objectid.Invalid, err
				}
				oid, err := oob.Write(pager, tx, raw)
				if err != nil {
					return objectid.Invalid, err
				}
				buf := make([]byte, 8)
				objectid.MarshalOID(oid, buf)
				placements[i] = codec.FieldPlacement{OutOfBand: true, Value: buf}
				continue
			}
		}
		placements[i] = codec.FieldPlacement{Value: values[i]}
	}

	body, err := codec.EncodeTuple(t.schema.Keys, placements)
	if err != nil {
		return objectid.Invalid, err
	}
	return t.allocKeyArea(tx, body)
}

func toRawBytes(t codec.Type, v any) ([]byte, error) {
	switch t {
	case codec.TypeString, codec.TypeText:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("btree: expected string, got %T", v)
		}
		return []byte(s), nil
	case codec.TypeBytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("btree: expected []byte, got %T", v)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("btree: type %s has no raw-byte form", t)
	}
}

// allocKeyArea packs body into the current key-object page if it has
// room, else starts a fresh page. Key objects are small (bounded by the
// out-of-band threshold applied above) so this simple single-page-at-a-
// time pool keeps most key objects co-located without a full free-space
// index.
func (t *Tree) allocKeyArea(tx store.TxID, body []byte) (objectid.OID, error) {
	if t.curKeyObjPage != store.InvalidPageID {
		buf, err := t.nodeStore.ReadPage(t.curKeyObjPage)
		if err == nil {
			ap := store.WrapAreaPage(buf)
			if ap.FreeSpace() >= len(body) {
				areaID, aerr := ap.AllocateArea(body)
				if aerr == nil {
					t.nodeStore.UnpinPage(t.curKeyObjPage)
					if werr := t.nodeStore.WritePage(tx, t.curKeyObjPage, ap.Bytes()); werr != nil {
						return objectid.Invalid, werr
					}
					return objectid.Pack(uint32(t.curKeyObjPage), uint16(areaID)), nil
				}
			}
		}
		if err == nil {
			t.nodeStore.UnpinPage(t.curKeyObjPage)
		}
	}

	pid, buf := t.nodeStore.AllocPage()
	ap := store.InitAreaPage(buf, store.PageTypeNodeLeaf, pid)
	areaID, err := ap.AllocateArea(body)
	if err != nil {
		t.nodeStore.FreePage(pid)
		return objectid.Invalid, fmt.Errorf("btree: key object too large for an empty page: %w", err)
	}
	if err := t.nodeStore.WritePage(tx, pid, ap.Bytes()); err != nil {
		return objectid.Invalid, err
	}
	t.nodeStore.UnpinPage(pid)
	t.curKeyObjPage = pid
	return objectid.Pack(uint32(pid), uint16(areaID)), nil
}

// readKeyObject resolves an indirect-mode key OID back into a composite
// key tuple, dereferencing any out-of-band variable fields.
func (t *Tree) readKeyObject(oid objectid.OID) ([]any, error) {
	buf, err := t.nodeStore.ReadPage(store.PageID(oid.PageID()))
	if err != nil {
		return nil, err
	}
	ap := store.WrapAreaPage(buf)
	body := ap.AreaBytes(store.AreaID(oid.AreaID()))
	t.nodeStore.UnpinPage(store.PageID(oid.PageID()))
	if body == nil {
		return nil, fmt.Errorf("btree: key object area %v is free", oid)
	}

	placements, err := codec.DecodeTuple(t.schema.Keys, body)
	if err != nil {
		return nil, err
	}
	pager := keyObjectPager{t.nodeStore}
	out := make([]any, len(t.schema.Keys))
	for i, p := range placements {
		switch {
		case p.Null:
			out[i] = nil
		case p.OutOfBand:
			refOID := objectid.UnmarshalOID(p.Value.([]byte))
			raw, err := oob.Read(pager, refOID)
			if err != nil {
				return nil, err
			}
			if t.schema.Keys[i].Type == codec.TypeBytes {
				out[i] = raw
			} else {
				out[i] = string(raw)
			}
		default:
			out[i] = p.Value
		}
	}
	return out, nil
}

// freeKeyObject releases a key object's area (and any out-of-band chains
// it references) within the caller's transaction. Only the area is
// tombstoned; the backing page stays allocated even when no live areas
// remain on it.
func (t *Tree) freeKeyObject(tx store.TxID, oid objectid.OID) error {
	buf, err := t.nodeStore.ReadPage(store.PageID(oid.PageID()))
	if err != nil {
		return err
	}
	ap := store.WrapAreaPage(buf)
	body := ap.AreaBytes(store.AreaID(oid.AreaID()))
	if body == nil {
		t.nodeStore.UnpinPage(store.PageID(oid.PageID()))
		return nil
	}
	placements, derr := codec.DecodeTuple(t.schema.Keys, body)
	if derr == nil {
		pager := keyObjectPager{t.nodeStore}
		for _, p := range placements {
			if p.OutOfBand {
				refOID := objectid.UnmarshalOID(p.Value.([]byte))
				_ = oob.Free(pager, refOID)
			}
		}
	}
	_ = ap.FreeArea(store.AreaID(oid.AreaID()))
	t.nodeStore.UnpinPage(store.PageID(oid.PageID()))
	return t.nodeStore.WritePage(tx, store.PageID(oid.PageID()), ap.Bytes())
}
