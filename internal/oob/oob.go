// Package oob implements the out-of-band store: variable/large/array
// field values that do not fit inline are written as one or more chained
// areas across value-store pages, optionally compressed, each object
// carrying a one-byte type tag.
package oob

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/SimonWaldherr/btreeindex/internal/objectid"
	"github.com/SimonWaldherr/btreeindex/internal/store"
)

// ObjectType is the first byte of every out-of-band object.
type ObjectType uint8

const (
	Normal            ObjectType = 1
	Divided           ObjectType = 2
	Compressed        ObjectType = 3
	DividedCompressed ObjectType = 4
)

// compressionGain is the minimum fractional size reduction required
// before a value is written compressed.
const compressionGain = 0.125

// Every area in a chain, including the last, carries an 8-byte
// next_oid field; the last area's is objectid.Invalid. This keeps Read
// structurally unambiguous without having to count fragments up front.
const nextOIDSize = 8

// Pager is the capability the out-of-band store needs from the physical
// file layer: allocate a fresh page, read/write a page by id, free a page.
// Satisfied by *store.PageStore.
type Pager interface {
	AllocPage() (store.PageID, []byte)
	ReadPage(id store.PageID) ([]byte, error)
	UnpinPage(id store.PageID)
	WritePage(tx store.TxID, id store.PageID, buf []byte) error
	FreePage(id store.PageID)
	PageSize() int
}

// Write stores data as one or more out-of-band objects, returning the
// OID of the first area. It compresses first (if the codec can shrink
// the value by more than compressionGain) then chains across pages if the
// (possibly compressed) bytes still don't fit in one area.
func Write(p Pager, tx store.TxID, data []byte) (objectid.OID, error) {
	payload := data
	compressed := false
	if len(data) > 64 {
		if z, ok := tryCompress(data); ok {
			payload = z
			compressed = true
		}
	}

	pageSize := p.PageSize()
	budget := pageSize - 128 // area-allocator bookkeeping slack

	firstHeader := 1 // object-type tag
	if compressed {
		firstHeader += 4 // orig_length
	}

	if len(payload)+firstHeader <= budget {
		objType := Normal
		if compressed {
			objType = Compressed
		}
		pid, buf := p.AllocPage()
		ap := store.InitAreaPage(buf, store.PageTypeOutOfBand, pid)
		body := make([]byte, firstHeader+len(payload))
		body[0] = byte(objType)
		off := 1
		if compressed {
			binary.LittleEndian.PutUint32(body[off:], uint32(len(data)))
			off += 4
		}
		copy(body[off:], payload)
		areaID, err := ap.AllocateArea(body)
		if err != nil {
			p.FreePage(pid)
			return objectid.Invalid, fmt.Errorf("oob: allocate single-area object: %w", err)
		}
		if err := p.WritePage(tx, pid, ap.Bytes()); err != nil {
			return objectid.Invalid, err
		}
		p.UnpinPage(pid)
		return objectid.Pack(uint32(pid), uint16(areaID)), nil
	}

	// Chain fragments across pages.
	objType := Divided
	if compressed {
		objType = DividedCompressed
	}
	firstBudget := budget - firstHeader - nextOIDSize
	contBudget := budget - nextOIDSize
	if firstBudget <= 0 || contBudget <= 0 {
		return objectid.Invalid, fmt.Errorf("oob: page size %d too small to chain", pageSize)
	}

	var fragments [][]byte
	rest := payload
	n := firstBudget
	if n > len(rest) {
		n = len(rest)
	}
	fragments = append(fragments, rest[:n])
	rest = rest[n:]
	for len(rest) > 0 {
		n := contBudget
		if n > len(rest) {
			n = len(rest)
		}
		fragments = append(fragments, rest[:n])
		rest = rest[n:]
	}

	pages := make([]store.PageID, len(fragments))
	bufs := make([][]byte, len(fragments))
	for i := range fragments {
		pid, buf := p.AllocPage()
		pages[i] = pid
		bufs[i] = buf
	}

	oids := make([]objectid.OID, len(fragments))
	nextOID := objectid.Invalid
	for i := len(fragments) - 1; i >= 0; i-- {
		ap := store.InitAreaPage(bufs[i], store.PageTypeOutOfBand, pages[i])
		var body []byte
		off := 0
		if i == 0 {
			body = make([]byte, firstHeader+nextOIDSize+len(fragments[i]))
			body[0] = byte(objType)
			off = 1
			if compressed {
				binary.LittleEndian.PutUint32(body[off:], uint32(len(data)))
				off += 4
			}
		} else {
			body = make([]byte, nextOIDSize+len(fragments[i]))
		}
		binary.LittleEndian.PutUint64(body[off:], uint64(nextOID))
		off += nextOIDSize
		copy(body[off:], fragments[i])

		areaID, err := ap.AllocateArea(body)
		if err != nil {
			for _, pg := range pages {
				p.FreePage(pg)
			}
			return objectid.Invalid, fmt.Errorf("oob: allocate chained fragment %d: %w", i, err)
		}
		oids[i] = objectid.Pack(uint32(pages[i]), uint16(areaID))
		nextOID = oids[i]
	}
	for i, pid := range pages {
		if err := p.WritePage(tx, pid, bufs[i]); err != nil {
			return objectid.Invalid, err
		}
		p.UnpinPage(pid)
	}
	return oids[0], nil
}

// Read materializes the full value referenced by oid, decompressing and
// de-chaining as needed. Random access into the middle of a chain is not
// supported; the caller always gets the whole value.
func Read(p Pager, oid objectid.OID) ([]byte, error) {
	if !oid.Valid() {
		return nil, fmt.Errorf("oob: read of invalid OID")
	}
	var out bytes.Buffer
	var origLen int
	compressed := false

	cur := oid
	first := true
	chained := false
	for {
		buf, err := p.ReadPage(store.PageID(cur.PageID()))
		if err != nil {
			return nil, fmt.Errorf("oob: read page %d: %w", cur.PageID(), err)
		}
		ap := store.WrapAreaPage(buf)
		area := ap.AreaBytes(store.AreaID(cur.AreaID()))
		p.UnpinPage(store.PageID(cur.PageID()))
		if area == nil {
			return nil, fmt.Errorf("oob: area %d on page %d is free", cur.AreaID(), cur.PageID())
		}

		off := 0
		if first {
			objType := ObjectType(area[0])
			off = 1
			compressed = objType == Compressed || objType == DividedCompressed
			chained = objType == Divided || objType == DividedCompressed
			if compressed {
				origLen = int(binary.LittleEndian.Uint32(area[off:]))
				off += 4
			}
		}
		if !chained {
			out.Write(area[off:])
			break
		}
		next := objectid.OID(binary.LittleEndian.Uint64(area[off:]))
		off += nextOIDSize
		out.Write(area[off:])

		first = false
		if !next.Valid() {
			break
		}
		cur = next
	}

	data := out.Bytes()
	if compressed {
		raw, err := decompress(data, origLen)
		if err != nil {
			return nil, fmt.Errorf("oob: decompress: %w", err)
		}
		return raw, nil
	}
	return data, nil
}

// Free releases every page in the chain referenced by oid.
func Free(p Pager, oid objectid.OID) error {
	cur := oid
	first := true
	chained := false
	for cur.Valid() {
		buf, err := p.ReadPage(store.PageID(cur.PageID()))
		if err != nil {
			return fmt.Errorf("oob: free read page %d: %w", cur.PageID(), err)
		}
		ap := store.WrapAreaPage(buf)
		area := ap.AreaBytes(store.AreaID(cur.AreaID()))
		p.UnpinPage(store.PageID(cur.PageID()))
		pid := store.PageID(cur.PageID())
		if area == nil {
			return nil
		}

		off := 0
		if first {
			objType := ObjectType(area[0])
			off = 1
			if objType == Compressed || objType == DividedCompressed {
				off += 4
			}
			chained = objType == Divided || objType == DividedCompressed
		}
		var next objectid.OID = objectid.Invalid
		if chained {
			next = objectid.OID(binary.LittleEndian.Uint64(area[off:]))
		}
		p.FreePage(pid)

		if !chained || !next.Valid() {
			break
		}
		cur = next
		first = false
	}
	return nil
}

func tryCompress(data []byte) ([]byte, bool) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, false
	}
	if _, err := w.Write(data); err != nil {
		return nil, false
	}
	if err := w.Close(); err != nil {
		return nil, false
	}
	if float64(buf.Len()) > float64(len(data))*(1-compressionGain) {
		return nil, false
	}
	return buf.Bytes(), true
}

func decompress(data []byte, origLen int) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out := make([]byte, 0, origLen)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
