// Package store implements the paged physical file underneath the B+tree:
// fixed-size pages with a common header and CRC, an LRU-cached page store
// with write-ahead logging and crash recovery, a free-page allocator, and
// the File Info singleton record. Node pages, value pages, and out-of-band
// pages are logically two stores, the node store and the value store,
// layered over the same physical file mechanics here.
package store

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const (
	// DefaultPageSize matches common OS page/FS block sizes.
	DefaultPageSize = 8192

	// MinPageSize and MaxPageSize bound the file-creation page size, which
	// must be a power of two.
	MinPageSize = 4096
	MaxPageSize = 65536

	// PageHeaderSize is the size of the common header present on every page.
	//
	//   [0]     Type       (1 byte)
	//   [1]     Flags      (1 byte)
	//   [2:4]   Reserved   (2 bytes)
	//   [4:8]   ID         (4 bytes, uint32 LE)
	//   [8:16]  LSN        (8 bytes, uint64 LE)
	//   [16:20] CRC32-C    (4 bytes, uint32 LE)
	//   [20:32] Reserved   (12 bytes)
	PageHeaderSize = 32

	// InvalidPageID is the null page pointer.
	InvalidPageID PageID = 0
)

// PageType identifies the kind of data stored in a page.
type PageType uint8

const (
	PageTypeFileInfo      PageType = 0x01
	PageTypeNodeInternal  PageType = 0x02
	PageTypeNodeLeaf      PageType = 0x03
	PageTypeOutOfBand     PageType = 0x04
	PageTypeFreeList      PageType = 0x05
	PageTypeValue         PageType = 0x06
)

func (pt PageType) String() string {
	switch pt {
	case PageTypeFileInfo:
		return "FileInfo"
	case PageTypeNodeInternal:
		return "Node-Internal"
	case PageTypeNodeLeaf:
		return "Node-Leaf"
	case PageTypeOutOfBand:
		return "OutOfBand"
	case PageTypeFreeList:
		return "FreeList"
	case PageTypeValue:
		return "Value"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(pt))
	}
}

// PageID is a 32-bit page identifier. Page 0 of the node store is always
// the File Info page.
type PageID uint32

// LSN is a monotonically increasing log sequence number.
type LSN uint64

// TxID is a transaction identifier, used only to tag page pins and WAL
// records; the engine keeps no undo log of its own.
type TxID uint64

// PageHeader is the fixed header at the start of every page.
type PageHeader struct {
	Type     PageType
	Flags    uint8
	Reserved uint16
	ID       PageID
	LSN      LSN
	CRC      uint32
	Pad      [12]byte
}

// MarshalHeader writes h into the first PageHeaderSize bytes of buf.
func MarshalHeader(h *PageHeader, buf []byte) {
	if len(buf) < PageHeaderSize {
		panic("buffer too small for PageHeader")
	}
	buf[0] = byte(h.Type)
	buf[1] = h.Flags
	binary.LittleEndian.PutUint16(buf[2:4], h.Reserved)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.ID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.LSN))
	binary.LittleEndian.PutUint32(buf[16:20], h.CRC)
	copy(buf[20:32], h.Pad[:])
}

// UnmarshalHeader reads a PageHeader from the first PageHeaderSize bytes of buf.
func UnmarshalHeader(buf []byte) PageHeader {
	var h PageHeader
	h.Type = PageType(buf[0])
	h.Flags = buf[1]
	h.Reserved = binary.LittleEndian.Uint16(buf[2:4])
	h.ID = PageID(binary.LittleEndian.Uint32(buf[4:8]))
	h.LSN = LSN(binary.LittleEndian.Uint64(buf[8:16]))
	h.CRC = binary.LittleEndian.Uint32(buf[16:20])
	copy(h.Pad[:], buf[20:32])
	return h
}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ComputePageCRC computes the CRC32-C of a full page, treating the CRC
// field (bytes 16..20) as zero during computation.
func ComputePageCRC(page []byte) uint32 {
	h := crc32.New(crcTable)
	h.Write(page[:16])
	h.Write([]byte{0, 0, 0, 0})
	h.Write(page[20:])
	return h.Sum32()
}

// SetPageCRC computes and writes the CRC into the page header.
func SetPageCRC(page []byte) {
	c := ComputePageCRC(page)
	binary.LittleEndian.PutUint32(page[16:20], c)
}

// VerifyPageCRC checks the CRC32-C checksum of a page. A mismatch is a
// CorruptFile-kind condition at the caller.
func VerifyPageCRC(page []byte) error {
	stored := binary.LittleEndian.Uint32(page[16:20])
	computed := ComputePageCRC(page)
	if stored != computed {
		pid := PageID(binary.LittleEndian.Uint32(page[4:8]))
		return fmt.Errorf("CRC mismatch on page %d: stored=%08x computed=%08x", pid, stored, computed)
	}
	return nil
}

// NewPage allocates a zeroed page buffer and writes its header.
func NewPage(pageSize int, pt PageType, id PageID) []byte {
	buf := make([]byte, pageSize)
	h := &PageHeader{Type: pt, ID: id}
	MarshalHeader(h, buf)
	return buf
}
