package store

import (
	"encoding/binary"
	"fmt"
)

// File Info: the singleton record at page 0 of the node store. Layout
// sits below the common PageHeader:
//
//  Offset  Size  Field
//  32      4     Magic
//  36      2     Version
//  38      1     PageSizeLog2
//  39      1     Flags (byte order bit + feature bits)
//  40      4     RootPageID
//  44      2     TreeDepth
//  46      4     FirstLeafPageID
//  50      4     LastLeafPageID
//  54      8     RecordCount
//  62      2     SchemaLength, followed by the schema blob
//  ...     2     TokenizerDescriptorLength, followed by the descriptor blob
//
// The fixed-width prefix (through RecordCount) is CRC-protected by the
// common page header's whole-page CRC; the variable blobs ride along.

const (
	FileInfoMagic          = "BIX1"
	CurrentFormatVersion   = uint16(1)
	fiMagicOff             = PageHeaderSize // 32
	fiVersionOff           = fiMagicOff + 4 // 36
	fiPageSizeLog2Off      = fiVersionOff + 2
	fiFlagsOff             = fiPageSizeLog2Off + 1
	fiRootPageIDOff        = fiFlagsOff + 1
	fiTreeDepthOff         = fiRootPageIDOff + 4
	fiFirstLeafOff         = fiTreeDepthOff + 2
	fiLastLeafOff          = fiFirstLeafOff + 4
	fiRecordCountOff       = fiLastLeafOff + 4
	fiSchemaLenOff         = fiRecordCountOff + 8
	fiVariableStart        = fiSchemaLenOff + 2
)

// FlagBit is a bitmask of File Info flags.
type FlagBit uint8

const (
	// FlagBigEndian marks the file's declared byte order as big-endian.
	// The engine itself always writes little-endian; this flag exists so
	// readers can detect and reject a foreign-endian file rather than
	// silently misinterpreting it. This build does not implement the
	// byte-swap path, only mismatch detection.
	FlagBigEndian FlagBit = 1 << 0
	// FlagKeyModeIndirect records that this file's key information slots
	// use indirect mode (key object by OID) rather than inline mode; fixed
	// at file-creation time.
	FlagKeyModeIndirect FlagBit = 1 << 1
	// FlagHasTokenizer marks that at least one key field is full-text and
	// the tokenizer descriptor blob below is meaningful.
	FlagHasTokenizer FlagBit = 1 << 2
	// FlagUnique marks that the file enforces key uniqueness on insert.
	FlagUnique FlagBit = 1 << 3
)

// FileInfo holds the parsed contents of node-store page 0.
type FileInfo struct {
	PageSizeLog2    uint8
	Flags           FlagBit
	RootPageID      PageID
	TreeDepth       uint16
	FirstLeafPageID PageID
	LastLeafPageID  PageID
	RecordCount     uint64
	Schema          []byte   // opaque schema blob (owned by the caller's field codec config)
	TokenizerDesc   []byte   // opaque tokenizer descriptor blob (internal/tokenizer)
	InstanceID      [16]byte // file-instance UUID stamped at creation
}

func (fi *FileInfo) HasFlag(b FlagBit) bool { return fi.Flags&b != 0 }

// PageSize returns the page size this file was created with.
func (fi *FileInfo) PageSize() int { return 1 << fi.PageSizeLog2 }

// MarshalFileInfo serializes fi into a full page buffer of size pageSize.
func MarshalFileInfo(fi *FileInfo, pageSize int) []byte {
	buf := NewPage(pageSize, PageTypeFileInfo, 0)
	copy(buf[fiMagicOff:fiMagicOff+4], FileInfoMagic)
	binary.LittleEndian.PutUint16(buf[fiVersionOff:], CurrentFormatVersion)
	buf[fiPageSizeLog2Off] = fi.PageSizeLog2
	buf[fiFlagsOff] = uint8(fi.Flags)
	binary.LittleEndian.PutUint32(buf[fiRootPageIDOff:], uint32(fi.RootPageID))
	binary.LittleEndian.PutUint16(buf[fiTreeDepthOff:], fi.TreeDepth)
	binary.LittleEndian.PutUint32(buf[fiFirstLeafOff:], uint32(fi.FirstLeafPageID))
	binary.LittleEndian.PutUint32(buf[fiLastLeafOff:], uint32(fi.LastLeafPageID))
	binary.LittleEndian.PutUint64(buf[fiRecordCountOff:], fi.RecordCount)

	binary.LittleEndian.PutUint16(buf[fiSchemaLenOff:], uint16(len(fi.Schema)))
	off := fiVariableStart
	copy(buf[off:], fi.Schema)
	off += len(fi.Schema)

	binary.LittleEndian.PutUint16(buf[off:], uint16(len(fi.TokenizerDesc)))
	off += 2
	copy(buf[off:], fi.TokenizerDesc)
	off += len(fi.TokenizerDesc)

	copy(buf[off:], fi.InstanceID[:])

	SetPageCRC(buf)
	return buf
}

// UnmarshalFileInfo decodes node-store page 0 from buf.
func UnmarshalFileInfo(buf []byte) (*FileInfo, error) {
	if len(buf) < MinPageSize {
		return nil, fmt.Errorf("file info page too small: %d bytes", len(buf))
	}
	if err := VerifyPageCRC(buf); err != nil {
		return nil, fmt.Errorf("file info CRC: %w", err)
	}
	magic := string(buf[fiMagicOff : fiMagicOff+4])
	if magic != FileInfoMagic {
		return nil, fmt.Errorf("bad magic %q, expected %q", magic, FileInfoMagic)
	}
	ver := binary.LittleEndian.Uint16(buf[fiVersionOff:])
	if ver != CurrentFormatVersion {
		return nil, fmt.Errorf("unsupported format version %d (this build supports %d)", ver, CurrentFormatVersion)
	}

	fi := &FileInfo{
		PageSizeLog2:    buf[fiPageSizeLog2Off],
		Flags:           FlagBit(buf[fiFlagsOff]),
		RootPageID:      PageID(binary.LittleEndian.Uint32(buf[fiRootPageIDOff:])),
		TreeDepth:       binary.LittleEndian.Uint16(buf[fiTreeDepthOff:]),
		FirstLeafPageID: PageID(binary.LittleEndian.Uint32(buf[fiFirstLeafOff:])),
		LastLeafPageID:  PageID(binary.LittleEndian.Uint32(buf[fiLastLeafOff:])),
		RecordCount:     binary.LittleEndian.Uint64(buf[fiRecordCountOff:]),
	}

	ps := 1 << fi.PageSizeLog2
	if ps < MinPageSize || ps > MaxPageSize {
		return nil, fmt.Errorf("page size 2^%d out of range", fi.PageSizeLog2)
	}
	if fi.HasFlag(FlagBigEndian) {
		return nil, fmt.Errorf("file declares big-endian byte order; this build reads only little-endian files")
	}

	schemaLen := int(binary.LittleEndian.Uint16(buf[fiSchemaLenOff:]))
	off := fiVariableStart
	if off+schemaLen > len(buf) {
		return nil, fmt.Errorf("schema blob overruns page")
	}
	fi.Schema = append([]byte{}, buf[off:off+schemaLen]...)
	off += schemaLen

	if off+2 > len(buf) {
		return nil, fmt.Errorf("tokenizer descriptor length overruns page")
	}
	tdLen := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	if off+tdLen > len(buf) {
		return nil, fmt.Errorf("tokenizer descriptor overruns page")
	}
	fi.TokenizerDesc = append([]byte{}, buf[off:off+tdLen]...)
	off += tdLen

	if off+16 <= len(buf) {
		copy(fi.InstanceID[:], buf[off:off+16])
	}

	return fi, nil
}

// NewFileInfo creates a default FileInfo for a newly created file.
func NewFileInfo(pageSize int) *FileInfo {
	log2 := 0
	for p := pageSize; p > 1; p >>= 1 {
		log2++
	}
	return &FileInfo{
		PageSizeLog2:    uint8(log2),
		RootPageID:      InvalidPageID,
		TreeDepth:       0,
		FirstLeafPageID: InvalidPageID,
		LastLeafPageID:  InvalidPageID,
		RecordCount:     0,
	}
}
