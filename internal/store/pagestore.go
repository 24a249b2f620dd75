package store

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

// PageStore is the central I/O layer: it owns the database file, the WAL,
// the buffer pool, the free-list, and the File Info singleton. All page
// reads and writes go through it so CRC validation and WAL logging always
// happen together.

// PageFrame is an in-memory cached page.
type PageFrame struct {
	id     PageID
	buf    []byte
	dirty  bool
	lsn    LSN
	pinned int
	prev   *PageFrame
	next   *PageFrame
}

// BufferPoolConfig configures the page buffer pool.
type BufferPoolConfig struct {
	MaxPages int // default 1024
}

// PageBufferPool is an LRU page cache with dirty-page tracking.
type PageBufferPool struct {
	mu       sync.Mutex
	maxPages int
	pages    map[PageID]*PageFrame
	head     *PageFrame
	tail     *PageFrame
}

func newPageBufferPool(maxPages int) *PageBufferPool {
	if maxPages <= 0 {
		maxPages = 1024
	}
	return &PageBufferPool{
		maxPages: maxPages,
		pages:    make(map[PageID]*PageFrame, maxPages),
	}
}

func (bp *PageBufferPool) get(id PageID) (*PageFrame, bool) {
	f, ok := bp.pages[id]
	if ok {
		bp.moveToFront(f)
	}
	return f, ok
}

func (bp *PageBufferPool) put(f *PageFrame) {
	if _, exists := bp.pages[f.id]; exists {
		bp.moveToFront(f)
		return
	}
	for len(bp.pages) >= bp.maxPages {
		if !bp.evictOne() {
			break
		}
	}
	bp.pages[f.id] = f
	bp.pushFront(f)
}

func (bp *PageBufferPool) remove(id PageID) {
	f, ok := bp.pages[id]
	if !ok {
		return
	}
	bp.unlink(f)
	delete(bp.pages, id)
}

// evictOne drops the least-recently-used unpinned clean frame. Dirty
// frames stay resident until a checkpoint writes them to the data file;
// their only durable copy up to that point is the WAL.
func (bp *PageBufferPool) evictOne() bool {
	for f := bp.tail; f != nil; f = f.prev {
		if f.pinned == 0 && !f.dirty {
			bp.unlink(f)
			delete(bp.pages, f.id)
			return true
		}
	}
	return false
}

func (bp *PageBufferPool) dirtyPages() []*PageFrame {
	var out []*PageFrame
	for _, f := range bp.pages {
		if f.dirty {
			out = append(out, f)
		}
	}
	return out
}

func (bp *PageBufferPool) pushFront(f *PageFrame) {
	f.prev = nil
	f.next = bp.head
	if bp.head != nil {
		bp.head.prev = f
	}
	bp.head = f
	if bp.tail == nil {
		bp.tail = f
	}
}

func (bp *PageBufferPool) unlink(f *PageFrame) {
	if f.prev != nil {
		f.prev.next = f.next
	} else {
		bp.head = f.next
	}
	if f.next != nil {
		f.next.prev = f.prev
	} else {
		bp.tail = f.prev
	}
	f.prev = nil
	f.next = nil
}

func (bp *PageBufferPool) moveToFront(f *PageFrame) {
	bp.unlink(f)
	bp.pushFront(f)
}

// PageStoreConfig configures a PageStore.
type PageStoreConfig struct {
	Path          string // main file path (node store or value store)
	WALPath       string
	PageSize      int
	MaxCachePages int // 0 = default 1024
}

// PageStore manages page-level I/O, WAL, buffer pool and free-list for one
// logical store: the node store or the value store. Each gets its own
// file; the caller just opens two instances pointed at two paths.
type PageStore struct {
	mu           sync.RWMutex
	file         *os.File
	wal          *WALFile
	pool         *PageBufferPool
	fi           *FileInfo
	freeMgr      *FreeManager
	freeListRoot PageID
	pageSize     int
	path         string
	walPath      string
	nextPageID   PageID
	nextTxID     TxID
	closed       bool
}

// Open opens or creates a page store.
func Open(cfg PageStoreConfig) (*PageStore, error) {
	ps := cfg.PageSize
	if ps == 0 {
		ps = DefaultPageSize
	}
	if ps < MinPageSize || ps > MaxPageSize || ps&(ps-1) != 0 {
		return nil, fmt.Errorf("invalid page size %d", ps)
	}

	isNew := false
	if _, err := os.Stat(cfg.Path); os.IsNotExist(err) {
		isNew = true
	}

	f, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open store file: %w", err)
	}

	p := &PageStore{
		file:     f,
		pageSize: ps,
		path:     cfg.Path,
		walPath:  cfg.WALPath,
		pool:     newPageBufferPool(cfg.MaxCachePages),
		freeMgr:  NewFreeManager(),
	}

	if isNew {
		fi := NewFileInfo(ps)
		buf := MarshalFileInfo(fi, ps)
		p.putReservedPageLinks(buf, InvalidPageID, 1)
		if _, err := f.WriteAt(buf, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("write file info: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, err
		}
		p.fi = fi
		p.freeListRoot = InvalidPageID
		p.nextPageID = 1
	} else {
		fi, flRoot, nextPID, err := p.readFileInfo()
		if err != nil {
			f.Close()
			return nil, err
		}
		p.fi = fi
		p.pageSize = fi.PageSize()
		p.freeListRoot = flRoot
		p.nextPageID = nextPID
	}

	walPath := cfg.WALPath
	if walPath == "" {
		walPath = cfg.Path + ".wal"
	}
	p.walPath = walPath
	wf, err := OpenWALFile(walPath, p.pageSize)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open WAL file: %w", err)
	}
	p.wal = wf

	if !isNew {
		if err := p.Recover(); err != nil {
			wf.Close()
			f.Close()
			return nil, fmt.Errorf("WAL recovery: %w", err)
		}
	}
	if err := p.loadFreeList(); err != nil {
		wf.Close()
		f.Close()
		return nil, err
	}

	return p, nil
}

// The File Info page header's trailing padding bytes carry two fields
// this engine needs that have no place in the documented layout: the
// free-list chain head and the next-unallocated page id high-water mark.
// Bytes [20:24] and [24:28] of the page, i.e. the first 8 bytes of
// PageHeader.Pad.
func (p *PageStore) putReservedPageLinks(buf []byte, freeListRoot, nextPageID PageID) {
	binary.LittleEndian.PutUint32(buf[20:24], uint32(freeListRoot))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(nextPageID))
	SetPageCRC(buf)
}

func (p *PageStore) readFileInfo() (fi *FileInfo, freeListRoot PageID, nextPageID PageID, err error) {
	head := make([]byte, MinPageSize)
	if _, err = p.file.ReadAt(head, 0); err != nil {
		return nil, 0, 0, fmt.Errorf("read file info: %w", err)
	}
	size := p.pageSize
	if ps := 1 << head[fiPageSizeLog2Off]; ps >= MinPageSize && ps <= MaxPageSize {
		size = ps
	}
	buf := make([]byte, size)
	if _, err = p.file.ReadAt(buf, 0); err != nil {
		return nil, 0, 0, fmt.Errorf("read file info: %w", err)
	}
	fi, err = UnmarshalFileInfo(buf)
	if err != nil {
		return nil, 0, 0, err
	}
	freeListRoot = PageID(binary.LittleEndian.Uint32(buf[20:24]))
	nextPageID = PageID(binary.LittleEndian.Uint32(buf[24:28]))
	return fi, freeListRoot, nextPageID, nil
}

func (p *PageStore) readPageRaw(id PageID) ([]byte, error) {
	buf := make([]byte, p.pageSize)
	off := int64(id) * int64(p.pageSize)
	if _, err := p.file.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("read page %d: %w", id, err)
	}
	if err := VerifyPageCRC(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *PageStore) writePageRaw(id PageID, buf []byte) error {
	SetPageCRC(buf)
	off := int64(id) * int64(p.pageSize)
	if _, err := p.file.WriteAt(buf, off); err != nil {
		return fmt.Errorf("write page %d: %w", id, err)
	}
	return nil
}

// ReadPage returns a page by id, pinned in the cache. Call UnpinPage when done.
func (p *PageStore) ReadPage(id PageID) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.readPageCached(id)
}

func (p *PageStore) readPageCached(id PageID) ([]byte, error) {
	p.pool.mu.Lock()
	if f, ok := p.pool.get(id); ok {
		f.pinned++
		p.pool.mu.Unlock()
		return f.buf, nil
	}
	p.pool.mu.Unlock()

	buf, err := p.readPageRaw(id)
	if err != nil {
		return nil, err
	}
	f := &PageFrame{id: id, buf: buf, pinned: 1}
	p.pool.mu.Lock()
	p.pool.put(f)
	p.pool.mu.Unlock()
	return buf, nil
}

// UnpinPage decrements the pin count. Release is mandatory on every exit
// path that previously called ReadPage or AllocPage.
func (p *PageStore) UnpinPage(id PageID) {
	p.pool.mu.Lock()
	defer p.pool.mu.Unlock()
	if f, ok := p.pool.get(id); ok && f.pinned > 0 {
		f.pinned--
	}
}

// WritePage writes a page through the WAL and marks it dirty in the cache.
func (p *PageStore) WritePage(txID TxID, id PageID, buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := &WALRecord{
		Type:   WALRecordPageImage,
		TxID:   txID,
		PageID: id,
		Data:   append([]byte{}, buf...),
	}
	lsn, err := p.wal.AppendRecord(rec)
	if err != nil {
		return fmt.Errorf("WAL write page %d: %w", id, err)
	}

	p.pool.mu.Lock()
	f, ok := p.pool.get(id)
	if !ok {
		f = &PageFrame{id: id, buf: make([]byte, p.pageSize)}
		p.pool.put(f)
	}
	copy(f.buf, buf)
	f.dirty = true
	f.lsn = lsn
	p.pool.mu.Unlock()

	return nil
}

// BeginTx starts a new transaction and writes a BEGIN record.
func (p *PageStore) BeginTx() (TxID, error) {
	p.mu.Lock()
	p.nextTxID++
	txID := p.nextTxID
	p.mu.Unlock()

	rec := &WALRecord{Type: WALRecordBegin, TxID: txID}
	if _, err := p.wal.AppendRecord(rec); err != nil {
		return 0, err
	}
	return txID, nil
}

// CommitTx writes a COMMIT record and fsyncs the WAL.
func (p *PageStore) CommitTx(txID TxID) error {
	rec := &WALRecord{Type: WALRecordCommit, TxID: txID}
	if _, err := p.wal.AppendRecord(rec); err != nil {
		return err
	}
	return p.wal.Sync()
}

// AbortTx writes an ABORT record. Recovery skips this tx's page images,
// but its pages stay modified in the cache and a checkpoint writes them
// like any other dirty page.
func (p *PageStore) AbortTx(txID TxID) error {
	rec := &WALRecord{Type: WALRecordAbort, TxID: txID}
	_, err := p.wal.AppendRecord(rec)
	return err
}

// AllocPage allocates a page from the free-list or by extending the file.
func (p *PageStore) AllocPage() (PageID, []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pid := p.freeMgr.Alloc()
	if pid == InvalidPageID {
		pid = p.nextPageID
		p.nextPageID++
	}
	buf := make([]byte, p.pageSize)
	f := &PageFrame{id: pid, buf: buf, pinned: 1}
	p.pool.mu.Lock()
	p.pool.put(f)
	p.pool.mu.Unlock()
	return pid, buf
}

// FreePage marks a page as free for reuse.
func (p *PageStore) FreePage(pid PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freeMgr.Free(pid)
	p.pool.mu.Lock()
	p.pool.remove(pid)
	p.pool.mu.Unlock()
}

func (p *PageStore) loadFreeList() error {
	if p.freeListRoot == InvalidPageID {
		return nil
	}
	return p.freeMgr.LoadFromDisk(p.freeListRoot, p.readPageRaw)
}

func (p *PageStore) freeOldFreeListChain(head PageID) {
	pid := head
	for pid != InvalidPageID {
		buf, err := p.readPageRaw(pid)
		if err != nil {
			break
		}
		fl := WrapFreeListPage(buf)
		next := fl.NextFreeList()
		p.freeMgr.Free(pid)
		pid = next
	}
}

// Checkpoint flushes dirty pages, the free-list, and File Info to disk,
// fsyncs, then truncates the WAL.
func (p *PageStore) Checkpoint() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := &WALRecord{Type: WALRecordCheckpoint}
	if _, err := p.wal.AppendRecord(rec); err != nil {
		return err
	}
	if err := p.wal.Sync(); err != nil {
		return err
	}

	p.pool.mu.Lock()
	dirty := p.pool.dirtyPages()
	for _, f := range dirty {
		SetPageCRC(f.buf)
		if err := p.writePageRaw(f.id, f.buf); err != nil {
			p.pool.mu.Unlock()
			return fmt.Errorf("checkpoint flush page %d: %w", f.id, err)
		}
		f.dirty = false
	}
	p.pool.mu.Unlock()

	oldFLHead := p.freeListRoot
	if oldFLHead != InvalidPageID {
		p.freeOldFreeListChain(oldFLHead)
	}

	flHead, flPages := p.freeMgr.FlushToDisk(p.pageSize, func() (PageID, []byte) {
		pid := p.nextPageID
		p.nextPageID++
		return pid, make([]byte, p.pageSize)
	})
	for _, fb := range flPages {
		pid := PageID(binary.LittleEndian.Uint32(fb[4:8]))
		if err := p.writePageRaw(pid, fb); err != nil {
			return fmt.Errorf("checkpoint freelist page: %w", err)
		}
	}
	p.freeListRoot = flHead

	fiBuf := MarshalFileInfo(p.fi, p.pageSize)
	p.putReservedPageLinks(fiBuf, p.freeListRoot, p.nextPageID)
	if err := p.writePageRaw(0, fiBuf); err != nil {
		return fmt.Errorf("checkpoint file info: %w", err)
	}

	if err := p.file.Sync(); err != nil {
		return err
	}
	return p.wal.Truncate()
}

// FileInfo returns a copy of the current File Info record.
func (p *PageStore) FileInfo() FileInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return *p.fi
}

// UpdateFileInfo mutates the in-memory File Info record. Does not persist
// to disk; use Checkpoint for that.
func (p *PageStore) UpdateFileInfo(fn func(fi *FileInfo)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.fi)
}

func (p *PageStore) PageSize() int { return p.pageSize }

// Close performs a final checkpoint and closes all files.
func (p *PageStore) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if err := p.Checkpoint(); err != nil {
		_ = p.wal.Close()
		_ = p.file.Close()
		return err
	}
	if err := p.wal.Close(); err != nil {
		_ = p.file.Close()
		return err
	}
	return p.file.Close()
}

func (p *PageStore) Path() string    { return p.path }
func (p *PageStore) WALPath() string { return p.walPath }
