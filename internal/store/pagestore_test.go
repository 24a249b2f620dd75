package store

import (
	"bytes"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *PageStore {
	t.Helper()
	dir := t.TempDir()
	ps, err := Open(PageStoreConfig{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return ps
}

func TestPageStoreWriteReadRoundTrip(t *testing.T) {
	ps := openTestStore(t)
	defer ps.Close()

	tx, err := ps.BeginTx()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	pid, buf := ps.AllocPage()
	InitAreaPage(buf, PageTypeValue, pid)
	ap := WrapAreaPage(buf)
	if _, err := ap.AllocateArea([]byte("payload")); err != nil {
		t.Fatalf("area: %v", err)
	}
	if err := ps.WritePage(tx, pid, buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	ps.UnpinPage(pid)
	if err := ps.CommitTx(tx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := ps.ReadPage(pid)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	defer ps.UnpinPage(pid)
	gp := WrapAreaPage(got)
	if data := gp.AreaBytes(0); !bytes.Equal(data, []byte("payload")) {
		t.Errorf("read back %q, want payload", data)
	}
}

func TestPageStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persist.db")

	ps, err := Open(PageStoreConfig{Path: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tx, _ := ps.BeginTx()
	pid, buf := ps.AllocPage()
	InitAreaPage(buf, PageTypeValue, pid)
	WrapAreaPage(buf).AllocateArea([]byte("durable"))
	if err := ps.WritePage(tx, pid, buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	ps.UnpinPage(pid)
	ps.CommitTx(tx)
	ps.UpdateFileInfo(func(fi *FileInfo) { fi.RecordCount = 42 })
	if err := ps.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ps2, err := Open(PageStoreConfig{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer ps2.Close()
	if got := ps2.FileInfo().RecordCount; got != 42 {
		t.Errorf("record count after reopen = %d, want 42", got)
	}
	buf2, err := ps2.ReadPage(pid)
	if err != nil {
		t.Fatalf("read after reopen: %v", err)
	}
	defer ps2.UnpinPage(pid)
	if data := WrapAreaPage(buf2).AreaBytes(0); !bytes.Equal(data, []byte("durable")) {
		t.Errorf("read back %q, want durable", data)
	}
}

func TestFreePageReuse(t *testing.T) {
	ps := openTestStore(t)
	defer ps.Close()

	a, _ := ps.AllocPage()
	ps.UnpinPage(a)
	ps.FreePage(a)
	b, _ := ps.AllocPage()
	ps.UnpinPage(b)
	if a != b {
		t.Errorf("freed page not reused: got %d, want %d", b, a)
	}
}

func TestFileInfoRoundTrip(t *testing.T) {
	fi := NewFileInfo(8192)
	fi.RootPageID = 5
	fi.TreeDepth = 3
	fi.FirstLeafPageID = 9
	fi.LastLeafPageID = 12
	fi.RecordCount = 777
	fi.Flags = FlagKeyModeIndirect | FlagHasTokenizer
	fi.Schema = []byte{1, 2, 3}
	fi.TokenizerDesc = []byte{9, 8}
	copy(fi.InstanceID[:], bytes.Repeat([]byte{0xAB}, 16))

	buf := MarshalFileInfo(fi, 8192)
	got, err := UnmarshalFileInfo(buf)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.RootPageID != 5 || got.TreeDepth != 3 || got.RecordCount != 777 {
		t.Errorf("fixed fields mismatch: %+v", got)
	}
	if got.FirstLeafPageID != 9 || got.LastLeafPageID != 12 {
		t.Errorf("leaf endpoints mismatch: %+v", got)
	}
	if !got.HasFlag(FlagKeyModeIndirect) || !got.HasFlag(FlagHasTokenizer) || got.HasFlag(FlagUnique) {
		t.Errorf("flags mismatch: %x", got.Flags)
	}
	if !bytes.Equal(got.Schema, fi.Schema) || !bytes.Equal(got.TokenizerDesc, fi.TokenizerDesc) {
		t.Errorf("blobs mismatch")
	}
	if got.InstanceID != fi.InstanceID {
		t.Errorf("instance id mismatch")
	}
}

func TestVacuumCompactsFreedAreas(t *testing.T) {
	ps := openTestStore(t)
	defer ps.Close()

	tx, _ := ps.BeginTx()
	pid, buf := ps.AllocPage()
	ap := InitAreaPage(buf, PageTypeValue, pid)
	a, _ := ap.AllocateArea(bytes.Repeat([]byte{1}, 64))
	b, _ := ap.AllocateArea(bytes.Repeat([]byte{2}, 64))
	ap.FreeArea(a)
	if err := ps.WritePage(tx, pid, ap.Bytes()); err != nil {
		t.Fatalf("write: %v", err)
	}
	ps.UnpinPage(pid)
	ps.CommitTx(tx)

	n, err := ps.Vacuum()
	if err != nil {
		t.Fatalf("vacuum: %v", err)
	}
	if n != 1 {
		t.Errorf("vacuum compacted %d pages, want 1", n)
	}
	got, err := ps.ReadPage(pid)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	defer ps.UnpinPage(pid)
	gp := WrapAreaPage(got)
	if data := gp.AreaBytes(b); !bytes.Equal(data, bytes.Repeat([]byte{2}, 64)) {
		t.Errorf("surviving area lost after vacuum")
	}
}

func TestPageCRCDetectsCorruption(t *testing.T) {
	buf := NewPage(4096, PageTypeValue, 3)
	SetPageCRC(buf)
	if err := VerifyPageCRC(buf); err != nil {
		t.Fatalf("clean page: %v", err)
	}
	buf[100] ^= 0xFF
	if err := VerifyPageCRC(buf); err == nil {
		t.Fatal("flipped byte not detected")
	}
}
