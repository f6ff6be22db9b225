package record

import (
	"os"
	"path/filepath"
	"testing"

	"dbkernel/internal/bufferpool"
	"dbkernel/internal/diskmanager"
	"dbkernel/internal/rid"
)

func newTestFileHandle(t *testing.T, recordSize int32) *FileHandle {
	t.Helper()

	dir := t.TempDir()
	disk := diskmanager.NewDiskManager()
	pool, err := bufferpool.NewBufferPool(32, disk)
	if err != nil {
		t.Fatalf("new buffer pool: %v", err)
	}
	if _, err := disk.OpenFileWithID(filepath.Join(dir, "t.tbl"), 1); err != nil {
		t.Fatalf("open file: %v", err)
	}
	fh, err := CreateFileHandle(1, "t", pool, recordSize)
	if err != nil {
		t.Fatalf("create file handle: %v", err)
	}
	return fh
}

func rec(n byte, size int) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = n
	}
	return buf
}

func TestInsertGetRoundTrip(t *testing.T) {
	fh := newTestFileHandle(t, 8)

	r, err := fh.InsertRecord(rec(7, 8))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := fh.GetRecord(r)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := rec(7, 8)
	if string(got) != string(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestGetMissingRecordFails(t *testing.T) {
	fh := newTestFileHandle(t, 8)
	if _, err := fh.GetRecord(rid.Rid{PageNo: rid.FirstRecordPage, SlotNo: 0}); err == nil {
		t.Fatal("expected RecordNotFoundError")
	}
}

func TestDeleteThenGetFails(t *testing.T) {
	fh := newTestFileHandle(t, 8)
	r, err := fh.InsertRecord(rec(1, 8))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	pre, err := fh.DeleteRecord(r)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if string(pre) != string(rec(1, 8)) {
		t.Fatalf("pre-image mismatch: %v", pre)
	}
	if _, err := fh.GetRecord(r); err == nil {
		t.Fatal("expected record to be gone after delete")
	}
}

func TestUpdateReturnsPreImage(t *testing.T) {
	fh := newTestFileHandle(t, 8)
	r, err := fh.InsertRecord(rec(1, 8))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	pre, err := fh.UpdateRecord(r, rec(2, 8))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if string(pre) != string(rec(1, 8)) {
		t.Fatalf("pre-image mismatch: %v", pre)
	}
	got, err := fh.GetRecord(r)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(rec(2, 8)) {
		t.Fatalf("got %v want updated bytes", got)
	}
}

// TestPageFillsAndRollsOverToNewPage fills one page past capacity and
// checks inserts land on a second page once the first is full.
func TestPageFillsAndRollsOverToNewPage(t *testing.T) {
	fh := newTestFileHandle(t, 8)
	perPage := fh.RecordsPerPage()

	var rids []rid.Rid
	for i := int32(0); i < perPage; i++ {
		r, err := fh.InsertRecord(rec(byte(i), 8))
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		rids = append(rids, r)
	}
	for _, r := range rids {
		if r.PageNo != rid.FirstRecordPage {
			t.Fatalf("expected all records on first page, got %s", r)
		}
	}

	overflow, err := fh.InsertRecord(rec(99, 8))
	if err != nil {
		t.Fatalf("insert overflow: %v", err)
	}
	if overflow.PageNo == rid.FirstRecordPage {
		t.Fatalf("expected overflow record to land on a new page, got %s", overflow)
	}
}

// TestDeleteFromFullPageRestoresFreeList fills a page, deletes one record,
// and checks the page becomes available for new inserts again.
func TestDeleteFromFullPageRestoresFreeList(t *testing.T) {
	fh := newTestFileHandle(t, 8)
	perPage := fh.RecordsPerPage()

	var rids []rid.Rid
	for i := int32(0); i < perPage; i++ {
		r, err := fh.InsertRecord(rec(byte(i), 8))
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		rids = append(rids, r)
	}

	victim := rids[0]
	if _, err := fh.DeleteRecord(victim); err != nil {
		t.Fatalf("delete: %v", err)
	}

	r, err := fh.InsertRecord(rec(55, 8))
	if err != nil {
		t.Fatalf("insert after delete: %v", err)
	}
	if r.PageNo != victim.PageNo {
		t.Fatalf("expected reinsert to reuse the page that just freed a slot, got %s", r)
	}
}

func TestInsertRecordAtRejectsOccupiedSlot(t *testing.T) {
	fh := newTestFileHandle(t, 8)
	r, err := fh.InsertRecord(rec(1, 8))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	err = fh.InsertRecordAt(r, rec(2, 8))
	if err == nil {
		t.Fatal("expected error inserting at an already-occupied rid")
	}
	if _, ok := err.(*RecordNotFoundError); !ok {
		t.Fatalf("expected *RecordNotFoundError, got %T: %v", err, err)
	}
}

func TestInsertRecordAtUndoesDelete(t *testing.T) {
	fh := newTestFileHandle(t, 8)
	r, err := fh.InsertRecord(rec(9, 8))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	pre, err := fh.DeleteRecord(r)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := fh.InsertRecordAt(r, pre); err != nil {
		t.Fatalf("insert at: %v", err)
	}
	got, err := fh.GetRecord(r)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(pre) {
		t.Fatalf("got %v want %v", got, pre)
	}
}

func TestScanSkipsHolesAndVisitsInOrder(t *testing.T) {
	fh := newTestFileHandle(t, 8)

	var rids []rid.Rid
	for i := 0; i < 5; i++ {
		r, err := fh.InsertRecord(rec(byte(i), 8))
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		rids = append(rids, r)
	}
	if _, err := fh.DeleteRecord(rids[1]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := fh.DeleteRecord(rids[3]); err != nil {
		t.Fatalf("delete: %v", err)
	}

	scan, err := NewScan(fh)
	if err != nil {
		t.Fatalf("new scan: %v", err)
	}

	var seen []rid.Rid
	for !scan.IsEnd() {
		seen = append(seen, scan.Rid())
		if err := scan.Next(); err != nil {
			t.Fatalf("next: %v", err)
		}
	}

	want := []rid.Rid{rids[0], rids[2], rids[4]}
	if len(seen) != len(want) {
		t.Fatalf("got %d live records, want %d (%v)", len(seen), len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen[%d] = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestOpenFileHandleAfterCreateRestoresHeader(t *testing.T) {
	dir := t.TempDir()
	disk := diskmanager.NewDiskManager()
	pool, err := bufferpool.NewBufferPool(32, disk)
	if err != nil {
		t.Fatalf("new buffer pool: %v", err)
	}
	path := filepath.Join(dir, "t.tbl")
	if _, err := disk.OpenFileWithID(path, 1); err != nil {
		t.Fatalf("open file: %v", err)
	}
	fh, err := CreateFileHandle(1, "t", pool, 8)
	if err != nil {
		t.Fatalf("create file handle: %v", err)
	}
	r, err := fh.InsertRecord(rec(42, 8))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := pool.FlushAllPages(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	reopened, err := OpenFileHandle(1, "t", pool)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.GetRecord(r)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if string(got) != string(rec(42, 8)) {
		t.Fatalf("got %v want %v", got, rec(42, 8))
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("table file missing on disk: %v", err)
	}
}
