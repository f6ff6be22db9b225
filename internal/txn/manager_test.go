package txn

import (
	"fmt"
	"testing"

	"dbkernel/internal/lockkey"
	"dbkernel/internal/rid"
)

// fakeRecordFile is an in-memory stand-in for a record.FileHandle, just
// enough to exercise the transaction manager's write-set and undo logic
// without depending on the record package.
type fakeRecordFile struct {
	slots  map[rid.Rid][]byte
	nextNo int32
}

func newFakeRecordFile() *fakeRecordFile {
	return &fakeRecordFile{slots: make(map[rid.Rid][]byte)}
}

func (f *fakeRecordFile) GetRecord(r rid.Rid) ([]byte, error) {
	buf, ok := f.slots[r]
	if !ok {
		return nil, fmt.Errorf("no record at %s", r)
	}
	return buf, nil
}

func (f *fakeRecordFile) InsertRecord(buf []byte) (rid.Rid, error) {
	r := rid.Rid{PageNo: rid.FirstRecordPage, SlotNo: f.nextNo}
	f.nextNo++
	f.slots[r] = buf
	return r, nil
}

func (f *fakeRecordFile) InsertRecordAt(r rid.Rid, buf []byte) error {
	if _, ok := f.slots[r]; ok {
		return fmt.Errorf("slot %s already occupied", r)
	}
	f.slots[r] = buf
	return nil
}

func (f *fakeRecordFile) DeleteRecord(r rid.Rid) ([]byte, error) {
	buf, ok := f.slots[r]
	if !ok {
		return nil, fmt.Errorf("no record at %s", r)
	}
	delete(f.slots, r)
	return buf, nil
}

func (f *fakeRecordFile) UpdateRecord(r rid.Rid, buf []byte) ([]byte, error) {
	old, ok := f.slots[r]
	if !ok {
		return nil, fmt.Errorf("no record at %s", r)
	}
	f.slots[r] = buf
	return old, nil
}

type fakeCatalog struct {
	files map[int32]RecordFile
}

func (c *fakeCatalog) RecordFile(tableFd int32) (RecordFile, bool) {
	f, ok := c.files[tableFd]
	return f, ok
}

// fakeLocker is a permissive Locker that records calls without enforcing
// compatibility — the lock package's own tests cover that contract.
type fakeLocker struct {
	held map[int64]map[lockkey.DataId]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[int64]map[lockkey.DataId]bool)}
}

func (l *fakeLocker) grant(t *Transaction, id lockkey.DataId) (bool, error) {
	if l.held[t.ID()] == nil {
		l.held[t.ID()] = make(map[lockkey.DataId]bool)
	}
	l.held[t.ID()][id] = true
	return true, nil
}

func (l *fakeLocker) LockISOnTable(t *Transaction, tableFd int32) (bool, error) {
	return l.grant(t, lockkey.NewTableId(tableFd))
}
func (l *fakeLocker) LockIXOnTable(t *Transaction, tableFd int32) (bool, error) {
	return l.grant(t, lockkey.NewTableId(tableFd))
}
func (l *fakeLocker) LockSharedOnTable(t *Transaction, tableFd int32) (bool, error) {
	return l.grant(t, lockkey.NewTableId(tableFd))
}
func (l *fakeLocker) LockExclusiveOnTable(t *Transaction, tableFd int32) (bool, error) {
	return l.grant(t, lockkey.NewTableId(tableFd))
}
func (l *fakeLocker) LockSharedOnRecord(t *Transaction, tableFd int32, r rid.Rid) (bool, error) {
	return l.grant(t, lockkey.NewRecordId(tableFd, r))
}
func (l *fakeLocker) LockExclusiveOnRecord(t *Transaction, tableFd int32, r rid.Rid) (bool, error) {
	return l.grant(t, lockkey.NewRecordId(tableFd, r))
}
func (l *fakeLocker) ReleaseAll(t *Transaction) error {
	delete(l.held, t.ID())
	return nil
}

type fakeLogFlusher struct{ flushes int }

func (f *fakeLogFlusher) Flush() error {
	f.flushes++
	return nil
}

func newTestManager() (*TxnManager, *fakeRecordFile, *fakeLogFlusher) {
	rf := newFakeRecordFile()
	cat := &fakeCatalog{files: map[int32]RecordFile{1: rf}}
	locker := newFakeLocker()
	log := &fakeLogFlusher{}
	return NewTxnManager(locker, cat, log), rf, log
}

func TestInsertCommitKeepsRecord(t *testing.T) {
	tm, rf, log := newTestManager()
	tr := tm.Begin()

	r, err := tm.InsertRecord(tr, 1, []byte("hello"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tm.Commit(tr); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if log.flushes != 1 {
		t.Fatalf("expected commit to flush the log once, got %d", log.flushes)
	}
	if _, ok := rf.slots[r]; !ok {
		t.Fatal("expected committed insert to survive")
	}
	if tr.State() != StateCommitted {
		t.Fatalf("expected COMMITTED, got %s", tr.State())
	}
}

func TestInsertAbortUndoesInsert(t *testing.T) {
	tm, rf, _ := newTestManager()
	tr := tm.Begin()

	r, err := tm.InsertRecord(tr, 1, []byte("hello"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tm.Abort(tr); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if _, ok := rf.slots[r]; ok {
		t.Fatal("expected aborted insert to be undone")
	}
	if tr.State() != StateAborted {
		t.Fatalf("expected ABORTED, got %s", tr.State())
	}
}

func TestUpdateAbortRestoresPreImage(t *testing.T) {
	tm, rf, _ := newTestManager()
	seed := tm.Begin()
	r, err := tm.InsertRecord(seed, 1, []byte("original"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	tm.Commit(seed)

	tr := tm.Begin()
	if err := tm.UpdateRecord(tr, 1, r, []byte("changed!")); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := tm.Abort(tr); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if string(rf.slots[r]) != "original" {
		t.Fatalf("got %q want %q", rf.slots[r], "original")
	}
}

func TestDeleteAbortReinstatesRecord(t *testing.T) {
	tm, rf, _ := newTestManager()
	seed := tm.Begin()
	r, err := tm.InsertRecord(seed, 1, []byte("keepme"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	tm.Commit(seed)

	tr := tm.Begin()
	if err := tm.DeleteRecord(tr, 1, r); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := tm.Abort(tr); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if string(rf.slots[r]) != "keepme" {
		t.Fatalf("got %q want %q", rf.slots[r], "keepme")
	}
}

// TestAbortUndoesInReverseOrder inserts, updates it twice, then aborts —
// the undo must replay back to front, leaving the pre-insert state (the
// record simply gone), not some intermediate update.
func TestAbortUndoesInReverseOrder(t *testing.T) {
	tm, rf, _ := newTestManager()
	tr := tm.Begin()

	r, err := tm.InsertRecord(tr, 1, []byte("v0"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tm.UpdateRecord(tr, 1, r, []byte("v1")); err != nil {
		t.Fatalf("update 1: %v", err)
	}
	if err := tm.UpdateRecord(tr, 1, r, []byte("v2")); err != nil {
		t.Fatalf("update 2: %v", err)
	}
	if err := tm.Abort(tr); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if _, ok := rf.slots[r]; ok {
		t.Fatalf("expected record gone after undoing the original insert, got %q", rf.slots[r])
	}
}

func TestCommitForgetsTransaction(t *testing.T) {
	tm, _, _ := newTestManager()
	tr := tm.Begin()
	tm.Commit(tr)
	if _, ok := tm.GetTransaction(tr.ID()); ok {
		t.Fatal("expected committed transaction to no longer be active")
	}
}
