package txn

import (
	"fmt"
	"sync"

	"dbkernel/internal/rid"
)

// TxnManager begins, commits, and aborts transactions. It owns the write
// set each transaction accumulates and is the only component that calls
// back into the record manager to undo one.
type TxnManager struct {
	locker  Locker
	catalog Catalog
	log     LogFlusher

	mu     sync.Mutex
	nextID int64
	nextTs int64
	active map[int64]*Transaction
}

func NewTxnManager(locker Locker, catalog Catalog, log LogFlusher) *TxnManager {
	return &TxnManager{
		locker:  locker,
		catalog: catalog,
		log:     log,
		nextID:  1,
		nextTs:  1,
		active:  make(map[int64]*Transaction),
	}
}

// Begin starts a new transaction in the GROWING phase, stamping it with the
// manager's next monotonic start_ts.
func (tm *TxnManager) Begin() *Transaction {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	t := newTransaction(tm.nextID, tm.nextTs)
	tm.nextID++
	tm.nextTs++
	t.SetState(StateGrowing)
	tm.active[t.id] = t
	return t
}

func (tm *TxnManager) GetTransaction(id int64) (*Transaction, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	t, ok := tm.active[id]
	return t, ok
}

func (tm *TxnManager) ActiveTransactions() []*Transaction {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	out := make([]*Transaction, 0, len(tm.active))
	for _, t := range tm.active {
		out = append(out, t)
	}
	return out
}

func (tm *TxnManager) forget(t *Transaction) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	delete(tm.active, t.id)
}

// Commit forces the log, releases every lock t holds, and marks it
// committed. The write set is simply discarded — nothing to undo.
func (tm *TxnManager) Commit(t *Transaction) error {
	if tm.log != nil {
		if err := tm.log.Flush(); err != nil {
			return fmt.Errorf("commit: flush log: %w", err)
		}
	}
	if tm.locker != nil {
		if err := tm.locker.ReleaseAll(t); err != nil {
			return fmt.Errorf("commit: release locks: %w", err)
		}
	}
	t.SetState(StateCommitted)
	tm.forget(t)
	return nil
}

// Abort replays t's write set back to front, undoing each write, then
// releases every lock it holds and marks it aborted.
func (tm *TxnManager) Abort(t *Transaction) error {
	tm.undo(t)
	if tm.locker != nil {
		if err := tm.locker.ReleaseAll(t); err != nil {
			return fmt.Errorf("abort: release locks: %w", err)
		}
	}
	t.SetState(StateAborted)
	tm.forget(t)
	return nil
}

// undo walks t's write set in reverse, restoring each table to the state
// it was in before t touched it. A table whose file handle is no longer
// registered in the catalog is skipped rather than treated as an error —
// it cannot have outlived the transaction that wrote to it in any scenario
// this abort path needs to handle.
func (tm *TxnManager) undo(t *Transaction) {
	for _, w := range reversed(t.writeSetSnapshot()) {
		fh, ok := tm.catalog.RecordFile(w.TableFd)
		if !ok {
			continue
		}
		switch w.Type {
		case WriteInsert:
			fh.DeleteRecord(w.Rid)
		case WriteDelete:
			fh.InsertRecordAt(w.Rid, w.PreImage)
		case WriteUpdate:
			fh.UpdateRecord(w.Rid, w.PreImage)
		}
	}
}

func reversed(ws []WriteRecord) []WriteRecord {
	out := make([]WriteRecord, len(ws))
	for i, w := range ws {
		out[len(ws)-1-i] = w
	}
	return out
}

// acquire runs a Locker call and reduces its (granted, err) result to a
// single error, for callers with no retry or queueing strategy of their
// own. A protocol-violation err is returned as is — the lock manager has
// already moved t to ABORTED. A plain, non-erroring denial is translated
// to an abort here too, since InsertRecord/DeleteRecord/UpdateRecord/
// GetRecord have no way to wait or retry; the lock manager leaves that
// choice to the caller, and aborting is this caller's choice.
func (tm *TxnManager) acquire(t *Transaction, granted bool, err error) error {
	if err != nil {
		tm.Abort(t)
		return err
	}
	if !granted {
		tm.Abort(t)
		return fmt.Errorf("transaction %d aborted: lock request denied", t.ID())
	}
	return nil
}

// InsertRecord takes the intention-exclusive table lock, inserts buf, then
// takes the exclusive record lock on the rid it was assigned, and records
// the write for undo.
func (tm *TxnManager) InsertRecord(t *Transaction, tableFd int32, buf []byte) (rid.Rid, error) {
	fh, ok := tm.catalog.RecordFile(tableFd)
	if !ok {
		return rid.Rid{}, fmt.Errorf("table %d not found", tableFd)
	}
	granted, err := tm.locker.LockIXOnTable(t, tableFd)
	if err := tm.acquire(t, granted, err); err != nil {
		return rid.Rid{}, err
	}
	r, err := fh.InsertRecord(buf)
	if err != nil {
		return rid.Rid{}, err
	}
	granted, err = tm.locker.LockExclusiveOnRecord(t, tableFd, r)
	if err := tm.acquire(t, granted, err); err != nil {
		return rid.Rid{}, err
	}
	t.appendWrite(WriteRecord{Type: WriteInsert, TableFd: tableFd, Rid: r})
	return r, nil
}

// DeleteRecord takes the exclusive record lock, deletes r, and records the
// pre-image for undo.
func (tm *TxnManager) DeleteRecord(t *Transaction, tableFd int32, r rid.Rid) error {
	fh, ok := tm.catalog.RecordFile(tableFd)
	if !ok {
		return fmt.Errorf("table %d not found", tableFd)
	}
	granted, err := tm.locker.LockExclusiveOnRecord(t, tableFd, r)
	if err := tm.acquire(t, granted, err); err != nil {
		return err
	}
	pre, err := fh.DeleteRecord(r)
	if err != nil {
		return err
	}
	t.appendWrite(WriteRecord{Type: WriteDelete, TableFd: tableFd, Rid: r, PreImage: pre})
	return nil
}

// UpdateRecord takes the exclusive record lock, overwrites r, and records
// the pre-image for undo.
func (tm *TxnManager) UpdateRecord(t *Transaction, tableFd int32, r rid.Rid, buf []byte) error {
	fh, ok := tm.catalog.RecordFile(tableFd)
	if !ok {
		return fmt.Errorf("table %d not found", tableFd)
	}
	granted, err := tm.locker.LockExclusiveOnRecord(t, tableFd, r)
	if err := tm.acquire(t, granted, err); err != nil {
		return err
	}
	pre, err := fh.UpdateRecord(r, buf)
	if err != nil {
		return err
	}
	t.appendWrite(WriteRecord{Type: WriteUpdate, TableFd: tableFd, Rid: r, PreImage: pre})
	return nil
}

// GetRecord takes the shared record lock and reads r.
func (tm *TxnManager) GetRecord(t *Transaction, tableFd int32, r rid.Rid) ([]byte, error) {
	fh, ok := tm.catalog.RecordFile(tableFd)
	if !ok {
		return nil, fmt.Errorf("table %d not found", tableFd)
	}
	granted, err := tm.locker.LockSharedOnRecord(t, tableFd, r)
	if err := tm.acquire(t, granted, err); err != nil {
		return nil, err
	}
	return fh.GetRecord(r)
}
