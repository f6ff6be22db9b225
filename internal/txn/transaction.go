package txn

import (
	"sync"

	"dbkernel/internal/lockkey"
	"dbkernel/internal/rid"
)

// State is a transaction's position in the strict two-phase locking
// protocol: DEFAULT before any lock is taken, GROWING while acquiring
// locks, SHRINKING once the first lock has been released, and finally
// COMMITTED or ABORTED.
type State int

const (
	StateDefault State = iota
	StateGrowing
	StateShrinking
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateDefault:
		return "DEFAULT"
	case StateGrowing:
		return "GROWING"
	case StateShrinking:
		return "SHRINKING"
	case StateCommitted:
		return "COMMITTED"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// WriteType identifies which undo action a WriteRecord needs on abort.
type WriteType int

const (
	WriteInsert WriteType = iota
	WriteDelete
	WriteUpdate
)

// WriteRecord is one entry of a transaction's write set. PreImage is the
// bytes the record held before the write; it is nil for WriteInsert, where
// undo is a plain delete.
type WriteRecord struct {
	Type     WriteType
	TableFd  int32
	Rid      rid.Rid
	PreImage []byte
}

// Transaction tracks one transaction's 2PL state, the locks it has been
// granted, and the writes it has made, in the order they happened — abort
// replays this list back to front.
type Transaction struct {
	id      int64
	startTs int64

	mu       sync.Mutex
	state    State
	lockSet  map[lockkey.DataId]lockkey.Mode
	writeSet []WriteRecord
}

func newTransaction(id int64, startTs int64) *Transaction {
	return &Transaction{
		id:      id,
		startTs: startTs,
		state:   StateDefault,
		lockSet: make(map[lockkey.DataId]lockkey.Mode),
	}
}

func (t *Transaction) ID() int64 { return t.id }

// StartTs is the monotonic timestamp assigned when the transaction began.
func (t *Transaction) StartTs() int64 { return t.startTs }

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) SetState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// GrantedMode returns the mode t currently holds on id, or NonLock.
func (t *Transaction) GrantedMode(id lockkey.DataId) lockkey.Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lockSet[id]
}

// RecordLock is called by the lock manager once a lock request is
// granted, so the transaction can report what it holds and release
// everything on commit or abort.
func (t *Transaction) RecordLock(id lockkey.DataId, mode lockkey.Mode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lockSet[id] = mode
}

// ForgetLock is called by the lock manager once a lock has been released.
func (t *Transaction) ForgetLock(id lockkey.DataId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lockSet, id)
}

// LockSet returns a snapshot of every lock currently held.
func (t *Transaction) LockSet() map[lockkey.DataId]lockkey.Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[lockkey.DataId]lockkey.Mode, len(t.lockSet))
	for k, v := range t.lockSet {
		out[k] = v
	}
	return out
}

func (t *Transaction) appendWrite(w WriteRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeSet = append(t.writeSet, w)
}

// writeSetSnapshot returns a copy of the write set in recorded order.
func (t *Transaction) writeSetSnapshot() []WriteRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]WriteRecord, len(t.writeSet))
	copy(out, t.writeSet)
	return out
}
