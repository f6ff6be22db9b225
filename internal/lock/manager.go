// Package lock implements hierarchical multi-granularity locking over
// tables and records, enforcing strict two-phase locking on top of it.
// Lock never blocks. A plain conflict against another transaction's
// already-granted mode just reports false with no error, leaving the
// retry/queue/abort decision to the caller; there is no wait queue and
// no deadlock detector to unblock one if there were. Only two situations
// abort the requesting transaction outright: locking while SHRINKING, and
// an upgrade that conflicts with another transaction's granted request.
package lock

import (
	"sync"

	"dbkernel/internal/lockkey"
	"dbkernel/internal/rid"
	"dbkernel/internal/txn"
)

// request is one transaction's granted lock on a DataId.
type request struct {
	txnID int64
	mode  lockkey.Mode
}

// group is the full set of locks currently granted on one DataId, plus the
// strongest mode among them, cached so compatibility checks against new
// requests don't need to rescan every holder.
type group struct {
	requests  []request
	groupMode lockkey.Mode
}

func (g *group) find(txnID int64) int {
	for i := range g.requests {
		if g.requests[i].txnID == txnID {
			return i
		}
	}
	return -1
}

func (g *group) recompute() {
	mode := lockkey.NonLock
	for _, r := range g.requests {
		mode = lockkey.Strongest(mode, r.mode)
	}
	g.groupMode = mode
}

// LockManager grants and releases locks keyed by lockkey.DataId.
type LockManager struct {
	mu     sync.Mutex
	groups map[lockkey.DataId]*group
}

func NewLockManager() *LockManager {
	return &LockManager{groups: make(map[lockkey.DataId]*group)}
}

// Lock requests mode on id for t. The returned bool reports whether the
// lock was granted. A plain conflict against another transaction's granted
// mode returns (false, nil) — unlike the two TransactionAbortError cases
// below, this is not a protocol violation; the caller is free to retry,
// queue, or abort. A non-nil error is always a *TransactionAbortError, and
// by the time it is returned t has already been moved to ABORTED.
func (lm *LockManager) Lock(t *txn.Transaction, id lockkey.DataId, mode lockkey.Mode) (bool, error) {
	if t.State() == txn.StateShrinking {
		t.SetState(txn.StateAborted)
		return false, &TransactionAbortError{TxnID: t.ID(), Reason: reasonLockOnShrinking}
	}
	if t.State() == txn.StateDefault {
		t.SetState(txn.StateGrowing)
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	g, ok := lm.groups[id]
	if !ok {
		g = &group{groupMode: lockkey.NonLock}
		lm.groups[id] = g
	}

	if idx := g.find(t.ID()); idx != -1 {
		if g.requests[idx].mode >= mode {
			return true, nil
		}
		return lm.upgradeLocked(t, id, g, idx, mode)
	}

	if !lockkey.Compatible(g.groupMode, mode) {
		return false, nil
	}

	g.requests = append(g.requests, request{txnID: t.ID(), mode: mode})
	g.recompute()
	t.RecordLock(id, mode)
	return true, nil
}

// upgradeLocked replaces t's existing, weaker request with mode, provided
// mode is compatible with every other transaction currently holding id.
// Unlike a plain new-request conflict, a blocked upgrade aborts the
// transaction outright — strict 2PL gives it no way to fall back to the
// mode it already held and retry later. Caller holds lm.mu.
func (lm *LockManager) upgradeLocked(t *txn.Transaction, id lockkey.DataId, g *group, idx int, mode lockkey.Mode) (bool, error) {
	for i, r := range g.requests {
		if i == idx {
			continue
		}
		if !lockkey.Compatible(r.mode, mode) {
			t.SetState(txn.StateAborted)
			return false, &TransactionAbortError{TxnID: t.ID(), Reason: reasonUpgradeConflict}
		}
	}
	g.requests[idx].mode = mode
	g.recompute()
	t.RecordLock(id, mode)
	return true, nil
}

// Unlock releases t's lock on id, if any. The first release of a
// transaction's life moves it from GROWING to SHRINKING.
func (lm *LockManager) Unlock(t *txn.Transaction, id lockkey.DataId) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	g, ok := lm.groups[id]
	if !ok {
		return nil
	}
	idx := g.find(t.ID())
	if idx == -1 {
		return nil
	}
	g.requests = append(g.requests[:idx], g.requests[idx+1:]...)
	g.recompute()
	if len(g.requests) == 0 {
		delete(lm.groups, id)
	}

	t.ForgetLock(id)
	if t.State() == txn.StateGrowing {
		t.SetState(txn.StateShrinking)
	}
	return nil
}

// ReleaseAll drops every lock t currently holds. Called by the transaction
// manager at commit and abort.
func (lm *LockManager) ReleaseAll(t *txn.Transaction) error {
	for id := range t.LockSet() {
		if err := lm.Unlock(t, id); err != nil {
			return err
		}
	}
	return nil
}

func (lm *LockManager) LockSharedOnRecord(t *txn.Transaction, tableFd int32, r rid.Rid) (bool, error) {
	return lm.Lock(t, lockkey.NewRecordId(tableFd, r), lockkey.Shared)
}

func (lm *LockManager) LockExclusiveOnRecord(t *txn.Transaction, tableFd int32, r rid.Rid) (bool, error) {
	return lm.Lock(t, lockkey.NewRecordId(tableFd, r), lockkey.Exclusive)
}

func (lm *LockManager) LockSharedOnTable(t *txn.Transaction, tableFd int32) (bool, error) {
	return lm.Lock(t, lockkey.NewTableId(tableFd), lockkey.Shared)
}

func (lm *LockManager) LockExclusiveOnTable(t *txn.Transaction, tableFd int32) (bool, error) {
	return lm.Lock(t, lockkey.NewTableId(tableFd), lockkey.Exclusive)
}

func (lm *LockManager) LockISOnTable(t *txn.Transaction, tableFd int32) (bool, error) {
	return lm.Lock(t, lockkey.NewTableId(tableFd), lockkey.IntentionShared)
}

func (lm *LockManager) LockIXOnTable(t *txn.Transaction, tableFd int32) (bool, error) {
	return lm.Lock(t, lockkey.NewTableId(tableFd), lockkey.IntentionExclusive)
}
