package lock

import "fmt"

// TransactionAbortError is returned by Lock when the request is made in the
// SHRINKING phase or is an upgrade that conflicts with another transaction's
// granted lock; a plain conflict on a new request is not an error. The
// requesting transaction has already been moved to ABORTED by the time
// this is returned — the caller's job is to run undo, not to retry.
type TransactionAbortError struct {
	TxnID  int64
	Reason string
}

func (e *TransactionAbortError) Error() string {
	return fmt.Sprintf("transaction %d aborted: %s", e.TxnID, e.Reason)
}

const (
	reasonLockOnShrinking = "lock requested after entering SHRINKING phase"
	reasonUpgradeConflict = "lock upgrade conflicts with another transaction's granted lock"
)
