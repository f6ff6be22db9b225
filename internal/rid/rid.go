// Package rid defines the record identifier shared by the record manager,
// the lock manager, and the transaction manager's write-set.
package rid

import "fmt"

// NoPage is the sentinel for "no page" used by the free-list terminator and
// the end-of-scan position.
const NoPage int32 = -1

// FirstRecordPage is the first page number that holds records; page 0 is
// always the file header.
const FirstRecordPage int32 = 1

// Rid identifies a single record by its page and slot.
type Rid struct {
	PageNo int32
	SlotNo int32
}

// IsNone reports whether r is the NoPage sentinel in either field.
func (r Rid) IsNone() bool {
	return r.PageNo == NoPage || r.SlotNo == NoPage
}

func (r Rid) String() string {
	return fmt.Sprintf("(%d,%d)", r.PageNo, r.SlotNo)
}
