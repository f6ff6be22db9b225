package record

import "fmt"

// PageNotExistError is raised when a page_no falls outside
// [FirstRecordPage, NumPages) or the buffer pool has no such page.
type PageNotExistError struct {
	File   string
	PageNo int32
}

func (e *PageNotExistError) Error() string {
	return fmt.Sprintf("page %d does not exist in file %s", e.PageNo, e.File)
}

// RecordNotFoundError is raised when a bitmap bit is unset on a read,
// update, or delete — or already set on an explicit-Rid insert.
type RecordNotFoundError struct {
	PageNo int32
	SlotNo int32
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("record not found at (%d,%d)", e.PageNo, e.SlotNo)
}

// InternalError signals a violated invariant — e.g. a free page reporting
// no free slot.
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string {
	return "internal error: " + e.Message
}
