package record

import (
	"sync"

	"dbkernel/internal/page"
	"dbkernel/internal/rid"
)

// PageSource is the slice of the buffer pool a record file needs: fetch a
// page by local page number, allocate a fresh one, and unpin when done.
// *bufferpool.BufferPool satisfies this by method signature alone.
type PageSource interface {
	FetchPage(fileID uint32, localPageNo int32) (*page.Page, error)
	NewPage(fileID uint32) (*page.Page, int32, error)
	UnpinPage(fileID uint32, localPageNo int32, dirty bool) error
}

// FileHandle is one open record file: a fixed-size-slot heap with a
// free-page list threaded through the data pages that have a free slot. Page 0 holds the
// FileHeader; data pages start at rid.FirstRecordPage.
type FileHandle struct {
	fileID uint32
	name   string
	pages  PageSource

	mu     sync.RWMutex
	header FileHeader
}

// CreateFileHandle lays down a fresh file header on a brand-new page 0.
func CreateFileHandle(fileID uint32, name string, pages PageSource, recordSize int32) (*FileHandle, error) {
	header := NewFileHeader(recordSize)

	pg, localNo, err := pages.NewPage(fileID)
	if err != nil {
		return nil, err
	}
	if localNo != 0 {
		return nil, &InternalError{Message: "file header must occupy page 0"}
	}

	pg.Lock()
	header.Encode(pg.Data)
	pg.Unlock()

	if err := pages.UnpinPage(fileID, 0, true); err != nil {
		return nil, err
	}
	return &FileHandle{fileID: fileID, name: name, pages: pages, header: header}, nil
}

// OpenFileHandle reads back the file header of an already-created file.
func OpenFileHandle(fileID uint32, name string, pages PageSource) (*FileHandle, error) {
	pg, err := pages.FetchPage(fileID, 0)
	if err != nil {
		return nil, err
	}
	if pg == nil {
		return nil, &PageNotExistError{File: name, PageNo: 0}
	}

	pg.Lock()
	header := DecodeFileHeader(pg.Data)
	pg.Unlock()

	if err := pages.UnpinPage(fileID, 0, false); err != nil {
		return nil, err
	}
	return &FileHandle{fileID: fileID, name: name, pages: pages, header: header}, nil
}

func (fh *FileHandle) FileID() uint32 { return fh.fileID }

func (fh *FileHandle) NumPages() int32 {
	fh.mu.RLock()
	defer fh.mu.RUnlock()
	return fh.header.NumPages
}

func (fh *FileHandle) RecordsPerPage() int32 {
	fh.mu.RLock()
	defer fh.mu.RUnlock()
	return fh.header.NumRecordsPerPage
}

func (fh *FileHandle) RecordSize() int32 {
	fh.mu.RLock()
	defer fh.mu.RUnlock()
	return fh.header.RecordSize
}

// fetchPageHandle validates pageNo against the current header and fetches
// it through the page source.
func (fh *FileHandle) fetchPageHandle(pageNo int32) (*PageHandle, error) {
	fh.mu.RLock()
	hdr := fh.header
	fh.mu.RUnlock()
	return fh.fetchPageHandleWith(pageNo, hdr)
}

func (fh *FileHandle) fetchPageHandleWith(pageNo int32, hdr FileHeader) (*PageHandle, error) {
	if pageNo < rid.FirstRecordPage || pageNo >= hdr.NumPages {
		return nil, &PageNotExistError{File: fh.name, PageNo: pageNo}
	}
	pg, err := fh.pages.FetchPage(fh.fileID, pageNo)
	if err != nil {
		return nil, err
	}
	if pg == nil {
		return nil, &PageNotExistError{File: fh.name, PageNo: pageNo}
	}
	return newPageHandle(pg, pageNo, hdr), nil
}

// createPageHandle returns a page guaranteed to have a free slot: the free
// list's head if non-empty, else a freshly allocated page linked in as the
// new head.
func (fh *FileHandle) createPageHandle() (*PageHandle, error) {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	if fh.header.FirstFreePageNo != rid.NoPage {
		return fh.fetchPageHandleWith(fh.header.FirstFreePageNo, fh.header)
	}

	pg, localNo, err := fh.pages.NewPage(fh.fileID)
	if err != nil {
		return nil, err
	}

	ph := newPageHandle(pg, localNo, fh.header)
	pg.Lock()
	ph.setNumRecords(0)
	ph.setNextFreePageNo(fh.header.FirstFreePageNo)
	pg.Unlock()

	fh.header.FirstFreePageNo = localNo
	fh.header.NumPages++
	if err := fh.flushHeaderLocked(); err != nil {
		fh.pages.UnpinPage(fh.fileID, localNo, true)
		return nil, err
	}
	return ph, nil
}

// flushHeaderLocked writes fh.header to page 0. Caller must hold fh.mu.
func (fh *FileHandle) flushHeaderLocked() error {
	pg, err := fh.pages.FetchPage(fh.fileID, 0)
	if err != nil {
		return err
	}
	if pg == nil {
		return &PageNotExistError{File: fh.name, PageNo: 0}
	}
	pg.Lock()
	fh.header.Encode(pg.Data)
	pg.Unlock()
	return fh.pages.UnpinPage(fh.fileID, 0, true)
}

// removeFromFreeList unlinks pageNo from the free list. If pageNo is the
// head, this is a single fetch; otherwise it walks the list, which is the
// price paid only by the explicit-rid insert path (InsertRecordAt), since
// InsertRecord always fills the head.
func (fh *FileHandle) removeFromFreeList(pageNo int32) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	if fh.header.FirstFreePageNo == pageNo {
		ph, err := fh.fetchPageHandleWith(pageNo, fh.header)
		if err != nil {
			return err
		}
		ph.Page.Lock()
		next := ph.NextFreePageNo()
		ph.Page.Unlock()
		if err := fh.pages.UnpinPage(fh.fileID, pageNo, false); err != nil {
			return err
		}
		fh.header.FirstFreePageNo = next
		return fh.flushHeaderLocked()
	}

	cur := fh.header.FirstFreePageNo
	for cur != rid.NoPage {
		ph, err := fh.fetchPageHandleWith(cur, fh.header)
		if err != nil {
			return err
		}
		ph.Page.Lock()
		next := ph.NextFreePageNo()
		ph.Page.Unlock()

		if next != pageNo {
			if err := fh.pages.UnpinPage(fh.fileID, cur, false); err != nil {
				return err
			}
			cur = next
			continue
		}

		target, err := fh.fetchPageHandleWith(pageNo, fh.header)
		if err != nil {
			fh.pages.UnpinPage(fh.fileID, cur, false)
			return err
		}
		target.Page.Lock()
		targetNext := target.NextFreePageNo()
		target.Page.Unlock()

		ph.Page.Lock()
		ph.setNextFreePageNo(targetNext)
		ph.Page.Unlock()

		if err := fh.pages.UnpinPage(fh.fileID, pageNo, false); err != nil {
			fh.pages.UnpinPage(fh.fileID, cur, true)
			return err
		}
		return fh.pages.UnpinPage(fh.fileID, cur, true)
	}
	return nil
}

// addToFreeListHead links pageNo in as the new free-list head.
func (fh *FileHandle) addToFreeListHead(pageNo int32) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	ph, err := fh.fetchPageHandleWith(pageNo, fh.header)
	if err != nil {
		return err
	}
	ph.Page.Lock()
	ph.setNextFreePageNo(fh.header.FirstFreePageNo)
	ph.Page.Unlock()

	if err := fh.pages.UnpinPage(fh.fileID, pageNo, true); err != nil {
		return err
	}
	fh.header.FirstFreePageNo = pageNo
	return fh.flushHeaderLocked()
}

// GetRecord returns the bytes stored at r, or RecordNotFoundError if the
// slot is not live.
func (fh *FileHandle) GetRecord(r rid.Rid) ([]byte, error) {
	ph, err := fh.fetchPageHandle(r.PageNo)
	if err != nil {
		return nil, err
	}

	ph.Page.Lock()
	set := ph.IsSlotSet(r.SlotNo)
	var out []byte
	if set {
		out = make([]byte, ph.fileHdr.RecordSize)
		copy(out, ph.GetSlotData(r.SlotNo))
	}
	ph.Page.Unlock()

	if err := fh.pages.UnpinPage(fh.fileID, r.PageNo, false); err != nil {
		return nil, err
	}
	if !set {
		return nil, &RecordNotFoundError{PageNo: r.PageNo, SlotNo: r.SlotNo}
	}
	return out, nil
}

// InsertRecord places buf in the first free slot of the free list's head
// page (allocating a new page if the list is empty), and returns its rid.
func (fh *FileHandle) InsertRecord(buf []byte) (rid.Rid, error) {
	ph, err := fh.createPageHandle()
	if err != nil {
		return rid.Rid{}, err
	}

	ph.Page.Lock()
	slotNo := ph.bitmap().FirstBit(false, int(ph.fileHdr.NumRecordsPerPage))
	if slotNo == -1 {
		ph.Page.Unlock()
		fh.pages.UnpinPage(fh.fileID, ph.PageNo, false)
		return rid.Rid{}, &InternalError{Message: "free-list page has no free slot"}
	}
	ph.setSlot(int32(slotNo), buf)
	ph.setNumRecords(ph.NumRecords() + 1)
	full := ph.NumRecords() == ph.fileHdr.NumRecordsPerPage
	pageNo := ph.PageNo
	ph.Page.Unlock()

	if err := fh.pages.UnpinPage(fh.fileID, pageNo, true); err != nil {
		return rid.Rid{}, err
	}
	if full {
		if err := fh.removeFromFreeList(pageNo); err != nil {
			return rid.Rid{}, err
		}
	}
	return rid.Rid{PageNo: pageNo, SlotNo: int32(slotNo)}, nil
}

// InsertRecordAt places buf at an explicit rid, used to undo a delete on
// transaction abort. It fails if the slot is already live.
func (fh *FileHandle) InsertRecordAt(r rid.Rid, buf []byte) error {
	ph, err := fh.fetchPageHandle(r.PageNo)
	if err != nil {
		return err
	}

	ph.Page.Lock()
	occupied := ph.IsSlotSet(r.SlotNo)
	var full bool
	if !occupied {
		ph.setSlot(r.SlotNo, buf)
		ph.setNumRecords(ph.NumRecords() + 1)
		full = ph.NumRecords() == ph.fileHdr.NumRecordsPerPage
	}
	ph.Page.Unlock()

	if err := fh.pages.UnpinPage(fh.fileID, r.PageNo, !occupied); err != nil {
		return err
	}
	if occupied {
		return &RecordNotFoundError{PageNo: r.PageNo, SlotNo: r.SlotNo}
	}
	if full {
		return fh.removeFromFreeList(r.PageNo)
	}
	return nil
}

// DeleteRecord clears r and returns the pre-image bytes, for undo logging.
// If r was on a full page, the page rejoins the free list at its head.
func (fh *FileHandle) DeleteRecord(r rid.Rid) ([]byte, error) {
	ph, err := fh.fetchPageHandle(r.PageNo)
	if err != nil {
		return nil, err
	}

	ph.Page.Lock()
	set := ph.IsSlotSet(r.SlotNo)
	var preImage []byte
	var wasFull bool
	if set {
		preImage = make([]byte, ph.fileHdr.RecordSize)
		copy(preImage, ph.GetSlotData(r.SlotNo))
		wasFull = ph.NumRecords() == ph.fileHdr.NumRecordsPerPage
		ph.clearSlot(r.SlotNo)
		ph.setNumRecords(ph.NumRecords() - 1)
	}
	ph.Page.Unlock()

	if err := fh.pages.UnpinPage(fh.fileID, r.PageNo, set); err != nil {
		return nil, err
	}
	if !set {
		return nil, &RecordNotFoundError{PageNo: r.PageNo, SlotNo: r.SlotNo}
	}
	if wasFull {
		if err := fh.addToFreeListHead(r.PageNo); err != nil {
			return nil, err
		}
	}
	return preImage, nil
}

// UpdateRecord overwrites r in place and returns the pre-image bytes, for
// undo logging.
func (fh *FileHandle) UpdateRecord(r rid.Rid, buf []byte) ([]byte, error) {
	ph, err := fh.fetchPageHandle(r.PageNo)
	if err != nil {
		return nil, err
	}

	ph.Page.Lock()
	set := ph.IsSlotSet(r.SlotNo)
	var preImage []byte
	if set {
		preImage = make([]byte, ph.fileHdr.RecordSize)
		copy(preImage, ph.GetSlotData(r.SlotNo))
		ph.setSlot(r.SlotNo, buf)
	}
	ph.Page.Unlock()

	if err := fh.pages.UnpinPage(fh.fileID, r.PageNo, set); err != nil {
		return nil, err
	}
	if !set {
		return nil, &RecordNotFoundError{PageNo: r.PageNo, SlotNo: r.SlotNo}
	}
	return preImage, nil
}
