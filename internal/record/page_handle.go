package record

import (
	"encoding/binary"

	"dbkernel/internal/page"
)

// Data page layout:
//
//   +----------------+----------------+-------------------+------------------------+
//   | num_records(4) | next_free(4)   | bitmap(bitmapSize) | slot 0 | slot 1 | ...  |
//   +----------------+----------------+-------------------+------------------------+
//
// next_free is only meaningful while the page is on the free list; it is
// stale otherwise and must not be read.
const (
	pageHeaderOffNumRecords     = 0
	pageHeaderOffNextFreePageNo = 4
	pageHeaderSize              = 8
)

// PageHandle is a pinned data page plus the file-wide layout parameters
// needed to interpret it. Callers must hold Page's lock around any method
// that touches Page.Data.
type PageHandle struct {
	Page    *page.Page
	PageNo  int32
	fileHdr FileHeader
}

func newPageHandle(pg *page.Page, pageNo int32, fileHdr FileHeader) *PageHandle {
	return &PageHandle{Page: pg, PageNo: pageNo, fileHdr: fileHdr}
}

func (h *PageHandle) NumRecords() int32 {
	return int32(binary.LittleEndian.Uint32(h.Page.Data[pageHeaderOffNumRecords:]))
}

func (h *PageHandle) setNumRecords(n int32) {
	binary.LittleEndian.PutUint32(h.Page.Data[pageHeaderOffNumRecords:], uint32(n))
}

func (h *PageHandle) NextFreePageNo() int32 {
	return int32(binary.LittleEndian.Uint32(h.Page.Data[pageHeaderOffNextFreePageNo:]))
}

func (h *PageHandle) setNextFreePageNo(n int32) {
	binary.LittleEndian.PutUint32(h.Page.Data[pageHeaderOffNextFreePageNo:], uint32(n))
}

func (h *PageHandle) bitmap() Bitmap {
	start := pageHeaderSize
	end := start + int(h.fileHdr.BitmapSize)
	return Bitmap(h.Page.Data[start:end])
}

func (h *PageHandle) slotOffset(slotNo int32) int {
	slotsStart := pageHeaderSize + int(h.fileHdr.BitmapSize)
	return slotsStart + int(slotNo)*int(h.fileHdr.RecordSize)
}

// IsSlotSet reports whether slotNo currently holds a live record.
func (h *PageHandle) IsSlotSet(slotNo int32) bool {
	return h.bitmap().IsSet(int(slotNo))
}

// GetSlotData returns a view of slotNo's raw bytes, live or not.
func (h *PageHandle) GetSlotData(slotNo int32) []byte {
	off := h.slotOffset(slotNo)
	return h.Page.Data[off : off+int(h.fileHdr.RecordSize)]
}

// setSlot copies buf into slotNo and marks it live.
func (h *PageHandle) setSlot(slotNo int32, buf []byte) {
	copy(h.GetSlotData(slotNo), buf)
	h.bitmap().Set(int(slotNo))
}

// clearSlot marks slotNo dead and zeroes its bytes.
func (h *PageHandle) clearSlot(slotNo int32) {
	h.bitmap().Reset(int(slotNo))
	dst := h.GetSlotData(slotNo)
	for i := range dst {
		dst[i] = 0
	}
}
