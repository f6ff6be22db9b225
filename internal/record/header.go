package record

import (
	"encoding/binary"

	"dbkernel/internal/page"
)

// File header layout, stored in page 0 of every record file:
//
//   +----------------+------------+------------------------+--------------+---------------------+
//   | record_size(4) | num_pages(4) | num_records_per_page(4) | bitmap_size(4) | first_free_page(4) |
//   +----------------+------------+------------------------+--------------+---------------------+
const (
	fileHeaderOffRecordSize        = 0
	fileHeaderOffNumPages          = 4
	fileHeaderOffNumRecordsPerPage = 8
	fileHeaderOffBitmapSize        = 12
	fileHeaderOffFirstFreePageNo   = 16
	FileHeaderSize                 = 20
)

// dataPageHeaderSize is pageHeaderSize from page_handle.go, repeated here
// as an untyped constant to keep this file's layout math self-contained.
const dataPageHeaderSize = 8

// FileHeader describes a record file's fixed layout parameters plus the
// mutable free-list head. NumPages counts the header page itself, so data
// pages occupy [FirstRecordPage, NumPages).
type FileHeader struct {
	RecordSize        int32
	NumPages          int32
	NumRecordsPerPage int32
	BitmapSize        int32
	FirstFreePageNo   int32
}

// NewFileHeader computes the largest NumRecordsPerPage that fits a single
// page, given recordSize, then derives BitmapSize from it. NumPages starts
// at 1 to account for the header page; the free list starts empty.
func NewFileHeader(recordSize int32) FileHeader {
	available := page.PageSize - dataPageHeaderSize

	var n int32
	for {
		candidate := n + 1
		cost := BitmapSizeFor(int(candidate)) + int(candidate)*int(recordSize)
		if cost > available {
			break
		}
		n = candidate
	}

	return FileHeader{
		RecordSize:        recordSize,
		NumPages:          1,
		NumRecordsPerPage: n,
		BitmapSize:        int32(BitmapSizeFor(int(n))),
		FirstFreePageNo:   -1,
	}
}

// Encode writes h into buf, which must be at least FileHeaderSize bytes.
func (h FileHeader) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[fileHeaderOffRecordSize:], uint32(h.RecordSize))
	binary.LittleEndian.PutUint32(buf[fileHeaderOffNumPages:], uint32(h.NumPages))
	binary.LittleEndian.PutUint32(buf[fileHeaderOffNumRecordsPerPage:], uint32(h.NumRecordsPerPage))
	binary.LittleEndian.PutUint32(buf[fileHeaderOffBitmapSize:], uint32(h.BitmapSize))
	binary.LittleEndian.PutUint32(buf[fileHeaderOffFirstFreePageNo:], uint32(h.FirstFreePageNo))
}

// DecodeFileHeader reads a FileHeader back out of buf.
func DecodeFileHeader(buf []byte) FileHeader {
	return FileHeader{
		RecordSize:        int32(binary.LittleEndian.Uint32(buf[fileHeaderOffRecordSize:])),
		NumPages:          int32(binary.LittleEndian.Uint32(buf[fileHeaderOffNumPages:])),
		NumRecordsPerPage: int32(binary.LittleEndian.Uint32(buf[fileHeaderOffNumRecordsPerPage:])),
		BitmapSize:        int32(binary.LittleEndian.Uint32(buf[fileHeaderOffBitmapSize:])),
		FirstFreePageNo:   int32(binary.LittleEndian.Uint32(buf[fileHeaderOffFirstFreePageNo:])),
	}
}
