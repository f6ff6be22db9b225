package record

import "dbkernel/internal/rid"

// Scan walks every live record in a file in rid order. A freshly
// constructed scan already points at the first live record, if any —
// callers check IsEnd before reading Rid, and call Next to advance.
type Scan struct {
	fh       *FileHandle
	curRid   rid.Rid
	numPages int32
	perPage  int32
}

// NewScan opens a forward scan over fh.
func NewScan(fh *FileHandle) (*Scan, error) {
	s := &Scan{
		fh:       fh,
		curRid:   rid.Rid{PageNo: rid.FirstRecordPage, SlotNo: -1},
		numPages: fh.NumPages(),
		perPage:  fh.RecordsPerPage(),
	}
	if err := s.Next(); err != nil {
		return nil, err
	}
	return s, nil
}

// IsEnd reports whether the scan has passed the last page.
func (s *Scan) IsEnd() bool {
	return s.curRid.IsNone()
}

// Rid returns the current record's rid. Undefined once IsEnd is true.
func (s *Scan) Rid() rid.Rid {
	return s.curRid
}

// Next advances to the next live record, or to the end.
func (s *Scan) Next() error {
	startPage := s.curRid.PageNo
	startSlot := s.curRid.SlotNo

	for pageNo := startPage; pageNo < s.numPages; pageNo++ {
		beginSlot := -1
		if pageNo == startPage {
			beginSlot = int(startSlot)
		}

		ph, err := s.fh.fetchPageHandle(pageNo)
		if err != nil {
			return err
		}

		ph.Page.RLock()
		slot := ph.bitmap().NextBit(true, int(s.perPage), beginSlot)
		ph.Page.RUnlock()

		if err := s.fh.pages.UnpinPage(s.fh.fileID, pageNo, false); err != nil {
			return err
		}

		if slot != -1 {
			s.curRid = rid.Rid{PageNo: pageNo, SlotNo: int32(slot)}
			return nil
		}
	}

	s.curRid = rid.Rid{PageNo: rid.NoPage, SlotNo: rid.NoPage}
	return nil
}
