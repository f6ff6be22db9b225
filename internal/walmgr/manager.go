// Package walmgr is the write-ahead log the transaction manager uses purely
// for durability sequencing: every record gets an LSN, and commit syncs the
// log (Flush) before releasing a transaction's locks. The buffer pool does
// not consult it. Replaying the log to redo or undo operations
// after a crash is out of scope — this package only orders and persists
// the byte stream, it never interprets it.
package walmgr

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// WALManager owns a directory of rotating WALSegments and the monotonic
// LSN counter stamped on every appended record.
type WALManager struct {
	mu sync.RWMutex

	Directory   string
	Segments    map[uint64]*WALSegment
	CurrSegment *WALSegment
	CurrentLSN  uint64
	flushedLSN  uint64
}

// Open opens directory as a WAL, recovering the LSN counter and current
// segment from any existing segment files.
func Open(directory string) (*WALManager, error) {
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, err
	}

	wm := &WALManager{
		Directory: directory,
		Segments:  make(map[uint64]*WALSegment),
	}

	if err := wm.recoverSegments(); err != nil {
		return nil, err
	}
	if wm.CurrSegment == nil {
		if err := wm.createNewSegment(); err != nil {
			return nil, err
		}
	}
	wm.flushedLSN = wm.CurrentLSN
	return wm, nil
}

// recoverSegments reopens every existing wal_*.log file, in segment-id
// order, and restores CurrentLSN to the largest LSN found across them.
func (wm *WALManager) recoverSegments() error {
	files, err := filepath.Glob(filepath.Join(wm.Directory, "wal_*.log"))
	if err != nil {
		return err
	}

	var segmentIDs []uint64
	for _, file := range files {
		name := filepath.Base(file)
		if !strings.HasPrefix(name, "wal_") || !strings.HasSuffix(name, ".log") {
			continue
		}
		hexPart := strings.TrimSuffix(strings.TrimPrefix(name, "wal_"), ".log")
		id, err := strconv.ParseUint(hexPart, 16, 64)
		if err != nil {
			continue
		}
		segmentIDs = append(segmentIDs, id)
	}
	if len(segmentIDs) == 0 {
		return nil
	}
	slices.Sort(segmentIDs)

	maxLSN := uint64(0)
	for _, id := range segmentIDs {
		segment := newWALSegment(id, wm.Directory)
		if err := segment.Open(); err != nil {
			return err
		}
		wm.Segments[id] = segment

		lsn, err := wm.findLargestLSN(segment)
		if err != nil {
			return err
		}
		if lsn > maxLSN {
			maxLSN = lsn
		}
	}

	wm.CurrSegment = wm.Segments[segmentIDs[len(segmentIDs)-1]]
	wm.CurrentLSN = maxLSN
	return nil
}

func (wm *WALManager) createNewSegment() error {
	id := uint64(len(wm.Segments))
	segment := newWALSegment(id, wm.Directory)
	if err := segment.Open(); err != nil {
		return err
	}
	wm.Segments[id] = segment
	wm.CurrSegment = segment
	return nil
}

// Append assigns the next LSN to data, frames it as a WALRecord, and
// writes it to the current segment, rotating to a new one first if full.
func (wm *WALManager) Append(data []byte) (uint64, error) {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	wm.CurrentLSN++
	lsn := wm.CurrentLSN

	rec := &walRecord{LSN: lsn, Data: data, CRC: calculateCRC(lsn, data)}

	if wm.CurrSegment.IsFull() {
		if err := wm.createNewSegment(); err != nil {
			return 0, err
		}
	}
	if _, err := wm.CurrSegment.Append(rec.encode()); err != nil {
		return 0, err
	}
	return lsn, nil
}

// Sync fsyncs the current segment and advances the flushed-LSN mark.
func (wm *WALManager) Sync() error {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	if err := wm.CurrSegment.Sync(); err != nil {
		return err
	}
	wm.flushedLSN = wm.CurrentLSN
	return nil
}

// Flush satisfies txn.LogFlusher: commit calls this before releasing a
// transaction's locks.
func (wm *WALManager) Flush() error {
	return wm.Sync()
}

// GetFlushedLSN reports the highest LSN currently durable on disk.
func (wm *WALManager) GetFlushedLSN() uint64 {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	return wm.flushedLSN
}

// Close syncs and closes every segment.
func (wm *WALManager) Close() error {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	var lastErr error
	for _, seg := range wm.Segments {
		if seg.File == nil {
			continue
		}
		if err := seg.Sync(); err != nil {
			lastErr = err
		}
		if err := seg.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (wm *WALManager) findLargestLSN(segment *WALSegment) (uint64, error) {
	file, err := os.Open(segment.FilePath)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	maxLSN := uint64(0)
	header := make([]byte, RecordHeaderSize)

	for {
		if _, err := io.ReadFull(file, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return 0, err
		}

		lsn := binary.BigEndian.Uint64(header[0:8])
		dataLen := binary.BigEndian.Uint32(header[8:12])
		if lsn > maxLSN {
			maxLSN = lsn
		}

		if _, err := file.Seek(int64(dataLen), io.SeekCurrent); err != nil {
			return 0, err
		}
	}
	return maxLSN, nil
}

// walRecord is one framed entry in a WAL segment.
type walRecord struct {
	LSN  uint64
	Data []byte
	CRC  uint32
}

func (r *walRecord) encode() []byte {
	buf := make([]byte, RecordHeaderSize+len(r.Data))
	binary.BigEndian.PutUint64(buf[0:8], r.LSN)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(r.Data)))
	binary.BigEndian.PutUint32(buf[12:16], r.CRC)
	copy(buf[16:], r.Data)
	return buf
}

func calculateCRC(lsn uint64, data []byte) uint32 {
	buf := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(buf[0:8], lsn)
	copy(buf[8:], data)
	return crc32.ChecksumIEEE(buf)
}
