package walmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RecordHeaderSize is the fixed prefix of every WAL record:
//
//   +---------+---------+---------+-----------+
//   | LSN (8) | LEN (4) | CRC (4) | DATA (LEN) |
//   +---------+---------+---------+-----------+
const RecordHeaderSize = 16

// SegmentSize is the rotation threshold: once a segment reaches this many
// bytes, the next Append starts a new one.
const SegmentSize = 16 * 1024 * 1024

// WALSegment is one append-only log file.
type WALSegment struct {
	SegmentID uint64
	FilePath  string
	File      *os.File
	Size      int64

	mu sync.Mutex
}

func newWALSegment(segmentID uint64, directory string) *WALSegment {
	fileName := fmt.Sprintf("wal_%016x.log", segmentID)
	return &WALSegment{
		SegmentID: segmentID,
		FilePath:  filepath.Join(directory, fileName),
	}
}

// Open opens (or creates) the segment file for append.
func (ws *WALSegment) Open() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.File != nil {
		return nil
	}

	file, err := os.OpenFile(ws.FilePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}

	ws.File = file
	ws.Size = stat.Size()
	return nil
}

// Append writes data to the segment. No fsync — durability is Sync's job.
func (ws *WALSegment) Append(data []byte) (int, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.File == nil {
		return 0, fmt.Errorf("segment not opened")
	}
	n, err := ws.File.Write(data)
	if err != nil {
		return 0, err
	}
	ws.Size += int64(n)
	return n, nil
}

// Sync forces the OS buffer for this segment to disk.
func (ws *WALSegment) Sync() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.File == nil {
		return fmt.Errorf("segment not opened")
	}
	return ws.File.Sync()
}

func (ws *WALSegment) Close() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.File == nil {
		return nil
	}
	err := ws.File.Close()
	ws.File = nil
	return err
}

// IsFull reports whether the segment has reached SegmentSize.
func (ws *WALSegment) IsFull() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.Size >= SegmentSize
}
