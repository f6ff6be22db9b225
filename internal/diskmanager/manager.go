// Package diskmanager owns OS file handles and maps file IDs to their paths
// (GetFileName) for diagnostics. It knows nothing
// about page layout; it only moves raw PageSize-byte frames to and from
// disk.
package diskmanager

import (
	"fmt"
	"os"

	"dbkernel/internal/page"
)

func NewDiskManager() *DiskManager {
	return &DiskManager{
		files:         make(map[uint32]*FileDescriptor),
		globalPageMap: make(map[int64]uint32),
		localToGlobal: make(map[PageKey]int64),
		nextFileID:    1,
	}
}

// OpenFileWithID opens or creates filePath under a caller-assigned file ID
// (the catalog's table → file mapping is stable across restarts; OpenFile
// assigns the ID itself instead).
func (dm *DiskManager) OpenFileWithID(filePath string, fileID uint32) (uint32, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if fd, exists := dm.files[fileID]; exists {
		return fd.FileID, nil
	}

	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("failed to stat file %s: %w", filePath, err)
	}

	fd := &FileDescriptor{
		FileID:     fileID,
		FilePath:   filePath,
		File:       file,
		NextPageID: stat.Size() / page.PageSize,
	}

	dm.files[fileID] = fd
	if fileID >= dm.nextFileID {
		dm.nextFileID = fileID + 1
	}
	return fileID, nil
}

// OpenFile opens or creates filePath under a disk-manager-assigned file ID.
func (dm *DiskManager) OpenFile(filePath string) (uint32, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	for id, fd := range dm.files {
		if fd.FilePath == filePath {
			return id, nil
		}
	}

	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("failed to stat file %s: %w", filePath, err)
	}

	fileID := dm.nextFileID
	dm.nextFileID++

	dm.files[fileID] = &FileDescriptor{
		FileID:     fileID,
		FilePath:   filePath,
		File:       file,
		NextPageID: stat.Size() / page.PageSize,
	}
	return fileID, nil
}

// GetFileName returns the path of fileID, for error diagnostics.
func (dm *DiskManager) GetFileName(fileID uint32) (string, error) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	fd, exists := dm.files[fileID]
	if !exists {
		return "", fmt.Errorf("file %d not found", fileID)
	}
	return fd.FilePath, nil
}

// AllocatePage reserves the next local page number for fileID and returns
// the corresponding global page id. It does not write anything to disk —
// the buffer pool writes the frame back when it flushes.
func (dm *DiskManager) AllocatePage(fileID uint32) (int64, int32, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	fd, exists := dm.files[fileID]
	if !exists {
		return 0, 0, fmt.Errorf("file %d not found", fileID)
	}

	fd.mu.Lock()
	localNo := fd.NextPageID
	fd.NextPageID++
	fd.mu.Unlock()

	globalID := int64(fileID)<<32 | localNo
	dm.globalPageMap[globalID] = fileID
	dm.localToGlobal[PageKey{FileID: fileID, LocalNum: localNo}] = globalID
	return globalID, int32(localNo), nil
}

// GetGlobalPageID converts a (fileID, localPageNo) pair to the global id
// the buffer pool keys its cache by.
func (dm *DiskManager) GetGlobalPageID(fileID uint32, localPageNo int32) int64 {
	return int64(fileID)<<32 | int64(localPageNo)
}

// GetLocalPageID is the inverse of GetGlobalPageID.
func GetLocalPageID(globalPageID int64) int32 {
	return int32(globalPageID & 0xFFFFFFFF)
}

// ReadPage reads a page from disk, zero-padding a short final page.
func (dm *DiskManager) ReadPage(globalPageID int64) (*page.Page, error) {
	fileID, ok := dm.lookupFileID(globalPageID)
	if !ok {
		return nil, fmt.Errorf("page %d not registered", globalPageID)
	}

	dm.mu.RLock()
	fd, exists := dm.files[fileID]
	dm.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("file %d not found", fileID)
	}

	fd.mu.RLock()
	defer fd.mu.RUnlock()
	if fd.File == nil {
		return nil, fmt.Errorf("file %d is closed", fileID)
	}

	pg := page.New(globalPageID, fileID)
	offset := int64(GetLocalPageID(globalPageID)) * page.PageSize
	n, err := fd.File.ReadAt(pg.Data, offset)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("failed to read page %d from file %d: %w", globalPageID, fileID, err)
	}
	for i := n; i < len(pg.Data); i++ {
		pg.Data[i] = 0
	}
	return pg, nil
}

// WritePage writes pg back to its owning file at its local offset.
func (dm *DiskManager) WritePage(pg *page.Page) error {
	dm.mu.RLock()
	fd, exists := dm.files[pg.FileID]
	dm.mu.RUnlock()
	if !exists {
		return fmt.Errorf("file %d not found", pg.FileID)
	}

	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.File == nil {
		return fmt.Errorf("file %d is closed", pg.FileID)
	}

	localNo := int64(GetLocalPageID(pg.ID))
	offset := localNo * page.PageSize
	if _, err := fd.File.WriteAt(pg.Data, offset); err != nil {
		return fmt.Errorf("failed to write page %d to file %d: %w", localNo, pg.FileID, err)
	}
	if localNo >= fd.NextPageID {
		fd.NextPageID = localNo + 1
	}
	return nil
}

// RegisterPage records an existing on-disk page into the global map, used
// when reopening a file whose pages were allocated in a previous run.
func (dm *DiskManager) RegisterPage(fileID uint32, localPageNo int64) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	key := PageKey{FileID: fileID, LocalNum: localPageNo}
	if _, exists := dm.localToGlobal[key]; exists {
		return
	}
	globalID := int64(fileID)<<32 | localPageNo
	dm.globalPageMap[globalID] = fileID
	dm.localToGlobal[key] = globalID
}

func (dm *DiskManager) lookupFileID(globalPageID int64) (uint32, bool) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	fileID, ok := dm.globalPageMap[globalPageID]
	return fileID, ok
}

// TotalPages returns the local page count of fileID, including the header page.
func (dm *DiskManager) TotalPages(fileID uint32) (int64, error) {
	dm.mu.RLock()
	fd, exists := dm.files[fileID]
	dm.mu.RUnlock()
	if !exists {
		return 0, fmt.Errorf("file %d not found", fileID)
	}
	fd.mu.RLock()
	defer fd.mu.RUnlock()
	return fd.NextPageID, nil
}

// CloseFile syncs and closes fileID.
func (dm *DiskManager) CloseFile(fileID uint32) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	fd, exists := dm.files[fileID]
	if !exists {
		return nil
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.File == nil {
		return nil
	}
	if err := fd.File.Sync(); err != nil {
		return fmt.Errorf("failed to sync before close: %w", err)
	}
	if err := fd.File.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	fd.File = nil
	delete(dm.files, fileID)
	return nil
}

// CloseAll syncs and closes every open file.
func (dm *DiskManager) CloseAll() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	var lastErr error
	for fileID, fd := range dm.files {
		fd.mu.Lock()
		if fd.File != nil {
			if err := fd.File.Sync(); err != nil {
				lastErr = err
			}
			if err := fd.File.Close(); err != nil {
				lastErr = err
			}
			fd.File = nil
		}
		fd.mu.Unlock()
		delete(dm.files, fileID)
	}
	return lastErr
}
