package catalog

import (
	"sync"

	"dbkernel/internal/bufferpool"
	"dbkernel/internal/diskmanager"
	"dbkernel/internal/record"
)

// TableFileMapping is the on-disk record of which heap file backs a table.
// The table's record size and page layout live in the heap file's own
// header, so there is nothing else worth persisting per table.
type TableFileMapping struct {
	HeapFileID uint32 `json:"heap_file_id"`
}

// CatalogManager maps table names to open heap files. It persists the
// name-to-file mapping and the file-ID counter under dbRoot so a database
// can be reopened across restarts.
type CatalogManager struct {
	dbRoot string
	disk   *diskmanager.DiskManager
	pool   *bufferpool.BufferPool

	mu           sync.RWMutex
	nameToFile   map[string]TableFileMapping
	fileToHandle map[uint32]*record.FileHandle
	nextFileID   uint32
}
