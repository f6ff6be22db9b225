// Package catalog maps table names onto the heap files the record manager
// opens, and persists that mapping so a database survives a restart.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"dbkernel/internal/bufferpool"
	"dbkernel/internal/diskmanager"
	"dbkernel/internal/record"
	"dbkernel/internal/txn"
)

const metadataDirName = "metadata"
const mappingFileName = "table_file_mapping.json"
const nextFileIDFileName = "next_file_id.json"

func NewCatalogManager(dbRoot string, disk *diskmanager.DiskManager, pool *bufferpool.BufferPool) *CatalogManager {
	return &CatalogManager{
		dbRoot:       dbRoot,
		disk:         disk,
		pool:         pool,
		nameToFile:   make(map[string]TableFileMapping),
		fileToHandle: make(map[uint32]*record.FileHandle),
		nextFileID:   1,
	}
}

func (cm *CatalogManager) tablePath(name string) string {
	return filepath.Join(cm.dbRoot, "tables", name+".tbl")
}

// TableExists reports whether name has an entry in the catalog, without
// touching disk.
func (cm *CatalogManager) TableExists(name string) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	_, ok := cm.nameToFile[name]
	return ok
}

// CreateTable allocates a new heap file for name with the given fixed
// record size, opens it, and persists the mapping.
func (cm *CatalogManager) CreateTable(name string, recordSize int32) (uint32, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.nameToFile[name]; exists {
		return 0, fmt.Errorf("table %q already exists", name)
	}

	tablesDir := filepath.Join(cm.dbRoot, "tables")
	if err := os.MkdirAll(tablesDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create tables directory: %w", err)
	}

	fileID := cm.nextFileID
	cm.nextFileID++

	if _, err := cm.disk.OpenFileWithID(cm.tablePath(name), fileID); err != nil {
		return 0, err
	}
	fh, err := record.CreateFileHandle(fileID, name, cm.pool, recordSize)
	if err != nil {
		return 0, fmt.Errorf("failed to create heap file for table %q: %w", name, err)
	}

	cm.nameToFile[name] = TableFileMapping{HeapFileID: fileID}
	cm.fileToHandle[fileID] = fh

	if err := cm.persistMapping(); err != nil {
		return 0, err
	}
	if err := cm.persistNextFileID(); err != nil {
		return 0, err
	}
	return fileID, nil
}

// TableFileID returns the heap file ID backing name.
func (cm *CatalogManager) TableFileID(name string) (uint32, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	mapping, ok := cm.nameToFile[name]
	if !ok {
		return 0, fmt.Errorf("table %q not found in catalog", name)
	}
	return mapping.HeapFileID, nil
}

// TableHandle returns the open FileHandle for name, opening it from disk
// (via the catalog's stored mapping) on first use.
func (cm *CatalogManager) TableHandle(name string) (*record.FileHandle, error) {
	cm.mu.RLock()
	mapping, ok := cm.nameToFile[name]
	cm.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("table %q not found in catalog", name)
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	if fh, ok := cm.fileToHandle[mapping.HeapFileID]; ok {
		return fh, nil
	}

	if _, err := cm.disk.OpenFileWithID(cm.tablePath(name), mapping.HeapFileID); err != nil {
		return nil, err
	}
	numPages, err := cm.disk.TotalPages(mapping.HeapFileID)
	if err != nil {
		return nil, err
	}
	for p := int64(0); p < numPages; p++ {
		cm.disk.RegisterPage(mapping.HeapFileID, p)
	}
	fh, err := record.OpenFileHandle(mapping.HeapFileID, name, cm.pool)
	if err != nil {
		return nil, fmt.Errorf("failed to open heap file for table %q: %w", name, err)
	}
	cm.fileToHandle[mapping.HeapFileID] = fh
	return fh, nil
}

// RecordFile satisfies txn.Catalog: tableFd is looked up directly against
// the open-handle map, bypassing the name index the transaction manager
// never needs.
func (cm *CatalogManager) RecordFile(tableFd int32) (txn.RecordFile, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	fh, ok := cm.fileToHandle[uint32(tableFd)]
	return fh, ok
}

// DropTable removes name from the catalog. The underlying heap file is
// left on disk; reclaiming it is a disk-manager concern outside this
// engine's scope.
func (cm *CatalogManager) DropTable(name string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	mapping, exists := cm.nameToFile[name]
	if !exists {
		return fmt.Errorf("table %q not found in catalog", name)
	}
	delete(cm.nameToFile, name)
	delete(cm.fileToHandle, mapping.HeapFileID)
	return cm.persistMapping()
}

func (cm *CatalogManager) persistMapping() error {
	metaDir := filepath.Join(cm.dbRoot, metadataDirName)
	if err := os.MkdirAll(metaDir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cm.nameToFile, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(metaDir, mappingFileName), data, 0644)
}

func (cm *CatalogManager) persistNextFileID() error {
	metaDir := filepath.Join(cm.dbRoot, metadataDirName)
	if err := os.MkdirAll(metaDir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cm.nextFileID, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(metaDir, nextFileIDFileName), data, 0644)
}

// Load restores the name-to-file mapping and the file-ID counter from
// dbRoot, for reopening a database created in a previous run. It does not
// open any heap files — TableHandle opens them lazily.
func (cm *CatalogManager) Load() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	metaDir := filepath.Join(cm.dbRoot, metadataDirName)

	data, err := os.ReadFile(filepath.Join(metaDir, mappingFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read table mapping: %w", err)
	}
	mapping := make(map[string]TableFileMapping)
	if err := json.Unmarshal(data, &mapping); err != nil {
		return fmt.Errorf("failed to parse table mapping: %w", err)
	}
	cm.nameToFile = mapping

	counterData, err := os.ReadFile(filepath.Join(metaDir, nextFileIDFileName))
	if err == nil {
		var counter uint32
		if json.Unmarshal(counterData, &counter) == nil {
			cm.nextFileID = counter
		}
	} else {
		cm.nextFileID = uint32(len(mapping) + 1)
	}
	return nil
}
