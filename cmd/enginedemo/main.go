// Command enginedemo wires the disk manager, buffer pool, catalog, lock
// manager, transaction manager, and write-ahead log together and walks
// through a handful of end-to-end scenarios: basic CRUD, a commit, and an
// abort that undoes a partial write set.
package main

import (
	"encoding/binary"
	"fmt"
	"log"
	"os"

	"dbkernel/internal/bufferpool"
	"dbkernel/internal/catalog"
	"dbkernel/internal/diskmanager"
	"dbkernel/internal/lock"
	"dbkernel/internal/txn"
	"dbkernel/internal/walmgr"
)

const widgetRecordSize = 16

func encodeWidget(id uint64, qty uint64) []byte {
	buf := make([]byte, widgetRecordSize)
	binary.LittleEndian.PutUint64(buf[0:8], id)
	binary.LittleEndian.PutUint64(buf[8:16], qty)
	return buf
}

func decodeWidget(buf []byte) (id uint64, qty uint64) {
	return binary.LittleEndian.Uint64(buf[0:8]), binary.LittleEndian.Uint64(buf[8:16])
}

func main() {
	dbRoot, err := os.MkdirTemp("", "enginedemo-*")
	if err != nil {
		log.Fatalf("mktemp: %v", err)
	}
	defer os.RemoveAll(dbRoot)

	disk := diskmanager.NewDiskManager()
	pool, err := bufferpool.NewBufferPool(64, disk)
	if err != nil {
		log.Fatalf("new buffer pool: %v", err)
	}

	wal, err := walmgr.Open(dbRoot + "/wal")
	if err != nil {
		log.Fatalf("open wal: %v", err)
	}
	defer wal.Close()

	cat := catalog.NewCatalogManager(dbRoot, disk, pool)
	if _, err := cat.CreateTable("widgets", widgetRecordSize); err != nil {
		log.Fatalf("create table: %v", err)
	}
	tableFd, err := cat.TableFileID("widgets")
	if err != nil {
		log.Fatalf("table file id: %v", err)
	}

	lm := lock.NewLockManager()
	tm := txn.NewTxnManager(lm, cat, wal)

	fmt.Println("scenario 1: insert, read back, commit")
	t1 := tm.Begin()
	r1, err := tm.InsertRecord(t1, int32(tableFd), encodeWidget(1, 100))
	if err != nil {
		log.Fatalf("insert: %v", err)
	}
	buf, err := tm.GetRecord(t1, int32(tableFd), r1)
	if err != nil {
		log.Fatalf("get: %v", err)
	}
	id, qty := decodeWidget(buf)
	fmt.Printf("  inserted rid=%s id=%d qty=%d\n", r1, id, qty)
	if err := tm.Commit(t1); err != nil {
		log.Fatalf("commit: %v", err)
	}

	fmt.Println("scenario 2: update then abort, pre-image restored")
	t2 := tm.Begin()
	if err := tm.UpdateRecord(t2, int32(tableFd), r1, encodeWidget(1, 999)); err != nil {
		log.Fatalf("update: %v", err)
	}
	if err := tm.Abort(t2); err != nil {
		log.Fatalf("abort: %v", err)
	}

	t3 := tm.Begin()
	buf, err = tm.GetRecord(t3, int32(tableFd), r1)
	if err != nil {
		log.Fatalf("get after abort: %v", err)
	}
	id, qty = decodeWidget(buf)
	fmt.Printf("  after abort rid=%s id=%d qty=%d (expected qty=100)\n", r1, id, qty)
	tm.Commit(t3)

	fmt.Println("scenario 3: delete then abort, record reinstated")
	t4 := tm.Begin()
	if err := tm.DeleteRecord(t4, int32(tableFd), r1); err != nil {
		log.Fatalf("delete: %v", err)
	}
	if _, err := tm.GetRecord(t4, int32(tableFd), r1); err == nil {
		log.Fatalf("expected record to be gone mid-transaction")
	}
	if err := tm.Abort(t4); err != nil {
		log.Fatalf("abort: %v", err)
	}

	t5 := tm.Begin()
	buf, err = tm.GetRecord(t5, int32(tableFd), r1)
	if err != nil {
		log.Fatalf("get after delete-abort: %v", err)
	}
	id, qty = decodeWidget(buf)
	fmt.Printf("  after delete-abort rid=%s id=%d qty=%d\n", r1, id, qty)
	tm.Commit(t5)

	fmt.Println("scenario 4: shared table lock conflicts with another transaction's IX lock")
	t6 := tm.Begin()
	t7 := tm.Begin()
	if _, err := tm.InsertRecord(t6, int32(tableFd), encodeWidget(2, 1)); err != nil {
		log.Fatalf("insert: %v", err)
	}
	granted, err := lm.LockSharedOnTable(t7, int32(tableFd))
	if err != nil {
		log.Fatalf("unexpected lock error: %v", err)
	}
	if !granted {
		fmt.Println("  t7 shared-table request denied, as expected alongside t6's IX lock")
	} else {
		fmt.Println("  t7 acquired shared table lock alongside t6's IX lock")
	}
	tm.Commit(t6)
	tm.Commit(t7)
}
