package walmgr

import "testing"

func TestAppendAssignsIncreasingLSNs(t *testing.T) {
	wm, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer wm.Close()

	lsn1, err := wm.Append([]byte("first"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	lsn2, err := wm.Append([]byte("second"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if lsn2 <= lsn1 {
		t.Fatalf("expected increasing LSNs, got %d then %d", lsn1, lsn2)
	}
}

func TestFlushAdvancesFlushedLSN(t *testing.T) {
	wm, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer wm.Close()

	lsn, err := wm.Append([]byte("payload"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := wm.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if wm.GetFlushedLSN() != lsn {
		t.Fatalf("got flushed lsn %d, want %d", wm.GetFlushedLSN(), lsn)
	}
}

func TestReopenRecoversLSNCounter(t *testing.T) {
	dir := t.TempDir()
	wm, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var last uint64
	for i := 0; i < 3; i++ {
		last, err = wm.Append([]byte("entry"))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := wm.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if reopened.CurrentLSN != last {
		t.Fatalf("got recovered LSN %d, want %d", reopened.CurrentLSN, last)
	}

	next, err := reopened.Append([]byte("after reopen"))
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if next != last+1 {
		t.Fatalf("got %d, want %d", next, last+1)
	}
}
