// Package bufferpool provides FetchPage/NewPage/UnpinPage with pin-count
// bookkeeping. Every resident page, pinned or not, lives in the pool's own
// frames map — the source of truth for FetchPage — while a ristretto cache
// tracks which unpinned frames are eligible for eviction and picks victims
// among them, reported back through OnEvict so a dirty frame is flushed
// before frames forgets it.
package bufferpool

import (
	"fmt"

	"dbkernel/internal/diskmanager"
	"dbkernel/internal/page"

	ristretto "github.com/dgraph-io/ristretto/v2"
)

// NewBufferPool creates a buffer pool whose eviction cache tracks up to
// capacity unpinned pages (cost 1 each). Pinned pages are never evicted, so
// the number of resident pages is not capped at capacity.
func NewBufferPool(capacity int64, diskManager *diskmanager.DiskManager) (*BufferPool, error) {
	bp := &BufferPool{
		diskManager: diskManager,
		capacity:    capacity,
		frames:      make(map[int64]*page.Page),
	}

	cache, err := ristretto.NewCache(&ristretto.Config[int64, struct{}]{
		NumCounters: capacity * 10,
		MaxCost:     capacity,
		BufferItems: 64,
		OnEvict: func(item *ristretto.Item[struct{}]) {
			bp.evictFrame(int64(item.Key))
		},
		OnReject: func(item *ristretto.Item[struct{}]) {
			bp.evictFrame(int64(item.Key))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer pool cache: %w", err)
	}
	bp.cache = cache
	return bp, nil
}

// evictFrame flushes globalID's frame if dirty and drops it from frames.
// Called when ristretto picks an eviction victim, when its admission policy
// rejects a Set (OnReject), and when a Set at unpin time is dropped — either way the
// frame is no longer tracked for caching, so it must not linger unflushed.
// If the flush fails the frame is left in place to be retried later rather
// than dropped unwritten.
func (bp *BufferPool) evictFrame(globalID int64) {
	bp.mu.Lock()
	pg, ok := bp.frames[globalID]
	bp.mu.Unlock()
	if !ok {
		return
	}

	pg.Lock()
	dirty := pg.IsDirty
	pinned := pg.PinCount > 0
	pg.Unlock()
	if pinned {
		return
	}

	if dirty {
		if err := bp.diskManager.WritePage(pg); err != nil {
			return
		}
		pg.Lock()
		pg.IsDirty = false
		pg.Unlock()
	}

	bp.mu.Lock()
	delete(bp.frames, globalID)
	bp.mu.Unlock()
}

// FetchPage returns the page for (fileID, localPageNo), pinned. frames is
// authoritative, so a page that is merely "cached" by ristretto's policy is
// still found here without consulting the cache at all.
func (bp *BufferPool) FetchPage(fileID uint32, localPageNo int32) (*page.Page, error) {
	globalID := bp.diskManager.GetGlobalPageID(fileID, localPageNo)

	bp.mu.Lock()
	if pg, ok := bp.frames[globalID]; ok {
		pg.Lock()
		pg.PinCount++
		pg.Unlock()
		bp.mu.Unlock()
		return pg, nil
	}
	bp.mu.Unlock()

	pg, err := bp.diskManager.ReadPage(globalID)
	if err != nil {
		// Page does not exist: the record manager treats a nil, nil result
		// from the buffer pool the same way it treats an out-of-range page_no.
		return nil, nil
	}
	pg.PinCount = 1

	bp.mu.Lock()
	bp.frames[globalID] = pg
	bp.mu.Unlock()
	return pg, nil
}

// NewPage allocates a fresh page for fileID, returns it pinned along with
// its local page number, and marks it dirty (a brand-new page always needs
// to be written out at least once).
func (bp *BufferPool) NewPage(fileID uint32) (*page.Page, int32, error) {
	globalID, localNo, err := bp.diskManager.AllocatePage(fileID)
	if err != nil {
		return nil, 0, fmt.Errorf("buffer pool failed to allocate page: %w", err)
	}

	pg := page.New(globalID, fileID)
	pg.IsDirty = true
	pg.PinCount = 1

	bp.mu.Lock()
	bp.frames[globalID] = pg
	bp.mu.Unlock()
	return pg, localNo, nil
}

// UnpinPage decrements the pin count for (fileID, localPageNo). At zero the
// frame stays in frames but becomes a candidate for ristretto's eviction
// policy; if the cache drops the Set, or its admission policy later rejects
// it, the frame is flushed and dropped instead of being left untracked forever.
func (bp *BufferPool) UnpinPage(fileID uint32, localPageNo int32, dirty bool) error {
	globalID := bp.diskManager.GetGlobalPageID(fileID, localPageNo)

	bp.mu.Lock()
	pg, ok := bp.frames[globalID]
	bp.mu.Unlock()
	if !ok {
		return fmt.Errorf("page %d not pinned in buffer pool", globalID)
	}

	pg.Lock()
	if pg.PinCount > 0 {
		pg.PinCount--
	}
	if dirty {
		pg.IsDirty = true
	}
	stillPinned := pg.PinCount > 0
	pg.Unlock()

	if stillPinned {
		return nil
	}

	if admitted := bp.cache.Set(globalID, struct{}{}, 1); !admitted {
		bp.evictFrame(globalID)
	}
	return nil
}

// FlushAllPages writes every dirty resident page back to disk, pinned or
// not, rather than relying on ristretto's eviction order to get to them.
func (bp *BufferPool) FlushAllPages() error {
	bp.mu.Lock()
	snapshot := make([]*page.Page, 0, len(bp.frames))
	for _, pg := range bp.frames {
		snapshot = append(snapshot, pg)
	}
	bp.mu.Unlock()

	for _, pg := range snapshot {
		if err := bp.flushOne(pg); err != nil {
			return err
		}
	}
	return nil
}

func (bp *BufferPool) flushOne(pg *page.Page) error {
	pg.Lock()
	defer pg.Unlock()
	if !pg.IsDirty {
		return nil
	}
	if err := bp.diskManager.WritePage(pg); err != nil {
		return fmt.Errorf("failed to flush page %d: %w", pg.ID, err)
	}
	pg.IsDirty = false
	return nil
}

// Stats reports current pool occupancy for diagnostics.
func (bp *BufferPool) Stats() BufferPoolStats {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	pinned := 0
	for _, pg := range bp.frames {
		pg.Lock()
		if pg.PinCount > 0 {
			pinned++
		}
		pg.Unlock()
	}
	return BufferPoolStats{
		PinnedPages: pinned,
		Capacity:    bp.capacity,
	}
}
