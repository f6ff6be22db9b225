package bufferpool

import (
	"sync"

	"dbkernel/internal/diskmanager"
	"dbkernel/internal/page"

	ristretto "github.com/dgraph-io/ristretto/v2"
)

// BufferPool is the buffer pool manager the record manager is built against.
// frames is the authoritative, always-consistent table of every page
// currently resident in memory, pinned or not — FetchPage is answered from
// frames alone, never from the cache. The ristretto cache holds only
// eviction-policy bookkeeping (which unpinned frames are "hot") and reports
// its victims back through OnEvict so a dirty frame is flushed before it
// leaves frames. Ristretto's admission policy can silently drop a Set, so
// frames must never depend on an entry having been admitted.
type BufferPool struct {
	diskManager *diskmanager.DiskManager
	cache       *ristretto.Cache[int64, struct{}]
	capacity    int64

	mu     sync.Mutex
	frames map[int64]*page.Page
}

// BufferPoolStats reports pool occupancy for diagnostics.
type BufferPoolStats struct {
	PinnedPages int
	Capacity    int64
}
