package cache

import (
	"container/list"

	"go.uber.org/zap"

	"tilewire/internal/metrics"
	"tilewire/internal/tile"
)

// TileCache keeps recently used tiles resident under a byte budget and
// mediates every access to tile pixels. Each indexed tile carries one
// reference owned by the cache itself, so its buffer survives client
// releases until the tile is evicted.
//
// A TileCache is driven from a single goroutine; Acquire and Flush block
// on the remote.
type TileCache struct {
	remote  Remote
	log     *zap.Logger
	metrics *metrics.Cache

	tileCharge int64
	maxSize    int64
	curSize    int64

	items   map[tile.Key]*list.Element
	lruList *list.List
}

// NewTileCache creates a cache whose per-tile charge is derived from the
// nominal tile size. The budget starts at zero, so no tile is indexed
// until one of the Configure methods is called.
func NewTileCache(remote Remote, tileWidth, tileHeight int, log *zap.Logger, m *metrics.Cache) *TileCache {
	if log == nil {
		log = zap.NewNop()
	}
	if tileWidth <= 0 || tileHeight <= 0 {
		tileWidth, tileHeight = tile.DefaultWidth, tile.DefaultHeight
	}
	return &TileCache{
		remote:     remote,
		log:        log,
		metrics:    m,
		tileCharge: tile.Charge(tileWidth, tileHeight),
		items:      make(map[tile.Key]*list.Element),
		lruList:    list.New(),
	}
}

// Acquire returns t's pixel buffer, fetching it from the remote when this
// is the tile's first outstanding reference.
func (c *TileCache) Acquire(t *Tile) []byte {
	t.refCount++
	if t.refCount == 1 {
		t.data = make([]byte, t.Size())
		if err := c.remote.Fetch(t); err != nil {
			c.fatal("fetch", t, err)
		}
		t.dirty = false
		c.metrics.Fetch()
	}
	c.touch(t)
	return t.data
}

// AcquireZeroFilled is Acquire for tiles whose previous content does not
// matter: a first reference gets a zeroed buffer without a round trip.
func (c *TileCache) AcquireZeroFilled(t *Tile) []byte {
	t.refCount++
	if t.refCount == 1 {
		t.data = make([]byte, t.Size())
	}
	c.touch(t)
	return t.data
}

// Release drops one reference. The last release flushes a dirty tile and
// frees its buffer.
func (c *TileCache) Release(t *Tile, dirty bool) {
	if t.refCount <= 0 {
		c.log.DPanic("release of unreferenced tile", zap.Stringer("tile", t.key))
		return
	}

	t.refCount--
	t.dirty = t.dirty || dirty

	if t.refCount == 0 {
		c.Flush(t)
		t.data = nil
	}
}

// Flush sends a resident dirty tile to the remote and marks it clean.
func (c *TileCache) Flush(t *Tile) {
	if t.data == nil || !t.dirty {
		return
	}
	if err := c.remote.Store(t); err != nil {
		c.fatal("flush", t, err)
	}
	t.dirty = false
	c.metrics.Flush()
}

// ConfigureBudget sets the maximum resident size in kilobytes.
func (c *TileCache) ConfigureBudget(kilobytes int64) {
	c.ConfigureBudgetBytes(kilobytes * 1024)
}

func (c *TileCache) ConfigureBudgetBytes(bytes int64) {
	if bytes < 0 {
		bytes = 0
	}
	c.maxSize = bytes
	c.log.Debug("tile cache budget configured",
		zap.Int64("max_bytes", c.maxSize),
		zap.Int64("max_tiles", c.maxSize/c.tileCharge),
	)
}

// ConfigureBudgetByTileCount sizes the budget to hold n nominal tiles,
// rounded up to whole kilobytes.
func (c *TileCache) ConfigureBudgetByTileCount(n int) {
	c.ConfigureBudget((int64(n)*c.tileCharge + 1023) / 1024)
}

// touch moves an indexed tile to the most recently used position, or
// indexes a new one after evicting enough of the least recently used
// tiles to fit its charge. A tile that cannot fit even in an empty index
// stays uncached.
func (c *TileCache) touch(t *Tile) {
	if elem, ok := c.items[t.key]; ok {
		c.lruList.MoveToFront(elem)
		c.metrics.Hit()
		return
	}
	c.metrics.Miss()

	for c.lruList.Len() > 0 && c.curSize+c.tileCharge > c.maxSize {
		c.evictOldest()
	}
	if c.curSize+c.tileCharge > c.maxSize {
		c.log.Debug("tile not cached, budget too small",
			zap.Stringer("tile", t.key),
			zap.Int64("charge", c.tileCharge),
			zap.Int64("max_bytes", c.maxSize),
		)
		return
	}

	c.items[t.key] = c.lruList.PushFront(t)
	c.curSize += c.tileCharge
	t.refCount++
	c.metrics.Resident(c.lruList.Len(), c.curSize)
}

func (c *TileCache) evictOldest() {
	elem := c.lruList.Back()
	if elem == nil {
		return
	}
	t := elem.Value.(*Tile)

	c.Flush(t)
	c.Release(t, false)

	c.lruList.Remove(elem)
	delete(c.items, t.key)
	c.curSize -= c.tileCharge

	c.metrics.Evict()
	c.metrics.Resident(c.lruList.Len(), c.curSize)
	c.log.Debug("tile evicted", zap.Stringer("tile", t.key), zap.Int("refs", t.refCount))
}

// Clear evicts every indexed tile, flushing dirty ones.
func (c *TileCache) Clear() {
	for c.lruList.Len() > 0 {
		c.evictOldest()
	}
}

func (c *TileCache) fatal(op string, t *Tile, err error) {
	c.log.Error("tile exchange failed, cannot continue",
		zap.String("op", op),
		zap.Stringer("tile", t.key),
		zap.Error(err),
	)
	panic(&FatalError{Op: op, Key: t.key, Err: err})
}

// Len returns the number of indexed tiles.
func (c *TileCache) Len() int {
	return c.lruList.Len()
}

// Size returns the bytes currently charged to the cache.
func (c *TileCache) Size() int64 {
	return c.curSize
}

func (c *TileCache) MaxSize() int64 {
	return c.maxSize
}

func (c *TileCache) TileCharge() int64 {
	return c.tileCharge
}

func (c *TileCache) Contains(key tile.Key) bool {
	_, ok := c.items[key]
	return ok
}

// Keys lists indexed tiles from most to least recently used.
func (c *TileCache) Keys() []tile.Key {
	keys := make([]tile.Key, 0, c.lruList.Len())
	for e := c.lruList.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*Tile).key)
	}
	return keys
}
