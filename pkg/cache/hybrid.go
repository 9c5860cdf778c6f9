// Package cache implements the hybrid result cache for engine query results.
//
// Results live in one of two tiers, never both:
//
//   - Hot tier: a small LRU for cheap, frequently repeated queries.
//     Entries are uncompressed and have no TTL; capacity is the only
//     bound. Agents tend to re-issue the same cheap lookups many times
//     per session, so keeping them pinned pays off immediately.
//
//   - Cold tier: a larger TTL store for everything else. Entries expire
//     after a configurable lifetime and large values are zlib-compressed.
//     A cold entry that keeps getting hit is promoted to the hot tier
//     once its access count reaches the promotion threshold.
//
// Keys are FNV-64a hashes of the whitespace-normalized query text, so
// formatting variants of the same query share a single entry.
//
// Example:
//
//	c := cache.New(cache.Options{})
//	key := cache.Key("cpg.method.name.l")
//
//	if data, ok := c.Get(key); ok {
//		return data // cache hit
//	}
//	data := runQuery(...)
//	c.Put(key, data, complexity)
package cache

import (
	"bytes"
	"container/list"
	"fmt"
	"hash/fnv"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zlib"

	"github.com/orneryd/joernmcp/pkg/pool"
	"github.com/orneryd/joernmcp/pkg/query"
)

// Defaults applied by New when the corresponding Option is zero.
const (
	DefaultHotSize          = 100
	DefaultColdSize         = 1000
	DefaultTTL              = 3600 * time.Second
	DefaultPromoteThreshold = 3
	DefaultCompressMin      = 10240
)

// Options configures a Hybrid cache. Zero values take the defaults above.
type Options struct {
	HotSize          int           // hot tier capacity (entries)
	ColdSize         int           // cold tier capacity (entries)
	TTL              time.Duration // cold entry lifetime
	PromoteThreshold int           // cold accesses before promotion to hot
	CompressMin      int           // compress values at or above this many bytes
}

// entry is a cached result in either tier.
type entry struct {
	key        uint64
	data       []byte
	compressed bool
	storedAt   time.Time
	expiresAt  time.Time // zero for hot entries
	accesses   int       // cold-tier hit count, drives promotion
}

// Stats is a point-in-time snapshot of cache state and counters.
type Stats struct {
	HotSize      int     `json:"hot_size"`
	HotCapacity  int     `json:"hot_capacity"`
	ColdSize     int     `json:"cold_size"`
	ColdCapacity int     `json:"cold_capacity"`
	Hits         uint64  `json:"hits"`
	Misses       uint64  `json:"misses"`
	HitRate      float64 `json:"hit_rate"` // percent, 0-100
	Promotions   uint64  `json:"promotions"`
	Demotions    uint64  `json:"demotions"`
	Evictions    uint64  `json:"evictions"`
	Compressed   int     `json:"compressed"` // cold entries currently stored compressed
}

// Hybrid is the two-tier result cache. Safe for concurrent use.
type Hybrid struct {
	mu sync.Mutex

	hotList *list.List // front = most recently used
	hotMap  map[uint64]*list.Element

	coldList *list.List // front = most recently used
	coldMap  map[uint64]*list.Element

	opts Options

	// Hit/miss counters are atomic so Stats can be read cheaply and
	// the counters survive without taking mu on the read side.
	hits   uint64
	misses uint64

	promotions uint64
	demotions  uint64
	evictions  uint64
	compressed int

	enabled bool
}

// New creates a Hybrid cache, filling in defaults for zero Options fields.
func New(opts Options) *Hybrid {
	if opts.HotSize <= 0 {
		opts.HotSize = DefaultHotSize
	}
	if opts.ColdSize <= 0 {
		opts.ColdSize = DefaultColdSize
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.PromoteThreshold <= 0 {
		opts.PromoteThreshold = DefaultPromoteThreshold
	}
	if opts.CompressMin <= 0 {
		opts.CompressMin = DefaultCompressMin
	}
	return &Hybrid{
		hotList:  list.New(),
		hotMap:   make(map[uint64]*list.Element),
		coldList: list.New(),
		coldMap:  make(map[uint64]*list.Element),
		opts:     opts,
		enabled:  true,
	}
}

// Key hashes a query into its cache key. The query is normalized first,
// so "cpg.method .l" and "cpg.method.l" map to the same key.
func Key(q string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(query.Normalize(q)))
	return h.Sum64()
}

// Get looks a key up in the hot tier, then the cold tier.
//
// A hot hit refreshes the entry's LRU position. A cold hit bumps the
// entry's access count and promotes it to hot once the count reaches the
// promotion threshold; compressed entries are decompressed on promotion
// so the hot tier only ever holds ready-to-serve bytes. Expired cold
// entries are deleted on observation and count as misses.
func (c *Hybrid) Get(key uint64) ([]byte, bool) {
	c.mu.Lock()

	if !c.enabled {
		c.mu.Unlock()
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	if el, ok := c.hotMap[key]; ok {
		c.hotList.MoveToFront(el)
		data := el.Value.(*entry).data
		c.mu.Unlock()
		atomic.AddUint64(&c.hits, 1)
		return data, true
	}

	el, ok := c.coldMap[key]
	if !ok {
		c.mu.Unlock()
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	e := el.Value.(*entry)
	if time.Now().After(e.expiresAt) {
		c.removeCold(el)
		c.mu.Unlock()
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	e.accesses++
	if e.accesses >= c.opts.PromoteThreshold {
		if err := c.promote(el); err != nil {
			// Corrupt compressed payload; drop it and miss.
			c.removeCold(el)
			c.mu.Unlock()
			atomic.AddUint64(&c.misses, 1)
			return nil, false
		}
	} else {
		// Cold hits refresh recency so capacity eviction drops the
		// least recently used entry, not the oldest stored.
		c.coldList.MoveToFront(el)
	}

	data, compressed := e.data, e.compressed
	c.mu.Unlock()
	atomic.AddUint64(&c.hits, 1)

	if !compressed {
		return data, true
	}
	out, err := decompress(data)
	if err != nil {
		return nil, false
	}
	return out, true
}

// Put stores a result. Values at or above the compression threshold are
// zlib-compressed and always land in the cold tier; smaller values go
// hot when the query's complexity makes it hot-eligible, cold otherwise.
func (c *Hybrid) Put(key uint64, value []byte, cx query.Complexity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return
	}

	// Replace any existing entry so the key lives in exactly one tier.
	if el, ok := c.hotMap[key]; ok {
		c.hotList.Remove(el)
		delete(c.hotMap, key)
	}
	if el, ok := c.coldMap[key]; ok {
		c.removeCold(el)
	}

	now := time.Now()

	if len(value) >= c.opts.CompressMin {
		packed, err := compress(value)
		if err == nil && len(packed) < len(value) {
			c.putCold(&entry{key: key, data: packed, compressed: true, storedAt: now})
			return
		}
		// Incompressible or compressor error: store raw in cold.
		c.putCold(&entry{key: key, data: value, storedAt: now})
		return
	}

	if cx.HotEligible() {
		c.putHot(&entry{key: key, data: value, storedAt: now})
		return
	}
	c.putCold(&entry{key: key, data: value, storedAt: now})
}

// Invalidate removes a single key from whichever tier holds it.
func (c *Hybrid) Invalidate(key uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.hotMap[key]; ok {
		c.hotList.Remove(el)
		delete(c.hotMap, key)
	}
	if el, ok := c.coldMap[key]; ok {
		c.removeCold(el)
	}
}

// Clear empties both tiers. Counters are preserved.
func (c *Hybrid) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hotList.Init()
	c.hotMap = make(map[uint64]*list.Element)
	c.coldList.Init()
	c.coldMap = make(map[uint64]*list.Element)
	c.compressed = 0
}

// SweepExpired removes all expired cold entries and reports how many
// it dropped.
func (c *Hybrid) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for el := c.coldList.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*entry).expiresAt) {
			c.removeCold(el)
			removed++
		}
		el = prev
	}
	return removed
}

// SetEnabled turns the cache on or off. Disabling clears both tiers so
// stale results cannot be served after a re-enable.
func (c *Hybrid) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()
	if !enabled {
		c.Clear()
	}
}

// Stats returns current sizes and counters. Hit rate is a percentage;
// zero when no lookups have happened yet.
func (c *Hybrid) Stats() Stats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)

	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		HotSize:      c.hotList.Len(),
		HotCapacity:  c.opts.HotSize,
		ColdSize:     c.coldList.Len(),
		ColdCapacity: c.opts.ColdSize,
		Hits:         hits,
		Misses:       misses,
		Promotions:   c.promotions,
		Demotions:    c.demotions,
		Evictions:    c.evictions,
		Compressed:   c.compressed,
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total) * 100
	}
	return s
}

// ============================================================================
// INTERNAL — caller must hold c.mu
// ============================================================================

// putHot inserts into the hot tier, demoting the LRU entry to cold when
// the tier is full.
func (c *Hybrid) putHot(e *entry) {
	if c.hotList.Len() >= c.opts.HotSize {
		if back := c.hotList.Back(); back != nil {
			victim := back.Value.(*entry)
			c.hotList.Remove(back)
			delete(c.hotMap, victim.key)
			victim.accesses = 0
			victim.storedAt = time.Now()
			c.putCold(victim)
			c.demotions++
		}
	}
	c.hotMap[e.key] = c.hotList.PushFront(e)
}

// putCold inserts into the cold tier with a fresh TTL, evicting expired
// entries first and then the least recently used entry if still over
// capacity.
func (c *Hybrid) putCold(e *entry) {
	if c.coldList.Len() >= c.opts.ColdSize {
		c.sweepExpiredLocked()
	}
	for c.coldList.Len() >= c.opts.ColdSize {
		back := c.coldList.Back()
		if back == nil {
			break
		}
		c.removeCold(back)
		c.evictions++
	}
	e.expiresAt = time.Now().Add(c.opts.TTL)
	c.coldMap[e.key] = c.coldList.PushFront(e)
	if e.compressed {
		c.compressed++
	}
}

// promote moves a cold entry into the hot tier, decompressing it first
// so hot entries are always raw bytes.
func (c *Hybrid) promote(el *list.Element) error {
	e := el.Value.(*entry)
	if e.compressed {
		raw, err := decompress(e.data)
		if err != nil {
			return fmt.Errorf("promote key %d: %w", e.key, err)
		}
		e.data = raw
		e.compressed = false
		c.compressed--
	}
	c.coldList.Remove(el)
	delete(c.coldMap, e.key)
	e.expiresAt = time.Time{}
	c.putHot(e)
	c.promotions++
	return nil
}

// removeCold deletes a cold element and keeps the compressed count honest.
func (c *Hybrid) removeCold(el *list.Element) {
	e := el.Value.(*entry)
	c.coldList.Remove(el)
	delete(c.coldMap, e.key)
	if e.compressed {
		c.compressed--
	}
}

func (c *Hybrid) sweepExpiredLocked() {
	now := time.Now()
	for el := c.coldList.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*entry).expiresAt) {
			c.removeCold(el)
		}
		el = prev
	}
}

// ============================================================================
// COMPRESSION
// ============================================================================

func compress(data []byte) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	zw := zlib.NewWriter(buf)
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func decompress(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	if _, err := io.Copy(buf, zr); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
