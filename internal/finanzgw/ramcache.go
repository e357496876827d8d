package finanzgw

import (
	"context"
	"sync"
)

// ramBucket keeps recently matched entries of a durable bucket in memory.
// The durable bucket stays the source of truth: anything evicted from RAM is
// still found there.
type ramBucket struct {
	Bucket
	ram *ramCache
}

func (b *ramBucket) Match(ctx context.Context, key string) (CachedResponse, bool, error) {
	if ent, ok := b.ram.Get(key); ok {
		return ent, true, nil
	}
	ent, ok, err := b.Bucket.Match(ctx, key)
	if err != nil || !ok {
		return ent, ok, err
	}
	if ent.intact() {
		b.ram.Put(key, ent)
	}
	return ent, true, nil
}

func (b *ramBucket) PutAll(ctx context.Context, entries map[string]CachedResponse) error {
	if err := b.Bucket.PutAll(ctx, entries); err != nil {
		return err
	}
	for k, ent := range entries {
		b.ram.Put(k, ent)
	}
	return nil
}

type ramItem struct {
	key  string
	ent  CachedResponse
	size int64
	prev *ramItem
	next *ramItem
}

// ramCache is a size-bounded LRU.
type ramCache struct {
	maxBytes    int64
	overflowLog *rateLimitedLogger

	mu    sync.Mutex
	items map[string]*ramItem
	head  *ramItem
	tail  *ramItem
	total int64
}

func newRAMCache(maxBytes int64, overflowLog *rateLimitedLogger) *ramCache {
	return &ramCache{maxBytes: maxBytes, overflowLog: overflowLog, items: map[string]*ramItem{}}
}

func entrySize(ent CachedResponse) int64 {
	n := int64(len(ent.Body))
	for k, vs := range ent.Header {
		n += int64(len(k))
		for _, v := range vs {
			n += int64(len(v))
		}
	}
	return n
}

func (c *ramCache) TotalSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func (c *ramCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *ramCache) Get(key string) (CachedResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return CachedResponse{}, false
	}
	c.moveToFront(it)
	return it.ent, true
}

func (c *ramCache) Put(key string, ent CachedResponse) {
	sz := entrySize(ent)
	if c.maxBytes > 0 && sz > c.maxBytes {
		// too big for RAM; the durable bucket still has it
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if it, ok := c.items[key]; ok {
		c.total -= it.size
		it.ent = ent
		it.size = sz
		c.total += sz
		c.moveToFront(it)
		c.evictLocked()
		return
	}

	it := &ramItem{key: key, ent: ent, size: sz}
	c.items[key] = it
	c.addToFront(it)
	c.total += sz
	c.evictLocked()
}

func (c *ramCache) evictLocked() {
	if c.maxBytes <= 0 || c.total <= c.maxBytes {
		return
	}
	evicted := 0
	for c.total > c.maxBytes && c.tail != nil && c.tail != c.head {
		it := c.tail
		c.remove(it)
		delete(c.items, it.key)
		c.total -= it.size
		evicted++
	}
	if evicted > 0 && c.overflowLog != nil {
		c.overflowLog.Warn("RAM tier full, evicting", "evicted", evicted)
	}
}

func (c *ramCache) addToFront(it *ramItem) {
	it.prev = nil
	it.next = c.head
	if c.head != nil {
		c.head.prev = it
	}
	c.head = it
	if c.tail == nil {
		c.tail = it
	}
}

func (c *ramCache) remove(it *ramItem) {
	if it.prev != nil {
		it.prev.next = it.next
	} else {
		c.head = it.next
	}
	if it.next != nil {
		it.next.prev = it.prev
	} else {
		c.tail = it.prev
	}
	it.prev, it.next = nil, nil
}

func (c *ramCache) moveToFront(it *ramItem) {
	if c.head == it {
		return
	}
	c.remove(it)
	c.addToFront(it)
}
