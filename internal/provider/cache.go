package provider

import (
	"container/list"
	"context"
	"crypto/sha256"
	"sync"
)

// CachedClient wraps a Client with a bounded in-memory LRU keyed by the
// request content. Repeated identical snapshots skip the provider
// round-trip. Nothing is ever persisted.
type CachedClient struct {
	inner Client

	mu      sync.Mutex
	maxSize int
	order   *list.List
	entries map[[32]byte]*list.Element
}

type cacheEntry struct {
	key        [32]byte
	completion Completion
}

// NewCachedClient wraps inner with an LRU holding up to maxSize entries.
func NewCachedClient(inner Client, maxSize int) *CachedClient {
	return &CachedClient{
		inner:   inner,
		maxSize: maxSize,
		order:   list.New(),
		entries: make(map[[32]byte]*list.Element),
	}
}

// RequestCompletion serves from cache when possible. Only successful
// completions are cached; failures always retry the backend.
func (c *CachedClient) RequestCompletion(ctx context.Context, req Request) (Completion, error) {
	key := cacheKey(req)

	c.mu.Lock()
	if elem, ok := c.entries[key]; ok {
		c.order.MoveToFront(elem)
		completion := elem.Value.(*cacheEntry).completion
		c.mu.Unlock()
		return completion, nil
	}
	c.mu.Unlock()

	completion, err := c.inner.RequestCompletion(ctx, req)
	if err != nil {
		return Completion{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		// Another request raced us; keep the existing entry fresh.
		c.order.MoveToFront(elem)
		return completion, nil
	}

	elem := c.order.PushFront(&cacheEntry{key: key, completion: completion})
	c.entries[key] = elem

	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
	return completion, nil
}

// Len reports the number of cached entries.
func (c *CachedClient) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func cacheKey(req Request) [32]byte {
	h := sha256.New()
	h.Write([]byte(req.Prompt))
	h.Write([]byte{0})
	h.Write([]byte(req.Label))
	h.Write([]byte{0})
	h.Write([]byte(req.WindowTitle))
	var key [32]byte
	copy(key[:], h.Sum(nil))
	return key
}
