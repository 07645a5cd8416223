package blockchain

import (
	"context"
	"sync"
	"time"
)

// MaxBlockCacheTTL 区块高度缓存的最长有效期
const MaxBlockCacheTTL = 10 * time.Second

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache 带过期时间的内存缓存, 时钟可注入
type TTLCache[K comparable, V any] struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[K]cacheEntry[V]
}

// NewTTLCache 创建缓存
func NewTTLCache[K comparable, V any](ttl time.Duration) *TTLCache[K, V] {
	return &TTLCache[K, V]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[K]cacheEntry[V]),
	}
}

// SetClock 替换时钟
func (c *TTLCache[K, V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// TTL 有效期
func (c *TTLCache[K, V]) TTL() time.Duration {
	return c.ttl
}

// Get 读取未过期的值
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put 写入
func (c *TTLCache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	c.entries[key] = cacheEntry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Invalidate 删除
func (c *TTLCache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Prune 清理过期条目, 返回剩余条目数
func (c *TTLCache[K, V]) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	return len(c.entries)
}

// GetOrLoad 未命中时调用 load, 出错不缓存
func (c *TTLCache[K, V]) GetOrLoad(ctx context.Context, key K, load func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	c.Put(key, v)
	return v, nil
}

// HeadReader 读取最新区块号
type HeadReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// BlockNumberCache 区块高度缓存, TTL 不超过 MaxBlockCacheTTL
type BlockNumberCache struct {
	reader HeadReader
	cache  *TTLCache[struct{}, uint64]
}

// NewBlockNumberCache 创建区块高度缓存
func NewBlockNumberCache(reader HeadReader, ttl time.Duration) *BlockNumberCache {
	if ttl <= 0 || ttl > MaxBlockCacheTTL {
		ttl = MaxBlockCacheTTL
	}
	return &BlockNumberCache{reader: reader, cache: NewTTLCache[struct{}, uint64](ttl)}
}

// SetClock 替换时钟
func (c *BlockNumberCache) SetClock(now func() time.Time) {
	c.cache.SetClock(now)
}

// TTL 有效期
func (c *BlockNumberCache) TTL() time.Duration {
	return c.cache.TTL()
}

// BlockNumber 返回缓存的区块高度
func (c *BlockNumberCache) BlockNumber(ctx context.Context) (uint64, error) {
	return c.cache.GetOrLoad(ctx, struct{}{}, c.reader.BlockNumber)
}

// Invalidate 丢弃缓存
func (c *BlockNumberCache) Invalidate() {
	c.cache.Invalidate(struct{}{})
}
