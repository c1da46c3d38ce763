package history

import (
	"context"
	"strings"
	"sync"
	"time"

	"riskbot/internal/market"
)

const defaultShardCount = 32

// Cache 在 TTL 内复用同一标的的日线，账本刷新 ATR 与分类共用一次拉取。
type Cache struct {
	base   market.HistoryProvider
	ttl    time.Duration
	now    func() time.Time
	shards []cacheShard
}

type cacheShard struct {
	mu   sync.RWMutex
	data map[string]cachedBars
}

type cachedBars struct {
	bars     market.Bars
	lookback int
	at       time.Time
}

// NewCache 包装 base；ttl<=0 时直接透传。
func NewCache(base market.HistoryProvider, ttl time.Duration) *Cache {
	c := &Cache{base: base, ttl: ttl, now: time.Now, shards: make([]cacheShard, defaultShardCount)}
	for i := range c.shards {
		c.shards[i] = cacheShard{data: make(map[string]cachedBars)}
	}
	return c
}

func (c *Cache) shardFor(key string) *cacheShard {
	return &c.shards[hashKey(key)%uint32(len(c.shards))]
}

func (c *Cache) FetchDailyBars(ctx context.Context, symbol string, lookback int) (market.Bars, error) {
	if c.ttl <= 0 {
		return c.base.FetchDailyBars(ctx, symbol, lookback)
	}
	key := strings.ToUpper(strings.TrimSpace(symbol))
	sh := c.shardFor(key)
	sh.mu.RLock()
	entry, ok := sh.data[key]
	sh.mu.RUnlock()
	if ok && entry.lookback >= lookback && c.now().Sub(entry.at) < c.ttl {
		return tail(entry.bars, lookback), nil
	}

	bars, err := c.base.FetchDailyBars(ctx, symbol, lookback)
	if err != nil {
		return nil, err
	}
	stored := make(market.Bars, len(bars))
	copy(stored, bars)
	sh.mu.Lock()
	sh.data[key] = cachedBars{bars: stored, lookback: lookback, at: c.now()}
	sh.mu.Unlock()
	return bars, nil
}

// Purge 删除过期条目，返回删除数量。
func (c *Cache) Purge() int {
	now := c.now()
	removed := 0
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.Lock()
		for k, e := range sh.data {
			if now.Sub(e.at) >= c.ttl {
				delete(sh.data, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

func tail(bars market.Bars, n int) market.Bars {
	if n <= 0 || n > len(bars) {
		n = len(bars)
	}
	out := make(market.Bars, n)
	copy(out, bars[len(bars)-n:])
	return out
}

func hashKey(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	var h uint32 = offset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
