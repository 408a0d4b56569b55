package redis

import (
	"context"
	"errors"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// StatsCache 按目录版本缓存统计结果。写入方只需 Bump，旧版本的 key 依靠 TTL 自然过期。
type StatsCache struct {
	rdb *rd.Client
	ttl time.Duration
}

// NewStatsCache rdb 为 nil 或 ttl<=0 时返回 nil，调用方据此跳过缓存。
func NewStatsCache(rdb *rd.Client, ttl time.Duration) *StatsCache {
	if rdb == nil || ttl <= 0 {
		return nil
	}
	return &StatsCache{rdb: rdb, ttl: ttl}
}

// Version 读取当前目录版本，key 不存在视为 0。
func (c *StatsCache) Version(ctx context.Context) (int64, error) {
	v, err := c.rdb.Get(ctx, CatalogVersionKey()).Int64()
	if errors.Is(err, rd.Nil) {
		return 0, nil
	}
	return v, err
}

// Bump 目录发生变化。
func (c *StatsCache) Bump(ctx context.Context) error {
	return c.rdb.Incr(ctx, CatalogVersionKey()).Err()
}

// Get 查询缓存；found=false 表示未命中。
func (c *StatsCache) Get(ctx context.Context, version int64, fingerprint string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, StatsCacheKey(version, fingerprint)).Bytes()
	if errors.Is(err, rd.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Put 写入缓存并设置 TTL。version 须是计算统计之前读到的版本号。
func (c *StatsCache) Put(ctx context.Context, version int64, fingerprint string, data []byte) error {
	return c.rdb.Set(ctx, StatsCacheKey(version, fingerprint), data, c.ttl).Err()
}
