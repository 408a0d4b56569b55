package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// LocalRateLimit 进程内令牌桶限流，未配置 Redis 时使用。limit<=0 时不限流。
// 每个爬虫 ID（或 IP）一个桶：容量 limit，按 window/limit 的间隔补充。
func LocalRateLimit(limit int, window time.Duration) gin.HandlerFunc {
	if limit <= 0 || window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	retryAfter := strconv.Itoa(max(int(window/time.Duration(limit)/time.Second), 1))
	b := newBuckets(rate.Every(window/time.Duration(limit)), limit, window)

	return func(c *gin.Context) {
		if !b.get(rateLimitKey(c)).Allow() {
			c.Header("Retry-After", retryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "too many signal submissions, slow down",
			})
			return
		}
		c.Next()
	}
}

// buckets 空闲超过 idle 的桶已补满，删掉与保留等价；每隔 idle 清扫一次。
type buckets struct {
	every rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	m         map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	l        *rate.Limiter
	lastSeen time.Time
}

func newBuckets(every rate.Limit, burst int, idle time.Duration) *buckets {
	return &buckets{
		every:     every,
		burst:     burst,
		idle:      idle,
		now:       time.Now,
		m:         make(map[string]*bucket),
		lastSweep: time.Now(),
	}
}

func (b *buckets) get(key string) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if now.Sub(b.lastSweep) >= b.idle {
		b.sweep(now)
	}
	e, ok := b.m[key]
	if !ok {
		e = &bucket{l: rate.NewLimiter(b.every, b.burst)}
		b.m[key] = e
	}
	e.lastSeen = now
	return e.l
}

func (b *buckets) sweep(now time.Time) {
	for k, e := range b.m {
		if now.Sub(e.lastSeen) >= b.idle {
			delete(b.m, k)
		}
	}
	b.lastSweep = now
}

func (b *buckets) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.m)
}
