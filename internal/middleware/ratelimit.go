package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	rediskey "product_radar/pkg/redis"
)

// luaRateLimit：Redis 滑动窗口限流 Lua 脚本（原子操作）
// KEYS[1]=限流key，ARGV[1]=当前时间戳，ARGV[2]=窗口开始时间戳，ARGV[3]=窗口秒数，ARGV[4]=成员，ARGV[5]=上限
// 返回：计入本次后窗口内的请求数；已达上限返回 -1
const luaRateLimit = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowSec = tonumber(ARGV[3])
local member = ARGV[4]
local limit = tonumber(ARGV[5])

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)
local count = redis.call('ZCARD', key)
if count >= limit then
  return -1
end
redis.call('ZADD', key, now, member)
redis.call('EXPIRE', key, windowSec)
return count + 1
`

// CrawlerIDHeader 爬虫标识头，缺失时按客户端 IP 限流。
const CrawlerIDHeader = "X-Crawler-ID"

// RedisRateLimit Redis 分布式限流（Lua 原子操作 + 按爬虫 ID）。rdb 为 nil 时不限流。
func RedisRateLimit(rdb *rd.Client, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rdb == nil {
			c.Next()
			return
		}

		key := rateLimitKey(c)
		now := time.Now()
		windowSec := int64(window.Seconds())
		if windowSec < 1 {
			windowSec = 1
		}
		windowStart := now.Unix() - windowSec
		member := fmt.Sprintf("%d-%s", now.UnixNano(), GetRequestID(c))

		// Lua 原子操作：删除旧记录 + 统计 + 添加 + 设置过期
		res, err := rdb.Eval(c.Request.Context(), luaRateLimit, []string{key},
			now.Unix(), windowStart, windowSec, member, limit).Int()
		if err != nil {
			// Redis 出错时放行（降级策略）
			log.Warn().Err(err).Str("key", key).Msg("rate limit unavailable")
			c.Next()
			return
		}

		if res < 0 {
			c.Header("Retry-After", strconv.FormatInt(windowSec, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "too many signal submissions, slow down",
			})
			return
		}
		c.Next()
	}
}

func rateLimitKey(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(CrawlerIDHeader)); id != "" {
		return rediskey.RateLimitKey("crawler", id)
	}
	return rediskey.RateLimitKey("ip", c.ClientIP())
}
