package redis

import "fmt"

const prefix = "product_radar"

// CatalogVersionKey 商品目录版本号，任何写入都会 INCR，统计缓存随之整体失效。
func CatalogVersionKey() string {
	return prefix + ":catalog:version"
}

// StatsCacheKey 某个目录版本下某组筛选条件的统计结果。
func StatsCacheKey(version int64, fingerprint string) string {
	return fmt.Sprintf("%s:stats:%d:%s", prefix, version, fingerprint)
}

// SignalRequestKey 标记某个 request_id 的信号已入流，防止爬虫重试重复投递。
func SignalRequestKey(requestID string) string {
	return fmt.Sprintf("%s:signal:seen:%s", prefix, requestID)
}

// RateLimitKey 信号接口限流键，subject 为爬虫 ID 或客户端 IP。
func RateLimitKey(kind, subject string) string {
	return fmt.Sprintf("rate_limit:%s:signals:%s:%s", prefix, kind, subject)
}
