package redis

import (
	"context"
	"errors"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaEnqueueSignalOnce 通过 SETNX 标记保证同一 request_id 只入流一次：
// 标记与 XADD 在同一脚本内完成，不会出现"已标记但未入流"。
// KEYS[1]=标记key，KEYS[2]=stream；ARGV[1]=标记TTL秒，ARGV[2]=payload
// 返回新消息 ID；重复请求返回 false(nil)。
const luaEnqueueSignalOnce = `
local seenKey = KEYS[1]
local stream = KEYS[2]
local ttlSec = tonumber(ARGV[1])

if redis.call('SETNX', seenKey, '1') == 1 then
  redis.call('EXPIRE', seenKey, ttlSec)
  return redis.call('XADD', stream, '*', 'payload', ARGV[2])
end
return false
`

// EnqueueSignalOnce 幂等入流：
// - 首次投递返回 (id, true)
// - 重复投递返回 ("", false)，不会重复写入 stream
func EnqueueSignalOnce(ctx context.Context, rdb *rd.Client, stream, requestID string, payload []byte, ttl time.Duration) (string, bool, error) {
	ttlSec := int64(ttl / time.Second)
	if ttlSec <= 0 {
		ttlSec = 1
	}
	id, err := rdb.Eval(ctx, luaEnqueueSignalOnce, []string{SignalRequestKey(requestID), stream}, ttlSec, string(payload)).Text()
	if errors.Is(err, rd.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}
