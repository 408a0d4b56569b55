package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"product_radar/internal/metrics"
	"product_radar/internal/model"
)

// Publisher 由 Producer 实现。
type Publisher interface {
	Publish(ctx context.Context, u model.SignalUpdate) error
}

// Relay 把 outbox stream 里的信号转发到 Kafka。
// 只有 Publish 成功才 ACK+XDEL；失败的条目留在 PEL，下一轮先重放。
// 其他 relay 实例挂掉后遗留的条目，空闲超过 claimIdle 会被本实例认领。
type Relay struct {
	rdb       *rd.Client
	publisher Publisher

	stream   string
	group    string
	consumer string

	batch          int64
	block          time.Duration
	claimIdle      time.Duration
	publishTimeout time.Duration
	retryDelay     time.Duration

	claimCursor string
}

type RelayOption func(*Relay)

// WithBatch 每次 XREADGROUP / XAUTOCLAIM 读取的条数。
func WithBatch(n int64) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

// WithClaimIdle 设为 0 关闭认领。
func WithClaimIdle(d time.Duration) RelayOption {
	return func(r *Relay) { r.claimIdle = d }
}

func NewRelay(rdb *rd.Client, publisher Publisher, stream, group, consumer string, opts ...RelayOption) *Relay {
	r := &Relay{
		rdb:            rdb,
		publisher:      publisher,
		stream:         stream,
		group:          group,
		consumer:       consumer,
		batch:          32,
		block:          2 * time.Second,
		claimIdle:      time.Minute,
		publishTimeout: 5 * time.Second,
		retryDelay:     300 * time.Millisecond,
		claimCursor:    "0-0",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run 阻塞直到 ctx 取消。
func (r *Relay) Run(ctx context.Context) {
	if err := r.ensureGroup(ctx); err != nil {
		log.Error().Err(err).Str("stream", r.stream).Msg("relay ensure group")
		return
	}
	log.Info().
		Str("stream", r.stream).
		Str("group", r.group).
		Str("consumer", r.consumer).
		Int64("batch", r.batch).
		Dur("claim_idle", r.claimIdle).
		Msg("relay started")

	for ctx.Err() == nil {
		msgs, err := r.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("stream", r.stream).Msg("relay read")
			sleep(ctx, r.retryDelay)
			continue
		}

		for _, xm := range msgs {
			if err := r.forward(ctx, xm); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn().Err(err).Str("stream_id", xm.ID).Msg("relay publish")
				sleep(ctx, r.retryDelay)
				break
			}
		}
	}
}

// next 取下一批待转发条目：自己的 PEL → 认领别人的超时条目 → 新条目。
func (r *Relay) next(ctx context.Context) ([]rd.XMessage, error) {
	msgs, err := r.readGroup(ctx, "0", -1)
	if err != nil || len(msgs) > 0 {
		return msgs, err
	}
	if r.claimIdle > 0 {
		msgs, err = r.claim(ctx)
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}
	}
	return r.readGroup(ctx, ">", r.block)
}

func (r *Relay) ensureGroup(ctx context.Context) error {
	err := r.rdb.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// readGroup block<0 表示不阻塞（读 PEL 时使用）。
func (r *Relay) readGroup(ctx context.Context, id string, block time.Duration) ([]rd.XMessage, error) {
	res, err := r.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.stream, id},
		Count:    r.batch,
		Block:    block,
	}).Result()
	if errors.Is(err, rd.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var msgs []rd.XMessage
	for _, s := range res {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

// claim 分批扫描整个 PEL，游标回到 0-0 表示扫完一轮。
func (r *Relay) claim(ctx context.Context) ([]rd.XMessage, error) {
	msgs, cursor, err := r.rdb.XAutoClaim(ctx, &rd.XAutoClaimArgs{
		Stream:   r.stream,
		Group:    r.group,
		Consumer: r.consumer,
		MinIdle:  r.claimIdle,
		Start:    r.claimCursor,
		Count:    r.batch,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	r.claimCursor = cursor
	if len(msgs) > 0 {
		log.Info().Int("count", len(msgs)).Str("stream", r.stream).Msg("relay claimed idle entries")
	}
	return msgs, nil
}

func (r *Relay) forward(ctx context.Context, xm rd.XMessage) error {
	u, err := parseSignalEvent(xm.Values)
	if err != nil {
		log.Warn().Err(err).Str("stream_id", xm.ID).Msg("relay drop malformed event")
		metrics.RecordSignal("unknown", "dropped")
		return r.ack(ctx, xm.ID)
	}

	pubCtx, cancel := context.WithTimeout(ctx, r.publishTimeout)
	defer cancel()
	if err := r.publisher.Publish(pubCtx, u); err != nil {
		return fmt.Errorf("publish %s: %w", u.RequestID, err)
	}
	return r.ack(ctx, xm.ID)
}

// ack 同时 XDEL，outbox 不保留已转发条目。
func (r *Relay) ack(ctx context.Context, id string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.XAck(ctx, r.stream, r.group, id)
		pipe.XDel(ctx, r.stream, id)
		return nil
	})
	return err
}

// sleep 等待 d；ctx 先取消时返回 false。
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// parseSignalEvent 条目只有 payload 一个字段，值为 JSON 编码的 SignalUpdate。
func parseSignalEvent(values map[string]interface{}) (model.SignalUpdate, error) {
	var raw []byte
	switch v := values["payload"].(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	case nil:
		return model.SignalUpdate{}, errors.New("event has no payload field")
	default:
		return model.SignalUpdate{}, fmt.Errorf("payload has unsupported type %T", v)
	}
	return DecodeSignal(raw)
}
