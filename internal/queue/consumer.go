package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"product_radar/internal/metrics"
	"product_radar/internal/model"
	"product_radar/internal/store"
)

// Applier 由 store.Store 实现。
type Applier interface {
	ApplySignal(ctx context.Context, u model.SignalUpdate) (*model.Product, error)
}

// messageReader 由 *kafka.Reader 实现。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer 从 Kafka 读取信号并落库。处理完成（含丢弃）后才提交 offset；
// 落库失败时原地退避重试同一条消息，不提交，进程退出后由消费组重新投递。
type Consumer struct {
	r       messageReader
	applier Applier

	// ErrConflict 时整条消息重新执行的次数
	conflictRetries int
	backoff         time.Duration
	maxBackoff      time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, applier Applier) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 1e6,
			MaxWait:  500 * time.Millisecond,
		}),
		applier:         applier,
		conflictRetries: 3,
		backoff:         50 * time.Millisecond,
		maxBackoff:      5 * time.Second,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

// Run 阻塞消费直到 ctx 取消。
func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("consumer fetch")
			}
			return
		}

		if !c.process(ctx, m) {
			return
		}

		if err := c.r.CommitMessages(ctx, m); err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Int64("offset", m.Offset).Msg("consumer commit")
			}
			return
		}
	}
}

// process 重试 handle 直到成功；ctx 取消时返回 false，此时消息未提交。
func (c *Consumer) process(ctx context.Context, m kafka.Message) bool {
	delay := c.backoff
	for attempt := 1; ; attempt++ {
		err := c.handle(ctx, m.Value)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		log.Error().Err(err).
			Int("partition", m.Partition).
			Int64("offset", m.Offset).
			Str("key", string(m.Key)).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("consumer apply signal")
		if !sleep(ctx, delay) {
			return false
		}
		delay = min(delay*2, max(c.maxBackoff, c.backoff))
	}
}

// handle 返回的错误只用于记录；脏消息、过期信号、已删除商品都视为已处理。
func (c *Consumer) handle(ctx context.Context, value []byte) error {
	u, err := DecodeSignal(value)
	if err != nil {
		log.Warn().Err(err).Msg("consumer drop malformed message")
		metrics.RecordSignal("unknown", "dropped")
		return nil
	}

	for attempt := 0; ; attempt++ {
		p, err := c.applier.ApplySignal(ctx, u)
		switch {
		case err == nil:
			log.Debug().
				Str("request_id", u.RequestID).
				Str("product_id", u.ProductID).
				Str("kind", string(u.Kind)).
				Float64("score", p.Score).
				Msg("signal applied")
			metrics.RecordSignal(string(u.Kind), "applied")
			return nil
		case errors.Is(err, store.ErrStaleSignal):
			log.Debug().
				Str("request_id", u.RequestID).
				Str("product_id", u.ProductID).
				Str("kind", string(u.Kind)).
				Msg("stale signal skipped")
			metrics.RecordSignal(string(u.Kind), "stale")
			return nil
		case errors.Is(err, store.ErrNotFound):
			log.Warn().
				Str("request_id", u.RequestID).
				Str("product_id", u.ProductID).
				Msg("signal for unknown product dropped")
			metrics.RecordSignal(string(u.Kind), "dropped")
			return nil
		case errors.Is(err, store.ErrConflict) && attempt < c.conflictRetries:
			if !sleep(ctx, c.backoff) {
				return ctx.Err()
			}
		default:
			return err
		}
	}
}
