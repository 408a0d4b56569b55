// Package ingest 接收爬虫投递的信号更新，按配置直接落库或写入 Redis Stream outbox。
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"product_radar/internal/model"
	"product_radar/internal/store"
	rediskey "product_radar/pkg/redis"
)

// 投递结果状态。
const (
	StatusApplied   = "applied"
	StatusStale     = "stale"
	StatusQueued    = "queued"
	StatusDuplicate = "duplicate"
)

// Receipt 一次投递的回执。Score 仅在同步落库时给出。
type Receipt struct {
	RequestID string   `json:"request_id"`
	ProductID string   `json:"product_id"`
	Status    string   `json:"status"`
	Score     *float64 `json:"score,omitempty"`
}

// Sink 信号投递目标。
type Sink interface {
	Submit(ctx context.Context, u model.SignalUpdate) (Receipt, error)
}

// Applier 由 store.Store 实现。
type Applier interface {
	ApplySignal(ctx context.Context, u model.SignalUpdate) (*model.Product, error)
}

// prepare 补齐 request_id 与 observed_at。
func prepare(u *model.SignalUpdate, now time.Time) {
	if u.RequestID == "" {
		u.RequestID = uuid.New().String()
	}
	if u.ObservedAt.IsZero() {
		u.ObservedAt = now.UTC()
	}
}

// DirectSink 同步调用 store 采纳信号并重算评分。
type DirectSink struct {
	applier Applier
	now     func() time.Time
}

func NewDirectSink(a Applier) *DirectSink {
	return &DirectSink{applier: a, now: time.Now}
}

func (s *DirectSink) Submit(ctx context.Context, u model.SignalUpdate) (Receipt, error) {
	prepare(&u, s.now())
	r := Receipt{RequestID: u.RequestID, ProductID: u.ProductID}

	p, err := s.applier.ApplySignal(ctx, u)
	switch {
	case errors.Is(err, store.ErrStaleSignal):
		log.Debug().
			Str("request_id", u.RequestID).
			Str("product_id", u.ProductID).
			Str("kind", string(u.Kind)).
			Msg("stale signal dropped")
		r.Status = StatusStale
		return r, nil
	case err != nil:
		return r, err
	}
	score := p.Score
	r.Status = StatusApplied
	r.Score = &score
	return r, nil
}

// StreamSink 把信号写入 Redis Stream，由 queue.Relay 转发到 Kafka 后异步落库。
type StreamSink struct {
	rdb    *rd.Client
	stream string
	// dedupeTTL 内相同 request_id 只入流一次
	dedupeTTL time.Duration
	now       func() time.Time
}

func NewStreamSink(rdb *rd.Client, stream string, dedupeTTL time.Duration) *StreamSink {
	return &StreamSink{rdb: rdb, stream: stream, dedupeTTL: dedupeTTL, now: time.Now}
}

func (s *StreamSink) Submit(ctx context.Context, u model.SignalUpdate) (Receipt, error) {
	prepare(&u, s.now())
	r := Receipt{RequestID: u.RequestID, ProductID: u.ProductID}

	payload, err := json.Marshal(u)
	if err != nil {
		return r, fmt.Errorf("encode signal: %w", err)
	}
	id, added, err := rediskey.EnqueueSignalOnce(ctx, s.rdb, s.stream, u.RequestID, payload, s.dedupeTTL)
	if err != nil {
		return r, fmt.Errorf("enqueue signal: %w", err)
	}
	if !added {
		r.Status = StatusDuplicate
		return r, nil
	}
	log.Debug().
		Str("request_id", u.RequestID).
		Str("stream_id", id).
		Str("product_id", u.ProductID).
		Msg("signal queued")
	r.Status = StatusQueued
	return r, nil
}
