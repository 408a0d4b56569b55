package queue

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"product_radar/internal/model"
)

// Producer 封装 Kafka 写入器。
type Producer struct {
	w *kafka.Writer
}

// NewProducer 创建生产者：
// - Hash + Key(product_id): 同一商品的更新落到同一分区，消费侧按到达顺序处理。
// - RequireAll: 等待 ISR 副本确认。
// - MaxAttempts/Timeout: 控制重试与超时边界。
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 20 * time.Millisecond,
		},
	}
}

func (p *Producer) Close() error { return p.w.Close() }

// Publish 同步写入一条信号消息。
func (p *Producer) Publish(ctx context.Context, u model.SignalUpdate) error {
	b, err := EncodeSignal(u)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, message(u, b))
}

func message(u model.SignalUpdate, value []byte) kafka.Message {
	return kafka.Message{
		Key:   []byte(u.ProductID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "request_id", Value: []byte(u.RequestID)},
			{Key: "kind", Value: []byte(u.Kind)},
		},
	}
}
