package queue

import (
	"encoding/json"
	"fmt"

	"product_radar/internal/model"
)

// EncodeSignal 序列化写入 Stream / Kafka 的信号消息。
func EncodeSignal(u model.SignalUpdate) ([]byte, error) {
	return json.Marshal(u)
}

// DecodeSignal 解析并校验消息，脏消息返回 model.ErrInvalidSignal。
func DecodeSignal(b []byte) (model.SignalUpdate, error) {
	var u model.SignalUpdate
	if err := json.Unmarshal(b, &u); err != nil {
		return model.SignalUpdate{}, fmt.Errorf("%w: %v", model.ErrInvalidSignal, err)
	}
	if err := u.Validate(); err != nil {
		return model.SignalUpdate{}, err
	}
	return u, nil
}
