package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSignal 表示信号更新消息缺少必要字段或载荷与类型不匹配。
var ErrInvalidSignal = errors.New("invalid signal update")

// SignalKind 标识一次更新所携带的信号类别。
type SignalKind string

const (
	SignalFacebookAds    SignalKind = "facebook_ads"
	SignalTikTokMentions SignalKind = "tiktok_mentions"
	SignalTrend          SignalKind = "trend"
	SignalSuppliers      SignalKind = "suppliers"
	SignalSaturation     SignalKind = "saturation"
	SignalPrice          SignalKind = "price"
)

// SignalUpdate 是爬虫投递的一次信号变更，既用于 HTTP 入口，也是 Redis Stream / Kafka 的消息体。
// ObservedAt 为爬虫观测时刻；同一商品同一类别下只采纳更新的观测。
type SignalUpdate struct {
	RequestID  string     `json:"request_id"`
	ProductID  string     `json:"product_id" validate:"required,max=64"`
	Kind       SignalKind `json:"kind" validate:"required,oneof=facebook_ads tiktok_mentions trend suppliers saturation price"`
	ObservedAt time.Time  `json:"observed_at"`
	Source     string     `json:"source,omitempty" validate:"max=128"`
	// Append=true 时广告/提及追加到已有列表，否则整体替换。
	Append bool `json:"append,omitempty"`

	FacebookAds    []FacebookAd       `json:"facebook_ads,omitempty"`
	TikTokMentions []TikTokMention    `json:"tiktok_mentions,omitempty"`
	Trend          *TrendData         `json:"trend,omitempty"`
	SupplierPrices map[string]float64 `json:"supplier_prices,omitempty"`
	SupplierLinks  map[string]string  `json:"supplier_links,omitempty"`
	Saturation     *SaturationSignal  `json:"saturation,omitempty"`
	Price          *float64           `json:"price,omitempty" validate:"omitempty,gte=0"`
	ComparePrice   *float64           `json:"compare_price,omitempty" validate:"omitempty,gte=0"`
}

// Validate 做类别与载荷的一致性校验，防止消费者处理脏消息。
func (u SignalUpdate) Validate() error {
	if u.ProductID == "" {
		return fmt.Errorf("%w: product_id is required", ErrInvalidSignal)
	}
	switch u.Kind {
	case SignalFacebookAds:
		if u.FacebookAds == nil {
			return fmt.Errorf("%w: facebook_ads payload is required", ErrInvalidSignal)
		}
	case SignalTikTokMentions:
		if u.TikTokMentions == nil {
			return fmt.Errorf("%w: tiktok_mentions payload is required", ErrInvalidSignal)
		}
	case SignalTrend:
		if u.Trend == nil {
			return fmt.Errorf("%w: trend payload is required", ErrInvalidSignal)
		}
	case SignalSuppliers:
		if u.SupplierPrices == nil && u.SupplierLinks == nil {
			return fmt.Errorf("%w: supplier_prices or supplier_links is required", ErrInvalidSignal)
		}
	case SignalSaturation:
		if u.Saturation == nil {
			return fmt.Errorf("%w: saturation payload is required", ErrInvalidSignal)
		}
	case SignalPrice:
		if u.Price == nil {
			return fmt.Errorf("%w: price is required", ErrInvalidSignal)
		}
		if *u.Price < 0 {
			return fmt.Errorf("%w: price must be >= 0", ErrInvalidSignal)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSignal, u.Kind)
	}
	return nil
}
