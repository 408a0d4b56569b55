package model

// FacebookAd 单条广告投放表现。数值字段均为可选，缺失与 0 含义不同。
type FacebookAd struct {
	ID             string   `json:"id,omitempty"`
	AdText         string   `json:"ad_text,omitempty"`
	EngagementRate *float64 `json:"engagement_rate,omitempty"`
	Reach          *int64   `json:"reach,omitempty"`
	Impressions    *int64   `json:"impressions,omitempty"`
	Clicks         *int64   `json:"clicks,omitempty"`
	Likes          *int64   `json:"likes,omitempty"`
	Comments       *int64   `json:"comments,omitempty"`
	Shares         *int64   `json:"shares,omitempty"`
	Spend          *float64 `json:"spend,omitempty"`
}

// TikTokMention 单条短视频提及。
type TikTokMention struct {
	ID          string   `json:"id,omitempty"`
	VideoURL    string   `json:"video_url,omitempty"`
	Description string   `json:"description,omitempty"`
	Views       *int64   `json:"views,omitempty"`
	Likes       *int64   `json:"likes,omitempty"`
	Shares      *int64   `json:"shares,omitempty"`
	Comments    *int64   `json:"comments,omitempty"`
	Hashtags    []string `json:"hashtags,omitempty"`
}

// TrendData 搜索趋势，任一字段都可能缺失。
type TrendData struct {
	Keyword      string   `json:"keyword,omitempty"`
	TrendScore   *float64 `json:"trend_score,omitempty"`
	SearchVolume *int64   `json:"search_volume,omitempty"`
	GrowthRate   *float64 `json:"growth_rate,omitempty"`
}

// SaturationSignal 市场饱和度：在售同款的店铺数量。
// StoreCount 缺失时退化为 len(SimilarStores)。
type SaturationSignal struct {
	StoreCount    *int64   `json:"store_count,omitempty"`
	SimilarStores []string `json:"similar_stores,omitempty"`
}

// Int64 / Float64 返回指针，便于构造可选字段。
func Int64(v int64) *int64 { return &v }

func Float64(v float64) *float64 { return &v }
