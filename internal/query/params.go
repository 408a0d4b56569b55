package query

import (
	"math"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPage  = 1
	DefaultLimit = 50
	MaxLimit     = 100

	DefaultSortKey = SortScore
)

// Params 发现接口的全部查询参数（大小写敏感，均可选）。
type Params struct {
	Criteria  Criteria
	SortBy    SortKey
	SortOrder SortOrder
	Page      int
	Limit     int
}

// ParseParams 从 URL query 解析参数；格式错误的值回落到该参数的默认值，不会使整个查询失败。
func ParseParams(v url.Values) Params {
	p := Params{
		Criteria: Criteria{
			Search:   v.Get("search"),
			Category: strings.TrimSpace(v.Get("category")),
			Store:    strings.TrimSpace(v.Get("store")),
			MinScore: parseFloat(v.Get("min_score")),
			MaxPrice: parseFloat(v.Get("max_price")),
			Tags:     splitTags(v.Get("tags")),
		},
		SortBy:    DefaultSortKey,
		SortOrder: ParseSortOrder(v.Get("sort_order")),
		Page:      parsePositive(v.Get("page"), DefaultPage),
		Limit:     parsePositive(v.Get("limit"), DefaultLimit),
	}
	// 未传 sort_by 按评分排序；传了未知值则原样透传，由 Sort 忽略
	if key := strings.TrimSpace(v.Get("sort_by")); key != "" {
		p.SortBy = SortKey(key)
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

func parseFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return nil
	}
	return &f
}

func parsePositive(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func splitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
