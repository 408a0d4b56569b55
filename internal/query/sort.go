package query

import (
	"cmp"
	"math"
	"slices"
	"strings"

	"product_radar/internal/model"
)

// SortKey 排序字段。
type SortKey string

const (
	SortScore     SortKey = "score"
	SortPrice     SortKey = "price"
	SortPriceHigh SortKey = "price_high"
	SortTrend     SortKey = "trend"
	SortNewest    SortKey = "newest"
	SortName      SortKey = "name"
)

// SortOrder 覆盖排序主键的默认方向；OrderDefault 使用各字段自然方向。
type SortOrder int

const (
	OrderDefault SortOrder = iota
	OrderAsc
	OrderDesc
)

// ParseSortOrder 支持 asc/desc 以及原有的 1/-1；其他值回落到默认方向。
func ParseSortOrder(s string) SortOrder {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asc", "1":
		return OrderAsc
	case "desc", "-1":
		return OrderDesc
	default:
		return OrderDefault
	}
}

// Comparator 返回排序比较函数；未知字段返回 ok=false。
// 主键相同的商品按 id 升序，保证严格弱序与结果稳定。
func Comparator(key SortKey, order SortOrder) (func(a, b *model.Product) int, bool) {
	var primary func(a, b *model.Product) int
	desc := false

	switch key {
	case SortScore:
		primary = func(a, b *model.Product) int { return cmp.Compare(finite(a.Score), finite(b.Score)) }
		desc = true
	case SortPrice:
		primary = func(a, b *model.Product) int { return cmp.Compare(finite(a.Price), finite(b.Price)) }
	case SortPriceHigh:
		primary = func(a, b *model.Product) int { return cmp.Compare(finite(a.Price), finite(b.Price)) }
		desc = true
	case SortTrend:
		primary = func(a, b *model.Product) int { return cmp.Compare(finite(a.TrendScore()), finite(b.TrendScore())) }
		desc = true
	case SortNewest:
		// 零值时间即"最早"，天然排在最后
		primary = func(a, b *model.Product) int { return a.CreatedAt.Compare(b.CreatedAt) }
		desc = true
	case SortName:
		primary = func(a, b *model.Product) int { return strings.Compare(a.Title, b.Title) }
	default:
		return nil, false
	}

	switch order {
	case OrderAsc:
		desc = false
	case OrderDesc:
		desc = true
	}

	return func(a, b *model.Product) int {
		c := primary(a, b)
		if desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	}, true
}

// Sort 返回排序后的副本；未知字段原样返回（同样是副本）。
func Sort(products []*model.Product, key SortKey, order SortOrder) []*model.Product {
	out := slices.Clone(products)
	if cmpFn, ok := Comparator(key, order); ok {
		slices.SortStableFunc(out, cmpFn)
	}
	return out
}

func finite(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return x
}
