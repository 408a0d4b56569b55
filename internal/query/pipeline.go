package query

import (
	"cmp"
	"slices"
	"strings"

	"product_radar/internal/model"
)

// Result 一次发现查询的结果：当前页、过滤后总数以及过滤集（分页前）的统计。
type Result struct {
	Items []*model.Product
	Total int
	Page  int
	Limit int
	Stats Stats
}

// Run 过滤 → 排序 → 统计（分页前）→ 分页。输入视为只读快照。
func Run(products []*model.Product, p Params) Result {
	filtered := Filter(BuildPredicate(p.Criteria), products)
	sorted := Sort(filtered, p.SortBy, p.SortOrder)

	page, limit := p.Page, p.Limit
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}

	return Result{
		Items: Paginate(sorted, page, limit),
		Total: len(sorted),
		Page:  page,
		Limit: limit,
		Stats: Aggregate(filtered),
	}
}

// Paginate 返回第 page 页（从 1 开始）；越界返回空切片。
func Paginate(products []*model.Product, page, limit int) []*model.Product {
	if page < 1 || limit < 1 {
		return []*model.Product{}
	}
	// 先按页数判断越界，(page-1)*limit 在 page 很大时会溢出
	pages := len(products) / limit
	if len(products)%limit != 0 {
		pages++
	}
	if page > pages {
		return []*model.Product{}
	}
	start := (page - 1) * limit
	end := start + min(limit, len(products)-start)
	return products[start:end]
}

// Similar 同类目或有共同标签的商品，按（类目相同，标签重合数）降序，之后按 id。
func Similar(target *model.Product, products []*model.Product, limit int) []*model.Product {
	type scored struct {
		p        *model.Product
		sameCat  bool
		overlaps int
	}
	var hits []scored
	for _, p := range products {
		if p == nil || p.ID == target.ID {
			continue
		}
		overlap := 0
		for _, t := range p.Tags {
			if target.HasTag(t) {
				overlap++
			}
		}
		same := p.Category != "" && p.Category == target.Category
		if same || overlap > 0 {
			hits = append(hits, scored{p: p, sameCat: same, overlaps: overlap})
		}
	}

	slices.SortFunc(hits, func(a, b scored) int {
		if a.sameCat != b.sameCat {
			if a.sameCat {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(b.overlaps, a.overlaps); c != 0 {
			return c
		}
		return strings.Compare(a.p.ID, b.p.ID)
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]*model.Product, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.p)
	}
	return out
}
