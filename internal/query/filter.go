package query

import (
	"strings"

	"product_radar/internal/model"
)

// AllSentinel 表示不过滤该字段。
const AllSentinel = "all"

// Criteria 用户提交的筛选条件；零值表示不过滤。
type Criteria struct {
	Search   string
	Category string
	MinScore *float64
	MaxPrice *float64
	Tags     []string
	Store    string
}

// Predicate 对单个商品求值。
type Predicate func(*model.Product) bool

// BuildPredicate 把筛选条件编译成一个 AND 组合的谓词。
// 未识别的类目按 "all" 处理；命中字段缺失的商品被排除。
func BuildPredicate(c Criteria) Predicate {
	var clauses []Predicate

	if search := strings.ToLower(strings.TrimSpace(c.Search)); search != "" {
		clauses = append(clauses, func(p *model.Product) bool {
			return strings.Contains(strings.ToLower(p.Title), search) ||
				strings.Contains(strings.ToLower(p.Description), search)
		})
	}

	if cat := model.Category(c.Category); c.Category != "" && c.Category != AllSentinel && cat.Valid() {
		clauses = append(clauses, func(p *model.Product) bool {
			return p.Category == cat
		})
	}

	if c.MinScore != nil {
		minScore := *c.MinScore
		clauses = append(clauses, func(p *model.Product) bool {
			return p.Score >= minScore
		})
	}

	if c.MaxPrice != nil {
		maxPrice := *c.MaxPrice
		clauses = append(clauses, func(p *model.Product) bool {
			return p.Price <= maxPrice
		})
	}

	if wanted := tagSet(c.Tags); len(wanted) > 0 {
		clauses = append(clauses, func(p *model.Product) bool {
			for _, t := range p.Tags {
				if _, ok := wanted[t]; ok {
					return true
				}
			}
			return false
		})
	}

	if store := c.Store; store != "" && store != AllSentinel {
		clauses = append(clauses, func(p *model.Product) bool {
			return p.SourceStore == store
		})
	}

	return func(p *model.Product) bool {
		if p == nil {
			return false
		}
		for _, clause := range clauses {
			if !clause(p) {
				return false
			}
		}
		return true
	}
}

// Filter 按输入顺序返回满足谓词的商品，不修改原切片。
func Filter(pred Predicate, products []*model.Product) []*model.Product {
	out := make([]*model.Product, 0, len(products))
	for _, p := range products {
		if pred(p) {
			out = append(out, p)
		}
	}
	return out
}

func tagSet(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}
