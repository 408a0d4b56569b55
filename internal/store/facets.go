package store

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/shopspring/decimal"

	"product_radar/internal/model"
)

// UnknownSource 未填写 source_store 的商品归入此来源。
const UnknownSource = "unknown"

// Summary 一组商品的规模与均值。均值按 score 一位、price 两位小数格式化，空组为 "0"。
type Summary struct {
	Count      int64  `json:"count"`
	AvgScore   string `json:"avg_score"`
	AvgPrice   string `json:"avg_price"`
	TotalValue string `json:"total_value"`
}

// CategorySummary 类目统计。
type CategorySummary struct {
	Category model.Category `json:"category"`
	Summary
}

// SourceSummary 来源店铺统计，Categories 为该来源出现过的类目（字典序）。
type SourceSummary struct {
	Source     string           `json:"source"`
	Categories []model.Category `json:"categories"`
	Summary
}

type groupRow struct {
	Name     string
	Count    int64
	ScoreSum float64
	PriceSum float64
}

type sourceCategoryRow struct {
	Name     string
	Category model.Category
}

// Categories 返回全部合法类目的统计（无商品的类目计 0），按类目枚举顺序。
func (s *Store) Categories(ctx context.Context) ([]CategorySummary, error) {
	rows, err := s.groupBy(ctx, "category")
	if err != nil {
		return nil, fmt.Errorf("summarize categories: %w", err)
	}
	byName := make(map[string]groupRow, len(rows))
	for _, r := range rows {
		byName[r.Name] = r
	}
	out := make([]CategorySummary, 0, len(model.Categories()))
	for _, c := range model.Categories() {
		out = append(out, CategorySummary{Category: c, Summary: summarize(byName[string(c)])})
	}
	return out, nil
}

// Sources 按来源店铺汇总，商品数降序、同数按名称。
func (s *Store) Sources(ctx context.Context) ([]SourceSummary, error) {
	rows, err := s.groupBy(ctx, "source_store")
	if err != nil {
		return nil, fmt.Errorf("summarize sources: %w", err)
	}

	var pairs []sourceCategoryRow
	err = s.db.WithContext(ctx).Model(&model.Product{}).
		Select("source_store AS name, category").
		Group("source_store, category").
		Scan(&pairs).Error
	if err != nil {
		return nil, fmt.Errorf("list source categories: %w", err)
	}
	cats := map[string][]model.Category{}
	for _, p := range pairs {
		name := sourceName(p.Name)
		if p.Category != "" && !slices.Contains(cats[name], p.Category) {
			cats[name] = append(cats[name], p.Category)
		}
	}

	// 空字符串与 "unknown" 合并
	merged := map[string]groupRow{}
	for _, r := range rows {
		name := sourceName(r.Name)
		m := merged[name]
		m.Name = name
		m.Count += r.Count
		m.ScoreSum += r.ScoreSum
		m.PriceSum += r.PriceSum
		merged[name] = m
	}

	out := make([]SourceSummary, 0, len(merged))
	for name, r := range merged {
		c := cats[name]
		slices.Sort(c)
		if c == nil {
			c = []model.Category{}
		}
		out = append(out, SourceSummary{Source: name, Categories: c, Summary: summarize(r)})
	}
	slices.SortFunc(out, func(a, b SourceSummary) int {
		if n := cmp.Compare(b.Count, a.Count); n != 0 {
			return n
		}
		return cmp.Compare(a.Source, b.Source)
	})
	return out, nil
}

func (s *Store) groupBy(ctx context.Context, column string) ([]groupRow, error) {
	var rows []groupRow
	err := s.db.WithContext(ctx).Model(&model.Product{}).
		Select(column + " AS name, COUNT(*) AS count, COALESCE(SUM(score), 0) AS score_sum, COALESCE(SUM(price), 0) AS price_sum").
		Group(column).
		Scan(&rows).Error
	return rows, err
}

func summarize(r groupRow) Summary {
	sm := Summary{Count: r.Count, AvgScore: "0", AvgPrice: "0", TotalValue: "0"}
	if r.Count == 0 {
		return sm
	}
	n := decimal.NewFromInt(r.Count)
	total := decimal.NewFromFloat(finite(r.PriceSum))
	sm.AvgScore = decimal.NewFromFloat(finite(r.ScoreSum)).Div(n).StringFixed(1)
	sm.AvgPrice = total.Div(n).StringFixed(2)
	sm.TotalValue = total.StringFixed(2)
	return sm
}

// finite decimal.NewFromFloat 遇到 NaN/Inf 会 panic。
func finite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}

func sourceName(s string) string {
	if s == "" {
		return UnknownSource
	}
	return s
}
