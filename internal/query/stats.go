package query

import (
	"math"
	"slices"

	"github.com/shopspring/decimal"

	"product_radar/internal/model"
	"product_radar/internal/scoring"
)

// Stats 看板汇总。均值以字符串返回（score 一位小数、price 两位小数），空集合为 "0"。
type Stats struct {
	TotalProducts        int                    `json:"totalProducts"`
	HighScoreProducts    int                    `json:"highScoreProducts"`
	AverageScore         string                 `json:"averageScore"`
	AveragePrice         string                 `json:"averagePrice"`
	TotalValue           string                 `json:"totalValue"`
	TotalFacebookAds     int                    `json:"totalFacebookAds"`
	TotalTikTokMentions  int                    `json:"totalTikTokMentions"`
	ScoreDistribution    ScoreDistribution      `json:"scoreDistribution"`
	CategoryDistribution map[model.Category]int `json:"categoryDistribution"`

	// 广告汇总。AverageEngagementRate 按 reach 加权，四位小数；无 reach 时为 "0"
	TotalReach            int64  `json:"totalReach"`
	TotalSpend            string `json:"totalSpend"`
	AverageEngagementRate string `json:"averageEngagementRate"`

	TopProducts []TopProduct `json:"topProducts"`
}

// TopProductsLimit Stats.TopProducts 的条数上限。
const TopProductsLimit = 10

// TopProduct 高分商品摘要。
type TopProduct struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Score    float64        `json:"score"`
	Price    float64        `json:"price"`
	Category model.Category `json:"category"`
}

// ScoreDistribution 分数段分布。
type ScoreDistribution struct {
	Excellent int `json:"excellent"` // >= 80
	Good      int `json:"good"`      // [60, 80)
	Average   int `json:"average"`   // [40, 60)
	Poor      int `json:"poor"`      // < 40
}

// Aggregate 计算汇总统计。所有归约与输入顺序无关（求和使用 decimal，结果精确）。
func Aggregate(products []*model.Product) Stats {
	st := Stats{
		AverageScore:         "0",
		AveragePrice:         "0",
		TotalValue:            "0",
		CategoryDistribution:  map[model.Category]int{},
		TotalSpend:            "0",
		AverageEngagementRate: "0",
		TopProducts:           []TopProduct{},
	}

	scoreSum := decimal.Zero
	priceSum := decimal.Zero
	spend := decimal.Zero
	weighted := decimal.Zero
	ranked := make([]*model.Product, 0, len(products))
	for _, p := range products {
		if p == nil {
			continue
		}
		ranked = append(ranked, p)
		st.TotalProducts++
		score := safe(p.Score)
		if score >= scoring.HighScoreThreshold {
			st.HighScoreProducts++
		}
		switch {
		case score >= 80:
			st.ScoreDistribution.Excellent++
		case score >= 60:
			st.ScoreDistribution.Good++
		case score >= 40:
			st.ScoreDistribution.Average++
		default:
			st.ScoreDistribution.Poor++
		}
		if p.Category != "" {
			st.CategoryDistribution[p.Category]++
		}
		st.TotalFacebookAds += p.AdCount()
		st.TotalTikTokMentions += p.MentionCount()

		scoreSum = scoreSum.Add(decimal.NewFromFloat(score))
		priceSum = priceSum.Add(decimal.NewFromFloat(safe(p.Price)))

		for _, ad := range p.FacebookAds {
			if ad.Spend != nil && *ad.Spend > 0 {
				spend = spend.Add(decimal.NewFromFloat(safe(*ad.Spend)))
			}
			if ad.Reach == nil || *ad.Reach <= 0 {
				continue
			}
			st.TotalReach += *ad.Reach
			if ad.EngagementRate != nil && *ad.EngagementRate > 0 {
				weighted = weighted.Add(decimal.NewFromFloat(safe(*ad.EngagementRate)).Mul(decimal.NewFromInt(*ad.Reach)))
			}
		}
	}

	st.TotalSpend = spend.StringFixed(2)
	if st.TotalReach > 0 {
		st.AverageEngagementRate = weighted.Div(decimal.NewFromInt(st.TotalReach)).StringFixed(4)
	}
	st.TopProducts = topProducts(ranked, TopProductsLimit)

	if st.TotalProducts == 0 {
		return st
	}
	n := decimal.NewFromInt(int64(st.TotalProducts))
	st.AverageScore = scoreSum.Div(n).StringFixed(1)
	st.AveragePrice = priceSum.Div(n).StringFixed(2)
	st.TotalValue = priceSum.StringFixed(2)
	return st
}

// topProducts 按评分降序、id 升序取前 n 个。
func topProducts(products []*model.Product, n int) []TopProduct {
	cmpFn, _ := Comparator(SortScore, OrderDefault)
	slices.SortFunc(products, cmpFn)
	out := make([]TopProduct, 0, min(n, len(products)))
	for _, p := range products[:min(n, len(products))] {
		out = append(out, TopProduct{ID: p.ID, Title: p.Title, Score: safe(p.Score), Price: safe(p.Price), Category: p.Category})
	}
	return out
}

// safe decimal.NewFromFloat 不接受 NaN/Inf。
func safe(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}
