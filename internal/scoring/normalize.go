package scoring

import (
	"math"

	"product_radar/internal/model"
)

// NeutralSaturation 饱和度未知时的默认值：既不当成"无人在卖"，也不当成"红海"。
const NeutralSaturation = 0.5

// NormalizerConfig 各信号曲线的参考上限。
type NormalizerConfig struct {
	AdCountCap          float64 // 广告条数达到该值时计数分量为 1
	AdEngagementCap     float64 // 平均互动率达到该值时互动分量为 1
	MentionCountCap     float64
	MentionViralCap     float64 // (likes+shares+comments)/views
	SaturationHalfPoint float64 // 在售店铺数达到该值时饱和度为 0.5
}

// DefaultNormalizerConfig 返回默认曲线参数（原有 2000x / 1000x 线性系数折算为上限）。
func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		AdCountCap:          50,
		AdEngagementCap:     0.05,
		MentionCountCap:     50,
		MentionViralCap:     0.1,
		SaturationHalfPoint: 20,
	}
}

// SubScores 五类信号归一化后的 [0,1] 子分。
// Saturation 是惩罚项：越大越差，合成时取 1-Saturation。
type SubScores struct {
	Ads        float64 `json:"ads"`
	Mentions   float64 `json:"mentions"`
	Margin     float64 `json:"margin"`
	Trend      float64 `json:"trend"`
	Saturation float64 `json:"saturation"`
}

// Normalizer 把原始信号映射为子分。无内部状态，可并发使用。
type Normalizer struct {
	cfg NormalizerConfig
}

func NewNormalizer(cfg NormalizerConfig) Normalizer {
	return Normalizer{cfg: cfg}
}

// Normalize 计算商品的全部子分。
func (n Normalizer) Normalize(p *model.Product) SubScores {
	if p == nil {
		return SubScores{Saturation: NeutralSaturation}
	}
	return SubScores{
		Ads:        n.Ads(p.FacebookAds),
		Mentions:   n.Mentions(p.TikTokMentions),
		Margin:     Margin(p.Price, p.SupplierPrices),
		Trend:      Trend(p.TrendData),
		Saturation: n.Saturation(p.Saturation),
	}
}

// Ads 广告互动子分：条数走对数饱和曲线；若有互动率，与平均互动率各占一半。
func (n Normalizer) Ads(ads []model.FacebookAd) float64 {
	if len(ads) == 0 {
		return 0
	}
	var sum float64
	var known int
	for _, ad := range ads {
		if r, ok := adEngagement(ad); ok {
			sum += r
			known++
		}
	}
	countScore := logCurve(float64(len(ads)), n.cfg.AdCountCap)
	if known == 0 {
		return countScore
	}
	return 0.5*countScore + 0.5*ratioCurve(sum/float64(known), n.cfg.AdEngagementCap)
}

// Mentions 短视频传播子分，与 Ads 同一曲线族。
func (n Normalizer) Mentions(mentions []model.TikTokMention) float64 {
	if len(mentions) == 0 {
		return 0
	}
	var sum float64
	var known int
	for _, m := range mentions {
		if r, ok := viralRatio(m); ok {
			sum += r
			known++
		}
	}
	countScore := logCurve(float64(len(mentions)), n.cfg.MentionCountCap)
	if known == 0 {
		return countScore
	}
	return 0.5*countScore + 0.5*ratioCurve(sum/float64(known), n.cfg.MentionViralCap)
}

// Saturation 由在售店铺数 n 计算 n/(n+half)；数据缺失返回中性值。
func (n Normalizer) Saturation(s *model.SaturationSignal) float64 {
	if s == nil {
		return NeutralSaturation
	}
	var stores float64
	switch {
	case s.StoreCount != nil:
		stores = sanitize(float64(*s.StoreCount))
	case s.SimilarStores != nil:
		stores = float64(len(s.SimilarStores))
	default:
		return NeutralSaturation
	}
	half := n.cfg.SaturationHalfPoint
	if !(half > 0) || math.IsInf(half, 0) {
		half = DefaultNormalizerConfig().SaturationHalfPoint
	}
	return clamp01(stores / (stores + half))
}

// Margin 毛利子分：(price - 最低供货价) / price，负值记 0，超过 1 截断为 1。
// 非正或非有限的供货价视为脏数据被忽略。
func Margin(price float64, supplierPrices map[string]float64) float64 {
	price = sanitize(price)
	if price <= 0 || len(supplierPrices) == 0 {
		return 0
	}
	minCost := math.Inf(1)
	for _, c := range supplierPrices {
		if c > 0 && !math.IsInf(c, 0) && c < minCost {
			minCost = c
		}
	}
	if math.IsInf(minCost, 1) {
		return 0
	}
	return clamp01((price - minCost) / price)
}

// Trend 趋势子分：trend_score / 100。
func Trend(t *model.TrendData) float64 {
	if t == nil || t.TrendScore == nil {
		return 0
	}
	return clamp01(sanitize(*t.TrendScore) / 100)
}

// adEngagement 优先使用爬虫给出的 engagement_rate，否则用 (likes+comments+shares)/reach 推算。
func adEngagement(ad model.FacebookAd) (float64, bool) {
	if ad.EngagementRate != nil {
		r := *ad.EngagementRate
		if r >= 0 && !math.IsNaN(r) && !math.IsInf(r, 0) {
			return r, true
		}
	}
	reach := count(ad.Reach)
	if reach <= 0 || (ad.Likes == nil && ad.Comments == nil && ad.Shares == nil) {
		return 0, false
	}
	return (count(ad.Likes) + count(ad.Comments) + count(ad.Shares)) / reach, true
}

func viralRatio(m model.TikTokMention) (float64, bool) {
	views := count(m.Views)
	if views <= 0 {
		return 0, false
	}
	return (count(m.Likes) + count(m.Shares) + count(m.Comments)) / views, true
}

func count(v *int64) float64 {
	if v == nil || *v < 0 {
		return 0
	}
	return float64(*v)
}

// logCurve min(1, log1p(x)/log1p(limit))，x 增长时渐近 1，单个爆款不会独占满分。
func logCurve(x, limit float64) float64 {
	x = sanitize(x)
	if !(limit > 0) || math.IsInf(limit, 0) {
		return 0
	}
	return clamp01(math.Log1p(x) / math.Log1p(limit))
}

func ratioCurve(r, limit float64) float64 {
	r = sanitize(r)
	if !(limit > 0) || math.IsInf(limit, 0) {
		return 0
	}
	return clamp01(r / limit)
}

// sanitize 负数、NaN、Inf 一律视为 0。
func sanitize(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) || x < 0 {
		return 0
	}
	return x
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}
