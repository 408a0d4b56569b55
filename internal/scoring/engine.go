package scoring

import (
	"errors"
	"fmt"
	"math"

	"product_radar/internal/model"
)

// ErrInconsistentWeights 权重之和不为 1 或存在非法权重，启动即失败。
var ErrInconsistentWeights = errors.New("inconsistent scoring weights")

const weightTolerance = 1e-9

// HighScoreThreshold 高分商品阈值（统计与分布共用）。
const HighScoreThreshold = 80

// Weights 五项子分的权重。
type Weights struct {
	Ads        float64 `json:"facebook_engagement"`
	Mentions   float64 `json:"tiktok_viral_ratio"`
	Margin     float64 `json:"profit_margin"`
	Trend      float64 `json:"google_trends"`
	Saturation float64 `json:"store_saturation"`
}

// DefaultWeights 30/25/20/10/15。
func DefaultWeights() Weights {
	return Weights{
		Ads:        0.30,
		Mentions:   0.25,
		Margin:     0.20,
		Trend:      0.10,
		Saturation: 0.15,
	}
}

// Sum 返回权重和。
func (w Weights) Sum() float64 {
	return w.Ads + w.Mentions + w.Margin + w.Trend + w.Saturation
}

// Validate 校验每项权重非负且有限、总和为 1。
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"ads": w.Ads, "mentions": w.Mentions, "margin": w.Margin,
		"trend": w.Trend, "saturation": w.Saturation,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s weight %v", ErrInconsistentWeights, name, v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: weights sum to %v, want 1", ErrInconsistentWeights, sum)
	}
	return nil
}

// Engine 组合 Normalizer 与权重，计算 Winning Score。纯函数，无可变状态。
type Engine struct {
	weights    Weights
	normalizer Normalizer
}

// NewEngine 构造评分引擎；权重不一致时返回 ErrInconsistentWeights。
func NewEngine(w Weights, cfg NormalizerConfig) (*Engine, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Engine{weights: w, normalizer: NewNormalizer(cfg)}, nil
}

// MustDefaultEngine 使用默认参数构造引擎，默认权重恒合法。
func MustDefaultEngine() *Engine {
	e, err := NewEngine(DefaultWeights(), DefaultNormalizerConfig())
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Engine) Weights() Weights { return e.weights }

// Normalize 计算子分。
func (e *Engine) Normalize(p *model.Product) SubScores {
	return e.normalizer.Normalize(p)
}

// Compose 100 × Σ weight·subscore（饱和度取 1-s），截断到 [0,100] 并保留一位小数。
func (e *Engine) Compose(s SubScores) float64 {
	raw := e.weights.Ads*clamp01(s.Ads) +
		e.weights.Mentions*clamp01(s.Mentions) +
		e.weights.Margin*clamp01(s.Margin) +
		e.weights.Trend*clamp01(s.Trend) +
		e.weights.Saturation*(1-clamp01(s.Saturation))
	return round1(clampScore(100 * raw))
}

// Score 对商品当前状态求分。
func (e *Engine) Score(p *model.Product) float64 {
	return e.Compose(e.Normalize(p))
}

// Apply 重新计算并写回 p.Score，返回新分数。
func (e *Engine) Apply(p *model.Product) float64 {
	p.Score = e.Score(p)
	return p.Score
}

// Breakdown 评分明细：子分、各项加权贡献（0-100 量纲）与改进建议。
type Breakdown struct {
	Total           float64            `json:"total_score"`
	SubScores       SubScores          `json:"breakdown"`
	Contributions   map[string]float64 `json:"contributions"`
	Weights         Weights            `json:"weights"`
	Recommendations []string           `json:"recommendations"`
}

// Breakdown 生成评分明细。
func (e *Engine) Breakdown(p *model.Product) Breakdown {
	s := e.Normalize(p)
	return Breakdown{
		Total:     e.Compose(s),
		SubScores: s,
		Contributions: map[string]float64{
			"facebook_engagement": round1(100 * e.weights.Ads * clamp01(s.Ads)),
			"tiktok_viral_ratio":  round1(100 * e.weights.Mentions * clamp01(s.Mentions)),
			"profit_margin":       round1(100 * e.weights.Margin * clamp01(s.Margin)),
			"google_trends":       round1(100 * e.weights.Trend * clamp01(s.Trend)),
			"store_saturation":    round1(100 * e.weights.Saturation * (1 - clamp01(s.Saturation))),
		},
		Weights:         e.weights,
		Recommendations: Recommendations(s),
	}
}

// Recommendations 针对薄弱子分给出改进建议。
func Recommendations(s SubScores) []string {
	out := []string{}
	if s.Ads < 0.3 {
		out = append(out, "Low Facebook engagement - consider improving ad creative")
	}
	if s.Mentions < 0.25 {
		out = append(out, "Low TikTok virality - focus on trending hashtags and content")
	}
	if s.Margin < 0.4 {
		out = append(out, "Low profit margin - negotiate better supplier prices")
	}
	if s.Trend < 0.3 {
		out = append(out, "Low search interest - consider different keywords")
	}
	if s.Saturation > 0.6 {
		out = append(out, "High market saturation - consider niche differentiation")
	}
	return out
}

func clampScore(x float64) float64 {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 100:
		return 100
	default:
		return x
	}
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
