package scoring

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"product_radar/internal/model"
)

func TestScore_AllSignalsMissing(t *testing.T) {
	e := MustDefaultEngine()

	p := &model.Product{ID: "p1", Title: "Empty"}
	assert.Equal(t, 7.5, e.Score(p))

	s := e.Normalize(p)
	assert.Equal(t, SubScores{Saturation: 0.5}, s)
}

func TestScore_MarginOnly(t *testing.T) {
	e := MustDefaultEngine()

	p := &model.Product{
		ID:             "p2",
		Price:          50,
		SupplierPrices: map[string]float64{"a": 20, "b": 30},
	}
	s := e.Normalize(p)
	assert.InDelta(t, 0.6, s.Margin, 1e-12)
	assert.Equal(t, 19.5, e.Score(p))
}

func TestScore_Bounds(t *testing.T) {
	e := MustDefaultEngine()

	full := &model.Product{
		ID:             "max",
		Price:          100,
		SupplierPrices: map[string]float64{"a": 0.0001},
		TrendData:      &model.TrendData{TrendScore: model.Float64(400)},
		Saturation:     &model.SaturationSignal{StoreCount: model.Int64(0)},
	}
	for i := 0; i < 200; i++ {
		full.FacebookAds = append(full.FacebookAds, model.FacebookAd{EngagementRate: model.Float64(3)})
		full.TikTokMentions = append(full.TikTokMentions, model.TikTokMention{
			Views: model.Int64(10), Likes: model.Int64(10),
		})
	}
	score := e.Score(full)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 100.0)
	assert.InDelta(t, 100, score, 0.1)

	garbage := &model.Product{
		ID:             "garbage",
		Price:          math.NaN(),
		SupplierPrices: map[string]float64{"a": -3, "b": math.Inf(1)},
		FacebookAds: []model.FacebookAd{
			{EngagementRate: model.Float64(math.Inf(1)), Reach: model.Int64(-10), Likes: model.Int64(-5)},
		},
		TikTokMentions: []model.TikTokMention{{Views: model.Int64(-1)}},
		TrendData:      &model.TrendData{TrendScore: model.Float64(-50)},
		Saturation:     &model.SaturationSignal{StoreCount: model.Int64(-7)},
	}
	score = e.Score(garbage)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 100.0)
}

func TestCompose_Monotonic(t *testing.T) {
	e := MustDefaultEngine()
	base := SubScores{Ads: 0.2, Mentions: 0.3, Margin: 0.4, Trend: 0.1, Saturation: 0.5}
	baseScore := e.Compose(base)

	bumps := map[string]func(s SubScores) SubScores{
		"ads":      func(s SubScores) SubScores { s.Ads += 0.3; return s },
		"mentions": func(s SubScores) SubScores { s.Mentions += 0.3; return s },
		"margin":   func(s SubScores) SubScores { s.Margin += 0.3; return s },
		"trend":    func(s SubScores) SubScores { s.Trend += 0.3; return s },
	}
	for name, bump := range bumps {
		t.Run(name, func(t *testing.T) {
			assert.GreaterOrEqual(t, e.Compose(bump(base)), baseScore)
		})
	}

	// 饱和度是惩罚项，降低饱和度不应降低总分
	less := base
	less.Saturation = 0.1
	assert.GreaterOrEqual(t, e.Compose(less), baseScore)
}

func TestCompose_Idempotent(t *testing.T) {
	e := MustDefaultEngine()
	s := SubScores{Ads: 0.123, Mentions: 0.456, Margin: 0.789, Trend: 0.5, Saturation: 0.33}
	first := e.Compose(s)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Compose(s))
	}
}

func TestWeights_Validate(t *testing.T) {
	tests := []struct {
		name    string
		w       Weights
		wantErr bool
	}{
		{name: "default", w: DefaultWeights()},
		{name: "sum too high", w: Weights{Ads: 0.5, Mentions: 0.25, Margin: 0.2, Trend: 0.1, Saturation: 0.15}, wantErr: true},
		{name: "sum too low", w: Weights{Ads: 0.1}, wantErr: true},
		{name: "negative", w: Weights{Ads: 1.2, Mentions: -0.2}, wantErr: true},
		{name: "nan", w: Weights{Ads: math.NaN(), Mentions: 1}, wantErr: true},
		{name: "single", w: Weights{Trend: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.w.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInconsistentWeights))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewEngine_RejectsBadWeights(t *testing.T) {
	_, err := NewEngine(Weights{Ads: 0.9}, DefaultNormalizerConfig())
	assert.ErrorIs(t, err, ErrInconsistentWeights)
}

func TestBreakdown(t *testing.T) {
	e := MustDefaultEngine()
	p := &model.Product{
		ID:             "p3",
		Price:          50,
		SupplierPrices: map[string]float64{"a": 20},
	}
	b := e.Breakdown(p)
	assert.Equal(t, 19.5, b.Total)
	assert.Equal(t, 12.0, b.Contributions["profit_margin"])
	assert.Equal(t, 7.5, b.Contributions["store_saturation"])
	assert.Equal(t, DefaultWeights(), b.Weights)
	assert.Contains(t, b.Recommendations, "Low Facebook engagement - consider improving ad creative")
	assert.NotContains(t, b.Recommendations, "Low profit margin - negotiate better supplier prices")
}
