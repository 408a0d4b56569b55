package model

import (
	"time"
)

// Category 商品类目，取值集合固定。
type Category string

const (
	CategoryGadgets    Category = "gadgets"
	CategoryHome       Category = "home"
	CategoryFashion    Category = "fashion"
	CategoryBeauty     Category = "beauty"
	CategoryFitness    Category = "fitness"
	CategoryPets       Category = "pets"
	CategoryKids       Category = "kids"
	CategoryAutomotive Category = "automotive"
	CategoryGarden     Category = "garden"
	CategorySports     Category = "sports"
)

// Categories 按声明顺序返回全部合法类目。
func Categories() []Category {
	return []Category{
		CategoryGadgets, CategoryHome, CategoryFashion, CategoryBeauty, CategoryFitness,
		CategoryPets, CategoryKids, CategoryAutomotive, CategoryGarden, CategorySports,
	}
}

// Valid 判断类目是否属于固定枚举。
func (c Category) Valid() bool {
	for _, v := range Categories() {
		if c == v {
			return true
		}
	}
	return false
}

// Product 选品候选：描述信息、供应链价格、社媒/趋势信号与派生的 Winning Score。
//
// 信号字段（facebook_ads、tiktok_mentions、trend_data、saturation）来自外部爬虫，
// 以 JSON 列透传存储；评分只读取其中的数值字段。
type Product struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime:false;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false" json:"updated_at"`
	// Revision 每次写入 +1，作为乐观并发控制的比较值。
	Revision uint64 `gorm:"not null;default:0" json:"-"`

	Title       string   `gorm:"size:255;not null" json:"title"`
	Description string   `gorm:"type:text" json:"description"`
	Category    Category `gorm:"size:32;index" json:"category"`
	Tags        []string `gorm:"serializer:json;type:text" json:"tags"`

	Price          float64            `gorm:"not null;default:0" json:"price"`
	ComparePrice   *float64           `json:"compare_price,omitempty"`
	Currency       string             `gorm:"size:8;default:USD" json:"currency"`
	SupplierPrices map[string]float64 `gorm:"serializer:json;type:text" json:"supplier_prices"`

	SourceStore   string            `gorm:"size:255;index" json:"source_store"`
	SourceURL     string            `gorm:"size:512" json:"source_url,omitempty"`
	ImageURL      string            `gorm:"size:512" json:"image_url,omitempty"`
	SupplierLinks map[string]string `gorm:"serializer:json;type:text" json:"supplier_links"`

	FacebookAds    []FacebookAd      `gorm:"serializer:json;type:text" json:"facebook_ads"`
	TikTokMentions []TikTokMention   `gorm:"serializer:json;type:text" json:"tiktok_mentions"`
	TrendData      *TrendData        `gorm:"serializer:json;type:text" json:"trend_data,omitempty"`
	Saturation     *SaturationSignal `gorm:"serializer:json;type:text" json:"saturation,omitempty"`

	// SignalVersions 记录每类信号最近一次被采纳的 observed_at，用于丢弃乱序到达的旧数据。
	SignalVersions map[SignalKind]time.Time `gorm:"serializer:json;type:text" json:"-"`

	// Score 由评分引擎写入，不接受用户直接赋值。
	Score float64 `gorm:"not null;default:0;index" json:"score"`
}

func (Product) TableName() string { return "products" }

// AdCount 返回广告条数。
func (p *Product) AdCount() int { return len(p.FacebookAds) }

// MentionCount 返回 TikTok 提及条数。
func (p *Product) MentionCount() int { return len(p.TikTokMentions) }

// TrendScore 返回趋势分，缺失视为 0。
func (p *Product) TrendScore() float64 {
	if p.TrendData == nil || p.TrendData.TrendScore == nil {
		return 0
	}
	return *p.TrendData.TrendScore
}

// HasTag 判断商品是否带有指定标签。
func (p *Product) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone 深拷贝，保证查询快照与存储对象互不影响。
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	out := *p
	out.Tags = append([]string(nil), p.Tags...)
	if p.ComparePrice != nil {
		v := *p.ComparePrice
		out.ComparePrice = &v
	}
	if p.SupplierPrices != nil {
		out.SupplierPrices = make(map[string]float64, len(p.SupplierPrices))
		for k, v := range p.SupplierPrices {
			out.SupplierPrices[k] = v
		}
	}
	if p.SupplierLinks != nil {
		out.SupplierLinks = make(map[string]string, len(p.SupplierLinks))
		for k, v := range p.SupplierLinks {
			out.SupplierLinks[k] = v
		}
	}
	out.FacebookAds = append([]FacebookAd(nil), p.FacebookAds...)
	out.TikTokMentions = append([]TikTokMention(nil), p.TikTokMentions...)
	if p.TrendData != nil {
		td := *p.TrendData
		out.TrendData = &td
	}
	if p.Saturation != nil {
		s := *p.Saturation
		s.SimilarStores = append([]string(nil), p.Saturation.SimilarStores...)
		out.Saturation = &s
	}
	if p.SignalVersions != nil {
		out.SignalVersions = make(map[SignalKind]time.Time, len(p.SignalVersions))
		for k, v := range p.SignalVersions {
			out.SignalVersions[k] = v
		}
	}
	return &out
}

// DedupeTags 去重并去掉空白标签，保留首次出现的顺序。
func DedupeTags(tags []string) []string {
	if len(tags) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
