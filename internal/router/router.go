package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"product_radar/internal/ingest"
	"product_radar/internal/metrics"
	"product_radar/internal/middleware"
	"product_radar/internal/model"
	"product_radar/internal/query"
	"product_radar/internal/store"
	"product_radar/internal/validator"
	rediskey "product_radar/pkg/redis"
)

const (
	defaultSimilarLimit = 10
	maxSimilarLimit     = 50
)

// Deps 路由依赖。Redis 与 StatsCache 可为空：不限流、不缓存。
type Deps struct {
	Store      *store.Store
	Sink       ingest.Sink
	Validator  *validator.Validator
	Redis      *rd.Client
	StatsCache *rediskey.StatsCache

	SignalRateLimit  int
	SignalRateWindow time.Duration
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps) {
	if d.Validator == nil {
		d.Validator = validator.New()
	}
	h := &handler{Deps: d}

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	// Products
	api.GET("/products", h.listProducts)
	api.GET("/products/stats", h.productStats)
	api.GET("/products/:id", h.getProduct)
	api.GET("/products/:id/score-breakdown", h.scoreBreakdown)
	api.GET("/products/:id/similar", h.similarProducts)
	api.POST("/products", h.createProduct)
	api.DELETE("/products/:id", h.deleteProduct)
	// Signals
	api.POST("/signals", signalLimiter(d), h.submitSignal)
	// Catalog facets
	api.GET("/categories", h.listCategories)
	api.GET("/tags", h.listTags)
	api.GET("/sources", h.listSources)
}

type handler struct {
	Deps
	// 同一版本同一筛选条件的统计只计算一次
	statsFlight singleflight.Group
}

// listProducts 发现接口：筛选 → 排序 → 分页。
func (h *handler) listProducts(c *gin.Context) {
	params := query.ParseParams(c.Request.URL.Query())
	products, err := h.Store.List(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	res := query.Run(products, params)
	okPage(c, res.Items, res.Total, res.Page, res.Limit)
}

// productStats 返回筛选结果（分页前）的汇总统计，配置 Redis 时按目录版本缓存。
func (h *handler) productStats(c *gin.Context) {
	ctx := c.Request.Context()
	params := query.ParseParams(c.Request.URL.Query())
	fp := fingerprint(params.Criteria)

	var version int64
	cached := h.StatsCache != nil
	if cached {
		v, err := h.StatsCache.Version(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("stats cache version")
			cached = false
		}
		version = v
	}
	if cached {
		if b, found, err := h.StatsCache.Get(ctx, version, fp); err == nil && found {
			var st query.Stats
			if json.Unmarshal(b, &st) == nil {
				metrics.RecordStatsCache(true)
				ok(c, http.StatusOK, st)
				return
			}
		}
		metrics.RecordStatsCache(false)
	}

	v, err, _ := h.statsFlight.Do(fmt.Sprintf("%d:%s", version, fp), func() (any, error) {
		// 结果由所有等待者共享，不能随首个请求取消
		ctx := context.WithoutCancel(ctx)
		products, err := h.Store.List(ctx)
		if err != nil {
			return nil, err
		}
		st := query.Aggregate(query.Filter(query.BuildPredicate(params.Criteria), products))
		if cached {
			if b, err := json.Marshal(st); err == nil {
				if err := h.StatsCache.Put(ctx, version, fp, b); err != nil {
					log.Warn().Err(err).Msg("stats cache put")
				}
			}
		}
		return st, nil
	})
	if err != nil {
		failErr(c, err)
		return
	}
	st := v.(query.Stats)
	ok(c, http.StatusOK, st)
}

func (h *handler) getProduct(c *gin.Context) {
	p, err := h.Store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// scoreBreakdown 子分、加权贡献与改进建议。
func (h *handler) scoreBreakdown(c *gin.Context) {
	p, err := h.Store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	b := h.Store.Engine().Breakdown(p)
	ok(c, http.StatusOK, gin.H{
		"product_id":      p.ID,
		"total_score":     b.Total,
		"breakdown":       b.SubScores,
		"contributions":   b.Contributions,
		"weights":         b.Weights,
		"recommendations": b.Recommendations,
	})
}

func (h *handler) similarProducts(c *gin.Context) {
	ctx := c.Request.Context()
	target, err := h.Store.Get(ctx, c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	limit := defaultSimilarLimit
	if n, err := strconv.Atoi(c.Query("limit")); err == nil && n > 0 {
		limit = min(n, maxSimilarLimit)
	}
	products, err := h.Store.List(ctx)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, query.Similar(target, products, limit))
}

type createProductRequest struct {
	Title          string                  `json:"title" binding:"required,max=255"`
	Description    string                  `json:"description"`
	Category       model.Category          `json:"category" binding:"required"`
	Tags           []string                `json:"tags"`
	Price          float64                 `json:"price" binding:"gte=0"`
	ComparePrice   *float64                `json:"compare_price" binding:"omitempty,gte=0"`
	Currency       string                  `json:"currency" binding:"omitempty,len=3"`
	SupplierPrices map[string]float64      `json:"supplier_prices"`
	SupplierLinks  map[string]string       `json:"supplier_links"`
	SourceStore    string                  `json:"source_store"`
	SourceURL      string                  `json:"source_url" binding:"omitempty,url"`
	ImageURL       string                  `json:"image_url" binding:"omitempty,url"`
	FacebookAds    []model.FacebookAd      `json:"facebook_ads"`
	TikTokMentions []model.TikTokMention   `json:"tiktok_mentions"`
	TrendData      *model.TrendData        `json:"trend_data"`
	Saturation     *model.SaturationSignal `json:"saturation"`
}

// createProduct 新建商品，评分由服务端计算。
func (h *handler) createProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Category.Valid() {
		fail(c, http.StatusBadRequest, fmt.Sprintf("unknown category %q", req.Category))
		return
	}
	p := &model.Product{
		Title:          req.Title,
		Description:    req.Description,
		Category:       req.Category,
		Tags:           req.Tags,
		Price:          req.Price,
		ComparePrice:   req.ComparePrice,
		Currency:       strings.ToUpper(req.Currency),
		SupplierPrices: req.SupplierPrices,
		SupplierLinks:  req.SupplierLinks,
		SourceStore:    req.SourceStore,
		SourceURL:      req.SourceURL,
		ImageURL:       req.ImageURL,
		FacebookAds:    req.FacebookAds,
		TikTokMentions: req.TikTokMentions,
		TrendData:      req.TrendData,
		Saturation:     req.Saturation,
	}
	if err := h.Store.Create(c.Request.Context(), p); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, p)
}

func (h *handler) deleteProduct(c *gin.Context) {
	if err := h.Store.Delete(c.Request.Context(), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, envelope{Success: true, Message: "product deleted"})
}

// submitSignal 爬虫投递信号。direct 模式同步重算并返回新分数，stream 模式只保证已入流。
func (h *handler) submitSignal(c *gin.Context) {
	var u model.SignalUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.Validator.ValidateSignal(u); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if u.RequestID == "" {
		u.RequestID = middleware.GetRequestID(c)
	}
	if u.Source == "" {
		u.Source = c.GetHeader(middleware.CrawlerIDHeader)
	}

	ctx := c.Request.Context()
	if _, err := h.Store.Get(ctx, u.ProductID); err != nil {
		failErr(c, err)
		return
	}
	receipt, err := h.Sink.Submit(ctx, u)
	if err != nil {
		metrics.RecordSignal(string(u.Kind), "failed")
		failErr(c, err)
		return
	}
	metrics.RecordSignal(string(u.Kind), receipt.Status)
	ok(c, http.StatusAccepted, receipt)
}

// signalLimiter 有 Redis 时按集群限流，否则退化为进程内限流。
func signalLimiter(d Deps) gin.HandlerFunc {
	if d.Redis != nil {
		return middleware.RedisRateLimit(d.Redis, d.SignalRateLimit, d.SignalRateWindow)
	}
	return middleware.LocalRateLimit(d.SignalRateLimit, d.SignalRateWindow)
}

func (h *handler) listCategories(c *gin.Context) {
	cats, err := h.Store.Categories(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, cats)
}

// listSources 来源店铺统计。
func (h *handler) listSources(c *gin.Context) {
	sources, err := h.Store.Sources(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, sources)
}

func (h *handler) listTags(c *gin.Context) {
	tags, err := h.Store.Tags(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, tags)
}

// fingerprint 筛选条件的稳定摘要，作为统计缓存 key 的一部分。
func fingerprint(cr query.Criteria) string {
	tags := slices.Clone(cr.Tags)
	slices.Sort(tags)
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\x00%s",
		strings.ToLower(strings.TrimSpace(cr.Search)), cr.Category,
		formatOptional(cr.MinScore), formatOptional(cr.MaxPrice),
		strings.Join(tags, ","), cr.Store)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func formatOptional(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

// BumpCatalog 返回 store 写入回调：目录变化后让统计缓存失效。
func BumpCatalog(cache *rediskey.StatsCache) func(ctx context.Context) {
	return func(ctx context.Context) {
		if cache == nil {
			return
		}
		if err := cache.Bump(ctx); err != nil {
			log.Warn().Err(err).Msg("stats cache bump")
		}
	}
}
