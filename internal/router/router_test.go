package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"product_radar/internal/ingest"
	"product_radar/internal/middleware"
	"product_radar/internal/model"
	"product_radar/internal/query"
	"product_radar/internal/scoring"
	"product_radar/internal/store"
)

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Total   *int            `json:"total"`
	Page    *int            `json:"page"`
	Limit   *int            `json:"limit"`
}

func setupRouter(t *testing.T, opts ...func(*Deps)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	st := store.New(db, scoring.MustDefaultEngine())
	require.NoError(t, st.Migrate())

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Recovery())
	d := Deps{Store: st, Sink: ingest.NewDirectSink(st)}
	for _, opt := range opts {
		opt(&d)
	}
	Setup(r, d)
	return r
}

func do(t *testing.T, r *gin.Engine, method, path string, body any) (int, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp response
	if path != "/ping" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w.Code, resp
}

type productJSON struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
	Price    float64  `json:"price"`
	Score    float64  `json:"score"`
}

func create(t *testing.T, r *gin.Engine, body map[string]any) productJSON {
	t.Helper()
	code, resp := do(t, r, http.MethodPost, "/api/products", body)
	require.Equal(t, http.StatusCreated, code, resp.Message)
	var p productJSON
	require.NoError(t, json.Unmarshal(resp.Data, &p))
	return p
}

func TestPing(t *testing.T) {
	r := setupRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"msg":"pong"}`, w.Body.String())
}

func TestCreateProduct(t *testing.T) {
	r := setupRouter(t)

	p := create(t, r, map[string]any{
		"title":           "LED Flame Speaker",
		"category":        "gadgets",
		"tags":            []string{"gift", "gift", "gadgets"},
		"price":           50,
		"supplier_prices": map[string]float64{"aliexpress": 20, "cj": 30},
		"score":           99,
	})
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, []string{"gift", "gadgets"}, p.Tags)
	assert.Equal(t, 19.5, p.Score)

	code, resp := do(t, r, http.MethodPost, "/api/products", map[string]any{"title": "x", "category": "spaceships"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "spaceships")

	code, _ = do(t, r, http.MethodPost, "/api/products", map[string]any{"category": "home"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, r, http.MethodPost, "/api/products", map[string]any{"title": "x", "category": "home", "price": -1})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestListProducts(t *testing.T) {
	r := setupRouter(t)
	create(t, r, map[string]any{"title": "Speaker", "category": "gadgets", "price": 30})
	create(t, r, map[string]any{"title": "Charger", "category": "gadgets", "price": 10})
	create(t, r, map[string]any{"title": "Leash", "category": "pets", "price": 20})

	code, resp := do(t, r, http.MethodGet, "/api/products?category=gadgets&sort_by=price&limit=1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Total)
	assert.Equal(t, 2, *resp.Total)
	assert.Equal(t, 1, *resp.Page)
	assert.Equal(t, 1, *resp.Limit)

	var items []productJSON
	require.NoError(t, json.Unmarshal(resp.Data, &items))
	require.Len(t, items, 1)
	assert.Equal(t, "Charger", items[0].Title)

	// 页码越界返回空列表
	code, resp = do(t, r, http.MethodGet, "/api/products?page=9", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, *resp.Total)
	assert.JSONEq(t, `[]`, string(resp.Data))

	// 格式错误的参数回落到默认值
	code, resp = do(t, r, http.MethodGet, "/api/products?min_score=abc&limit=-1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, *resp.Total)
	assert.Equal(t, query.DefaultLimit, *resp.Limit)
}

func TestProductStats(t *testing.T) {
	r := setupRouter(t)

	code, resp := do(t, r, http.MethodGet, "/api/products/stats", nil)
	require.Equal(t, http.StatusOK, code)
	var empty query.Stats
	require.NoError(t, json.Unmarshal(resp.Data, &empty))
	assert.Equal(t, 0, empty.TotalProducts)
	assert.Equal(t, "0", empty.AverageScore)
	assert.Equal(t, "0", empty.AveragePrice)

	create(t, r, map[string]any{"title": "a", "category": "gadgets", "price": 10})
	create(t, r, map[string]any{"title": "b", "category": "pets", "price": 20})

	code, resp = do(t, r, http.MethodGet, "/api/products/stats?category=gadgets", nil)
	require.Equal(t, http.StatusOK, code)
	var st query.Stats
	require.NoError(t, json.Unmarshal(resp.Data, &st))
	assert.Equal(t, 1, st.TotalProducts)
	assert.Equal(t, "7.5", st.AverageScore)
	assert.Equal(t, "10.00", st.AveragePrice)
	assert.Contains(t, string(resp.Data), `"totalProducts":1`)
}

func TestProductStats_DetachedFromCallerCancel(t *testing.T) {
	r := setupRouter(t)
	create(t, r, map[string]any{"title": "a", "category": "gadgets", "price": 10})

	// 合并执行的统计不受发起请求的取消影响
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/products/stats", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	var st query.Stats
	require.NoError(t, json.Unmarshal(resp.Data, &st))
	assert.Equal(t, 1, st.TotalProducts)
}

func TestGetProduct_NotFound(t *testing.T) {
	r := setupRouter(t)
	code, resp := do(t, r, http.MethodGet, "/api/products/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, resp.Success)
	assert.Equal(t, "product not found", resp.Message)
	assert.Empty(t, resp.Data)
}

func TestSubmitSignal(t *testing.T) {
	r := setupRouter(t)
	p := create(t, r, map[string]any{"title": "Bottle", "category": "fitness", "price": 50})
	assert.Equal(t, 7.5, p.Score)

	observed := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	code, resp := do(t, r, http.MethodPost, "/api/signals", map[string]any{
		"product_id":      p.ID,
		"kind":            "suppliers",
		"observed_at":     observed,
		"supplier_prices": map[string]float64{"a": 20},
	})
	require.Equal(t, http.StatusAccepted, code, resp.Message)
	var receipt ingest.Receipt
	require.NoError(t, json.Unmarshal(resp.Data, &receipt))
	assert.Equal(t, ingest.StatusApplied, receipt.Status)
	require.NotNil(t, receipt.Score)
	assert.Equal(t, 19.5, *receipt.Score)
	assert.NotEmpty(t, receipt.RequestID)

	// 乱序到达的旧观测被忽略
	code, resp = do(t, r, http.MethodPost, "/api/signals", map[string]any{
		"product_id":      p.ID,
		"kind":            "suppliers",
		"observed_at":     observed.Add(-time.Hour),
		"supplier_prices": map[string]float64{"a": 49},
	})
	require.Equal(t, http.StatusAccepted, code)
	require.NoError(t, json.Unmarshal(resp.Data, &receipt))
	assert.Equal(t, ingest.StatusStale, receipt.Status)

	code, resp = do(t, r, http.MethodGet, "/api/products/"+p.ID, nil)
	require.Equal(t, http.StatusOK, code)
	var got productJSON
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, 19.5, got.Score)
}

func TestSubmitSignal_Rejects(t *testing.T) {
	r := setupRouter(t)
	p := create(t, r, map[string]any{"title": "Bottle", "category": "fitness"})

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"unknown kind", map[string]any{"product_id": p.ID, "kind": "weather"}, http.StatusBadRequest},
		{"payload mismatch", map[string]any{"product_id": p.ID, "kind": "trend"}, http.StatusBadRequest},
		{"negative price", map[string]any{"product_id": p.ID, "kind": "price", "price": -3}, http.StatusBadRequest},
		{"unknown product", map[string]any{"product_id": "nope", "kind": "price", "price": 3}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := do(t, r, http.MethodPost, "/api/signals", tt.body)
			assert.Equal(t, tt.want, code)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestScoreBreakdown(t *testing.T) {
	r := setupRouter(t)
	p := create(t, r, map[string]any{
		"title": "Bottle", "category": "fitness", "price": 50,
		"supplier_prices": map[string]float64{"a": 20},
	})

	code, resp := do(t, r, http.MethodGet, "/api/products/"+p.ID+"/score-breakdown", nil)
	require.Equal(t, http.StatusOK, code)
	var b struct {
		ProductID       string             `json:"product_id"`
		TotalScore      float64            `json:"total_score"`
		Contributions   map[string]float64 `json:"contributions"`
		Recommendations []string           `json:"recommendations"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &b))
	assert.Equal(t, p.ID, b.ProductID)
	assert.Equal(t, 19.5, b.TotalScore)
	assert.Equal(t, 12.0, b.Contributions["profit_margin"])
	assert.NotEmpty(t, b.Recommendations)
}

func TestSimilarProducts(t *testing.T) {
	r := setupRouter(t)
	target := create(t, r, map[string]any{"title": "Speaker", "category": "gadgets", "tags": []string{"gift"}})
	sameCat := create(t, r, map[string]any{"title": "Charger", "category": "gadgets"})
	sharedTag := create(t, r, map[string]any{"title": "Mug", "category": "home", "tags": []string{"gift"}})
	create(t, r, map[string]any{"title": "Leash", "category": "pets"})

	code, resp := do(t, r, http.MethodGet, "/api/products/"+target.ID+"/similar", nil)
	require.Equal(t, http.StatusOK, code)
	var items []productJSON
	require.NoError(t, json.Unmarshal(resp.Data, &items))
	require.Len(t, items, 2)
	assert.Equal(t, sameCat.ID, items[0].ID)
	assert.Equal(t, sharedTag.ID, items[1].ID)

	code, resp = do(t, r, http.MethodGet, "/api/products/"+target.ID+"/similar?limit=1", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Data, &items))
	assert.Len(t, items, 1)
}

func TestDeleteProduct(t *testing.T) {
	r := setupRouter(t)
	p := create(t, r, map[string]any{"title": "x", "category": "home"})

	code, resp := do(t, r, http.MethodDelete, "/api/products/"+p.ID, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)

	code, _ = do(t, r, http.MethodDelete, "/api/products/"+p.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, r, http.MethodGet, "/api/products/"+p.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestFacets(t *testing.T) {
	r := setupRouter(t)
	create(t, r, map[string]any{"title": "a", "category": "pets", "tags": []string{"dog", "gift"}, "price": 10, "source_store": "pet.shop"})
	create(t, r, map[string]any{"title": "b", "category": "pets", "tags": []string{"cat"}, "price": 20, "source_store": "pet.shop"})
	create(t, r, map[string]any{"title": "c", "category": "home", "price": 5})

	code, resp := do(t, r, http.MethodGet, "/api/tags", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `["cat","dog","gift"]`, string(resp.Data))

	code, resp = do(t, r, http.MethodGet, "/api/categories", nil)
	require.Equal(t, http.StatusOK, code)
	var cats []store.CategorySummary
	require.NoError(t, json.Unmarshal(resp.Data, &cats))
	found := false
	for _, c := range cats {
		if c.Category == "pets" {
			found = true
			assert.Equal(t, int64(2), c.Count)
			assert.Equal(t, "15.00", c.AvgPrice)
			assert.Equal(t, "30.00", c.TotalValue)
		}
	}
	assert.True(t, found)

	code, resp = do(t, r, http.MethodGet, "/api/sources", nil)
	require.Equal(t, http.StatusOK, code)
	var sources []store.SourceSummary
	require.NoError(t, json.Unmarshal(resp.Data, &sources))
	require.Len(t, sources, 2)
	assert.Equal(t, "pet.shop", sources[0].Source)
	assert.Equal(t, int64(2), sources[0].Count)
	assert.Equal(t, "15.00", sources[0].AvgPrice)
	assert.Equal(t, []model.Category{model.CategoryPets}, sources[0].Categories)
	assert.Equal(t, store.UnknownSource, sources[1].Source)
	assert.Contains(t, string(resp.Data), `"avg_score":"7.5"`)
}

func TestListProducts_HugePage(t *testing.T) {
	r := setupRouter(t)
	create(t, r, map[string]any{"title": "Speaker", "category": "gadgets", "price": 30})

	code, resp := do(t, r, http.MethodGet, "/api/products?page=9223372036854775807&limit=2", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, *resp.Total)
	assert.JSONEq(t, `[]`, string(resp.Data))
}

func TestListProducts_DefaultSortByScore(t *testing.T) {
	r := setupRouter(t)
	low := create(t, r, map[string]any{"title": "Low", "category": "gadgets", "price": 50})
	high := create(t, r, map[string]any{"title": "High", "category": "gadgets", "price": 50,
		"supplier_prices": map[string]float64{"a": 10}})
	require.Greater(t, high.Score, low.Score)

	code, resp := do(t, r, http.MethodGet, "/api/products", nil)
	require.Equal(t, http.StatusOK, code)
	var items []productJSON
	require.NoError(t, json.Unmarshal(resp.Data, &items))
	require.Len(t, items, 2)
	assert.Equal(t, "High", items[0].Title)
	assert.Equal(t, "Low", items[1].Title)
}

func TestFingerprint(t *testing.T) {
	a := fingerprint(query.Criteria{Search: "Speaker", Tags: []string{"b", "a"}})
	b := fingerprint(query.Criteria{Search: "speaker ", Tags: []string{"a", "b"}})
	c := fingerprint(query.Criteria{Search: "speaker", Tags: []string{"a"}})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}

func TestSubmitSignal_RateLimited(t *testing.T) {
	r := setupRouter(t, func(d *Deps) {
		d.SignalRateLimit = 1
		d.SignalRateWindow = time.Minute
	})
	p := create(t, r, map[string]any{"title": "x", "category": "home"})

	body := map[string]any{"product_id": p.ID, "kind": "price", "price": 3}
	code, _ := do(t, r, http.MethodPost, "/api/signals", body)
	assert.Equal(t, http.StatusAccepted, code)

	code, resp := do(t, r, http.MethodPost, "/api/signals", body)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.False(t, resp.Success)
}

func TestMetricsEndpoint(t *testing.T) {
	r := setupRouter(t)
	p := create(t, r, map[string]any{"title": "Lamp", "category": "home", "price": 30})
	code, _ := do(t, r, http.MethodPost, "/api/signals", map[string]any{
		"product_id":  p.ID,
		"kind":        "trend",
		"observed_at": time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		"trend":       map[string]any{"keyword": "lamp", "trend_score": 40},
	})
	require.Equal(t, http.StatusAccepted, code)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `product_radar_signals_total{kind="trend",outcome="applied"}`)
}
