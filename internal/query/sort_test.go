package query

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"product_radar/internal/model"
)

func TestSort_Keys(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	products := []*model.Product{
		{ID: "c", Title: "Charger", Price: 20, Score: 50, CreatedAt: t1, TrendData: &model.TrendData{TrendScore: model.Float64(10)}},
		{ID: "a", Title: "Bottle", Price: 45, Score: 70, CreatedAt: t2},
		{ID: "b", Title: "Apron", Price: 20, Score: 70, TrendData: &model.TrendData{TrendScore: model.Float64(90)}},
	}

	tests := []struct {
		key   SortKey
		order SortOrder
		want  []string
	}{
		{SortScore, OrderDefault, []string{"a", "b", "c"}},
		{SortScore, OrderAsc, []string{"c", "a", "b"}},
		{SortPrice, OrderDefault, []string{"b", "c", "a"}},
		{SortPriceHigh, OrderDefault, []string{"a", "b", "c"}},
		{SortTrend, OrderDefault, []string{"b", "c", "a"}},
		{SortNewest, OrderDefault, []string{"a", "c", "b"}},
		{SortName, OrderDefault, []string{"b", "a", "c"}},
		{SortName, OrderDesc, []string{"c", "a", "b"}},
		{"popularity", OrderDefault, []string{"c", "a", "b"}},
		{"", OrderDesc, []string{"c", "a", "b"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.key), func(t *testing.T) {
			assert.Equal(t, tt.want, ids(Sort(products, tt.key, tt.order)))
		})
	}

	// 原切片不被修改
	assert.Equal(t, []string{"c", "a", "b"}, ids(products))
}

func TestSort_NewestMissingDateLast(t *testing.T) {
	products := []*model.Product{
		{ID: "undated"},
		{ID: "dated", CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	assert.Equal(t, []string{"dated", "undated"}, ids(Sort(products, SortNewest, OrderDefault)))
}

func TestSort_ScoreStable(t *testing.T) {
	products := []*model.Product{
		{ID: "z", Score: 10}, {ID: "m", Score: 90}, {ID: "a", Score: 10}, {ID: "k", Score: 90}, {ID: "n", Score: math.NaN()},
	}
	once := Sort(products, SortScore, OrderDefault)
	twice := Sort(once, SortScore, OrderDefault)
	assert.Equal(t, []string{"k", "m", "a", "z", "n"}, ids(once))
	assert.Equal(t, ids(once), ids(twice))
}

func TestComparator_StrictWeakOrdering(t *testing.T) {
	products := []*model.Product{
		{ID: "1"}, {ID: "2", Title: "b", Score: math.NaN()},
		{ID: "3", Title: "a", TrendData: &model.TrendData{}},
		{ID: "4", Title: "a", Price: 5, CreatedAt: time.Unix(100, 0)},
	}
	for _, key := range []SortKey{SortScore, SortPrice, SortPriceHigh, SortTrend, SortNewest, SortName} {
		cmpFn, ok := Comparator(key, OrderDefault)
		assert.True(t, ok)
		for _, a := range products {
			assert.Equal(t, 0, cmpFn(a, a), "irreflexive for %s", key)
			for _, b := range products {
				if a == b {
					continue
				}
				ab, ba := cmpFn(a, b), cmpFn(b, a)
				assert.NotEqual(t, 0, ab, "distinct ids never tie for %s", key)
				assert.Equal(t, -sign(ab), sign(ba), "antisymmetric for %s", key)
				for _, c := range products {
					if ab < 0 && cmpFn(b, c) < 0 {
						assert.Less(t, cmpFn(a, c), 0, "transitive for %s", key)
					}
				}
			}
		}
	}
}

func TestParseSortOrder(t *testing.T) {
	assert.Equal(t, OrderAsc, ParseSortOrder("asc"))
	assert.Equal(t, OrderAsc, ParseSortOrder("1"))
	assert.Equal(t, OrderDesc, ParseSortOrder("DESC"))
	assert.Equal(t, OrderDesc, ParseSortOrder("-1"))
	assert.Equal(t, OrderDefault, ParseSortOrder("sideways"))
}

func sign(x int) int {
	switch {
	case x < 0:
		return -1
	case x > 0:
		return 1
	}
	return 0
}
