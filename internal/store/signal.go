package store

import (
	"context"
	"fmt"
	"time"

	"product_radar/internal/metrics"
	"product_radar/internal/model"
)

// ApplySignal 采纳一次信号更新并重算评分。
//
// 流程：读取快照 → 乱序检查（同类信号 observed_at 不新于已采纳值则返回 ErrStaleSignal）
// → 修改副本 → 重算 → 以 revision 做 compare-and-set 写回。
// CAS 失败说明期间有其他写入，重新读取后重试，最多 retries 次，之后返回 ErrConflict。
func (s *Store) ApplySignal(ctx context.Context, u model.SignalUpdate) (*model.Product, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	observed := u.ObservedAt.UTC()
	if u.ObservedAt.IsZero() {
		observed = s.now().UTC()
	}

	for attempt := 0; attempt <= s.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur, err := s.Get(ctx, u.ProductID)
		if err != nil {
			return nil, err
		}
		if last, ok := cur.SignalVersions[u.Kind]; ok && !observed.After(last) {
			return cur, ErrStaleSignal
		}

		next := cur.Clone()
		mutate(next, u)
		if next.SignalVersions == nil {
			next.SignalVersions = map[model.SignalKind]time.Time{}
		}
		next.SignalVersions[u.Kind] = observed
		next.Revision = cur.Revision + 1
		next.UpdatedAt = s.nextUpdatedAt(cur.UpdatedAt)
		s.engine.Apply(next)

		if s.beforeCAS != nil {
			s.beforeCAS()
		}

		res := s.db.WithContext(ctx).
			Model(&model.Product{ID: cur.ID}).
			Where("revision = ?", cur.Revision).
			Select("*").
			Omit("ID", "CreatedAt").
			Updates(next)
		if res.Error != nil {
			return nil, fmt.Errorf("apply %s signal to %s: %w", u.Kind, u.ProductID, res.Error)
		}
		if res.RowsAffected == 1 {
			s.changed(ctx)
			return next, nil
		}
		metrics.RecordCASRetry()
	}
	return nil, fmt.Errorf("%w: product %s after %d retries", ErrConflict, u.ProductID, s.retries)
}

// nextUpdatedAt 保证 updated_at 严格递增。
func (s *Store) nextUpdatedAt(prev time.Time) time.Time {
	now := s.now().UTC()
	if floor := prev.Add(time.Microsecond); now.Before(floor) {
		return floor.UTC()
	}
	return now
}

func mutate(p *model.Product, u model.SignalUpdate) {
	switch u.Kind {
	case model.SignalFacebookAds:
		if u.Append {
			p.FacebookAds = append(p.FacebookAds, u.FacebookAds...)
		} else {
			p.FacebookAds = append([]model.FacebookAd{}, u.FacebookAds...)
		}
	case model.SignalTikTokMentions:
		if u.Append {
			p.TikTokMentions = append(p.TikTokMentions, u.TikTokMentions...)
		} else {
			p.TikTokMentions = append([]model.TikTokMention{}, u.TikTokMentions...)
		}
	case model.SignalTrend:
		td := *u.Trend
		p.TrendData = &td
	case model.SignalSuppliers:
		if u.SupplierPrices != nil {
			p.SupplierPrices = mergeOrReplace(p.SupplierPrices, u.SupplierPrices, u.Append)
		}
		if u.SupplierLinks != nil {
			p.SupplierLinks = mergeOrReplace(p.SupplierLinks, u.SupplierLinks, u.Append)
		}
	case model.SignalSaturation:
		sat := *u.Saturation
		sat.SimilarStores = append([]string(nil), u.Saturation.SimilarStores...)
		p.Saturation = &sat
	case model.SignalPrice:
		p.Price = *u.Price
		if u.ComparePrice != nil {
			v := *u.ComparePrice
			p.ComparePrice = &v
		}
	}
}

func mergeOrReplace[V any](cur, in map[string]V, merge bool) map[string]V {
	out := make(map[string]V, len(cur)+len(in))
	if merge {
		for k, v := range cur {
			out[k] = v
		}
	}
	for k, v := range in {
		out[k] = v
	}
	return out
}
