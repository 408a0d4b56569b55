package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"product_radar/internal/model"
	"product_radar/internal/scoring"
)

var (
	// ErrNotFound 商品不存在。
	ErrNotFound = errors.New("product not found")
	// ErrStaleSignal 同类信号已有更新（或相同）的观测，本次更新被丢弃。
	ErrStaleSignal = errors.New("stale signal update")
	// ErrConflict CAS 重试耗尽仍未写入。
	ErrConflict = errors.New("concurrent update conflict")
)

const defaultRetries = 5

// Store 基于 gorm 的商品仓储。评分由 engine 在每次写入时重算，Score 只在此处落库。
type Store struct {
	db       *gorm.DB
	engine   *scoring.Engine
	retries  int
	now      func() time.Time
	onChange func(ctx context.Context)

	// 测试钩子：读到快照后、CAS 写入前调用
	beforeCAS func()
}

// Option 配置 Store。
type Option func(*Store)

// WithRetries 设置 CAS 冲突后的最大重试次数。
func WithRetries(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.retries = n
		}
	}
}

// WithClock 替换时钟（测试用）。
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithChangeHook 每次成功写入后回调，用于让统计缓存失效。
func WithChangeHook(fn func(ctx context.Context)) Option {
	return func(s *Store) { s.onChange = fn }
}

// New 创建仓储。
func New(db *gorm.DB, engine *scoring.Engine, opts ...Option) *Store {
	s := &Store{
		db:      db,
		engine:  engine,
		retries: defaultRetries,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate 自动建表。
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&model.Product{})
}

// Engine 返回当前评分引擎。
func (s *Store) Engine() *scoring.Engine { return s.engine }

// Create 新建商品：补 id、标签去重、计算评分、写入 UTC 时间戳。
func (s *Store) Create(ctx context.Context, p *model.Product) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.Tags = model.DedupeTags(p.Tags)
	if p.Currency == "" {
		p.Currency = "USD"
	}
	now := s.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	} else {
		p.CreatedAt = p.CreatedAt.UTC()
	}
	p.UpdatedAt = now
	p.Revision = 1
	s.engine.Apply(p)

	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	s.changed(ctx)
	return nil
}

// Get 按 id 读取。
func (s *Store) Get(ctx context.Context, id string) (*model.Product, error) {
	var p model.Product
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}
	return &p, nil
}

// List 返回全部商品（按 id 排序的只读快照）。
func (s *Store) List(ctx context.Context) ([]*model.Product, error) {
	var list []*model.Product
	if err := s.db.WithContext(ctx).Order("id").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return list, nil
}

// Delete 整条删除。
func (s *Store) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Product{})
	if res.Error != nil {
		return fmt.Errorf("delete product %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	s.changed(ctx)
	return nil
}

// Tags 返回所有商品标签的去重集合（字典序）。
func (s *Store) Tags(ctx context.Context) ([]string, error) {
	var list []model.Product
	if err := s.db.WithContext(ctx).Select("id", "tags").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	seen := map[string]struct{}{}
	for _, p := range list {
		for _, t := range p.Tags {
			if t = strings.TrimSpace(t); t != "" {
				seen[t] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) changed(ctx context.Context) {
	if s.onChange != nil {
		s.onChange(ctx)
	}
}
