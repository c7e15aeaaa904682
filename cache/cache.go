// Package cache 缓存每个 (用户, 策略, 条数) 的推荐结果。
//
// 键格式：
//
//	rec:user:{u}:strat:{s}:limit:{n}   推荐结果
//	rec:user:{u}:keys                  该用户已写入的结果键索引，用于整体失效
//
// 后端可以是任意 core.Store（store.MemoryStore、store.RedisStore）。
package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/rushteam/animerec/core"
)

// DefaultLimit 是预计算与兜底失效时使用的默认条数。
const DefaultLimit = 10

// Entry 是缓存中的一条推荐结果。
type Entry struct {
	UserID    int64             `json:"user_id"`
	Strategy  core.StrategyName `json:"strategy"`
	Limit     int               `json:"limit"`
	Items     []core.Scored     `json:"items"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// RecommendationCache 是推荐结果缓存。
type RecommendationCache struct {
	store  core.Store
	ttl    time.Duration
	logger *zap.Logger

	// indexMu 保护同进程内对键索引的读-改-写
	indexMu sync.Mutex
	now     func() time.Time
}

// Option 配置 RecommendationCache。
type Option func(*RecommendationCache)

// WithTTL 设置过期时间，默认 3600s。
func WithTTL(ttl time.Duration) Option {
	return func(c *RecommendationCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *RecommendationCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New 创建推荐缓存。
func New(store core.Store, opts ...Option) *RecommendationCache {
	c := &RecommendationCache{
		store:  store,
		ttl:    core.DefaultCacheTTL,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key 返回结果键。
func Key(userID int64, strategy core.StrategyName, limit int) string {
	return fmt.Sprintf("rec:user:%d:strat:%s:limit:%d", userID, strategy, limit)
}

// IndexKey 返回用户的键索引。
func IndexKey(userID int64) string {
	return fmt.Sprintf("rec:user:%d:keys", userID)
}

// Get 读取缓存；不存在、过期或无法解码都视为未命中。
func (c *RecommendationCache) Get(ctx context.Context, userID int64, strategy core.StrategyName, limit int) ([]core.Scored, bool) {
	key := Key(userID, strategy, limit)
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !core.IsStoreNotFound(err) {
			c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.logger.Warn("cache entry undecodable", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !e.ExpiresAt.IsZero() && !c.now().Before(e.ExpiresAt) {
		return nil, false
	}
	return e.Items, true
}

// Put 写入缓存并登记到用户的键索引。
func (c *RecommendationCache) Put(ctx context.Context, userID int64, strategy core.StrategyName, limit int, items []core.Scored) error {
	key := Key(userID, strategy, limit)
	data, err := json.Marshal(Entry{
		UserID:    userID,
		Strategy:  strategy,
		Limit:     limit,
		Items:     items,
		ExpiresAt: c.now().Add(c.ttl),
	})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	ttl := int(c.ttl / time.Second)
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}

	c.indexMu.Lock()
	defer c.indexMu.Unlock()
	keys, err := c.readIndex(ctx, userID)
	if err != nil {
		return err
	}
	if slices.Contains(keys, key) {
		return nil
	}
	keys = append(keys, key)
	idx, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("encode cache index: %w", err)
	}
	if err := c.store.Set(ctx, IndexKey(userID), idx, ttl); err != nil {
		return fmt.Errorf("cache set index: %w", err)
	}
	return nil
}

// Invalidate 删除用户的全部缓存结果和键索引。
// 索引丢失时也会删除各策略默认条数的键。
func (c *RecommendationCache) Invalidate(ctx context.Context, userID int64) error {
	c.indexMu.Lock()
	defer c.indexMu.Unlock()

	keys, err := c.readIndex(ctx, userID)
	if err != nil {
		c.logger.Warn("cache index unreadable", zap.Int64("user_id", userID), zap.Error(err))
	}
	for _, s := range core.AllStrategies() {
		if k := Key(userID, s, DefaultLimit); !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	keys = append(keys, IndexKey(userID))

	var errs []error
	for _, k := range keys {
		if err := c.store.Delete(ctx, k); err != nil && !core.IsStoreNotFound(err) {
			errs = append(errs, fmt.Errorf("delete %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

func (c *RecommendationCache) readIndex(ctx context.Context, userID int64) ([]string, error) {
	data, err := c.store.Get(ctx, IndexKey(userID))
	if core.IsStoreNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get index: %w", err)
	}
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		// 索引损坏时当作空索引，下次 Put 会重建
		return nil, nil
	}
	return keys, nil
}
