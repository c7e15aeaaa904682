package config

import (
	"context"
	"fmt"

	"github.com/rushteam/animerec/core"
	"github.com/rushteam/animerec/filter"
	"github.com/rushteam/animerec/model"
	"github.com/rushteam/animerec/store"
)

func init() {
	RegisterStore("memory", func(ctx context.Context, cfg *Config) (core.Store, error) {
		return store.NewMemoryStore(), nil
	})
	RegisterStore("redis", func(ctx context.Context, cfg *Config) (core.Store, error) {
		return store.NewRedisStore(ctx, store.RedisOptions{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
	})
	RegisterBlobStore("file", func(cfg *Config) (core.BlobStore, func() error, error) {
		return store.NewFileBlobStore(cfg.Models.Dir), nil, nil
	})
	RegisterBlobStore("badger", func(cfg *Config) (core.BlobStore, func() error, error) {
		s, err := store.OpenBadgerBlobStore(cfg.Models.Dir)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	})
}

// OpenStore 按 cache.backend 构建缓存后端。
func OpenStore(ctx context.Context, cfg *Config) (core.Store, error) {
	buildersMu.RLock()
	b, ok := storeBuilders[cfg.Cache.Backend]
	buildersMu.RUnlock()
	if !ok {
		return nil, core.NewConfigurationError(core.ModuleConfig,
			fmt.Sprintf("unknown cache backend %q (supported: %v)", cfg.Cache.Backend, StoreBackends()))
	}
	s, err := b(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s cache: %w", cfg.Cache.Backend, err)
	}
	return s, nil
}

// OpenBlobStore 按 models.backend 构建模型存储；返回的 close 总是非 nil。
func OpenBlobStore(cfg *Config) (core.BlobStore, func() error, error) {
	buildersMu.RLock()
	b, ok := blobBuilders[cfg.Models.Backend]
	buildersMu.RUnlock()
	if !ok {
		return nil, nil, core.NewConfigurationError(core.ModuleConfig,
			fmt.Sprintf("unknown model backend %q (supported: %v)", cfg.Models.Backend, BlobBackends()))
	}
	blobs, closeFn, err := b(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s model store: %w", cfg.Models.Backend, err)
	}
	if closeFn == nil {
		closeFn = func() error { return nil }
	}
	return blobs, closeFn, nil
}

// CatalogFilters 按 filter 配置构建候选过滤器；表达式非法时返回 CONFIGURATION_ERROR。
func CatalogFilters(cfg *Config) ([]filter.Filter, error) {
	var out []filter.Filter
	if cfg.Filter.Expr != "" {
		f, err := filter.NewExprFilter(cfg.Filter.Expr)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if len(cfg.Filter.Blacklist) > 0 {
		out = append(out, filter.NewBlacklistFilter(cfg.Filter.Blacklist))
	}
	return out, nil
}

// GBDTParams 转换为模型参数。
func (c GBDTConfig) GBDTParams() model.GBDTParams {
	return model.GBDTParams{
		NEstimators:     c.NEstimators,
		LearningRate:    c.LearningRate,
		MaxDepth:        c.MaxDepth,
		MinSamplesSplit: c.MinSamplesSplit,
		MinSamplesLeaf:  c.MinSamplesLeaf,
	}
}
