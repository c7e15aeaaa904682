package config

import (
	"context"
	"sort"
	"sync"

	"github.com/rushteam/animerec/core"
)

// StoreBuilder 根据配置构建推荐缓存后端。
type StoreBuilder func(ctx context.Context, cfg *Config) (core.Store, error)

// BlobBuilder 根据配置构建模型存储后端，返回的 close 可为 nil。
type BlobBuilder func(cfg *Config) (blobs core.BlobStore, close func() error, err error)

var (
	storeBuilders = make(map[string]StoreBuilder)
	blobBuilders  = make(map[string]BlobBuilder)
	buildersMu    sync.RWMutex
)

// RegisterStore 注册一种缓存后端，Validate 与 OpenStore 据此识别 cache.backend。
// 建议在 init 中调用，例如：func init() { config.RegisterStore("memory", buildMemoryStore) }
func RegisterStore(name string, b StoreBuilder) {
	if name == "" || b == nil {
		return
	}
	buildersMu.Lock()
	defer buildersMu.Unlock()
	storeBuilders[name] = b
}

// RegisterBlobStore 注册一种模型存储后端。
func RegisterBlobStore(name string, b BlobBuilder) {
	if name == "" || b == nil {
		return
	}
	buildersMu.Lock()
	defer buildersMu.Unlock()
	blobBuilders[name] = b
}

// StoreBackends 返回已注册的缓存后端（排序），用于错误提示与校验。
func StoreBackends() []string {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	return sortedNames(storeBuilders)
}

// BlobBackends 返回已注册的模型存储后端（排序）。
func BlobBackends() []string {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	return sortedNames(blobBuilders)
}

func hasStoreBackend(name string) bool {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	_, ok := storeBuilders[name]
	return ok
}

func hasBlobBackend(name string) bool {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	_, ok := blobBuilders[name]
	return ok
}

func sortedNames[T any](m map[string]T) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
