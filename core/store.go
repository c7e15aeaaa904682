package core

import "context"

// Store 是 KV 存储的领域接口，推荐结果缓存的后端。
//
// 设计原则：
//   - 定义在领域层（core），由基础设施层（store）实现
//   - 任何支持 TTL 的 KV 存储都可以满足（内存、Redis 等）
//
// 实现：
//   - store.MemoryStore 实现此接口
//   - store.RedisStore 实现此接口
type Store interface {
	// Name 返回存储后端名称（用于日志/监控）
	Name() string

	// Get 读取单个 key 的值；不存在时返回 ErrStoreNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Set 写入单个 key-value，ttl 单位为秒，<=0 表示不过期
	Set(ctx context.Context, key string, value []byte, ttl ...int) error

	// Delete 删除单个 key
	Delete(ctx context.Context, key string) error

	// Close 关闭连接/释放资源
	Close() error
}

// BlobStore 是模型持久化接口：模型、编码器、混合权重作为不透明 blob 保存。
//
// 约束：
//   - Save 必须原子可见（先写新文件再 rename，或单事务），读者不会看到半写入的数据
//   - Load 在 name 不存在时返回 ErrBlobNotFound，这是正常的"模型不可用"状态
type BlobStore interface {
	Save(ctx context.Context, name string, blob []byte) error
	Load(ctx context.Context, name string) ([]byte, error)
}

// Store 错误定义（使用统一的 DomainError）
var (
	// ErrStoreNotFound 表示 key 不存在
	ErrStoreNotFound = NewDomainError(ModuleStore, ErrorCodeNotFound, "store: key not found")

	// ErrStoreNotSupported 表示操作不支持
	ErrStoreNotSupported = NewDomainError(ModuleStore, ErrorCodeNotSupported, "store: operation not supported")

	// ErrBlobNotFound 表示模型 blob 不存在
	ErrBlobNotFound = NewDomainError(ModuleStore, ErrorCodeNotFound, "store: blob not found")
)

// IsStoreNotFound 检查错误是否为 key 不存在（使用统一的错误检查）
func IsStoreNotFound(err error) bool {
	domainErr := GetDomainError(err)
	if domainErr != nil && domainErr.Module == ModuleStore {
		return domainErr.Code == ErrorCodeNotFound
	}
	return false
}
