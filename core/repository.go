package core

import "context"

// ItemFilter 用于 ListItems 过滤目录条目，返回 true 表示保留。nil 表示不过滤。
type ItemFilter func(item CatalogItem) bool

// CatalogStore 是目录存储的领域接口（外部协作方，通常为关系型数据库）。
type CatalogStore interface {
	// GetItem 获取单个条目，不存在时返回 ErrItemNotFound
	GetItem(ctx context.Context, id int64) (CatalogItem, error)

	// ListItems 列出全部条目（按 ID 升序），filter 可为 nil
	ListItems(ctx context.Context, filter ItemFilter) ([]CatalogItem, error)

	// Count 返回条目总数
	Count(ctx context.Context) (int, error)
}

// InteractionStore 是评分存储的领域接口。
type InteractionStore interface {
	// ListInteractions 列出评分；userID 为 nil 时返回全部
	ListInteractions(ctx context.Context, userID *int64) ([]Interaction, error)

	// UpsertInteraction 写入评分，已存在则覆盖
	UpsertInteraction(ctx context.Context, userID, itemID int64, rating float64) error
}

// PreferenceStore 是偏好/浏览记录存储的领域接口。
type PreferenceStore interface {
	ListPreferences(ctx context.Context, userID int64) ([]Preference, error)
	ListBrowsing(ctx context.Context, userID int64) ([]Browse, error)
}

// Repository 聚合三个存储接口，便于一次性注入。
type Repository interface {
	CatalogStore
	InteractionStore
	PreferenceStore
}

// ErrItemNotFound 表示目录中不存在该条目
var ErrItemNotFound = NewDomainError(ModuleStore, ErrorCodeNotFound, "catalog: item not found")
