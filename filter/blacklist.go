package filter

import (
	"context"

	"github.com/rushteam/animerec/core"
)

// BlacklistFilter 是黑名单过滤器，过滤掉黑名单中的条目（下架、版权问题等）。
type BlacklistFilter struct {
	ids map[int64]struct{}
}

// NewBlacklistFilter 创建一个黑名单过滤器。
func NewBlacklistFilter(itemIDs []int64) *BlacklistFilter {
	ids := make(map[int64]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		ids[id] = struct{}{}
	}
	return &BlacklistFilter{ids: ids}
}

func (f *BlacklistFilter) Name() string {
	return "filter.blacklist"
}

func (f *BlacklistFilter) ShouldFilter(_ context.Context, item core.CatalogItem) (bool, error) {
	_, ok := f.ids[item.ID]
	return ok, nil
}
