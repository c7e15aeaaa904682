package filter

import (
	"context"

	"github.com/rushteam/animerec/core"
)

// Filter 是候选过滤器的抽象接口，用于判断一个目录条目是否应该被过滤掉。
// 返回 true 表示应该过滤（移除），false 表示保留。
type Filter interface {
	// Name 返回过滤器名称
	Name() string

	// ShouldFilter 判断 item 是否应该被过滤
	ShouldFilter(ctx context.Context, item core.CatalogItem) (bool, error)
}

// Chain 把多个过滤器组合成 core.ItemFilter，交给各打分源限制候选集。
// 任何一个过滤器返回 true，该条目就被移除；过滤器出错时不中断，按保留处理。
// 没有过滤器时返回 nil（不过滤）。
func Chain(ctx context.Context, filters ...Filter) core.ItemFilter {
	active := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			active = append(active, f)
		}
	}
	if len(active) == 0 {
		return nil
	}
	return func(item core.CatalogItem) bool {
		for _, f := range active {
			ok, err := f.ShouldFilter(ctx, item)
			if err != nil {
				continue
			}
			if ok {
				return false
			}
		}
		return true
	}
}
