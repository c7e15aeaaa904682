package recall

import (
	"context"

	"github.com/rushteam/animerec/core"
)

// Source 表示一个可复用的打分源（CF/内容/模型/热门）。
// 你可以把它理解为“可并发 fan-out 的策略单元”。
//
// 返回的分数都在 [0,1]，按分数降序、ItemID 升序排列，长度不超过 limit。
// 数据不足时返回 INSUFFICIENT_DATA，由调用方决定是否降级。
type Source interface {
	Name() string
	Recall(ctx context.Context, userID int64, limit int) ([]core.Scored, error)
}

// ratedSet 返回用户已评分的条目集合。
func ratedSet(ctx context.Context, store core.InteractionStore, userID int64) (map[int64]struct{}, error) {
	rows, err := store.ListInteractions(ctx, &userID)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]struct{}, len(rows))
	for _, r := range rows {
		out[r.ItemID] = struct{}{}
	}
	return out, nil
}

// allowedSet 返回通过目录过滤器的条目集合；filter 为 nil 时返回 nil（不限制）。
func allowedSet(ctx context.Context, catalog core.CatalogStore, filter core.ItemFilter) (map[int64]struct{}, error) {
	if filter == nil || catalog == nil {
		return nil, nil
	}
	items, err := catalog.ListItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]struct{}, len(items))
	for _, it := range items {
		out[it.ID] = struct{}{}
	}
	return out, nil
}
