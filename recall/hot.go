package recall

import (
	"context"
	"sort"

	"github.com/rushteam/animerec/core"
)

// Popular 是热门兜底源：按 (热度降序, 评分均值降序, ID 升序) 排序，
// 第 i 名的分数为 max(0.1, 0.9 - 0.03·i)。
// 只要目录非空就一定有结果，是所有策略的最后一级降级。
type Popular struct {
	Catalog core.CatalogStore
	Filter  core.ItemFilter
}

func (r *Popular) Name() string { return "recall.popular" }

func (r *Popular) Recall(ctx context.Context, _ int64, limit int) ([]core.Scored, error) {
	if r.Catalog == nil || limit <= 0 {
		return nil, nil
	}
	items, err := r.Catalog.ListItems(ctx, r.Filter)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Popularity != b.Popularity {
			return a.Popularity > b.Popularity
		}
		if a.RatingAvg != b.RatingAvg {
			return a.RatingAvg > b.RatingAvg
		}
		return a.ID < b.ID
	})
	if len(items) > limit {
		items = items[:limit]
	}

	out := make([]core.Scored, 0, len(items))
	for i, it := range items {
		out = append(out, core.Scored{ItemID: it.ID, Score: PopularScore(i)})
	}
	return out, nil
}

// PopularScore 返回第 rank 名（从 0 开始）的热门分。
func PopularScore(rank int) float64 {
	return max(0.1, 0.9-0.03*float64(rank))
}
