package recall

import (
	"context"
	"errors"
	"fmt"

	"github.com/rushteam/animerec/core"
)

// ContentRecall 是基于内容的打分源：从用户最喜欢的条目推出偏好类型，
// 再给同类型、未评分的条目打分。
//
// 信号来源优先用显式偏好（按偏好值降序），不足 MinSignals 条时退到浏览记录
// （按浏览次数降序），两者都不足返回 INSUFFICIENT_DATA。
//
// 打分：0.5·类型匹配 + 0.3·(评分均值/5) + 0.2·热度，评分均值为 0 时按 0.5 计，
// 结果截断到 [0,1]。
type ContentRecall struct {
	Catalog      core.CatalogStore
	Preferences  core.PreferenceStore
	Interactions core.InteractionStore
	Filter       core.ItemFilter

	// MinSignals 偏好/浏览记录的最少条数，默认 3
	MinSignals int

	// TopLiked 用来推断偏好类型的条目数，默认 5
	TopLiked int
}

func (r *ContentRecall) Name() string { return "recall.content" }

func (r *ContentRecall) Recall(ctx context.Context, userID int64, limit int) ([]core.Scored, error) {
	if limit <= 0 {
		return nil, nil
	}
	liked, err := r.likedItems(ctx, userID)
	if err != nil {
		return nil, err
	}

	types := make(map[int64]struct{}, len(liked))
	for _, id := range liked {
		item, err := r.Catalog.GetItem(ctx, id)
		if errors.Is(err, core.ErrItemNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get liked item %d: %w", id, err)
		}
		types[item.TypeID] = struct{}{}
	}
	if len(types) == 0 {
		return nil, nil
	}

	rated, err := ratedSet(ctx, r.Interactions, userID)
	if err != nil {
		return nil, err
	}
	candidates, err := r.Catalog.ListItems(ctx, func(it core.CatalogItem) bool {
		if _, ok := types[it.TypeID]; !ok {
			return false
		}
		if _, ok := rated[it.ID]; ok {
			return false
		}
		return r.Filter == nil || r.Filter(it)
	})
	if err != nil {
		return nil, err
	}

	out := make([]core.Scored, 0, len(candidates))
	for _, it := range candidates {
		out = append(out, core.Scored{ItemID: it.ID, Score: ContentScore(it, true)})
	}
	core.SortScored(out)
	return core.TopN(out, limit), nil
}

// ContentScore 计算单个条目的内容分。
func ContentScore(it core.CatalogItem, typeMatch bool) float64 {
	match := 0.0
	if typeMatch {
		match = 1
	}
	rating := 0.5
	if it.RatingAvg != 0 {
		rating = it.RatingAvg / core.MaxRating
	}
	return core.ClampScore(0.5*match + 0.3*rating + 0.2*it.Popularity)
}

func (r *ContentRecall) likedItems(ctx context.Context, userID int64) ([]int64, error) {
	minSignals := r.MinSignals
	if minSignals <= 0 {
		minSignals = core.DefaultContentMinSignals
	}
	topLiked := r.TopLiked
	if topLiked <= 0 {
		topLiked = core.DefaultContentTopLiked
	}

	prefs, err := r.Preferences.ListPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(prefs) >= minSignals {
		ids := make([]int64, 0, topLiked)
		for _, p := range prefs[:min(topLiked, len(prefs))] {
			ids = append(ids, p.ItemID)
		}
		return ids, nil
	}

	browse, err := r.Preferences.ListBrowsing(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(browse) >= minSignals {
		ids := make([]int64, 0, topLiked)
		for _, b := range browse[:min(topLiked, len(browse))] {
			ids = append(ids, b.ItemID)
		}
		return ids, nil
	}
	return nil, core.NewInsufficientData(core.ModuleRecall,
		fmt.Sprintf("content: user %d has %d preferences and %d browse records", userID, len(prefs), len(browse)))
}
