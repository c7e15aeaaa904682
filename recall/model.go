package recall

import (
	"context"

	"github.com/rushteam/animerec/core"
)

// Recommender 是回归模型的推荐接口，model.DualSource 实现了它。
type Recommender interface {
	// Available 至少有一个模型已加载
	Available() bool
	GetRecommendations(ctx context.Context, userID int64, limit int, excludeRated bool) ([]core.Scored, error)
}

// ModelRecall 把回归模型包装成打分源。模型未加载时返回 MODEL_UNAVAILABLE。
type ModelRecall struct {
	Model Recommender

	// IncludeRated 为 true 时不排除用户已评分的条目
	IncludeRated bool
}

func (r *ModelRecall) Name() string { return "recall.model" }

// Available 报告模型是否可用，混合策略据此决定是否纳入模型分。
func (r *ModelRecall) Available() bool {
	return r.Model != nil && r.Model.Available()
}

func (r *ModelRecall) Recall(ctx context.Context, userID int64, limit int) ([]core.Scored, error) {
	if !r.Available() {
		return nil, core.NewModelUnavailable("model recall: no model loaded")
	}
	return r.Model.GetRecommendations(ctx, userID, limit, !r.IncludeRated)
}
