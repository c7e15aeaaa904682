package model

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/rushteam/animerec/core"
)

// WeightAdapter 根据单条反馈在线微调融合权重：误差更小的数据源权重 +Step。
// 权重始终保持在 [floor, 1-floor]，与训练时的下限一致。
type WeightAdapter struct {
	source *DualSource
	step   float64
	floor  float64
	logger *zap.Logger
}

type WeightAdapterOption func(*WeightAdapter)

func WithAdapterStep(step float64) WeightAdapterOption {
	return func(a *WeightAdapter) {
		if step > 0 {
			a.step = step
		}
	}
}

func WithAdapterLogger(l *zap.Logger) WeightAdapterOption {
	return func(a *WeightAdapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewWeightAdapter 使用 source 的权重下限。
func NewWeightAdapter(source *DualSource, opts ...WeightAdapterOption) *WeightAdapter {
	a := &WeightAdapter{
		source: source,
		step:   core.DefaultAdapterStep,
		floor:  source.floor,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AdapterResult 描述一次反馈的处理结果。
type AdapterResult struct {
	Changed bool
	Weights BlendWeights
	// Skipped 非空时说明未调整的原因
	Skipped string
}

// UpdateFromFeedback 用真实评分 rating 比较两个数据源的绝对误差并调整权重，调整后立即持久化。
// 任一数据源不可用或误差相等时不做任何事。
func (a *WeightAdapter) UpdateFromFeedback(ctx context.Context, userID, itemID int64, rating float64) (AdapterResult, error) {
	if rating < core.MinRating || rating > core.MaxRating {
		return AdapterResult{}, core.NewConfigurationError(core.ModuleModel, "rating out of range [1,5]")
	}

	p := a.source.PredictDetailed(ctx, userID, itemID)
	if !p.Local.OK || !p.External.OK {
		reason := p.Local.Reason
		if reason == "" {
			reason = p.External.Reason
		}
		return AdapterResult{Weights: p.Weights, Skipped: reason}, nil
	}

	errLocal := math.Abs(p.Local.Value - rating)
	errExternal := math.Abs(p.External.Value - rating)
	if errLocal == errExternal {
		return AdapterResult{Weights: p.Weights, Skipped: "equal_error"}, nil
	}

	w, changed, err := a.source.updateWeights(ctx, func(cur BlendWeights) (BlendWeights, bool) {
		local := cur.Local
		if errLocal < errExternal {
			local += a.step
		} else {
			local -= a.step
		}
		next := withLocal(local, a.floor)
		return next, math.Abs(next.Local-cur.Local) > weightEpsilon
	})
	if err != nil {
		// 内存权重已生效，只是没有落盘
		return AdapterResult{Changed: changed, Weights: w}, err
	}
	if !changed {
		return AdapterResult{Weights: w, Skipped: "at_bound"}, nil
	}

	a.logger.Debug("blend weights adjusted",
		zap.Int64("user_id", userID),
		zap.Int64("item_id", itemID),
		zap.Float64("local_error", errLocal),
		zap.Float64("external_error", errExternal),
		zap.Float64("local_weight", w.Local),
		zap.Float64("external_weight", w.External),
	)
	return AdapterResult{Changed: true, Weights: w}, nil
}
