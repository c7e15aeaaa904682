// Package engine 是推荐编排层：按策略调度各打分源、融合、降级与缓存，
// 并承接评分反馈（写入、缓存失效、权重微调）和离线训练。
package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/rushteam/animerec/cache"
	"github.com/rushteam/animerec/core"
	"github.com/rushteam/animerec/metrics"
	"github.com/rushteam/animerec/model"
	"github.com/rushteam/animerec/recall"
)

// HybridWeights 是混合策略的融合权重。有模型时使用 CF/Content/ML 三路，
// 否则使用 CFNoModel/ContentNoModel 两路；每组和为 1。
type HybridWeights struct {
	CF             float64
	Content        float64
	ML             float64
	CFNoModel      float64
	ContentNoModel float64
}

// DefaultHybridWeights 返回 0.4/0.3/0.3 与 0.6/0.4。
func DefaultHybridWeights() HybridWeights {
	return HybridWeights{CF: 0.4, Content: 0.3, ML: 0.3, CFNoModel: 0.6, ContentNoModel: 0.4}
}

func (w HybridWeights) validate() error {
	three := w.CF + w.Content + w.ML
	two := w.CFNoModel + w.ContentNoModel
	if math.Abs(three-1) > 1e-6 || math.Abs(two-1) > 1e-6 {
		return core.NewConfigurationError(core.ModuleEngine,
			fmt.Sprintf("hybrid weights must sum to 1, got %v and %v", three, two))
	}
	for _, v := range []float64{w.CF, w.Content, w.ML, w.CFNoModel, w.ContentNoModel} {
		if v < 0 {
			return core.NewConfigurationError(core.ModuleEngine, "hybrid weights must be non-negative")
		}
	}
	return nil
}

// RecallParams 是各打分源的阈值与故障隔离参数，零值字段使用默认值。
type RecallParams struct {
	CFMinInteractions int
	CFMaxNeighbors    int
	ContentMinSignals int
	// Timeout 是混合策略中每一路的超时
	Timeout          time.Duration
	FailureThreshold uint32
}

// Engine 是推荐引擎。
type Engine struct {
	repo    core.Repository
	model   *model.DualSource
	adapter *model.WeightAdapter
	trainer *model.Trainer
	cache   *cache.RecommendationCache
	metrics *metrics.Metrics
	logger  *zap.Logger

	filter      core.ItemFilter
	hybrid      HybridWeights
	params      RecallParams
	adapterStep float64

	cf         recall.Source
	content    recall.Source
	popular    recall.Source
	// unfiltered 是不经目录过滤的热门，只在过滤后仍为空时兜底
	unfiltered recall.Source
	ml         *recall.ModelRecall
	mlGuard    recall.Source
}

type Option func(*Engine)

// WithModel 接入双源回归模型，启用 ml 策略和混合策略的第三路。
func WithModel(ds *model.DualSource) Option {
	return func(e *Engine) { e.model = ds }
}

// WithTrainer 接入训练任务，Train 完成后会重新加载模型。
func WithTrainer(t *model.Trainer) Option {
	return func(e *Engine) { e.trainer = t }
}

// WithCache 启用推荐结果缓存。
func WithCache(c *cache.RecommendationCache) Option {
	return func(e *Engine) { e.cache = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithCatalogFilter 限制所有打分源的候选条目。
func WithCatalogFilter(f core.ItemFilter) Option {
	return func(e *Engine) { e.filter = f }
}

func WithHybridWeights(w HybridWeights) Option {
	return func(e *Engine) { e.hybrid = w }
}

func WithRecallParams(p RecallParams) Option {
	return func(e *Engine) { e.params = p }
}

// WithAdapterStep 设置权重微调步长，默认 0.01。
func WithAdapterStep(step float64) Option {
	return func(e *Engine) { e.adapterStep = step }
}

// New 创建推荐引擎；融合权重非法时返回 CONFIGURATION_ERROR。
func New(repo core.Repository, opts ...Option) (*Engine, error) {
	e := &Engine{
		repo:        repo,
		logger:      zap.NewNop(),
		hybrid:      DefaultHybridWeights(),
		adapterStep: core.DefaultAdapterStep,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.hybrid.validate(); err != nil {
		return nil, err
	}

	guardOpts := []recall.GuardOption{
		recall.WithGuardLogger(e.logger),
		recall.WithFallbackHook(e.metrics.Fallback),
	}
	if e.params.FailureThreshold > 0 {
		guardOpts = append(guardOpts, recall.WithFailureThreshold(e.params.FailureThreshold))
	}

	popular := &recall.Popular{Catalog: repo, Filter: e.filter}
	content := &recall.ContentRecall{
		Catalog:      repo,
		Preferences:  repo,
		Interactions: repo,
		Filter:       e.filter,
		MinSignals:   e.params.ContentMinSignals,
	}
	cf := &recall.UserBasedCF{
		Interactions:    repo,
		Catalog:         repo,
		Filter:          e.filter,
		Content:         content,
		Popular:         popular,
		MinInteractions: e.params.CFMinInteractions,
		MaxNeighbors:    e.params.CFMaxNeighbors,
		Logger:          e.logger,
	}
	e.popular = recall.NewGuarded(popular, guardOpts...)
	e.unfiltered = recall.NewGuarded(&recall.Popular{Catalog: repo}, guardOpts...)
	e.content = recall.NewGuarded(content, guardOpts...)
	e.cf = recall.NewGuarded(cf, guardOpts...)

	if e.model != nil {
		e.ml = &recall.ModelRecall{Model: e.model}
		e.mlGuard = recall.NewGuarded(e.ml, guardOpts...)
		e.adapter = model.NewWeightAdapter(e.model,
			model.WithAdapterStep(e.adapterStep),
			model.WithAdapterLogger(e.logger))
		e.metrics.SetWeights(e.model.Weights().Local, e.model.Weights().External)
	}
	return e, nil
}

// GetRecommendationsForUser 为用户生成推荐列表，分数在 [0,1]，按分数降序。
//
// strategy 为 cf / content / ml / popular / hybrid，空字符串视为 hybrid。
// 未知策略或 limit <= 0 返回 CONFIGURATION_ERROR；其余情况不会报错，
// 策略没有结果时退到热门推荐。目录过滤排除了全部候选时，最后一级热门兜底不再过滤，
// 目录非空就不会返回空列表。
func (e *Engine) GetRecommendationsForUser(ctx context.Context, userID int64, limit int, strategy string) ([]core.Scored, error) {
	s, err := core.ParseStrategy(strategy)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, core.NewConfigurationError(core.ModuleEngine, fmt.Sprintf("limit must be positive, got %d", limit))
	}

	start := time.Now()
	defer func() { e.metrics.ObserveRequest(string(s), time.Since(start)) }()

	if e.cache != nil {
		if recs, ok := e.cache.Get(ctx, userID, s, limit); ok && len(recs) > 0 {
			e.metrics.CacheHit()
			e.logger.Debug("recommendation cache hit", zap.Int64("user_id", userID), zap.String("strategy", string(s)))
			return recs, nil
		}
		e.metrics.CacheMiss()
	}

	recs, err := e.run(ctx, userID, limit, s)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 && s != core.StrategyPopular {
		e.logger.Info("strategy produced no recommendations, falling back to popular",
			zap.Int64("user_id", userID), zap.String("strategy", string(s)), zap.String("reason", "empty_result"))
		e.metrics.Fallback(string(s), "empty_result")
		if recs, err = e.popular.Recall(ctx, userID, limit); err != nil {
			return nil, err
		}
	}
	if len(recs) == 0 && e.filter != nil {
		e.logger.Warn("catalog filter excluded every candidate, serving unfiltered popular",
			zap.Int64("user_id", userID), zap.String("strategy", string(s)))
		e.metrics.Fallback(string(s), "filtered_out")
		if recs, err = e.unfiltered.Recall(ctx, userID, limit); err != nil {
			return nil, err
		}
	}

	if e.cache != nil && len(recs) > 0 {
		if err := e.cache.Put(ctx, userID, s, limit, recs); err != nil {
			e.logger.Warn("recommendation cache put failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return recs, nil
}

func (e *Engine) run(ctx context.Context, userID int64, limit int, s core.StrategyName) ([]core.Scored, error) {
	switch s {
	case core.StrategyCF:
		return e.cf.Recall(ctx, userID, limit)
	case core.StrategyContent:
		return e.content.Recall(ctx, userID, limit)
	case core.StrategyPopular:
		return e.popular.Recall(ctx, userID, limit)
	case core.StrategyML:
		return e.runML(ctx, userID, limit)
	default:
		return e.runHybrid(ctx, userID, limit)
	}
}

// runML 取模型推荐，不足 limit 时用协同过滤补齐；模型不可用时等同于协同过滤。
func (e *Engine) runML(ctx context.Context, userID int64, limit int) ([]core.Scored, error) {
	var recs []core.Scored
	if e.mlGuard != nil {
		var err error
		if recs, err = e.mlGuard.Recall(ctx, userID, limit); err != nil {
			return nil, err
		}
	}
	if len(recs) >= limit {
		return core.TopN(recs, limit), nil
	}

	extra, err := e.cf.Recall(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	present := make(map[int64]struct{}, len(recs))
	for _, r := range recs {
		present[r.ItemID] = struct{}{}
	}
	for _, r := range extra {
		if _, ok := present[r.ItemID]; !ok {
			present[r.ItemID] = struct{}{}
			recs = append(recs, r)
		}
	}
	core.SortScored(recs)
	return core.TopN(recs, limit), nil
}

func (e *Engine) runHybrid(ctx context.Context, userID int64, limit int) ([]core.Scored, error) {
	fanout := &recall.Fanout{Timeout: e.params.Timeout}
	if e.ml != nil && e.ml.Available() {
		fanout.Sources = []recall.Weighted{
			{Source: e.cf, Weight: e.hybrid.CF},
			{Source: e.content, Weight: e.hybrid.Content},
			{Source: e.mlGuard, Weight: e.hybrid.ML},
		}
	} else {
		fanout.Sources = []recall.Weighted{
			{Source: e.cf, Weight: e.hybrid.CFNoModel},
			{Source: e.content, Weight: e.hybrid.ContentNoModel},
		}
	}
	return fanout.Recall(ctx, userID, limit)
}

// UpsertInteraction 写入评分，失效该用户的推荐缓存，并用这条评分微调融合权重。
// 权重微调失败只记日志。
func (e *Engine) UpsertInteraction(ctx context.Context, userID, itemID int64, rating float64) error {
	if rating < core.MinRating || rating > core.MaxRating {
		return core.NewConfigurationError(core.ModuleEngine, fmt.Sprintf("rating %v out of range [1,5]", rating))
	}
	if err := e.repo.UpsertInteraction(ctx, userID, itemID, rating); err != nil {
		return fmt.Errorf("upsert interaction: %w", err)
	}
	e.invalidate(ctx, userID)

	if _, err := e.UpdateFromFeedback(ctx, userID, itemID, rating); err != nil {
		e.logger.Warn("weight adapter failed",
			zap.Int64("user_id", userID), zap.Int64("item_id", itemID), zap.Error(err))
	}
	return nil
}

// UpdateFromFeedback 用一条真实评分微调融合权重；未接入模型时什么也不做。
func (e *Engine) UpdateFromFeedback(ctx context.Context, userID, itemID int64, rating float64) (model.AdapterResult, error) {
	if e.adapter == nil {
		return model.AdapterResult{Skipped: model.ReasonModelUnavailable}, nil
	}
	res, err := e.adapter.UpdateFromFeedback(ctx, userID, itemID, rating)
	if err != nil {
		return res, err
	}
	if res.Changed {
		e.metrics.SetWeights(res.Weights.Local, res.Weights.External)
	}
	return res, nil
}

// UpdateRecommendationsCache 失效用户缓存并预计算默认推荐（hybrid，10 条）。
func (e *Engine) UpdateRecommendationsCache(ctx context.Context, userID int64) error {
	e.invalidate(ctx, userID)
	if _, err := e.GetRecommendationsForUser(ctx, userID, cache.DefaultLimit, string(core.StrategyHybrid)); err != nil {
		return err
	}
	e.logger.Info("recommendation cache refreshed", zap.Int64("user_id", userID))
	return nil
}

func (e *Engine) invalidate(ctx context.Context, userID int64) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Invalidate(ctx, userID); err != nil {
		e.logger.Warn("cache invalidate failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// Train 运行一次训练，成功后重新加载模型。
func (e *Engine) Train(ctx context.Context) (*model.TrainReport, error) {
	if e.trainer == nil {
		return nil, core.NewDomainError(core.ModuleEngine, core.ErrorCodeNotSupported, "engine: no trainer configured")
	}
	report, err := e.trainer.Train(ctx)
	if err != nil {
		e.metrics.TrainRun("failed")
		return report, err
	}
	e.metrics.TrainRun("ok")
	if report.Local.Trained {
		e.metrics.SetRMSE("local", report.Local.RMSE)
	}
	if report.External.Trained {
		e.metrics.SetRMSE("external", report.External.RMSE)
	}

	if err := e.ReloadModels(ctx); err != nil {
		return report, err
	}
	return report, nil
}

// ReloadModels 从模型存储重新加载模型与权重；未接入模型时什么也不做。
func (e *Engine) ReloadModels(ctx context.Context) error {
	if e.model == nil {
		return nil
	}
	err := e.model.Reload(ctx)
	w := e.model.Weights()
	e.metrics.SetWeights(w.Local, w.External)
	if err != nil {
		e.logger.Warn("model reload incomplete", zap.Error(err))
		return fmt.Errorf("reload models: %w", err)
	}
	e.logger.Info("models reloaded",
		zap.Bool("available", e.model.Available()),
		zap.Float64("local_weight", w.Local),
		zap.Float64("external_weight", w.External))
	return nil
}

// ModelAvailable 报告是否有已加载的模型。
func (e *Engine) ModelAvailable() bool {
	return e.model != nil && e.model.Available()
}
