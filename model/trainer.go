package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rushteam/animerec/core"
	"github.com/rushteam/animerec/feature"
	"github.com/rushteam/animerec/mapping"
)

const (
	// TrainLockName 是训练锁文件名，位于 Trainer 的 lockDir 下。
	// 锁是操作系统的 advisory lock，进程退出后自动释放。
	TrainLockName = "train.lock"
	// DefaultTrainSeed 是划分训练/验证集的固定随机种子。
	DefaultTrainSeed = 42

	validationFraction = 0.2
)

// ErrTrainingInProgress 表示已有训练在运行。
var ErrTrainingInProgress = core.NewDomainError(core.ModuleModel, "TRAINING_IN_PROGRESS", "model: training already in progress")

// ExternalSource 提供外部参考数据集；返回 NOT_FOUND 类错误表示未配置。
type ExternalSource func(ctx context.Context) (core.ExternalDataset, error)

// TrainStore 是训练需要的数据读取接口。
type TrainStore interface {
	core.CatalogStore
	core.InteractionStore
}

// SourceReport 是单个数据源的训练结果。
type SourceReport struct {
	Trained bool    `json:"trained"`
	Samples int     `json:"samples"`
	RMSE    float64 `json:"rmse,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// TrainReport 汇总一次训练。
type TrainReport struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Local     SourceReport  `json:"local"`
	External  SourceReport  `json:"external"`
	Weights   BlendWeights  `json:"weights"`
	// WeightsFromRMSE 为 false 表示只有一个数据源训练成功，沿用了之前的权重
	WeightsFromRMSE bool `json:"weights_from_rmse"`
}

// Trainer 是离线批量训练任务：训练两个数据源的模型、计算权重并一起持久化。
type Trainer struct {
	store      TrainStore
	external   ExternalSource
	blobs      core.BlobStore
	lockDir    string
	params     GBDTParams
	minSamples int
	floor      float64
	seed       int64
	logger     *zap.Logger
	onReport   func(TrainReport)
	now        func() time.Time
}

type TrainerOption func(*Trainer)

func WithExternalSource(src ExternalSource) TrainerOption {
	return func(t *Trainer) { t.external = src }
}

func WithGBDTParams(p GBDTParams) TrainerOption {
	return func(t *Trainer) { t.params = p.withDefaults() }
}

func WithMinTrainingSamples(n int) TrainerOption {
	return func(t *Trainer) {
		if n > 0 {
			t.minSamples = n
		}
	}
}

func WithTrainWeightFloor(floor float64) TrainerOption {
	return func(t *Trainer) { t.floor = floor }
}

func WithTrainSeed(seed int64) TrainerOption {
	return func(t *Trainer) { t.seed = seed }
}

func WithTrainerLogger(l *zap.Logger) TrainerOption {
	return func(t *Trainer) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithReportHook 在每次训练结束时回调（例如更新监控指标）。
func WithReportHook(fn func(TrainReport)) TrainerOption {
	return func(t *Trainer) { t.onReport = fn }
}

func NewTrainer(store TrainStore, blobs core.BlobStore, lockDir string, opts ...TrainerOption) *Trainer {
	t := &Trainer{
		store:      store,
		blobs:      blobs,
		lockDir:    lockDir,
		params:     DefaultGBDTParams(),
		minSamples: core.DefaultMinTrainingSamples,
		floor:      core.DefaultWeightFloor,
		seed:       DefaultTrainSeed,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Train 执行一次训练。某个数据源样本不足只跳过该源，沿用上一次的模型；两个都失败时返回错误。
// 产物先以 run id 命名写入，最后写 manifest 使整组生效。
func (t *Trainer) Train(ctx context.Context) (*TrainReport, error) {
	release, err := t.acquireLock()
	if err != nil {
		return nil, err
	}
	defer release()

	start := t.now()
	report := &TrainReport{RunID: uuid.NewString(), StartedAt: start}
	log := t.logger.With(zap.String("run_id", report.RunID))
	log.Info("training started")

	prevManifest, err := LoadManifest(ctx, t.blobs)
	if err != nil {
		log.Warn("load previous manifest failed", zap.Error(err))
	}
	prev := t.previousWeights(ctx, prevManifest.Weights, log)

	local, localErr := t.trainLocal(ctx)
	report.Local = sourceReport(local != nil, localErr)
	if local != nil {
		report.Local.Samples, report.Local.RMSE = local.Samples, local.RMSE
	}
	if localErr != nil {
		log.Warn("local model not trained", zap.Error(localErr))
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	external, extErr := t.trainExternal(ctx)
	report.External = sourceReport(external != nil, extErr)
	if external != nil {
		report.External.Samples, report.External.RMSE = external.Samples, external.RMSE
	}
	if extErr != nil {
		log.Warn("external model not trained", zap.Error(extErr))
	}

	if local == nil && external == nil {
		return report, fmt.Errorf("no model trained: %w", errors.Join(localErr, extErr))
	}

	weights := prev
	if local != nil && external != nil {
		w, err := BlendWeightsFromRMSE(local.RMSE, external.RMSE, t.floor)
		if err != nil {
			return report, err
		}
		weights = w
		report.WeightsFromRMSE = true
	}
	report.Weights = weights

	if err := t.persist(ctx, report.RunID, prevManifest, local, external, weights); err != nil {
		return report, err
	}

	report.Duration = t.now().Sub(start)
	log.Info("training finished",
		zap.Bool("local_trained", report.Local.Trained),
		zap.Float64("local_rmse", report.Local.RMSE),
		zap.Bool("external_trained", report.External.Trained),
		zap.Float64("external_rmse", report.External.RMSE),
		zap.Float64("local_weight", weights.Local),
		zap.Float64("external_weight", weights.External),
		zap.Duration("duration", report.Duration),
	)
	if t.onReport != nil {
		t.onReport(*report)
	}
	return report, nil
}

func sourceReport(trained bool, err error) SourceReport {
	r := SourceReport{Trained: trained}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// persist 写入本次产物，manifest 最后写；未训练的数据源继续引用上一次的 bundle。
func (t *Trainer) persist(ctx context.Context, runID string, prev Manifest, local *LocalBundle, external *ExternalBundle, weights BlendWeights) error {
	next := Manifest{
		RunID:     runID,
		Local:     prev.Local,
		External:  prev.External,
		Weights:   runBlobName(WeightsBlobName, runID),
		CreatedAt: t.now().UTC(),
	}
	if local != nil {
		next.Local = runBlobName(LocalBlobName, runID)
		if err := t.saveBundle(ctx, next.Local, local); err != nil {
			return err
		}
	}
	if external != nil {
		next.External = runBlobName(ExternalBlobName, runID)
		if err := t.saveBundle(ctx, next.External, external); err != nil {
			return err
		}
	}
	data, err := EncodeWeights(weights)
	if err != nil {
		return fmt.Errorf("encode blend weights: %w", err)
	}
	if err := t.blobs.Save(ctx, next.Weights, data); err != nil {
		return fmt.Errorf("save blend weights: %w", err)
	}
	return saveManifest(ctx, t.blobs, next)
}

func (t *Trainer) previousWeights(ctx context.Context, name string, log *zap.Logger) BlendWeights {
	data, err := t.blobs.Load(ctx, name)
	if err != nil {
		if !core.IsNotFound(err) {
			log.Warn("load previous weights failed", zap.Error(err))
		}
		return DefaultBlendWeights()
	}
	w, err := DecodeWeights(data, t.floor)
	if err != nil {
		log.Warn("previous weights invalid, using defaults", zap.Error(err))
		return DefaultBlendWeights()
	}
	return w
}

func (t *Trainer) trainLocal(ctx context.Context) (*LocalBundle, error) {
	interactions, err := t.store.ListInteractions(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	if len(interactions) < t.minSamples {
		return nil, insufficientSamples("local", len(interactions), t.minSamples)
	}
	items, err := t.store.ListItems(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	catalog := make(map[int64]core.CatalogItem, len(items))
	for _, it := range items {
		catalog[it.ID] = it
	}

	builder := feature.FitLocal(interactions)
	X, y := builder.Build(interactions, catalog)
	scaler, err := feature.FitStandardScaler(X)
	if err != nil {
		return nil, err
	}
	Xs := scaler.Transform(X)

	model, rmse, err := t.fitAndValidate(Xs, y, func(raw float64) float64 { return clampRating(raw) }, func(target float64) float64 { return target })
	if err != nil {
		return nil, err
	}
	return &LocalBundle{
		Builder:   builder,
		Scaler:    scaler,
		Model:     model,
		RMSE:      rmse,
		Samples:   len(y),
		TrainedAt: t.now().UTC(),
	}, nil
}

func (t *Trainer) trainExternal(ctx context.Context) (*ExternalBundle, error) {
	if t.external == nil {
		return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeNotFound, "external dataset not configured")
	}
	ds, err := t.external(ctx)
	if err != nil {
		return nil, fmt.Errorf("load external dataset: %w", err)
	}
	ratings := make([]core.ExternalRating, 0, len(ds.Ratings))
	for _, r := range ds.Ratings {
		if r.Rating > 0 {
			ratings = append(ratings, r)
		}
	}
	ds.Ratings = ratings
	if len(ratings) < t.minSamples {
		return nil, insufficientSamples("external", len(ratings), t.minSamples)
	}

	builder := feature.FitExternal(ds)
	X, y := builder.Build(ratings)
	scaler, err := feature.FitStandardScaler(X)
	if err != nil {
		return nil, err
	}
	Xs := scaler.Transform(X)

	// 验证误差在 [1,5] 刻度上计算，与本地模型可比
	toRating := func(raw float64) float64 { return clampRating(raw * core.MaxRating) }
	targetToRating := func(target float64) float64 { return target * core.MaxRating }
	model, rmse, err := t.fitAndValidate(Xs, y, toRating, targetToRating)
	if err != nil {
		return nil, err
	}
	return &ExternalBundle{
		Builder:   builder,
		Scaler:    scaler,
		Model:     model,
		RMSE:      rmse,
		Samples:   len(y),
		TrainedAt: t.now().UTC(),
	}, nil
}

// fitAndValidate 以固定种子打乱并按 80/20 划分，在训练集拟合、在验证集计算 RMSE。
func (t *Trainer) fitAndValidate(X [][]float64, y []float64, predToRating, targetToRating func(float64) float64) (*GBDTRegressor, float64, error) {
	trainIdx, valIdx := splitIndices(len(y), t.seed)

	Xt := make([][]float64, len(trainIdx))
	yt := make([]float64, len(trainIdx))
	for i, k := range trainIdx {
		Xt[i], yt[i] = X[k], y[k]
	}
	model := NewGBDTRegressor(t.params)
	if err := model.Fit(Xt, yt); err != nil {
		return nil, 0, err
	}

	pred := make([]float64, len(valIdx))
	target := make([]float64, len(valIdx))
	for i, k := range valIdx {
		pred[i] = predToRating(model.Predict(X[k]))
		target[i] = targetToRating(y[k])
	}
	return model, RMSE(pred, target), nil
}

func splitIndices(n int, seed int64) (train, val []int) {
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	nVal := int(math.Round(validationFraction * float64(n)))
	nVal = max(1, min(nVal, n-1))
	return perm[nVal:], perm[:nVal]
}

func insufficientSamples(source string, got, want int) error {
	return core.NewDomainError(core.ModuleModel, core.ErrorCodeTrainingDataInsufficient,
		fmt.Sprintf("%s training data insufficient: %d samples, need %d", source, got, want))
}

func (t *Trainer) saveBundle(ctx context.Context, name string, v any) error {
	data, err := encodeBundle(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := t.blobs.Save(ctx, name, data); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

// acquireLock 以非阻塞方式获取 lockDir 下的文件锁，已被占用时返回 ErrTrainingInProgress。
func (t *Trainer) acquireLock() (func(), error) {
	if err := os.MkdirAll(t.lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	lock := flock.New(filepath.Join(t.lockDir, TrainLockName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire train lock: %w", err)
	}
	if !locked {
		return nil, ErrTrainingInProgress
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			t.logger.Warn("release train lock failed", zap.Error(err))
		}
	}, nil
}

// SaveMapping 持久化 ID 映射，DualSource.Reload 会加载它。
func SaveMapping(ctx context.Context, blobs core.BlobStore, m *mapping.IDMapping) error {
	data, err := m.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode id mapping: %w", err)
	}
	if err := blobs.Save(ctx, MappingBlobName, data); err != nil {
		return fmt.Errorf("save id mapping: %w", err)
	}
	return nil
}
