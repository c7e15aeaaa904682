package model

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/rushteam/animerec/core"
	"github.com/rushteam/animerec/mapping"
)

// 单源预测不可用的原因。
const (
	ReasonModelUnavailable = "model_unavailable"
	ReasonUnmappedID       = "unmapped_id"
	ReasonLookupFailed     = "lookup_failed"
)

// Outcome 是单个数据源的预测结果，OK=false 时 Reason 说明原因。
type Outcome struct {
	Value  float64 `json:"value"`
	OK     bool    `json:"ok"`
	Reason string  `json:"reason,omitempty"`
}

// Prediction 是一次双源预测的明细，WeightAdapter 依赖各源的单独结果。
type Prediction struct {
	Local    Outcome      `json:"local"`
	External Outcome      `json:"external"`
	Blended  float64      `json:"blended"`
	Weights  BlendWeights `json:"weights"`
}

// DualSource 融合本地模型与外部模型的评分预测。
//
// 模型状态（两个 bundle、ID 映射、权重）是进程级共享状态，由 RWMutex 保护；
// Reload/Swap 整体替换，读者看到的总是完整的一组。权重持久化在锁外进行。
type DualSource struct {
	blobs        core.BlobStore
	catalog      core.CatalogStore
	interactions core.InteractionStore

	floor      float64
	pool       int
	itemFilter core.ItemFilter
	logger     *zap.Logger

	mu       sync.RWMutex
	local    *LocalBundle
	external *ExternalBundle
	mapping  *mapping.IDMapping
	weights  BlendWeights
	manifest Manifest
	version  uint64

	persistMu sync.Mutex
	persisted uint64
}

type DualSourceOption func(*DualSource)

func WithDualSourceLogger(l *zap.Logger) DualSourceOption {
	return func(d *DualSource) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithWeightFloor 设置权重下限，加载的权重低于下限视为无效。
func WithWeightFloor(floor float64) DualSourceOption {
	return func(d *DualSource) { d.floor = floor }
}

// WithCandidatePool 设置 GetRecommendations 的候选池大小（按热度取前 N）。
func WithCandidatePool(n int) DualSourceOption {
	return func(d *DualSource) {
		if n > 0 {
			d.pool = n
		}
	}
}

// WithItemFilter 限制 GetRecommendations 的候选条目。
func WithItemFilter(f core.ItemFilter) DualSourceOption {
	return func(d *DualSource) { d.itemFilter = f }
}

func NewDualSource(blobs core.BlobStore, catalog core.CatalogStore, interactions core.InteractionStore, opts ...DualSourceOption) *DualSource {
	d := &DualSource{
		blobs:        blobs,
		catalog:      catalog,
		interactions: interactions,
		floor:        core.DefaultWeightFloor,
		pool:         core.DefaultModelCandidatePool,
		logger:       zap.NewNop(),
		weights:      DefaultBlendWeights(),
		mapping:      mapping.Empty(),
		manifest:     legacyManifest(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Reload 通过 manifest 从 BlobStore 重新加载模型、映射和权重。
// 缺失或损坏的 blob 对应的部分视为不可用，其余部分照常加载；损坏信息通过返回的 error 汇总。
func (d *DualSource) Reload(ctx context.Context) error {
	var errs []error

	man, err := LoadManifest(ctx, d.blobs)
	if err != nil {
		errs = append(errs, err)
	}

	var local *LocalBundle
	if man.Local != "" {
		if data, err := d.blobs.Load(ctx, man.Local); err == nil {
			if local, err = decodeLocalBundle(data); err != nil {
				errs = append(errs, err)
			}
		} else if !core.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("load %s: %w", man.Local, err))
		}
	}

	var external *ExternalBundle
	if man.External != "" {
		if data, err := d.blobs.Load(ctx, man.External); err == nil {
			if external, err = decodeExternalBundle(data); err != nil {
				errs = append(errs, err)
			}
		} else if !core.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("load %s: %w", man.External, err))
		}
	}

	m := mapping.Empty()
	if data, err := d.blobs.Load(ctx, MappingBlobName); err == nil {
		decoded := mapping.Empty()
		if err := decoded.UnmarshalJSON(data); err != nil {
			errs = append(errs, fmt.Errorf("decode id mapping: %w", err))
		} else {
			m = decoded
		}
	} else if !core.IsNotFound(err) {
		errs = append(errs, fmt.Errorf("load %s: %w", MappingBlobName, err))
	}

	w := DefaultBlendWeights()
	if data, err := d.blobs.Load(ctx, man.Weights); err == nil {
		if decoded, err := DecodeWeights(data, d.floor); err != nil {
			errs = append(errs, err)
		} else {
			w = decoded
		}
	} else if !core.IsNotFound(err) {
		errs = append(errs, fmt.Errorf("load %s: %w", man.Weights, err))
	}

	d.install(local, external, m, w, man)
	d.logger.Info("dual source reloaded",
		zap.String("run_id", man.RunID),
		zap.Bool("local", local != nil),
		zap.Bool("external", external != nil),
		zap.Int("mapped_items", m.Len()),
		zap.Float64("local_weight", w.Local),
		zap.Float64("external_weight", w.External),
	)
	return errors.Join(errs...)
}

// Swap 原子替换全部模型状态。nil bundle 表示该数据源不可用。
func (d *DualSource) Swap(local *LocalBundle, external *ExternalBundle, m *mapping.IDMapping, w BlendWeights) {
	d.mu.RLock()
	man := d.manifest
	d.mu.RUnlock()
	d.install(local, external, m, w, man)
}

func (d *DualSource) install(local *LocalBundle, external *ExternalBundle, m *mapping.IDMapping, w BlendWeights, man Manifest) {
	if m == nil {
		m = mapping.Empty()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.local = local
	d.external = external
	d.mapping = m
	d.weights = w
	d.manifest = man
}

// RunID 返回当前加载的训练批次，旧布局或未加载时为空。
func (d *DualSource) RunID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.manifest.RunID
}

// Weights 返回当前权重。
func (d *DualSource) Weights() BlendWeights {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.weights
}

// Available 表示至少有一个模型可用。
func (d *DualSource) Available() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.local != nil || d.external != nil
}

type snapshot struct {
	local    *LocalBundle
	external *ExternalBundle
	mapping  *mapping.IDMapping
	weights  BlendWeights
}

func (d *DualSource) snapshot() snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return snapshot{local: d.local, external: d.external, mapping: d.mapping, weights: d.weights}
}

// Predict 返回 [1,5] 的评分预测，任何内部问题都退化为可用数据源或中性分 3.0，不返回错误。
func (d *DualSource) Predict(ctx context.Context, userID, itemID int64) float64 {
	return d.PredictDetailed(ctx, userID, itemID).Blended
}

// PredictDetailed 返回双源预测明细。
func (d *DualSource) PredictDetailed(ctx context.Context, userID, itemID int64) Prediction {
	s := d.snapshot()

	ratingCount, countErr := d.userRatingCount(ctx, userID)
	item, err := d.catalog.GetItem(ctx, itemID)
	if err != nil {
		if !core.IsNotFound(err) {
			d.logger.Warn("catalog lookup failed", zap.Int64("item_id", itemID), zap.Error(err))
		}
		item = core.CatalogItem{ID: itemID}
	}
	p := d.predictWith(s, userID, ratingCount, item)
	if countErr != nil && p.Local.OK {
		d.logger.Warn("interaction lookup failed", zap.Int64("user_id", userID), zap.Error(countErr))
		p.Local = Outcome{Reason: ReasonLookupFailed}
		p.Blended = blend(p.Local, p.External, s.weights)
	}
	return p
}

func (d *DualSource) predictWith(s snapshot, userID int64, ratingCount int, item core.CatalogItem) Prediction {
	p := Prediction{Weights: s.weights}

	if s.local != nil {
		p.Local = Outcome{Value: s.local.Predict(userID, ratingCount, item), OK: true}
	} else {
		p.Local = Outcome{Reason: ReasonModelUnavailable}
	}

	switch {
	case s.external == nil:
		p.External = Outcome{Reason: ReasonModelUnavailable}
	default:
		extID, ok := s.mapping.LocalToExternal(item.ID)
		if !ok {
			p.External = Outcome{Reason: ReasonUnmappedID}
			break
		}
		p.External = Outcome{Value: s.external.PredictColdUser(extID), OK: true}
	}

	p.Blended = blend(p.Local, p.External, s.weights)
	return p
}

func blend(local, external Outcome, w BlendWeights) float64 {
	switch {
	case local.OK && external.OK:
		return local.Value*w.Local + external.Value*w.External
	case local.OK:
		return local.Value
	case external.OK:
		return external.Value
	default:
		return core.DefaultNeutralRating
	}
}

func (d *DualSource) userRatingCount(ctx context.Context, userID int64) (int, error) {
	uid := userID
	rated, err := d.interactions.ListInteractions(ctx, &uid)
	if err != nil {
		return 0, err
	}
	return len(rated), nil
}

// GetRecommendations 对热度最高的候选池逐个预测，按 (p-1)/4 归一化到 [0,1] 后排序截断。
// 两个模型都不可用时返回 MODEL_UNAVAILABLE。
func (d *DualSource) GetRecommendations(ctx context.Context, userID int64, limit int, excludeRated bool) ([]core.Scored, error) {
	s := d.snapshot()
	if s.local == nil && s.external == nil {
		return nil, core.NewModelUnavailable("no trained model available")
	}

	uid := userID
	rated, err := d.interactions.ListInteractions(ctx, &uid)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	exclude := make(map[int64]struct{}, len(rated))
	if excludeRated {
		for _, in := range rated {
			exclude[in.ItemID] = struct{}{}
		}
	}

	items, err := d.catalog.ListItems(ctx, d.itemFilter)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	candidates := make([]core.CatalogItem, 0, len(items))
	for _, it := range items {
		if _, ok := exclude[it.ID]; ok {
			continue
		}
		candidates = append(candidates, it)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Popularity != candidates[j].Popularity {
			return candidates[i].Popularity > candidates[j].Popularity
		}
		return candidates[i].ID < candidates[j].ID
	})
	if len(candidates) > d.pool {
		candidates = candidates[:d.pool]
	}

	out := make([]core.Scored, 0, len(candidates))
	for _, it := range candidates {
		p := d.predictWith(s, userID, len(rated), it)
		out = append(out, core.Scored{
			ItemID: it.ID,
			Score:  core.ClampScore((p.Blended - core.MinRating) / (core.MaxRating - core.MinRating)),
		})
	}
	core.SortScored(out)
	return core.TopN(out, limit), nil
}

// updateWeights 在写锁内读改写内存权重，解锁后再持久化到当前 manifest 的权重 blob；
// fn 返回 false 表示不变更。持久化失败时内存中的新权重保留，错误返回给调用方。
func (d *DualSource) updateWeights(ctx context.Context, fn func(BlendWeights) (BlendWeights, bool)) (BlendWeights, bool, error) {
	d.mu.Lock()
	cur := d.weights
	next, changed := fn(cur)
	if !changed {
		d.mu.Unlock()
		return cur, false, nil
	}
	if err := next.Validate(d.floor); err != nil {
		d.mu.Unlock()
		return cur, false, err
	}
	d.weights = next
	d.version++
	version, name := d.version, d.manifest.Weights
	d.mu.Unlock()

	return next, true, d.persistWeights(ctx, version, name, next)
}

// persistWeights 串行写入；比已写入版本旧的快照直接丢弃，保证最后落盘的是最新权重。
func (d *DualSource) persistWeights(ctx context.Context, version uint64, name string, w BlendWeights) error {
	d.persistMu.Lock()
	defer d.persistMu.Unlock()

	if version <= d.persisted {
		return nil
	}
	data, err := EncodeWeights(w)
	if err != nil {
		return fmt.Errorf("encode blend weights: %w", err)
	}
	if err := d.blobs.Save(ctx, name, data); err != nil {
		return fmt.Errorf("save blend weights: %w", err)
	}
	d.persisted = version
	return nil
}
