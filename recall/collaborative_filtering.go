package recall

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"

	"go.uber.org/zap"

	"github.com/rushteam/animerec/core"
)

// UserBasedCF 是基于用户的协同过滤打分源（User-based Collaborative Filtering, User-CF）。
//
// 核心思想："兴趣相似的用户，喜欢相似的物品"
//
// 算法流程：
//  1. 全量评分 → 稠密 用户×条目 矩阵（用户、条目均按 ID 升序，缺失为 0）
//  2. 目标用户行向量与每一行求余弦相似度
//  3. 取相似度最高的 min(MaxNeighbors, N-1) 个其他用户，相似度相同按行序
//  4. 邻居评过而目标用户未评的条目：score = Σ(rating·sim²) / Σ(sim²) / 5
//
// 结果不足 limit 时依次用内容源（×ContentScale）和热门源（×PopularScale）补齐，
// 两者都按 2×limit 请求，并排除已评分和已在结果中的条目。
//
// 全量评分少于 MinInteractions 条或目标用户没有评分时返回 INSUFFICIENT_DATA。
type UserBasedCF struct {
	Interactions core.InteractionStore
	Catalog      core.CatalogStore
	Filter       core.ItemFilter

	// Content / Popular 用于补齐，可为 nil
	Content Source
	Popular Source

	// MinInteractions 全量评分的最少条数，默认 10
	MinInteractions int

	// MaxNeighbors 最多考虑的相似用户数，默认 20
	MaxNeighbors int

	// ContentScale / PopularScale 补齐结果的分数折扣，默认 0.85 / 0.7
	ContentScale float64
	PopularScale float64

	Logger *zap.Logger
}

func (r *UserBasedCF) Name() string {
	return "recall.u2i" // 工业标准命名：u2i (User-to-Item)
}

func (r *UserBasedCF) Recall(ctx context.Context, userID int64, limit int) ([]core.Scored, error) {
	if limit <= 0 {
		return nil, nil
	}
	minInteractions := r.MinInteractions
	if minInteractions <= 0 {
		minInteractions = core.DefaultCFMinInteractions
	}

	all, err := r.Interactions.ListInteractions(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(all) < minInteractions {
		return nil, core.NewInsufficientData(core.ModuleRecall,
			fmt.Sprintf("cf: %d interactions, need %d", len(all), minInteractions))
	}

	m := newRatingMatrix(all)
	target, ok := m.userRow[userID]
	if !ok {
		return nil, core.NewInsufficientData(core.ModuleRecall,
			fmt.Sprintf("cf: user %d has no interactions", userID))
	}
	allowed, err := allowedSet(ctx, r.Catalog, r.Filter)
	if err != nil {
		return nil, err
	}

	neighbors := m.neighbors(target, r.maxNeighbors(len(m.users)))

	type acc struct{ sum, weight float64 }
	candidates := make(map[int]*acc)
	rated := m.rows[target]
	for _, n := range neighbors {
		w := n.sim * n.sim
		for col, rating := range m.rows[n.row] {
			if rating == 0 || rated[col] != 0 {
				continue
			}
			if allowed != nil {
				if _, ok := allowed[m.items[col]]; !ok {
					continue
				}
			}
			a := candidates[col]
			if a == nil {
				a = &acc{}
				candidates[col] = a
			}
			a.sum += rating * w
			a.weight += w
		}
	}

	out := make([]core.Scored, 0, len(candidates))
	for col, a := range candidates {
		if a.weight > 0 {
			out = append(out, core.Scored{ItemID: m.items[col], Score: a.sum / a.weight / core.MaxRating})
		}
	}
	core.SortScored(out)

	if len(out) < limit {
		out = r.topUp(ctx, userID, limit, out, m.ratedItems(target))
	}
	return core.TopN(out, limit), nil
}

// topUp 依次用内容源和热门源补齐结果。补齐源出错只记日志，不影响已有结果。
func (r *UserBasedCF) topUp(ctx context.Context, userID int64, limit int, out []core.Scored, rated map[int64]struct{}) []core.Scored {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	contentScale := r.ContentScale
	if contentScale <= 0 {
		contentScale = core.DefaultCFContentScale
	}
	popularScale := r.PopularScale
	if popularScale <= 0 {
		popularScale = core.DefaultCFPopularScale
	}

	stages := []struct {
		src   Source
		scale float64
	}{
		{src: r.Content, scale: contentScale},
		{src: r.Popular, scale: popularScale},
	}
	for _, st := range stages {
		if len(out) >= limit || st.src == nil {
			continue
		}
		extra, err := st.src.Recall(ctx, userID, 2*limit)
		if err != nil {
			logger.Debug("cf top-up source skipped",
				zap.Int64("user_id", userID), zap.String("source", st.src.Name()), zap.Error(err))
			continue
		}
		present := make(map[int64]struct{}, len(out))
		for _, s := range out {
			present[s.ItemID] = struct{}{}
		}
		for _, s := range extra {
			if _, ok := rated[s.ItemID]; ok {
				continue
			}
			if _, ok := present[s.ItemID]; ok {
				continue
			}
			present[s.ItemID] = struct{}{}
			out = append(out, core.Scored{ItemID: s.ItemID, Score: s.Score * st.scale})
		}
		core.SortScored(out)
	}
	return out
}

func (r *UserBasedCF) maxNeighbors(users int) int {
	k := r.MaxNeighbors
	if k <= 0 {
		k = core.DefaultCFMaxNeighbors
	}
	return min(k, users-1)
}

// ratingMatrix 是稠密的 用户×条目 评分矩阵。
type ratingMatrix struct {
	users   []int64
	items   []int64
	userRow map[int64]int
	rows    [][]float64
}

func newRatingMatrix(all []core.Interaction) *ratingMatrix {
	userSet := make(map[int64]struct{})
	itemSet := make(map[int64]struct{})
	for _, in := range all {
		userSet[in.UserID] = struct{}{}
		itemSet[in.ItemID] = struct{}{}
	}
	m := &ratingMatrix{
		users:   sortedKeys(userSet),
		items:   sortedKeys(itemSet),
		userRow: make(map[int64]int, len(userSet)),
	}
	itemCol := make(map[int64]int, len(m.items))
	for i, id := range m.items {
		itemCol[id] = i
	}
	m.rows = make([][]float64, len(m.users))
	for i, id := range m.users {
		m.userRow[id] = i
		m.rows[i] = make([]float64, len(m.items))
	}
	for _, in := range all {
		m.rows[m.userRow[in.UserID]][itemCol[in.ItemID]] = in.Rating
	}
	return m
}

type neighbor struct {
	row int
	sim float64
}

// neighbors 返回与 target 行最相似的 k 个其他行，相似度降序，相同时按行序。
func (m *ratingMatrix) neighbors(target, k int) []neighbor {
	if k <= 0 {
		return nil
	}
	out := make([]neighbor, 0, len(m.rows)-1)
	for i, row := range m.rows {
		if i == target {
			continue
		}
		out = append(out, neighbor{row: i, sim: cosineSimilarity(m.rows[target], row)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].sim > out[j].sim })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func (m *ratingMatrix) ratedItems(row int) map[int64]struct{} {
	out := make(map[int64]struct{})
	for col, v := range m.rows[row] {
		if v != 0 {
			out[m.items[col]] = struct{}{}
		}
	}
	return out
}

// cosineSimilarity 计算两个等长向量的余弦相似度；任一为零向量时返回 0。
func cosineSimilarity(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func sortedKeys(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
