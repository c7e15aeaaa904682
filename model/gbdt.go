package model

import (
	"fmt"
	"math"
	"sort"
)

// GBDTParams 是梯度提升回归树的超参数。
type GBDTParams struct {
	NEstimators     int     `json:"n_estimators" yaml:"n_estimators"`
	LearningRate    float64 `json:"learning_rate" yaml:"learning_rate"`
	MaxDepth        int     `json:"max_depth" yaml:"max_depth"`
	MinSamplesSplit int     `json:"min_samples_split" yaml:"min_samples_split"`
	MinSamplesLeaf  int     `json:"min_samples_leaf" yaml:"min_samples_leaf"`
}

// DefaultGBDTParams 返回默认超参数（100 棵树，学习率 0.1，深度 5）。
func DefaultGBDTParams() GBDTParams {
	return GBDTParams{
		NEstimators:     100,
		LearningRate:    0.1,
		MaxDepth:        5,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
	}
}

func (p GBDTParams) withDefaults() GBDTParams {
	d := DefaultGBDTParams()
	if p.NEstimators <= 0 {
		p.NEstimators = d.NEstimators
	}
	if p.LearningRate <= 0 {
		p.LearningRate = d.LearningRate
	}
	if p.MaxDepth <= 0 {
		p.MaxDepth = d.MaxDepth
	}
	if p.MinSamplesSplit < 2 {
		p.MinSamplesSplit = d.MinSamplesSplit
	}
	if p.MinSamplesLeaf < 1 {
		p.MinSamplesLeaf = d.MinSamplesLeaf
	}
	return p
}

// TreeNode 是回归树的一个节点，Left < 0 表示叶子。
type TreeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
}

// RegressionTree 以扁平数组保存，根节点下标为 0。
type RegressionTree struct {
	Nodes []TreeNode `json:"nodes"`
}

func (t *RegressionTree) predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Left < 0 {
			return n.Value
		}
		if n.Feature < len(x) && x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// GBDTRegressor 实现最小二乘损失的梯度提升回归树。
//
// 训练过程：
// 1. 初始预测 F0 = mean(y)
// 2. 每轮拟合残差 r = y - F 的回归树（叶子值为残差均值）
// 3. F += LearningRate * tree(x)
//
// 分裂点在排序后的相邻不同取值中间取，同分时保留先遇到的特征/位置，训练结果是确定的。
type GBDTRegressor struct {
	Params    GBDTParams       `json:"params"`
	Init      float64          `json:"init"`
	NFeatures int              `json:"n_features"`
	Trees     []RegressionTree `json:"trees"`
}

func NewGBDTRegressor(params GBDTParams) *GBDTRegressor {
	return &GBDTRegressor{Params: params.withDefaults()}
}

func (m *GBDTRegressor) Name() string { return "gbdt" }

// Fit 在 (X, y) 上训练，覆盖已有的树。
func (m *GBDTRegressor) Fit(X [][]float64, y []float64) error {
	if len(X) == 0 {
		return fmt.Errorf("gbdt: empty training set")
	}
	if len(X) != len(y) {
		return fmt.Errorf("gbdt: %d rows but %d targets", len(X), len(y))
	}
	width := len(X[0])
	for i, row := range X {
		if len(row) != width {
			return fmt.Errorf("gbdt: row %d has %d columns, want %d", i, len(row), width)
		}
	}
	m.Params = m.Params.withDefaults()
	m.NFeatures = width

	var sum float64
	for _, v := range y {
		sum += v
	}
	m.Init = sum / float64(len(y))

	F := make([]float64, len(y))
	for i := range F {
		F[i] = m.Init
	}
	residual := make([]float64, len(y))
	idx := make([]int, len(y))
	for i := range idx {
		idx[i] = i
	}

	m.Trees = make([]RegressionTree, 0, m.Params.NEstimators)
	for k := 0; k < m.Params.NEstimators; k++ {
		for i := range residual {
			residual[i] = y[i] - F[i]
		}
		b := &treeBuilder{X: X, r: residual, params: m.Params}
		b.build(idx, 0)
		tree := RegressionTree{Nodes: b.nodes}
		for i := range F {
			F[i] += m.Params.LearningRate * tree.predict(X[i])
		}
		m.Trees = append(m.Trees, tree)
	}
	return nil
}

// Predict 返回原始预测值，不做截断。
func (m *GBDTRegressor) Predict(x []float64) float64 {
	out := m.Init
	for i := range m.Trees {
		out += m.Params.LearningRate * m.Trees[i].predict(x)
	}
	return out
}

type treeBuilder struct {
	X      [][]float64
	r      []float64
	params GBDTParams
	nodes  []TreeNode
}

func (b *treeBuilder) build(idx []int, depth int) int {
	var sum float64
	for _, i := range idx {
		sum += b.r[i]
	}
	id := len(b.nodes)
	b.nodes = append(b.nodes, TreeNode{Left: -1, Right: -1, Value: sum / float64(len(idx))})

	if depth >= b.params.MaxDepth || len(idx) < b.params.MinSamplesSplit {
		return id
	}
	feat, thr, ok := b.bestSplit(idx, sum)
	if !ok {
		return id
	}

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if b.X[i][feat] <= thr {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[id].Feature = feat
	b.nodes[id].Threshold = thr
	b.nodes[id].Left = l
	b.nodes[id].Right = r
	return id
}

// bestSplit 最大化 sumL²/nL + sumR²/nR，等价于最小化左右子树平方误差之和。
func (b *treeBuilder) bestSplit(idx []int, total float64) (int, float64, bool) {
	n := len(idx)
	base := total * total / float64(n)
	bestGain := 1e-12
	bestFeat, bestThr, found := 0, 0.0, false

	sorted := make([]int, n)
	width := len(b.X[idx[0]])
	for f := 0; f < width; f++ {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(i, j int) bool { return b.X[sorted[i]][f] < b.X[sorted[j]][f] })

		var leftSum float64
		for k := 1; k < n; k++ {
			leftSum += b.r[sorted[k-1]]
			lo, hi := b.X[sorted[k-1]][f], b.X[sorted[k]][f]
			if lo == hi {
				continue
			}
			if k < b.params.MinSamplesLeaf || n-k < b.params.MinSamplesLeaf {
				continue
			}
			rightSum := total - leftSum
			gain := leftSum*leftSum/float64(k) + rightSum*rightSum/float64(n-k) - base
			if gain > bestGain {
				bestGain = gain
				bestFeat = f
				bestThr = lo + (hi-lo)/2
				found = true
			}
		}
	}
	return bestFeat, bestThr, found
}

// RMSE 计算均方根误差。
func RMSE(pred, target []float64) float64 {
	if len(pred) == 0 || len(pred) != len(target) {
		return math.NaN()
	}
	var ss float64
	for i := range pred {
		d := pred[i] - target[i]
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(pred)))
}

var _ Regressor = (*GBDTRegressor)(nil)
