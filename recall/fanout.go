package recall

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/animerec/core"
)

// Weighted 是参与融合的一路打分源。
type Weighted struct {
	Source Source
	Weight float64
}

// Fanout 并发执行多个打分源，并按权重线性融合。
// 支持超时、限流；结果与顺序执行完全一致（按 Sources 顺序累加）。
//
// 某条目未被某一路返回时，该路贡献 0。
type Fanout struct {
	Sources       []Weighted
	Timeout       time.Duration // 每个打分源的超时时间
	MaxConcurrent int           // 最大并发数（0 表示无限制）

	// CandidateFactor 每一路请求 limit×CandidateFactor 个候选，默认 2
	CandidateFactor int
}

func (n *Fanout) Name() string { return "recall.fanout" }

func (n *Fanout) Recall(ctx context.Context, userID int64, limit int) ([]core.Scored, error) {
	if len(n.Sources) == 0 || limit <= 0 {
		return nil, nil
	}
	factor := n.CandidateFactor
	if factor <= 0 {
		factor = 2
	}

	results := make([][]core.Scored, len(n.Sources))
	eg, egCtx := errgroup.WithContext(ctx)

	// 限流：使用 semaphore 控制并发数
	var sem chan struct{}
	if n.MaxConcurrent > 0 {
		sem = make(chan struct{}, n.MaxConcurrent)
	}

	for i, w := range n.Sources {
		i, w := i, w
		eg.Go(func() error {
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}

			// 超时控制
			recallCtx := egCtx
			if n.Timeout > 0 {
				var cancel context.CancelFunc
				recallCtx, cancel = context.WithTimeout(egCtx, n.Timeout)
				defer cancel()
			}

			items, err := w.Source.Recall(recallCtx, userID, limit*factor)
			if err != nil {
				// 只有调用方输入错误会中断融合，其余当作该路为空
				if core.IsConfigurationError(err) {
					return err
				}
				return nil
			}
			results[i] = items
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return Merge(n.Sources, results, limit), nil
}

// Merge 按权重融合多路结果，排序后截取前 limit 个。
// results[i] 对应 sources[i]。
func Merge(sources []Weighted, results [][]core.Scored, limit int) []core.Scored {
	merged := make(map[int64]float64)
	var order []int64
	for i, items := range results {
		for _, s := range items {
			if _, ok := merged[s.ItemID]; !ok {
				order = append(order, s.ItemID)
			}
			merged[s.ItemID] += s.Score * sources[i].Weight
		}
	}
	out := make([]core.Scored, 0, len(order))
	for _, id := range order {
		out = append(out, core.Scored{ItemID: id, Score: merged[id]})
	}
	core.SortScored(out)
	return core.TopN(out, limit)
}
