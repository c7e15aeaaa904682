package recall

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/rushteam/animerec/core"
	"github.com/rushteam/animerec/repository"
)

const eps = 1e-9

func ids(items []core.Scored) []int64 {
	out := make([]int64, 0, len(items))
	for _, s := range items {
		out = append(out, s.ItemID)
	}
	return out
}

func TestPopular(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	repo.PutItems(
		core.CatalogItem{ID: 1, Popularity: 0.5, RatingAvg: 3},
		core.CatalogItem{ID: 2, Popularity: 0.9, RatingAvg: 4},
		core.CatalogItem{ID: 3, Popularity: 0.5, RatingAvg: 4},
		core.CatalogItem{ID: 4, Popularity: 0.5, RatingAvg: 4},
	)
	p := &Popular{Catalog: repo}

	got, err := p.Recall(ctx, 1, 3)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	// 热度降序，热度相同按评分均值降序，再按 ID 升序
	if want := []int64{2, 3, 4}; !reflect.DeepEqual(ids(got), want) {
		t.Errorf("order = %v, want %v", ids(got), want)
	}
	for i, want := range []float64{0.9, 0.87, 0.84} {
		if math.Abs(got[i].Score-want) > eps {
			t.Errorf("score[%d] = %v, want %v", i, got[i].Score, want)
		}
	}

	t.Run("filter", func(t *testing.T) {
		p := &Popular{Catalog: repo, Filter: func(it core.CatalogItem) bool { return it.RatingAvg < 4 }}
		got, _ := p.Recall(ctx, 1, 10)
		if want := []int64{1}; !reflect.DeepEqual(ids(got), want) {
			t.Errorf("filtered = %v, want %v", ids(got), want)
		}
	})

	t.Run("empty catalog", func(t *testing.T) {
		p := &Popular{Catalog: repository.NewMemoryRepository()}
		got, err := p.Recall(ctx, 1, 10)
		if err != nil || len(got) != 0 {
			t.Errorf("got %v, %v", got, err)
		}
	})
}

func TestPopularScore(t *testing.T) {
	tests := []struct {
		rank int
		want float64
	}{
		{0, 0.9},
		{10, 0.6},
		{26, 0.12},
		{27, 0.1},
		{100, 0.1},
	}
	for _, tt := range tests {
		if got := PopularScore(tt.rank); math.Abs(got-tt.want) > eps {
			t.Errorf("PopularScore(%d) = %v, want %v", tt.rank, got, tt.want)
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{name: "identical", a: []float64{1, 2, 3}, b: []float64{1, 2, 3}, want: 1},
		{name: "orthogonal", a: []float64{1, 0}, b: []float64{0, 1}, want: 0},
		{name: "zero vector", a: []float64{0, 0}, b: []float64{1, 1}, want: 0},
		{name: "scaled", a: []float64{1, 1}, b: []float64{5, 5}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > eps {
				t.Errorf("cosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUserBasedCF_DenseScenario(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	repo.PutInteractions(
		core.Interaction{UserID: 1, ItemID: 1, Rating: 5},
		core.Interaction{UserID: 1, ItemID: 2, Rating: 5},
	)
	for u := int64(2); u <= 15; u++ {
		repo.PutInteractions(
			core.Interaction{UserID: u, ItemID: 1, Rating: 5},
			core.Interaction{UserID: u, ItemID: 2, Rating: 5},
			core.Interaction{UserID: u, ItemID: 3, Rating: 4},
			core.Interaction{UserID: u, ItemID: 4, Rating: 2},
		)
	}
	cf := &UserBasedCF{Interactions: repo}

	got, err := cf.Recall(ctx, 1, 2)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if want := []int64{3, 4}; !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("items = %v, want %v", ids(got), want)
	}
	if math.Abs(got[0].Score-0.8) > eps || math.Abs(got[1].Score-0.4) > eps {
		t.Errorf("scores = %+v, want [0.8 0.4]", got)
	}
}

// seedWeighted 构造相似度各不相同的邻居：u2 与 u1 高度相似，u3 部分相似，u4 完全不相交。
func seedWeighted(repo *repository.MemoryRepository) {
	repo.PutInteractions(
		core.Interaction{UserID: 1, ItemID: 1, Rating: 5},
		core.Interaction{UserID: 1, ItemID: 2, Rating: 5},
		core.Interaction{UserID: 2, ItemID: 1, Rating: 5},
		core.Interaction{UserID: 2, ItemID: 2, Rating: 5},
		core.Interaction{UserID: 2, ItemID: 3, Rating: 4},
		core.Interaction{UserID: 3, ItemID: 1, Rating: 5},
		core.Interaction{UserID: 3, ItemID: 3, Rating: 2},
		core.Interaction{UserID: 3, ItemID: 4, Rating: 5},
		core.Interaction{UserID: 4, ItemID: 5, Rating: 3},
		core.Interaction{UserID: 4, ItemID: 6, Rating: 3},
		core.Interaction{UserID: 4, ItemID: 7, Rating: 3},
		core.Interaction{UserID: 4, ItemID: 8, Rating: 3},
	)
}

func TestUserBasedCF_SquaredSimilarityWeighting(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	seedWeighted(repo)
	cf := &UserBasedCF{Interactions: repo}

	got, err := cf.Recall(ctx, 1, 2)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	s2 := 50 / (math.Sqrt(50) * math.Sqrt(66))
	s3 := 25 / (math.Sqrt(50) * math.Sqrt(54))
	want3 := (4*s2*s2 + 2*s3*s3) / (s2*s2 + s3*s3) / 5

	if want := []int64{4, 3}; !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("items = %v, want %v (items only rated by a zero-similarity user are dropped)", ids(got), want)
	}
	if math.Abs(got[0].Score-1.0) > eps {
		t.Errorf("item 4 score = %v, want 1.0", got[0].Score)
	}
	if math.Abs(got[1].Score-want3) > eps {
		t.Errorf("item 3 score = %v, want %v", got[1].Score, want3)
	}
}

func TestUserBasedCF_TopUp(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	seedWeighted(repo)
	for i := int64(1); i <= 8; i++ {
		repo.PutItems(core.CatalogItem{ID: i, Popularity: float64(i) / 10})
	}
	cf := &UserBasedCF{
		Interactions: repo,
		Content:      &ContentRecall{Catalog: repo, Preferences: repo, Interactions: repo},
		Popular:      &Popular{Catalog: repo},
	}

	got, err := cf.Recall(ctx, 1, 5)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	// 内容源数据不足被跳过；热门补齐 8,7,6（排除已评分 1,2 和已有 3,4）
	if want := []int64{4, 3, 8, 7, 6}; !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("items = %v, want %v", ids(got), want)
	}
	if math.Abs(got[2].Score-0.9*0.7) > eps {
		t.Errorf("popular top-up score = %v, want 0.63", got[2].Score)
	}
}

func TestUserBasedCF_Filter(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	seedWeighted(repo)
	for i := int64(1); i <= 8; i++ {
		repo.PutItems(core.CatalogItem{ID: i})
	}
	cf := &UserBasedCF{Interactions: repo, Catalog: repo, Filter: func(it core.CatalogItem) bool { return it.ID != 4 }}

	got, err := cf.Recall(ctx, 1, 2)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if want := []int64{3}; !reflect.DeepEqual(ids(got), want) {
		t.Errorf("items = %v, want %v", ids(got), want)
	}
}

func TestUserBasedCF_InsufficientData(t *testing.T) {
	ctx := context.Background()

	sparse := repository.NewMemoryRepository()
	sparse.PutInteractions(core.Interaction{UserID: 1, ItemID: 1, Rating: 5})

	dense := repository.NewMemoryRepository()
	seedWeighted(dense)

	tests := []struct {
		name   string
		repo   *repository.MemoryRepository
		userID int64
	}{
		{name: "fewer than 10 interactions", repo: sparse, userID: 1},
		{name: "cold start user", repo: dense, userID: 999},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := (&UserBasedCF{Interactions: tt.repo}).Recall(ctx, tt.userID, 10)
			if !core.IsInsufficientData(err) {
				t.Errorf("err = %v, want InsufficientData", err)
			}
		})
	}
}

func newContentRepo() *repository.MemoryRepository {
	repo := repository.NewMemoryRepository()
	repo.PutItems(
		core.CatalogItem{ID: 1, TypeID: 1, RatingAvg: 5, Popularity: 0.1},
		core.CatalogItem{ID: 2, TypeID: 1},
		core.CatalogItem{ID: 3, TypeID: 2},
		core.CatalogItem{ID: 4, TypeID: 1, RatingAvg: 4, Popularity: 0.5},
		core.CatalogItem{ID: 5, TypeID: 1, Popularity: 0.2},
		core.CatalogItem{ID: 6, TypeID: 3, RatingAvg: 5, Popularity: 3},
	)
	return repo
}

func TestContentRecall_Preferences(t *testing.T) {
	ctx := context.Background()
	repo := newContentRepo()
	repo.PutPreference(9, 1, 50)
	repo.PutPreference(9, 2, 40)
	repo.PutPreference(9, 3, 30)
	repo.PutInteractions(core.Interaction{UserID: 9, ItemID: 1, Rating: 5})

	got, err := (&ContentRecall{Catalog: repo, Preferences: repo, Interactions: repo}).Recall(ctx, 9, 10)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	// 偏好类型 {1,2}，已评分的 1 被排除，类型 3 的条目不参与
	want := []core.Scored{
		{ItemID: 4, Score: 0.5 + 0.3*0.8 + 0.2*0.5},
		{ItemID: 5, Score: 0.5 + 0.3*0.5 + 0.2*0.2},
		{ItemID: 2, Score: 0.65},
		{ItemID: 3, Score: 0.65},
	}
	if len(got) != len(want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i].ItemID != want[i].ItemID || math.Abs(got[i].Score-want[i].Score) > eps {
			t.Errorf("got[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestContentRecall_BrowseFallbackAndClamp(t *testing.T) {
	ctx := context.Background()
	repo := newContentRepo()
	repo.PutPreference(10, 1, 99) // 只有 1 条偏好，不够
	repo.RecordBrowse(10, 6, 5)
	repo.RecordBrowse(10, 3, 2)
	repo.RecordBrowse(10, 2, 1)

	got, err := (&ContentRecall{Catalog: repo, Preferences: repo, Interactions: repo}).Recall(ctx, 10, 1)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(got) != 1 || got[0].ItemID != 6 {
		t.Fatalf("got %+v, want item 6 first", got)
	}
	if got[0].Score != 1 {
		t.Errorf("score = %v, want clamped to 1", got[0].Score)
	}
}

func TestContentRecall_InsufficientData(t *testing.T) {
	ctx := context.Background()
	repo := newContentRepo()
	repo.PutPreference(11, 1, 50)
	repo.PutPreference(11, 2, 50)
	repo.RecordBrowse(11, 3, 1)

	_, err := (&ContentRecall{Catalog: repo, Preferences: repo, Interactions: repo}).Recall(ctx, 11, 10)
	if !core.IsInsufficientData(err) {
		t.Errorf("err = %v, want InsufficientData", err)
	}
}

type stubSource struct {
	name  string
	out   []core.Scored
	err   error
	panic bool
	calls atomic.Int32
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Recall(ctx context.Context, userID int64, limit int) ([]core.Scored, error) {
	s.calls.Add(1)
	if s.panic {
		panic("boom")
	}
	return core.TopN(s.out, limit), s.err
}

func TestGuarded(t *testing.T) {
	ctx := context.Background()

	t.Run("passes results through", func(t *testing.T) {
		src := &stubSource{name: "ok", out: []core.Scored{{ItemID: 1, Score: 0.5}}}
		got, err := NewGuarded(src).Recall(ctx, 1, 10)
		if err != nil || len(got) != 1 {
			t.Errorf("got %v, %v", got, err)
		}
	})

	t.Run("configuration error reaches caller", func(t *testing.T) {
		src := &stubSource{name: "cfg", err: core.NewConfigurationError(core.ModuleRecall, "bad")}
		if _, err := NewGuarded(src).Recall(ctx, 1, 10); !core.IsConfigurationError(err) {
			t.Errorf("err = %v, want ConfigurationError", err)
		}
	})

	tests := []struct {
		name   string
		src    *stubSource
		reason string
	}{
		{name: "insufficient data", src: &stubSource{name: "a", err: core.NewInsufficientData(core.ModuleRecall, "x")}, reason: ReasonInsufficientData},
		{name: "model unavailable", src: &stubSource{name: "b", err: core.NewModelUnavailable("x")}, reason: ReasonModelUnavailable},
		{name: "panic", src: &stubSource{name: "c", panic: true}, reason: ReasonPanic},
		{name: "plain error", src: &stubSource{name: "d", err: errors.New("db down")}, reason: ReasonError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotReason string
			g := NewGuarded(tt.src, WithFallbackHook(func(_, reason string) { gotReason = reason }))
			out, err := g.Recall(ctx, 1, 10)
			if err != nil || out != nil {
				t.Errorf("got %v, %v, want empty result", out, err)
			}
			if gotReason != tt.reason {
				t.Errorf("reason = %q, want %q", gotReason, tt.reason)
			}
		})
	}
}

func TestGuarded_Breaker(t *testing.T) {
	ctx := context.Background()

	failing := &stubSource{name: "failing", err: errors.New("db down")}
	var reasons []string
	g := NewGuarded(failing, WithFailureThreshold(2), WithFallbackHook(func(_, r string) { reasons = append(reasons, r) }))
	for i := 0; i < 3; i++ {
		_, _ = g.Recall(ctx, 1, 10)
	}
	if n := failing.calls.Load(); n != 2 {
		t.Errorf("source called %d times, want 2 before the breaker opens", n)
	}
	if want := []string{ReasonError, ReasonError, ReasonBreakerOpen}; !reflect.DeepEqual(reasons, want) {
		t.Errorf("reasons = %v, want %v", reasons, want)
	}

	// 数据不足是正常状态，不应触发熔断
	sparse := &stubSource{name: "sparse", err: core.NewInsufficientData(core.ModuleRecall, "x")}
	g = NewGuarded(sparse, WithFailureThreshold(1))
	for i := 0; i < 3; i++ {
		_, _ = g.Recall(ctx, 1, 10)
	}
	if n := sparse.calls.Load(); n != 3 {
		t.Errorf("source called %d times, want 3", n)
	}
}

type fakeModel struct {
	available bool
	out       []core.Scored
}

func (m *fakeModel) Available() bool { return m.available }

func (m *fakeModel) GetRecommendations(ctx context.Context, userID int64, limit int, excludeRated bool) ([]core.Scored, error) {
	return core.TopN(m.out, limit), nil
}

func TestModelRecall(t *testing.T) {
	ctx := context.Background()

	r := &ModelRecall{Model: &fakeModel{}}
	if _, err := r.Recall(ctx, 1, 5); !core.IsModelUnavailable(err) {
		t.Errorf("err = %v, want ModelUnavailable", err)
	}

	r = &ModelRecall{Model: &fakeModel{available: true, out: []core.Scored{{ItemID: 1, Score: 0.9}, {ItemID: 2, Score: 0.1}}}}
	got, err := r.Recall(ctx, 1, 1)
	if err != nil || len(got) != 1 || got[0].ItemID != 1 {
		t.Errorf("got %v, %v", got, err)
	}
}

func TestFanout(t *testing.T) {
	ctx := context.Background()
	cf := &stubSource{name: "cf", out: []core.Scored{{ItemID: 1, Score: 1.0}, {ItemID: 2, Score: 0.5}}}
	content := &stubSource{name: "content", out: []core.Scored{{ItemID: 2, Score: 1.0}, {ItemID: 3, Score: 0.9}}}
	broken := &stubSource{name: "broken", err: errors.New("down")}

	f := &Fanout{
		Sources: []Weighted{
			{Source: cf, Weight: 0.6},
			{Source: content, Weight: 0.4},
			{Source: broken, Weight: 0.3},
		},
		MaxConcurrent: 2,
	}
	got, err := f.Recall(ctx, 1, 10)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	// item2 = 0.5·0.6 + 1.0·0.4 = 0.7；item1 = 0.6；item3 = 0.36
	want := []core.Scored{{ItemID: 2, Score: 0.7}, {ItemID: 1, Score: 0.6}, {ItemID: 3, Score: 0.36}}
	if len(got) != len(want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i].ItemID != want[i].ItemID || math.Abs(got[i].Score-want[i].Score) > eps {
			t.Errorf("got[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	// 并发结果与顺序融合一致
	seq := Merge(f.Sources, [][]core.Scored{cf.out, content.out, nil}, 10)
	if !reflect.DeepEqual(got, seq) {
		t.Errorf("concurrent %+v != sequential %+v", got, seq)
	}

	t.Run("configuration error aborts", func(t *testing.T) {
		bad := &stubSource{name: "bad", err: core.NewConfigurationError(core.ModuleRecall, "x")}
		f := &Fanout{Sources: []Weighted{{Source: cf, Weight: 1}, {Source: bad, Weight: 1}}}
		if _, err := f.Recall(ctx, 1, 10); !core.IsConfigurationError(err) {
			t.Errorf("err = %v, want ConfigurationError", err)
		}
	})
}
