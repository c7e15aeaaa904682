package feature

import (
	"math"
	"reflect"
	"testing"

	"github.com/goccy/go-json"

	"github.com/rushteam/animerec/core"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestLabelEncoder(t *testing.T) {
	e := FitLabelEncoder([]int64{30, 10, 20, 10})

	tests := []struct {
		name string
		id   int64
		want int
	}{
		{name: "smallest id", id: 10, want: 1},
		{name: "middle id", id: 20, want: 2},
		{name: "largest id", id: 30, want: 3},
		{name: "unknown id uses bucket 0", id: 99, want: UnknownIndex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Encode(tt.id); got != tt.want {
				t.Errorf("Encode(%d) = %d, want %d", tt.id, got, tt.want)
			}
		})
	}

	if e.Len() != 3 {
		t.Errorf("Len = %d, want 3", e.Len())
	}

	var nilEnc *LabelEncoder
	if nilEnc.Encode(10) != UnknownIndex {
		t.Error("nil encoder should map everything to the unknown bucket")
	}
}

func TestLabelEncoder_JSONRoundTrip(t *testing.T) {
	e := FitLabelEncoder([]int64{5, 7})
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got LabelEncoder
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Encode(7) != 2 || got.Encode(8) != UnknownIndex {
		t.Errorf("decoded encoder Encode(7)=%d Encode(8)=%d", got.Encode(7), got.Encode(8))
	}
}

func TestCategoryEncoder(t *testing.T) {
	e := FitCategoryEncoder([]string{"TV", "Movie", "", "OVA", "TV"})
	tests := []struct {
		in   string
		want int
	}{
		{"Movie", 0},
		{"OVA", 1},
		{"TV", 2},
		{"", -1},
		{"Special", -1},
	}
	for _, tt := range tests {
		if got := e.Encode(tt.in); got != tt.want {
			t.Errorf("Encode(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestTopGenresAndOneHot(t *testing.T) {
	rows := [][]string{
		{"Action", "Comedy"},
		{"Action", "Drama"},
		{"Comedy"},
		{"Action"},
		{"Drama", "Romance"},
	}
	got := TopGenres(rows, 3)
	want := []string{"Action", "Comedy", "Drama"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("TopGenres = %v, want %v", got, want)
	}

	hot := OneHot(got, []string{"Drama", "Romance"})
	if !reflect.DeepEqual(hot, []float64{0, 0, 1}) {
		t.Errorf("OneHot = %v", hot)
	}
}

func TestStandardScaler(t *testing.T) {
	X := [][]float64{
		{1, 10, 5},
		{3, 10, 5},
		{5, 10, 5},
	}
	s, err := FitStandardScaler(X)
	if err != nil {
		t.Fatalf("FitStandardScaler: %v", err)
	}
	if !approx(s.Mean[0], 3) || !approx(s.Std[0], math.Sqrt(8.0/3.0)) {
		t.Errorf("col0 mean=%v std=%v", s.Mean[0], s.Std[0])
	}

	out := s.TransformRow([]float64{3, 12, 5})
	if !approx(out[0], 0) {
		t.Errorf("centered value = %v, want 0", out[0])
	}
	// 常数列只平移不缩放
	if !approx(out[1], 2) || !approx(out[2], 0) {
		t.Errorf("constant columns = %v, %v", out[1], out[2])
	}

	if _, err := FitStandardScaler(nil); err == nil {
		t.Error("empty matrix should fail")
	}
	if _, err := FitStandardScaler([][]float64{{1, 2}, {1}}); err == nil {
		t.Error("ragged matrix should fail")
	}
}

func TestComputeRatingStats(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want RatingStats
	}{
		{name: "empty", in: nil, want: RatingStats{}},
		{name: "single rating has zero std", in: []float64{8}, want: RatingStats{Count: 1, Mean: 8}},
		{name: "sample std", in: []float64{6, 8, 10}, want: RatingStats{Count: 3, Mean: 8, Std: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeRatingStats(tt.in)
			if !approx(got.Count, tt.want.Count) || !approx(got.Mean, tt.want.Mean) || !approx(got.Std, tt.want.Std) {
				t.Errorf("ComputeRatingStats = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLocalFeatureBuilder(t *testing.T) {
	interactions := []core.Interaction{
		{UserID: 1, ItemID: 100, Rating: 4},
		{UserID: 1, ItemID: 200, Rating: 5},
		{UserID: 2, ItemID: 100, Rating: 3},
	}
	catalog := map[int64]core.CatalogItem{
		100: {ID: 100, Popularity: 0.8, RatingAvg: 3.5, RatingCount: 2, FavoriteCount: 1, ViewCount: 10, Completed: true},
	}
	b := FitLocal(interactions)
	X, y := b.Build(interactions, catalog)

	if len(X) != 3 || len(y) != 3 {
		t.Fatalf("Build returned %d rows, %d targets", len(X), len(y))
	}
	for i, row := range X {
		if len(row) != LocalFeatureDim {
			t.Errorf("row %d has %d columns, want %d", i, len(row), LocalFeatureDim)
		}
	}
	want := []float64{1, 2, 1, 0.8, 3.5, 2, 1, 10, 1, 0}
	if !reflect.DeepEqual(X[0], want) {
		t.Errorf("row 0 = %v, want %v", X[0], want)
	}
	// 条目不在目录中时聚合特征为 0
	if X[1][3] != 0 || X[1][2] != 2 {
		t.Errorf("row 1 = %v", X[1])
	}
	if y[1] != 5 {
		t.Errorf("target = %v, want raw rating 5", y[1])
	}

	cold := b.Vector(42, 0, core.CatalogItem{ID: 999})
	if cold[0] != UnknownIndex || cold[2] != UnknownIndex {
		t.Errorf("cold start vector = %v, want unknown buckets", cold)
	}
}

func TestExternalFeatureBuilder(t *testing.T) {
	ds := core.ExternalDataset{
		Items: []core.ExternalItem{
			{ID: 1, Title: "A", Genres: []string{"Action"}, Type: "TV", Episodes: 12, Members: 1000, Rating: 8.1},
			{ID: 2, Title: "B", Genres: []string{"Comedy", "Action"}, Type: "Movie", Episodes: 1, Members: 500, Rating: 7.0},
		},
		Ratings: []core.ExternalRating{
			{UserID: 10, ItemID: 1, Rating: 8},
			{UserID: 10, ItemID: 2, Rating: 6},
			{UserID: 20, ItemID: 1, Rating: 10},
		},
	}
	b := FitExternal(ds)

	X, y := b.Build(ds.Ratings)
	if len(X) != 3 {
		t.Fatalf("rows = %d", len(X))
	}
	if got := len(X[0]); got != b.Dim() {
		t.Fatalf("dim = %d, want %d", got, b.Dim())
	}
	if !approx(y[2], 1.0) {
		t.Errorf("target = %v, want rating/10", y[2])
	}

	// 未知用户使用全局平均统计量
	v := b.Vector(999, 1)
	g := len(b.Genres)
	if v[0] != UnknownIndex {
		t.Errorf("unknown user enc = %v", v[0])
	}
	userCount, userMean := v[6+g], v[7+g]
	// user 10: count 2 mean 7；user 20: count 1 mean 10
	if !approx(userCount, 1.5) || !approx(userMean, 8.5) {
		t.Errorf("global user stats = (%v, %v), want (1.5, 8.5)", userCount, userMean)
	}

	if !b.HasItem(2) || b.HasItem(3) {
		t.Error("HasItem mismatch")
	}
}

func TestPopularityIndex(t *testing.T) {
	items := []core.CatalogItem{
		{ID: 1, RatingAvg: 5, RatingCount: 10, ViewCount: 100, FavoriteCount: 4},
		{ID: 2, RatingAvg: 2.5, RatingCount: 5, ViewCount: 50, FavoriteCount: 2},
		{ID: 3},
	}
	m := ScanCatalogMax(items)

	tests := []struct {
		item core.CatalogItem
		want float64
	}{
		{items[0], 1.0},
		{items[1], 0.5},
		{items[2], 0},
	}
	for _, tt := range tests {
		if got := PopularityIndex(tt.item, m); !approx(got, tt.want) {
			t.Errorf("PopularityIndex(%d) = %v, want %v", tt.item.ID, got, tt.want)
		}
	}

	// 空目录不会除零
	if got := ScanCatalogMax(nil); got.RatingCount != 1 || got.ViewCount != 1 || got.FavoriteCount != 1 {
		t.Errorf("ScanCatalogMax(nil) = %+v", got)
	}
}

func TestPreferenceValue(t *testing.T) {
	if got := PreferenceValue(5, true, 25); !approx(got, 80) {
		t.Errorf("PreferenceValue = %v, want 80", got)
	}
	if got := PreferenceValue(3, false, 2); !approx(got, 32) {
		t.Errorf("PreferenceValue = %v, want 32", got)
	}
}
