package filter

import (
	"context"
	"testing"

	"github.com/rushteam/animerec/core"
)

func TestExprFilter(t *testing.T) {
	ctx := context.Background()
	f, err := NewExprFilter("item.featured || item.rating_avg >= 3.0")
	if err != nil {
		t.Fatalf("NewExprFilter: %v", err)
	}

	tests := []struct {
		name       string
		item       core.CatalogItem
		wantFilter bool
	}{
		{name: "featured low rating", item: core.CatalogItem{ID: 1, Featured: true, RatingAvg: 1}, wantFilter: false},
		{name: "well rated", item: core.CatalogItem{ID: 2, RatingAvg: 3.5}, wantFilter: false},
		{name: "neither", item: core.CatalogItem{ID: 3, RatingAvg: 2.9}, wantFilter: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.ShouldFilter(ctx, tt.item)
			if err != nil {
				t.Fatalf("ShouldFilter: %v", err)
			}
			if got != tt.wantFilter {
				t.Errorf("ShouldFilter = %v, want %v", got, tt.wantFilter)
			}
		})
	}
}

func TestNewExprFilter_Invalid(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{name: "syntax error", expr: "item.featured ||"},
		{name: "not boolean", expr: "item.rating_avg + 1.0"},
		{name: "unknown variable", expr: "user.id == 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewExprFilter(tt.expr); !core.IsConfigurationError(err) {
				t.Errorf("err = %v, want ConfigurationError", err)
			}
		})
	}
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	if Chain(ctx) != nil {
		t.Error("empty chain should not filter")
	}

	expr, err := NewExprFilter("item.rating_avg >= 3.0")
	if err != nil {
		t.Fatalf("NewExprFilter: %v", err)
	}
	keep := Chain(ctx, expr, NewBlacklistFilter([]int64{2}), nil)

	tests := []struct {
		item core.CatalogItem
		want bool
	}{
		{item: core.CatalogItem{ID: 1, RatingAvg: 4}, want: true},
		{item: core.CatalogItem{ID: 2, RatingAvg: 4}, want: false},
		{item: core.CatalogItem{ID: 3, RatingAvg: 1}, want: false},
	}
	for _, tt := range tests {
		if got := keep(tt.item); got != tt.want {
			t.Errorf("keep(%d) = %v, want %v", tt.item.ID, got, tt.want)
		}
	}
}
