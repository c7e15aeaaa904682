package filter

import (
	"context"
	"fmt"

	"github.com/rushteam/animerec/core"
	"github.com/rushteam/animerec/pkg/dsl"
)

// ExprFilter 用 CEL 表达式描述保留条件，例如 `item.featured || item.rating_avg >= 3.0`。
// 表达式为 true 的条目保留，其余过滤掉。
type ExprFilter struct {
	expr *dsl.Expr
}

// NewExprFilter 编译表达式；表达式非法或结果不是布尔值时返回 CONFIGURATION_ERROR。
func NewExprFilter(expr string) (*ExprFilter, error) {
	e, err := dsl.Compile(expr)
	if err != nil {
		return nil, core.NewConfigurationError(core.ModuleConfig,
			fmt.Sprintf("catalog filter %q: %v", expr, err))
	}
	return &ExprFilter{expr: e}, nil
}

func (f *ExprFilter) Name() string {
	return "filter.expr"
}

// Expr 返回原始表达式。
func (f *ExprFilter) Expr() string { return f.expr.String() }

func (f *ExprFilter) ShouldFilter(_ context.Context, item core.CatalogItem) (bool, error) {
	keep, err := f.expr.Match(item)
	if err != nil {
		return false, err
	}
	return !keep, nil
}
