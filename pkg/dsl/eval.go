package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/animerec/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

// getCELEnv 获取或创建 CEL 环境
func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("item", cel.DynType),
		)
	})
	return celEnv, celEnvErr
}

// Expr 是编译好的目录过滤表达式，使用 CEL (Common Expression Language)。
// 编译一次，可并发多次求值。
//
// 表达式语法（CEL 标准语法），item 的字段见 ItemVars：
//   - 基础：item.featured / item.completed == false
//   - 数值：item.rating_avg >= 3.0 / item.rating_count > 10
//   - 逻辑：item.featured || item.rating_avg >= 3.0
//   - 包含：item.title.contains("Gundam") / item.type_id in [1, 2]
type Expr struct {
	src string
	prg cel.Program
}

// Compile 编译表达式，并用零值条目试算一次，确保结果为布尔值。
func Compile(expr string) (*Expr, error) {
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error: %w", err)
	}
	e := &Expr{src: expr, prg: prg}
	if _, err := e.Match(core.CatalogItem{}); err != nil {
		return nil, err
	}
	return e, nil
}

// String 返回原始表达式。
func (e *Expr) String() string { return e.src }

// Match 对条目求值。
func (e *Expr) Match(item core.CatalogItem) (bool, error) {
	out, _, err := e.prg.Eval(map[string]any{"item": ItemVars(item)})
	if err != nil {
		return false, fmt.Errorf("eval error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression must return boolean, got %T", out.Value())
	}
	return result, nil
}

// ItemVars 构建 CEL 表达式中 item 变量的取值。
func ItemVars(item core.CatalogItem) map[string]any {
	return map[string]any{
		"id":             item.ID,
		"title":          item.Title,
		"popularity":     item.Popularity,
		"rating_avg":     item.RatingAvg,
		"rating_count":   int64(item.RatingCount),
		"favorite_count": int64(item.FavoriteCount),
		"view_count":     int64(item.ViewCount),
		"completed":      item.Completed,
		"featured":       item.Featured,
		"type_id":        item.TypeID,
	}
}
