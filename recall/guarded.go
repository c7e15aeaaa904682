package recall

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/rushteam/animerec/core"
)

// 降级原因，用于日志和监控标签。
const (
	ReasonInsufficientData = "insufficient_data"
	ReasonModelUnavailable = "model_unavailable"
	ReasonBreakerOpen      = "breaker_open"
	ReasonPanic            = "panic"
	ReasonError            = "error"
)

// Guarded 给打分源加上故障隔离：panic 恢复 + 熔断。
//
// 除 CONFIGURATION_ERROR 外的所有错误都被吞掉，返回空结果，并通过 OnFallback 上报原因。
// 领域错误（数据不足、模型不可用）属于正常状态，不计入熔断失败数；
// 存储故障、panic 等意外错误连续达到阈值后熔断，熔断期间直接返回空结果。
type Guarded struct {
	source     Source
	breaker    *gobreaker.CircuitBreaker[[]core.Scored]
	logger     *zap.Logger
	onFallback func(source, reason string)
}

// GuardOption 配置 Guarded。
type GuardOption func(*guardConfig)

type guardConfig struct {
	failureThreshold uint32
	openTimeout      time.Duration
	logger           *zap.Logger
	onFallback       func(source, reason string)
}

// WithFailureThreshold 设置连续失败多少次后熔断，默认 5。
func WithFailureThreshold(n uint32) GuardOption {
	return func(c *guardConfig) {
		if n > 0 {
			c.failureThreshold = n
		}
	}
}

// WithOpenTimeout 设置熔断后多久进入半开，默认 30s。
func WithOpenTimeout(d time.Duration) GuardOption {
	return func(c *guardConfig) {
		if d > 0 {
			c.openTimeout = d
		}
	}
}

func WithGuardLogger(l *zap.Logger) GuardOption {
	return func(c *guardConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithFallbackHook 在每次吞掉错误时回调，参数为打分源名称和降级原因。
func WithFallbackHook(fn func(source, reason string)) GuardOption {
	return func(c *guardConfig) { c.onFallback = fn }
}

// NewGuarded 包装一个打分源。
func NewGuarded(src Source, opts ...GuardOption) *Guarded {
	cfg := guardConfig{
		failureThreshold: 5,
		openTimeout:      30 * time.Second,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger.With(zap.String("source", src.Name()))

	settings := gobreaker.Settings{
		Name:    src.Name(),
		Timeout: cfg.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("scorer breaker state changed",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || core.IsDomainError(err)
		},
	}
	return &Guarded{
		source:     src,
		breaker:    gobreaker.NewCircuitBreaker[[]core.Scored](settings),
		logger:     logger,
		onFallback: cfg.onFallback,
	}
}

func (g *Guarded) Name() string { return g.source.Name() }

// Unwrap 返回被包装的打分源。
func (g *Guarded) Unwrap() Source { return g.source }

// Recall 调用被包装的打分源；只有 CONFIGURATION_ERROR 会返回给调用方。
func (g *Guarded) Recall(ctx context.Context, userID int64, limit int) ([]core.Scored, error) {
	out, err := g.breaker.Execute(func() (res []core.Scored, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &panicError{value: r}
			}
		}()
		return g.source.Recall(ctx, userID, limit)
	})
	if err == nil {
		return out, nil
	}
	if core.IsConfigurationError(err) {
		return nil, err
	}

	reason := fallbackReason(err)
	fields := []zap.Field{zap.Int64("user_id", userID), zap.String("reason", reason), zap.Error(err)}
	switch reason {
	case ReasonInsufficientData, ReasonModelUnavailable:
		g.logger.Info("scorer fell back", fields...)
	default:
		g.logger.Warn("scorer failed", fields...)
	}
	if g.onFallback != nil {
		g.onFallback(g.source.Name(), reason)
	}
	return nil, nil
}

type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprintf("scorer panic: %v", e.value) }

func fallbackReason(err error) string {
	var p *panicError
	switch {
	case core.IsInsufficientData(err):
		return ReasonInsufficientData
	case core.IsModelUnavailable(err):
		return ReasonModelUnavailable
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return ReasonBreakerOpen
	case errors.As(err, &p):
		return ReasonPanic
	default:
		return ReasonError
	}
}
