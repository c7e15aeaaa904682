package feedback

import (
	"context"

	"go.uber.org/zap"

	"github.com/rushteam/animerec/core"
	"github.com/rushteam/animerec/metrics"
)

// Ingestor 接收一条已校验的评分。*engine.Engine 实现了该接口。
type Ingestor interface {
	UpsertInteraction(ctx context.Context, userID, itemID int64, rating float64) error
}

// Handler 把事件负载应用到 Ingestor。
type Handler struct {
	ingestor Ingestor
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

type HandlerOption func(*Handler)

func WithHandlerLogger(l *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithHandlerMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

func NewHandler(ingestor Ingestor, opts ...HandlerOption) *Handler {
	h := &Handler{ingestor: ingestor, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle 处理一条负载。
// 无法解码或校验失败的事件直接丢弃并返回 nil；写入失败时返回错误，由调用方决定是否重试。
func (h *Handler) Handle(ctx context.Context, payload []byte) error {
	ev, err := DecodeRatingEvent(payload)
	if err != nil {
		h.metrics.Feedback("invalid")
		h.logger.Warn("dropping invalid rating event", zap.Error(err))
		return nil
	}
	return h.Apply(ctx, ev)
}

// Apply 写入一条已解码的事件。
func (h *Handler) Apply(ctx context.Context, ev RatingEvent) error {
	if err := ev.Validate(); err != nil {
		h.metrics.Feedback("invalid")
		return err
	}
	if err := h.ingestor.UpsertInteraction(ctx, ev.UserID, ev.ItemID, ev.Rating); err != nil {
		if core.IsNotFound(err) {
			// 条目已下架，重试无意义
			h.metrics.Feedback("invalid")
			h.logger.Warn("rating event for unknown item",
				zap.String("event_id", ev.EventID), zap.Int64("item_id", ev.ItemID))
			return nil
		}
		h.metrics.Feedback("failed")
		return err
	}
	h.metrics.Feedback("ok")
	h.logger.Debug("rating event applied",
		zap.String("event_id", ev.EventID),
		zap.Int64("user_id", ev.UserID),
		zap.Int64("item_id", ev.ItemID),
		zap.Float64("rating", ev.Rating))
	return nil
}
