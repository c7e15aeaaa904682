// Package feedback 处理评分反馈事件：解码、校验后写入引擎，
// 并提供基于 Kafka 的事件发布与消费。
package feedback

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/rushteam/animerec/core"
)

// RatingEvent 是一条评分事件。
type RatingEvent struct {
	EventID    string    `json:"event_id"`
	UserID     int64     `json:"user_id"`
	ItemID     int64     `json:"item_id"`
	Rating     float64   `json:"rating"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewRatingEvent 创建带随机 ID 的评分事件。
func NewRatingEvent(userID, itemID int64, rating float64) RatingEvent {
	return RatingEvent{
		EventID:    uuid.NewString(),
		UserID:     userID,
		ItemID:     itemID,
		Rating:     rating,
		OccurredAt: time.Now().UTC(),
	}
}

// Validate 校验 ID 为正、评分在 [1,5]。
func (e RatingEvent) Validate() error {
	if e.UserID <= 0 || e.ItemID <= 0 {
		return core.NewConfigurationError(core.ModuleEngine,
			fmt.Sprintf("rating event: invalid ids user=%d item=%d", e.UserID, e.ItemID))
	}
	if e.Rating < core.MinRating || e.Rating > core.MaxRating {
		return core.NewConfigurationError(core.ModuleEngine,
			fmt.Sprintf("rating event: rating %v out of range [1,5]", e.Rating))
	}
	return nil
}

func (e RatingEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeRatingEvent 解码并校验事件。
func DecodeRatingEvent(payload []byte) (RatingEvent, error) {
	var e RatingEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return RatingEvent{}, core.NewConfigurationError(core.ModuleEngine, fmt.Sprintf("rating event: %v", err))
	}
	if err := e.Validate(); err != nil {
		return RatingEvent{}, err
	}
	return e, nil
}
