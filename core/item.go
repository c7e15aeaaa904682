package core

import (
	"sort"
	"time"
)

// CatalogItem 是目录条目（一部动漫）的只读快照。
// 聚合字段（热度、评分均值、计数等）由外部协作方在每次交互后更新，核心只读取。
type CatalogItem struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	Popularity    float64 `json:"popularity"`     // >= 0，通常已归一化到 [0,1]
	RatingAvg     float64 `json:"rating_avg"`     // [0,5]
	RatingCount   int     `json:"rating_count"`   // >= 0
	FavoriteCount int     `json:"favorite_count"` // >= 0
	ViewCount     int     `json:"view_count"`     // >= 0
	Completed     bool    `json:"completed"`
	Featured      bool    `json:"featured"`
	TypeID        int64   `json:"type_id"`
}

// Interaction 是一条用户评分。同一 (user, item) 只保留一条，新评分覆盖旧值。
type Interaction struct {
	UserID    int64     `json:"user_id"`
	ItemID    int64     `json:"item_id"`
	Rating    float64   `json:"rating"` // [1,5]
	Timestamp time.Time `json:"timestamp"`
}

// Preference 是用户对某条目的显式偏好值（越大越喜欢）。
type Preference struct {
	UserID int64   `json:"user_id"`
	ItemID int64   `json:"item_id"`
	Value  float64 `json:"value"`
}

// Browse 是用户浏览记录。
type Browse struct {
	UserID int64 `json:"user_id"`
	ItemID int64 `json:"item_id"`
	Count  int   `json:"count"`
}

// Scored 是推荐链路中的统一输出：条目 ID + 分数。
type Scored struct {
	ItemID int64   `json:"item_id"`
	Score  float64 `json:"score"`
}

// SortScored 按分数降序排序，分数相同时 ItemID 小的在前，保证结果确定。
func SortScored(items []Scored) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ItemID < items[j].ItemID
	})
}

// TopN 截取前 n 个；n <= 0 或 n >= len 时原样返回。
func TopN(items []Scored, n int) []Scored {
	if n <= 0 || len(items) <= n {
		return items
	}
	return items[:n]
}

// ClampScore 把分数限制在 [0,1]。
func ClampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
