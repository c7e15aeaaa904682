package core

// ExternalItem 是外部参考数据集中的条目元数据（独立 ID 空间）。
type ExternalItem struct {
	ID       int64    `json:"id"`
	Title    string   `json:"title"`
	Genres   []string `json:"genres,omitempty"`
	Type     string   `json:"type,omitempty"`
	Episodes int      `json:"episodes"`
	Members  int      `json:"members"`
	Rating   float64  `json:"rating"` // 数据集自带的条目评分，0-10
}

// ExternalRating 是外部数据集的一条用户评分，原生刻度 1-10。
type ExternalRating struct {
	UserID int64   `json:"user_id"`
	ItemID int64   `json:"item_id"`
	Rating float64 `json:"rating"`
}

// ExternalDataset 是外部数据加载器交付的两张表。
type ExternalDataset struct {
	Items   []ExternalItem
	Ratings []ExternalRating
}

// ItemIndex 按 ID 索引条目元数据。
func (d ExternalDataset) ItemIndex() map[int64]ExternalItem {
	idx := make(map[int64]ExternalItem, len(d.Items))
	for _, it := range d.Items {
		idx[it.ID] = it
	}
	return idx
}
