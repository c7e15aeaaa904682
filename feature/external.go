package feature

import (
	"github.com/rushteam/animerec/core"
)

const (
	// ExternalTopGenres 是 one-hot 保留的 genre 数。
	ExternalTopGenres = 10
	// ExternalRatingScale 是外部数据集评分的原生刻度上限。
	ExternalRatingScale = 10.0
)

// ExternalFeatureBuilder 为外部参考数据集构造特征：
//
//	user_enc, item_enc, type_code, episodes, members, item_rating,
//	genre one-hot (top 10),
//	user_rating_count, user_rating_mean, user_rating_std,
//	item_rating_count, item_rating_mean, item_rating_std
//
// 拟合后的状态（编码器、genre 词表、统计量、条目元数据）随模型持久化，
// 预测时不再需要原始数据集。
type ExternalFeatureBuilder struct {
	Users  *LabelEncoder    `json:"users"`
	Items  *LabelEncoder    `json:"items"`
	Types  *CategoryEncoder `json:"types"`
	Genres []string         `json:"genres"`

	UserStats  map[int64]RatingStats       `json:"user_stats"`
	ItemStats  map[int64]RatingStats       `json:"item_stats"`
	GlobalUser RatingStats                 `json:"global_user"`
	ItemMeta   map[int64]core.ExternalItem `json:"item_meta"`
}

// FitExternal 从数据集拟合构造器。ds.Ratings 应已去掉 <=0 的评分。
func FitExternal(ds core.ExternalDataset) *ExternalFeatureBuilder {
	meta := ds.ItemIndex()

	users := make([]int64, len(ds.Ratings))
	items := make([]int64, len(ds.Ratings))
	types := make([]string, 0, len(ds.Ratings))
	genreRows := make([][]string, 0, len(ds.Ratings))
	byUser := make(map[int64][]float64)
	byItem := make(map[int64][]float64)
	for i, r := range ds.Ratings {
		users[i] = r.UserID
		items[i] = r.ItemID
		m := meta[r.ItemID]
		types = append(types, m.Type)
		genreRows = append(genreRows, m.Genres)
		byUser[r.UserID] = append(byUser[r.UserID], r.Rating)
		byItem[r.ItemID] = append(byItem[r.ItemID], r.Rating)
	}

	b := &ExternalFeatureBuilder{
		Users:     FitLabelEncoder(users),
		Items:     FitLabelEncoder(items),
		Types:     FitCategoryEncoder(types),
		Genres:    TopGenres(genreRows, ExternalTopGenres),
		UserStats: make(map[int64]RatingStats, len(byUser)),
		ItemStats: make(map[int64]RatingStats, len(byItem)),
		ItemMeta:  meta,
	}
	all := make([]RatingStats, 0, len(byUser))
	for u, rs := range byUser {
		st := ComputeRatingStats(rs)
		b.UserStats[u] = st
		all = append(all, st)
	}
	for it, rs := range byItem {
		b.ItemStats[it] = ComputeRatingStats(rs)
	}
	b.GlobalUser = MeanStats(all)
	return b
}

// Dim 返回特征向量长度。
func (b *ExternalFeatureBuilder) Dim() int {
	return 6 + len(b.Genres) + 6
}

// Vector 构造 (外部用户, 外部条目) 的特征向量（未标准化）。
// 未知用户使用编码 0 与全局平均统计量；未知条目的元数据和统计量为 0。
func (b *ExternalFeatureBuilder) Vector(userID, itemID int64) []float64 {
	us, ok := b.UserStats[userID]
	if !ok {
		us = b.GlobalUser
	}
	return b.vector(b.Users.Encode(userID), us, itemID)
}

// ColdUserVector 构造外部数据集中不存在的用户对 itemID 的特征向量。
// 本地用户与外部数据集不共享 ID 空间，跨源预测统一走这里。
func (b *ExternalFeatureBuilder) ColdUserVector(itemID int64) []float64 {
	return b.vector(UnknownIndex, b.GlobalUser, itemID)
}

func (b *ExternalFeatureBuilder) vector(userEnc int, us RatingStats, itemID int64) []float64 {
	m := b.ItemMeta[itemID]
	is := b.ItemStats[itemID]

	v := make([]float64, 0, b.Dim())
	v = append(v,
		float64(userEnc),
		float64(b.Items.Encode(itemID)),
		float64(b.Types.Encode(m.Type)),
		float64(m.Episodes),
		float64(m.Members),
		m.Rating,
	)
	v = append(v, OneHot(b.Genres, m.Genres)...)
	v = append(v, us.Count, us.Mean, us.Std, is.Count, is.Mean, is.Std)
	return v
}

// HasItem 判断外部条目是否有元数据或评分。
func (b *ExternalFeatureBuilder) HasItem(itemID int64) bool {
	if _, ok := b.ItemMeta[itemID]; ok {
		return true
	}
	_, ok := b.ItemStats[itemID]
	return ok
}

// Build 构造训练矩阵，目标为 rating/10。
func (b *ExternalFeatureBuilder) Build(ratings []core.ExternalRating) ([][]float64, []float64) {
	X := make([][]float64, len(ratings))
	y := make([]float64, len(ratings))
	for i, r := range ratings {
		X[i] = b.Vector(r.UserID, r.ItemID)
		y[i] = r.Rating / ExternalRatingScale
	}
	return X, y
}
