package feature

import (
	"github.com/rushteam/animerec/core"
)

// LocalFeatureDim 是本地特征向量长度。
const LocalFeatureDim = 10

// LocalFeatureNames 与 LocalFeatureBuilder.Vector 的列顺序一致。
var LocalFeatureNames = []string{
	"user_enc", "user_rating_count", "item_enc",
	"popularity", "rating_avg", "rating_count", "favorite_count", "view_count",
	"completed", "featured",
}

// LocalFeatureBuilder 从本地评分与目录聚合构造特征。
// 编码器在训练时拟合并随模型一起持久化，预测时用同一份编码。
type LocalFeatureBuilder struct {
	Users *LabelEncoder `json:"users"`
	Items *LabelEncoder `json:"items"`
}

// FitLocal 用训练评分拟合用户/条目编码器。
func FitLocal(interactions []core.Interaction) *LocalFeatureBuilder {
	users := make([]int64, len(interactions))
	items := make([]int64, len(interactions))
	for i, in := range interactions {
		users[i] = in.UserID
		items[i] = in.ItemID
	}
	return &LocalFeatureBuilder{
		Users: FitLabelEncoder(users),
		Items: FitLabelEncoder(items),
	}
}

// Vector 构造单个 (user, item) 特征向量（未标准化）。
// item 不在目录中时传零值 CatalogItem，聚合特征全部为 0。
func (b *LocalFeatureBuilder) Vector(userID int64, userRatingCount int, item core.CatalogItem) []float64 {
	return []float64{
		float64(b.Users.Encode(userID)),
		float64(userRatingCount),
		float64(b.Items.Encode(item.ID)),
		item.Popularity,
		item.RatingAvg,
		float64(item.RatingCount),
		float64(item.FavoriteCount),
		float64(item.ViewCount),
		boolFeature(item.Completed),
		boolFeature(item.Featured),
	}
}

// Build 构造训练矩阵，目标为原始评分。
func (b *LocalFeatureBuilder) Build(interactions []core.Interaction, catalog map[int64]core.CatalogItem) ([][]float64, []float64) {
	counts := UserRatingCounts(interactions)
	X := make([][]float64, len(interactions))
	y := make([]float64, len(interactions))
	for i, in := range interactions {
		item, ok := catalog[in.ItemID]
		if !ok {
			item = core.CatalogItem{ID: in.ItemID}
		}
		X[i] = b.Vector(in.UserID, counts[in.UserID], item)
		y[i] = in.Rating
	}
	return X, y
}

// UserRatingCounts 统计每个用户的评分条数。
func UserRatingCounts(interactions []core.Interaction) map[int64]int {
	counts := make(map[int64]int)
	for _, in := range interactions {
		counts[in.UserID]++
	}
	return counts
}

func boolFeature(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
