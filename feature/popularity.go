package feature

import "github.com/rushteam/animerec/core"

// CatalogMax 是目录级的最大计数，用于热度归一化。每项至少为 1。
type CatalogMax struct {
	RatingCount   int
	ViewCount     int
	FavoriteCount int
}

// ScanCatalogMax 计算目录中各计数的最大值。
func ScanCatalogMax(items []core.CatalogItem) CatalogMax {
	m := CatalogMax{RatingCount: 1, ViewCount: 1, FavoriteCount: 1}
	for _, it := range items {
		m.RatingCount = max(m.RatingCount, it.RatingCount)
		m.ViewCount = max(m.ViewCount, it.ViewCount)
		m.FavoriteCount = max(m.FavoriteCount, it.FavoriteCount)
	}
	return m
}

// PopularityIndex 计算热度指数，结果在 [0,1]：
//
//	0.4·rating_avg/5 + 0.3·rating_count/max + 0.2·view_count/max + 0.1·favorite_count/max
func PopularityIndex(item core.CatalogItem, m CatalogMax) float64 {
	return core.ClampScore(
		0.4*item.RatingAvg/core.MaxRating +
			0.3*ratio(item.RatingCount, m.RatingCount) +
			0.2*ratio(item.ViewCount, m.ViewCount) +
			0.1*ratio(item.FavoriteCount, m.FavoriteCount),
	)
}

// PreferenceValue 计算用户对条目的偏好值（0-90）：评分占 50，收藏 20，浏览最多 10。
// 评论和点赞不计入。
func PreferenceValue(rating float64, favorite bool, browseCount int) float64 {
	v := rating / core.MaxRating * 50
	if favorite {
		v += 20
	}
	v += float64(min(10, browseCount))
	return v
}

func ratio(v, maxV int) float64 {
	if maxV <= 0 {
		return 0
	}
	return float64(v) / float64(maxV)
}
