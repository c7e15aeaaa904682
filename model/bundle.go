package model

import (
	"fmt"
	"math"
	"time"

	"github.com/goccy/go-json"

	"github.com/rushteam/animerec/core"
	"github.com/rushteam/animerec/feature"
)

// BlobStore 中的模型文件名。
const (
	LocalBlobName    = "local_model.json"
	ExternalBlobName = "external_model.json"
	MappingBlobName  = "id_mapping.json"
)

// LocalBundle 是本地模型的持久化单元：编码器、标准化器、树模型一起保存和加载。
type LocalBundle struct {
	Builder   *feature.LocalFeatureBuilder `json:"builder"`
	Scaler    *feature.StandardScaler      `json:"scaler"`
	Model     *GBDTRegressor               `json:"model"`
	RMSE      float64                      `json:"rmse"`
	Samples   int                          `json:"samples"`
	TrainedAt time.Time                    `json:"trained_at"`
}

// Predict 返回 [1,5] 内的评分预测。
func (b *LocalBundle) Predict(userID int64, userRatingCount int, item core.CatalogItem) float64 {
	x := b.Scaler.TransformRow(b.Builder.Vector(userID, userRatingCount, item))
	return clampRating(b.Model.Predict(x))
}

func (b *LocalBundle) validate() error {
	if b.Builder == nil || b.Scaler == nil || b.Model == nil {
		return fmt.Errorf("local bundle incomplete")
	}
	if b.Model.NFeatures != 0 && b.Model.NFeatures != feature.LocalFeatureDim {
		return fmt.Errorf("local bundle has %d features, want %d", b.Model.NFeatures, feature.LocalFeatureDim)
	}
	return nil
}

// ExternalBundle 是外部模型的持久化单元。模型目标为 rating/10，预测时乘 5 回到 [1,5]。
type ExternalBundle struct {
	Builder   *feature.ExternalFeatureBuilder `json:"builder"`
	Scaler    *feature.StandardScaler         `json:"scaler"`
	Model     *GBDTRegressor                  `json:"model"`
	RMSE      float64                         `json:"rmse"`
	Samples   int                             `json:"samples"`
	TrainedAt time.Time                       `json:"trained_at"`
}

// PredictColdUser 对外部条目 externalItemID 预测一个外部数据集之外用户的评分，结果在 [1,5]。
func (b *ExternalBundle) PredictColdUser(externalItemID int64) float64 {
	x := b.Scaler.TransformRow(b.Builder.ColdUserVector(externalItemID))
	return clampRating(b.Model.Predict(x) * core.MaxRating)
}

func (b *ExternalBundle) validate() error {
	if b.Builder == nil || b.Scaler == nil || b.Model == nil {
		return fmt.Errorf("external bundle incomplete")
	}
	if b.Model.NFeatures != 0 && b.Model.NFeatures != b.Builder.Dim() {
		return fmt.Errorf("external bundle has %d features, want %d", b.Model.NFeatures, b.Builder.Dim())
	}
	return nil
}

func encodeBundle(v any) ([]byte, error) {
	return json.Marshal(v)
}

func decodeLocalBundle(data []byte) (*LocalBundle, error) {
	var b LocalBundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode local bundle: %w", err)
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

func decodeExternalBundle(data []byte) (*ExternalBundle, error) {
	var b ExternalBundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode external bundle: %w", err)
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

func clampRating(v float64) float64 {
	if math.IsNaN(v) {
		return core.DefaultNeutralRating
	}
	return math.Max(core.MinRating, math.Min(core.MaxRating, v))
}
