package model

import (
	"fmt"
	"math"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/animerec/core"
)

// WeightsBlobName 是混合权重在 BlobStore 中的名字。
const WeightsBlobName = "blend_weights.yaml"

const weightEpsilon = 1e-9

// rmseDampenRatio 超过该比例时对较差的 RMSE 做平方根缩放。
const rmseDampenRatio = 3.0

// BlendWeights 是本地/外部两个模型的融合权重，二者之和为 1。
type BlendWeights struct {
	Local    float64 `json:"local" yaml:"local"`
	External float64 `json:"external" yaml:"external"`
}

// DefaultBlendWeights 返回未训练时的初始权重 0.65/0.35。
func DefaultBlendWeights() BlendWeights {
	return BlendWeights{Local: core.DefaultLocalWeight, External: core.DefaultExternalWeight}
}

// Validate 检查 和为 1 且每项 >= floor。
func (w BlendWeights) Validate(floor float64) error {
	if math.Abs(w.Local+w.External-1) > weightEpsilon {
		return core.NewConfigurationError(core.ModuleModel,
			fmt.Sprintf("blend weights must sum to 1, got %.6f+%.6f", w.Local, w.External))
	}
	if w.Local < floor-weightEpsilon || w.External < floor-weightEpsilon {
		return core.NewConfigurationError(core.ModuleModel,
			fmt.Sprintf("blend weights %.4f/%.4f below floor %.2f", w.Local, w.External, floor))
	}
	return nil
}

// withLocal 以本地权重构造权重对，本地权重截断到 [floor, 1-floor]。
func withLocal(local, floor float64) BlendWeights {
	local = math.Max(floor, math.Min(1-floor, local))
	return BlendWeights{Local: local, External: 1 - local}
}

// BlendWeightsFromRMSE 由两个数据源的验证 RMSE 计算权重：
// 权重正比于 1/rmse；若较差 RMSE 超过较好的 3 倍，先把较差值替换为 better·3·sqrt(ratio/3)，
// 避免一个噪声源被压到接近 0；最后施加 floor。
func BlendWeightsFromRMSE(localRMSE, externalRMSE, floor float64) (BlendWeights, error) {
	if math.IsNaN(localRMSE) || math.IsNaN(externalRMSE) || localRMSE < 0 || externalRMSE < 0 {
		return BlendWeights{}, core.NewConfigurationError(core.ModuleModel,
			fmt.Sprintf("invalid rmse local=%v external=%v", localRMSE, externalRMSE))
	}
	if floor <= 0 || floor > 0.5 {
		return BlendWeights{}, core.NewConfigurationError(core.ModuleModel,
			fmt.Sprintf("weight floor %.2f outside (0, 0.5]", floor))
	}
	rl := math.Max(localRMSE, weightEpsilon)
	re := math.Max(externalRMSE, weightEpsilon)

	better, worse := math.Min(rl, re), math.Max(rl, re)
	if ratio := worse / better; ratio > rmseDampenRatio {
		dampened := better * rmseDampenRatio * math.Sqrt(ratio/rmseDampenRatio)
		if rl > re {
			rl = dampened
		} else {
			re = dampened
		}
	}

	invL, invE := 1/rl, 1/re
	return withLocal(invL/(invL+invE), floor), nil
}

// EncodeWeights 序列化为 YAML。
func EncodeWeights(w BlendWeights) ([]byte, error) {
	return yaml.Marshal(w)
}

// DecodeWeights 反序列化并校验。
func DecodeWeights(data []byte, floor float64) (BlendWeights, error) {
	var w BlendWeights
	if err := yaml.Unmarshal(data, &w); err != nil {
		return BlendWeights{}, fmt.Errorf("decode blend weights: %w", err)
	}
	if err := w.Validate(floor); err != nil {
		return BlendWeights{}, err
	}
	return w, nil
}
