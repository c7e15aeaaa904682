package feature

import (
	"fmt"
	"math"
)

// StandardScaler Z-score 标准化（Standardization）
// 公式: z = (x - μ) / σ
// 特点: 按列拟合，均值变为 0，标准差变为 1；σ 为总体标准差，σ=0 的列只做平移。
type StandardScaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// FitStandardScaler 按列计算均值与标准差。X 必须是等宽矩阵。
func FitStandardScaler(X [][]float64) (*StandardScaler, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("standard scaler: empty matrix")
	}
	width := len(X[0])
	mean := make([]float64, width)
	for i, row := range X {
		if len(row) != width {
			return nil, fmt.Errorf("standard scaler: row %d has %d columns, want %d", i, len(row), width)
		}
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(X))
	for j := range mean {
		mean[j] /= n
	}

	std := make([]float64, width)
	for _, row := range X {
		for j, v := range row {
			d := v - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / n)
	}
	return &StandardScaler{Mean: mean, Std: std}, nil
}

// TransformRow 标准化单行，返回新切片。
func (s *StandardScaler) TransformRow(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		if j >= len(s.Mean) {
			out[j] = v
			continue
		}
		d := v - s.Mean[j]
		if s.Std[j] > 0 {
			d /= s.Std[j]
		}
		out[j] = d
	}
	return out
}

// Transform 标准化整个矩阵。
func (s *StandardScaler) Transform(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		out[i] = s.TransformRow(row)
	}
	return out
}

// RatingStats 是一组评分的 count/mean/std（样本标准差，单个样本时为 0）。
type RatingStats struct {
	Count float64 `json:"count"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
}

// ComputeRatingStats 计算评分统计量。
func ComputeRatingStats(ratings []float64) RatingStats {
	n := len(ratings)
	if n == 0 {
		return RatingStats{}
	}
	var sum float64
	for _, r := range ratings {
		sum += r
	}
	mean := sum / float64(n)
	if n == 1 {
		return RatingStats{Count: 1, Mean: mean}
	}
	var ss float64
	for _, r := range ratings {
		d := r - mean
		ss += d * d
	}
	return RatingStats{Count: float64(n), Mean: mean, Std: math.Sqrt(ss / float64(n-1))}
}

// MeanStats 对多组统计量逐字段取平均，用作未知用户的兜底统计。
func MeanStats(stats []RatingStats) RatingStats {
	if len(stats) == 0 {
		return RatingStats{}
	}
	var out RatingStats
	for _, s := range stats {
		out.Count += s.Count
		out.Mean += s.Mean
		out.Std += s.Std
	}
	n := float64(len(stats))
	out.Count /= n
	out.Mean /= n
	out.Std /= n
	return out
}
