package model

// Regressor 是评分回归模型的最小抽象：输入稠密特征向量，输出预测值。
// 本地与外部两个数据源各自持有一个 Regressor，由 DualSource 按权重融合。
type Regressor interface {
	Name() string
	Predict(x []float64) float64
}
