package core

import "time"

// 推荐链路默认参数。config 包以这些值作为默认配置，各组件在字段为零值时也回退到这里。
const (
	DefaultCacheTTL = 3600 * time.Second

	// 协同过滤
	DefaultCFMinInteractions = 10
	DefaultCFMaxNeighbors    = 20
	DefaultCFContentScale    = 0.85
	DefaultCFPopularScale    = 0.7

	// 内容推荐
	DefaultContentMinSignals = 3
	DefaultContentTopLiked   = 5

	// 模型
	DefaultModelCandidatePool = 100
	DefaultNeutralRating      = 3.0
	DefaultMinTrainingSamples = 50

	// 混合权重
	DefaultWeightFloor    = 0.3
	DefaultAdapterStep    = 0.01
	DefaultLocalWeight    = 0.65
	DefaultExternalWeight = 0.35

	// 评分范围
	MinRating = 1.0
	MaxRating = 5.0
)

// StrategyName 是推荐策略名。
type StrategyName string

const (
	StrategyCF      StrategyName = "cf"
	StrategyContent StrategyName = "content"
	StrategyML      StrategyName = "ml"
	StrategyPopular StrategyName = "popular"
	StrategyHybrid  StrategyName = "hybrid"
)

// AllStrategies 返回全部策略，用于缓存失效等遍历场景。
func AllStrategies() []StrategyName {
	return []StrategyName{StrategyHybrid, StrategyCF, StrategyContent, StrategyML, StrategyPopular}
}

// ParseStrategy 解析策略名，空字符串视为 hybrid；未知名称返回 CONFIGURATION_ERROR。
func ParseStrategy(s string) (StrategyName, error) {
	switch StrategyName(s) {
	case "":
		return StrategyHybrid, nil
	case StrategyCF, StrategyContent, StrategyML, StrategyPopular, StrategyHybrid:
		return StrategyName(s), nil
	default:
		return "", NewConfigurationError(ModuleEngine, "unknown strategy: "+s)
	}
}
