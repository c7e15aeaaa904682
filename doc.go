// Package animerec 是动漫混合推荐服务。
//
// 包结构：
//   - core: 领域类型、存储接口、错误码与默认参数
//   - recall: 热门、内容、用户协同过滤、模型四个打分源，熔断降级与并发融合
//   - model: 本地/外部双源 GBDT 评分回归、训练任务与融合权重在线微调
//   - engine: 按策略编排打分源，缓存、降级与反馈入口
//   - cache / store: 推荐结果缓存与模型持久化（内存、Redis、文件、Badger）
//   - feature / mapping / dataset: 特征构造、跨数据集 ID 映射、外部 CSV 数据
//   - filter / pkg/dsl: 目录黑名单与 CEL 表达式过滤
//   - feedback / server: Kafka 评分事件与 HTTP 接口
//
// 可执行程序见 cmd/animerec。
package animerec
