package core

import "errors"

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）和消息（Message）
//   - 支持错误检查函数（IsXXX），可穿透 fmt.Errorf("%w") 包装
//
// 使用场景：
//   - 召回/打分：INSUFFICIENT_DATA（数据不足，走降级）
//   - 模型：MODEL_UNAVAILABLE、UNMAPPED_ID、TRAINING_DATA_INSUFFICIENT
//   - 调用方输入：CONFIGURATION_ERROR（唯一允许透传给调用方的错误）
type DomainError struct {
	Code    string // 错误代码（如 "NOT_FOUND", "INSUFFICIENT_DATA"）
	Message string // 错误消息
	Module  string // 模块名称（如 "store", "recall", "model"）
}

func (e *DomainError) Error() string {
	return e.Message
}

// Is 按 Module + Code 比较，便于 errors.Is 匹配哨兵错误。
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && (t.Module == "" || e.Module == t.Module)
}

// IsDomainError 检查错误是否为 DomainError 类型
func IsDomainError(err error) bool {
	return GetDomainError(err) != nil
}

// GetDomainError 获取 DomainError，如果不是则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// 错误代码常量
const (
	ErrorCodeNotFound      = "NOT_FOUND"      // 资源不存在
	ErrorCodeNotSupported  = "NOT_SUPPORTED"  // 操作不支持
	ErrorCodeInternalError = "INTERNAL_ERROR" // 内部错误

	// 推荐链路错误代码
	ErrorCodeInsufficientData         = "INSUFFICIENT_DATA"          // 交互/信号不足，可降级
	ErrorCodeModelUnavailable         = "MODEL_UNAVAILABLE"          // 模型未训练或加载失败
	ErrorCodeUnmappedID               = "UNMAPPED_ID"                // 外部数据集无对应 ID
	ErrorCodeTrainingDataInsufficient = "TRAINING_DATA_INSUFFICIENT" // 训练样本不足
	ErrorCodeConfiguration            = "CONFIGURATION_ERROR"        // 非法策略名、权重和不为 1 等
)

// 模块名称常量
const (
	ModuleStore   = "store"   // 存储模块
	ModuleRecall  = "recall"  // 召回/打分模块
	ModuleModel   = "model"   // 回归模型模块
	ModuleEngine  = "engine"  // 编排模块
	ModuleFeature = "feature" // 特征模块
	ModuleConfig  = "config"  // 配置模块
)

// NewInsufficientData 创建数据不足错误。
func NewInsufficientData(module, message string) *DomainError {
	return NewDomainError(module, ErrorCodeInsufficientData, message)
}

// NewModelUnavailable 创建模型不可用错误。
func NewModelUnavailable(message string) *DomainError {
	return NewDomainError(ModuleModel, ErrorCodeModelUnavailable, message)
}

// NewConfigurationError 创建配置错误。
func NewConfigurationError(module, message string) *DomainError {
	return NewDomainError(module, ErrorCodeConfiguration, message)
}

func hasCode(err error, code string) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool { return hasCode(err, ErrorCodeNotFound) }

// IsNotSupported 检查错误是否为 NOT_SUPPORTED
func IsNotSupported(err error) bool { return hasCode(err, ErrorCodeNotSupported) }

// IsInsufficientData 检查错误是否为数据不足
func IsInsufficientData(err error) bool { return hasCode(err, ErrorCodeInsufficientData) }

// IsModelUnavailable 检查错误是否为模型不可用
func IsModelUnavailable(err error) bool { return hasCode(err, ErrorCodeModelUnavailable) }

// IsUnmappedID 检查错误是否为外部 ID 未映射
func IsUnmappedID(err error) bool { return hasCode(err, ErrorCodeUnmappedID) }

// IsTrainingDataInsufficient 检查错误是否为训练数据不足
func IsTrainingDataInsufficient(err error) bool {
	return hasCode(err, ErrorCodeTrainingDataInsufficient)
}

// IsConfigurationError 检查错误是否为配置错误
func IsConfigurationError(err error) bool { return hasCode(err, ErrorCodeConfiguration) }
