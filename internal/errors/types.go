package errors

import (
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 日志查询结果过多，由二分重试在内部处理
	ErrorTypeTooManyResults ErrorType = iota
	// 合约调用回滚，转换为否定结果
	ErrorTypeReverted

	// RPC/网络错误，终止当前批次
	ErrorTypeRPC
	ErrorTypeConnection
	ErrorTypeTimeout

	// 缓存/快照错误
	ErrorTypeCache
	ErrorTypeSnapshot

	// 区块范围无法继续二分
	ErrorTypeRangeNotSplittable

	// 配置和输出
	ErrorTypeConfig
	ErrorTypeOutput
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// 错误码
const (
	CodeTooManyResults     = "TOO_MANY_RESULTS"
	CodeExecutionReverted  = "EXECUTION_REVERTED"
	CodeRPCFailed          = "RPC_FAILED"
	CodeMalformedReturn    = "MALFORMED_RETURN"
	CodeConnectionFailed   = "CONNECTION_FAILED"
	CodeContractNotFound   = "CONTRACT_NOT_FOUND"
	CodeSnapshotCorrupt    = "SNAPSHOT_CORRUPT"
	CodeSnapshotIO         = "SNAPSHOT_IO_FAILED"
	CodeRangeNotSplittable = "RANGE_NOT_SPLITTABLE"
	CodeConfigInvalid      = "CONFIG_INVALID"
	CodeOutputFailed       = "OUTPUT_FAILED"
)

// ScanError 扫描过程中的错误
type ScanError struct {
	Type      ErrorType              `json:"type"`
	Severity  ErrorSeverity          `json:"severity"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"cause,omitempty"`
	Retryable bool                   `json:"retryable"`
	Component string                 `json:"component"`
}

// Error 实现error接口
func (e *ScanError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// Is 按错误码匹配，使 errors.Is(err, ErrContractNotFound) 可用
func (e *ScanError) Is(target error) bool {
	t, ok := target.(*ScanError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// IsRetryable 判断是否可重试
func (e *ScanError) IsRetryable() bool {
	return e.Retryable
}

// WithContext 添加上下文信息
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAddress 添加合约地址
func (e *ScanError) WithAddress(address string) *ScanError {
	return e.WithContext("address", address)
}

// WithBlockRange 添加区块范围 [start, end)
func (e *ScanError) WithBlockRange(start, end uint64) *ScanError {
	return e.WithContext("block_range", fmt.Sprintf("[%d, %d)", start, end))
}

// WithComponent 设置组件名
func (e *ScanError) WithComponent(component string) *ScanError {
	e.Component = component
	return e
}

// NewScanError 创建新的错误
func NewScanError(errorType ErrorType, severity ErrorSeverity, code, message string) *ScanError {
	return &ScanError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(errorType),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *ScanError {
	e := NewScanError(errorType, severity, code, message)
	e.Cause = err
	return e
}

// determineRetryable 根据错误类型判断是否可重试
// 结果过多由二分处理、回滚是正常的否定结果，两者都不走重试器
func determineRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeConnection, ErrorTypeTimeout:
		return true
	default:
		return false
	}
}

// 预定义错误，只用于 errors.Is 匹配，不要在其上调用 With* 方法
var (
	ErrContractNotFound = NewScanError(
		ErrorTypeCache,
		SeverityCritical,
		CodeContractNotFound,
		"合约尚未分类",
	)

	ErrSnapshotCorrupt = NewScanError(
		ErrorTypeSnapshot,
		SeverityCritical,
		CodeSnapshotCorrupt,
		"快照文件损坏",
	)

	ErrRangeNotSplittable = NewScanError(
		ErrorTypeRangeNotSplittable,
		SeverityCritical,
		CodeRangeNotSplittable,
		"区块范围无法继续拆分",
	)

	ErrConfigInvalid = NewScanError(
		ErrorTypeConfig,
		SeverityCritical,
		CodeConfigInvalid,
		"配置无效",
	)
)

// NewContractNotFoundError 对未分类的合约执行需要分类的操作
func NewContractNotFoundError(address string) *ScanError {
	return NewScanError(ErrorTypeCache, SeverityCritical, CodeContractNotFound, "合约尚未分类").
		WithAddress(address).
		WithComponent("cache")
}

// NewRangeNotSplittableError 区块范围已达最小跨度但仍返回结果过多
func NewRangeNotSplittableError(start, end uint64, cause error) *ScanError {
	return WrapError(cause, ErrorTypeRangeNotSplittable, SeverityCritical, CodeRangeNotSplittable,
		"区块范围无法继续拆分").
		WithBlockRange(start, end).
		WithComponent("fetcher")
}

// NewRPCError 致命的RPC错误
func NewRPCError(method string, cause error) *ScanError {
	return WrapError(cause, ErrorTypeRPC, SeverityHigh, CodeRPCFailed,
		fmt.Sprintf("RPC调用 %s 失败", method)).
		WithContext("method", method)
}

// NewConfigError 配置错误
func NewConfigError(message string) *ScanError {
	return NewScanError(ErrorTypeConfig, SeverityCritical, CodeConfigInvalid, message).
		WithComponent("config")
}

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeTooManyResults:     "TooManyResults",
	ErrorTypeReverted:           "Reverted",
	ErrorTypeRPC:                "RPC",
	ErrorTypeConnection:         "Connection",
	ErrorTypeTimeout:            "Timeout",
	ErrorTypeCache:              "Cache",
	ErrorTypeSnapshot:           "Snapshot",
	ErrorTypeRangeNotSplittable: "RangeNotSplittable",
	ErrorTypeConfig:             "Config",
	ErrorTypeOutput:             "Output",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}
