package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewScanError(t *testing.T) {
	err := NewScanError(ErrorTypeConnection, SeverityHigh, "TEST_ERROR", "测试错误")

	assert.NotNil(t, err)
	assert.Equal(t, ErrorTypeConnection, err.Type)
	assert.Equal(t, SeverityHigh, err.Severity)
	assert.Equal(t, "TEST_ERROR", err.Code)
	assert.Equal(t, "测试错误", err.Message)
	assert.True(t, err.Retryable) // 连接错误默认可重试
	assert.False(t, err.Timestamp.IsZero())
}

func TestWrapError(t *testing.T) {
	originalErr := errors.New("原始错误")
	wrappedErr := WrapError(originalErr, ErrorTypeSnapshot, SeverityMedium, "WRAPPED_ERROR", "包装错误")

	assert.Equal(t, ErrorTypeSnapshot, wrappedErr.Type)
	assert.Equal(t, originalErr, wrappedErr.Cause)
	assert.Equal(t, originalErr, wrappedErr.Unwrap())
	assert.Equal(t, "[WRAPPED_ERROR] 包装错误: 原始错误", wrappedErr.Error())
}

func TestScanError_ErrorWithoutCause(t *testing.T) {
	err := NewScanError(ErrorTypeCache, SeverityLow, "TEST_CODE", "测试消息")
	assert.Equal(t, "[TEST_CODE] 测试消息", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestScanError_IsMatchesByCode(t *testing.T) {
	err := NewContractNotFoundError("0x00000000000000000000000000000000000000aa")
	wrapped := fmt.Errorf("处理日志失败: %w", err)

	assert.True(t, errors.Is(wrapped, ErrContractNotFound))
	assert.False(t, errors.Is(wrapped, ErrRangeNotSplittable))
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", err.Context["address"])
	assert.Equal(t, "cache", err.Component)

	// 构造函数不能修改预定义错误
	assert.Nil(t, ErrContractNotFound.Context)
}

func TestNewRangeNotSplittableError(t *testing.T) {
	cause := errors.New("query returned more than 10000 results")
	err := NewRangeNotSplittableError(100, 101, cause)

	assert.True(t, errors.Is(err, ErrRangeNotSplittable))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "[100, 101)", err.Context["block_range"])
	assert.False(t, err.IsRetryable())
}

func TestDetermineRetryable(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		expected  bool
	}{
		{ErrorTypeConnection, true},
		{ErrorTypeTimeout, true},
		{ErrorTypeTooManyResults, false}, // 由二分处理
		{ErrorTypeReverted, false},       // 否定结果
		{ErrorTypeRPC, false},
		{ErrorTypeCache, false},
		{ErrorTypeSnapshot, false},
		{ErrorTypeRangeNotSplittable, false},
		{ErrorTypeConfig, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, determineRetryable(tt.errorType), "errorType=%v", tt.errorType)
	}
}

func TestErrorType_String(t *testing.T) {
	assert.Equal(t, "TooManyResults", ErrorTypeTooManyResults.String())
	assert.Equal(t, "Cache", ErrorTypeCache.String())
	assert.Equal(t, "Unknown(999)", ErrorType(999).String())
	assert.Equal(t, "Critical", SeverityCritical.String())
	assert.Equal(t, "Unknown(999)", ErrorSeverity(999).String())
}

func TestErrorStats_Record(t *testing.T) {
	stats := NewErrorStats()

	stats.Record(NewContractNotFoundError("0x01"))
	stats.Record(NewRPCError("eth_getLogs", errors.New("boom")))
	stats.Record(errors.New("未包装的错误"))
	stats.Record(nil)

	snap := stats.Snapshot()
	assert.Equal(t, 3, snap.TotalErrors)
	assert.Equal(t, 1, snap.ErrorsByType["Cache"])
	assert.Equal(t, 2, snap.ErrorsByType["RPC"])
	assert.Equal(t, 1, snap.ErrorsBySeverity["Critical"])
	assert.Contains(t, snap.LastError, "未包装的错误")
}

func TestErrorStats_RecentErrorsLimit(t *testing.T) {
	stats := NewErrorStats()

	for i := 0; i < 150; i++ {
		stats.Record(NewScanError(ErrorTypeRPC, SeverityLow, "TEST_ERROR", "测试错误"))
	}

	assert.Equal(t, 150, stats.Snapshot().TotalErrors)
	assert.Len(t, stats.recentErrors, maxRecentErrors)
}

func TestErrorStats_GetErrorRate(t *testing.T) {
	stats := NewErrorStats()
	now := time.Now()

	// 过去1小时内每5分钟一个错误
	for i := 0; i < 10; i++ {
		err := NewScanError(ErrorTypeRPC, SeverityLow, "TEST_ERROR", "测试错误")
		err.Timestamp = now.Add(-time.Duration(i*5) * time.Minute)
		stats.recentErrors = append(stats.recentErrors, err)
	}
	// 超过1小时的错误
	for i := 0; i < 5; i++ {
		err := NewScanError(ErrorTypeRPC, SeverityLow, "OLD_ERROR", "旧错误")
		err.Timestamp = now.Add(-time.Duration(70+i*10) * time.Minute)
		stats.recentErrors = append(stats.recentErrors, err)
	}

	assert.Equal(t, 10.0, stats.GetErrorRate(time.Hour))
	assert.Equal(t, 0.0, stats.GetErrorRate(0))
	assert.Equal(t, 12.0, stats.GetErrorRate(30*time.Minute)) // 30分钟内6个错误
}

func BenchmarkErrorStats_Record(b *testing.B) {
	stats := NewErrorStats()
	err := NewScanError(ErrorTypeRPC, SeverityMedium, "BENCH_ERROR", "基准测试错误")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		stats.Record(err)
	}
}
