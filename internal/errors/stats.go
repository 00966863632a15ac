package errors

import (
	stderrors "errors"
	"sync"
	"time"
)

// maxRecentErrors 保留的最近错误数量
const maxRecentErrors = 100

// ErrorStats 错误统计
type ErrorStats struct {
	mu               sync.RWMutex
	totalErrors      int
	errorsByType     map[ErrorType]int
	errorsBySeverity map[ErrorSeverity]int
	recentErrors     []*ScanError
	lastError        *ScanError
}

// StatsSnapshot 错误统计快照
type StatsSnapshot struct {
	TotalErrors      int            `json:"total_errors"`
	ErrorsByType     map[string]int `json:"errors_by_type"`
	ErrorsBySeverity map[string]int `json:"errors_by_severity"`
	LastError        string         `json:"last_error,omitempty"`
	LastErrorTime    time.Time      `json:"last_error_time,omitempty"`
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		errorsByType:     make(map[ErrorType]int),
		errorsBySeverity: make(map[ErrorSeverity]int),
		recentErrors:     make([]*ScanError, 0),
	}
}

// Record 记录错误，非 ScanError 按 RPC 错误统计
func (es *ErrorStats) Record(err error) {
	if err == nil {
		return
	}
	var scanErr *ScanError
	if !stderrors.As(err, &scanErr) {
		scanErr = WrapError(err, ErrorTypeRPC, SeverityHigh, CodeRPCFailed, "未分类错误")
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	es.totalErrors++
	es.errorsByType[scanErr.Type]++
	es.errorsBySeverity[scanErr.Severity]++
	es.lastError = scanErr

	es.recentErrors = append(es.recentErrors, scanErr)
	if len(es.recentErrors) > maxRecentErrors {
		es.recentErrors = es.recentErrors[1:]
	}
}

// Snapshot 获取统计快照
func (es *ErrorStats) Snapshot() StatsSnapshot {
	es.mu.RLock()
	defer es.mu.RUnlock()

	snap := StatsSnapshot{
		TotalErrors:      es.totalErrors,
		ErrorsByType:     make(map[string]int, len(es.errorsByType)),
		ErrorsBySeverity: make(map[string]int, len(es.errorsBySeverity)),
	}
	for t, n := range es.errorsByType {
		snap.ErrorsByType[t.String()] = n
	}
	for s, n := range es.errorsBySeverity {
		snap.ErrorsBySeverity[s.String()] = n
	}
	if es.lastError != nil {
		snap.LastError = es.lastError.Error()
		snap.LastErrorTime = es.lastError.Timestamp
	}
	return snap
}

// GetErrorRate 获取错误率（错误/小时）
func (es *ErrorStats) GetErrorRate(duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}

	es.mu.RLock()
	defer es.mu.RUnlock()

	cutoff := time.Now().Add(-duration)
	recentCount := 0
	for _, err := range es.recentErrors {
		if err.Timestamp.After(cutoff) {
			recentCount++
		}
	}

	hours := duration.Hours()
	if hours == 0 {
		return float64(recentCount)
	}
	return float64(recentCount) / hours
}
