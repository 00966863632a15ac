package chain

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// 节点返回的JSON-RPC错误码
const (
	// CodeTooManyResults eth_getLogs 结果超过节点上限
	CodeTooManyResults = -32005
	// CodeExecutionReverted 合约执行回滚
	CodeExecutionReverted = 3
	// CodeServerError 通用服务端错误，部分节点对不存在的方法返回该码
	CodeServerError = -32000
)

// ErrorCode 取出JSON-RPC错误码
func ErrorCode(err error) (int, bool) {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode(), true
	}
	return 0, false
}

// rateLimitMessages 部分节点对限流也返回 -32005
var rateLimitMessages = []string{
	"rate limit",
	"request rate",
	"request count",
	"too many requests",
	"capacity",
}

// evmFailureMessages -32000 中属于合约执行失败的错误信息片段
// 其余 -32000（如 header not found、missing trie node）是节点状态问题
var evmFailureMessages = []string{
	"revert",
	"invalid opcode",
	"out of gas",
	"gas required exceeds",
	"stack underflow",
	"stack overflow",
	"invalid jump",
	"return data out of bounds",
}

// IsTooManyResults 日志查询结果过多，限流返回的 -32005 不算
func IsTooManyResults(err error) bool {
	code, ok := ErrorCode(err)
	return ok && code == CodeTooManyResults && !IsRateLimited(err)
}

// IsRateLimited 节点以 -32005 报告限流
func IsRateLimited(err error) bool {
	code, ok := ErrorCode(err)
	return ok && code == CodeTooManyResults && containsAny(err.Error(), rateLimitMessages)
}

// IsExecutionReverted 合约调用回滚或方法不存在
// 错误码 3 一定是回滚；-32000 还需要错误信息表明是合约执行失败
func IsExecutionReverted(err error) bool {
	code, ok := ErrorCode(err)
	if !ok {
		return false
	}
	switch code {
	case CodeExecutionReverted:
		return true
	case CodeServerError:
		return containsAny(err.Error(), evmFailureMessages)
	}
	return false
}

func containsAny(msg string, fragments []string) bool {
	lower := strings.ToLower(msg)
	for _, fragment := range fragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// ClassifyError 把RPC错误归类为指标标签
func ClassifyError(err error) string {
	if err == nil {
		return "ok"
	}
	if IsRateLimited(err) {
		return "rate_limited"
	}
	if IsTooManyResults(err) {
		return "too_many_results"
	}
	if IsExecutionReverted(err) {
		return "reverted"
	}
	if _, ok := ErrorCode(err); ok {
		return "rpc_error"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timeout"):
		return "timeout"
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "too many requests"):
		return "rate_limited"
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "no such host") || strings.Contains(lower, "network is unreachable") ||
		strings.Contains(lower, "broken pipe") || strings.Contains(lower, "eof"):
		return "network_error"
	default:
		return "client_error"
	}
}
