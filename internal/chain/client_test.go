package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"testing"
	"time"

	"tokenscan/internal/chain/chaintest"
	"tokenscan/internal/decoder"
	"tokenscan/internal/metrics"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		tooMany  bool
		reverted bool
		class    string
	}{
		{"nil", nil, false, false, "ok"},
		{"结果过多", chaintest.TooManyResults(), true, false, "too_many_results"},
		{"包装后的结果过多", fmt.Errorf("查询失败: %w", chaintest.TooManyResults()), true, false, "too_many_results"},
		{"回滚码3", chaintest.Reverted(3), false, true, "reverted"},
		{"回滚码-32000", chaintest.Reverted(-32000), false, true, "reverted"},
		{"其他RPC错误", &chaintest.RPCError{Code: -32603, Message: "internal error"}, false, false, "rpc_error"},
		{"-32005限流", &chaintest.RPCError{Code: -32005, Message: "project ID request rate exceeded"}, false, false, "rate_limited"},
		{"-32005日请求数用完", &chaintest.RPCError{Code: -32005, Message: "daily request count exceeded, request rate limited"}, false, false, "rate_limited"},
		{"-32000区块头缺失", &chaintest.RPCError{Code: -32000, Message: "header not found"}, false, false, "rpc_error"},
		{"-32000状态缺失", &chaintest.RPCError{Code: -32000, Message: "missing trie node 0xabc"}, false, false, "rpc_error"},
		{"-32000无效指令", &chaintest.RPCError{Code: -32000, Message: "invalid opcode: INVALID"}, false, true, "reverted"},
		{"-32000 gas 耗尽", &chaintest.RPCError{Code: -32000, Message: "out of gas"}, false, true, "reverted"},
		{"超时", context.DeadlineExceeded, false, false, "timeout"},
		{"连接拒绝", errors.New("dial tcp: connection refused"), false, false, "network_error"},
		{"限流", errors.New("429 Too Many Requests"), false, false, "rate_limited"},
		{"未知", errors.New("boom"), false, false, "client_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.tooMany, IsTooManyResults(tt.err))
			assert.Equal(t, tt.reverted, IsExecutionReverted(tt.err))
			assert.Equal(t, tt.class, ClassifyError(tt.err))
		})
	}
}

func TestErrorCode(t *testing.T) {
	code, ok := ErrorCode(chaintest.Reverted(3))
	assert.True(t, ok)
	assert.Equal(t, 3, code)

	_, ok = ErrorCode(errors.New("plain"))
	assert.False(t, ok)
}

func TestClient_RecordsMetrics(t *testing.T) {
	backend := chaintest.NewBackend()
	addr := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	backend.AddContract(addr).Supports([4]byte{0x01, 0xff, 0xc9, 0xa7})

	client := NewClient(backend, Options{}, newTestLogger())

	before := testutil.ToFloat64(metrics.RPCCallsTotal.WithLabelValues("eth_call", "ok"))
	out, err := client.CallContract(context.Background(), ethereum.CallMsg{
		To:   &addr,
		Gas:  30000,
		Data: decoder.EncodeSupportsInterface([4]byte{0x01, 0xff, 0xc9, 0xa7}),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, decoder.Bool32(true), out)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RPCCallsTotal.WithLabelValues("eth_call", "ok")))

	backend.MaxResults = 0
	beforeLogs := testutil.ToFloat64(metrics.RPCCallsTotal.WithLabelValues("eth_getLogs", "ok"))
	_, err = client.FilterLogs(context.Background(), ethereum.FilterQuery{
		FromBlock: big.NewInt(1),
		ToBlock:   big.NewInt(2),
	})
	require.NoError(t, err)
	assert.Equal(t, beforeLogs+1, testutil.ToFloat64(metrics.RPCCallsTotal.WithLabelValues("eth_getLogs", "ok")))
}

func TestClient_RateLimit(t *testing.T) {
	backend := chaintest.NewBackend()
	backend.SetHead(100)
	client := NewClient(backend, Options{RateLimit: 20, Burst: 1}, newTestLogger())

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.BlockNumber(context.Background())
		require.NoError(t, err)
	}
	// 第一次占用令牌桶，后两次各等待约50ms
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	backend := chaintest.NewBackend()
	client := NewClient(backend, Options{RateLimit: 0.1, Burst: 1}, newTestLogger())

	_, err := client.BlockNumber(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.BlockNumber(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMaskURL(t *testing.T) {
	assert.Equal(t, "https://mainnet.infura.io/v3/0123***", MaskURL("https://mainnet.infura.io/v3/0123456789abcdef0123"))
	assert.Equal(t, "http://localhost:8545", MaskURL("http://localhost:8545"))
}
