package chain

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"tokenscan/internal/decoder"
	"tokenscan/internal/metrics"
	"tokenscan/internal/retry"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Caller 只读合约调用
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// LogFilterer 按区块范围和topic查询日志
type LogFilterer interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Backend 扫描器需要的节点能力
type Backend interface {
	Caller
	LogFilterer
	BlockNumber(ctx context.Context) (uint64, error)
}

// Options 客户端选项
type Options struct {
	RateLimit float64       // 每秒请求数，0 表示不限速
	Burst     int           // 令牌桶容量
	Timeout   time.Duration // 单次调用超时，0 表示不设置
}

// Client 带限速和指标的RPC客户端
type Client struct {
	backend Backend
	limiter *rate.Limiter
	timeout time.Duration
	logger  *logrus.Logger
}

// NewClient 包装已有的后端
func NewClient(backend Backend, opts Options, logger *logrus.Logger) *Client {
	c := &Client{
		backend: backend,
		timeout: opts.Timeout,
		logger:  logger,
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

// Dial 连接节点并确认可用
func Dial(ctx context.Context, rawURL string, opts Options, logger *logrus.Logger) (*Client, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("RPC地址为空")
	}
	logger.Infof("连接RPC节点: %s", MaskURL(rawURL))

	retrier := retry.NewRetrier(retry.DialPolicy, nil, logger)
	ec, err := retry.Do(ctx, retrier, "dial", func(ctx context.Context) (*ethclient.Client, error) {
		client, err := ethclient.DialContext(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		chainID, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, err
		}
		logger.Infof("RPC节点已连接，链ID: %s", chainID)
		return client, nil
	})
	if err != nil {
		return nil, fmt.Errorf("连接RPC节点失败: %w", err)
	}

	return NewClient(ec, opts, logger), nil
}

// wait 等待限速令牌
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	r := c.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("限速器无法分配令牌")
	}
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}
	metrics.RPCRateLimitWaits.Inc()
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

func (c *Client) observe(method string, start time.Time, err error) {
	metrics.RPCLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	metrics.RPCCallsTotal.WithLabelValues(method, ClassifyError(err)).Inc()
}

// CallContract 执行 eth_call
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	start := time.Now()
	out, err := c.backend.CallContract(callCtx, msg, blockNumber)
	c.observe("eth_call", start, err)
	if err != nil && msg.To != nil && c.logger.IsLevelEnabled(logrus.DebugLevel) {
		c.logger.Debugf("eth_call %s 调用 %s 失败: %v", msg.To.Hex(), decoder.MethodName(msg.Data), err)
	}
	return out, err
}

// FilterLogs 执行 eth_getLogs
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	start := time.Now()
	logs, err := c.backend.FilterLogs(callCtx, q)
	c.observe("eth_getLogs", start, err)
	return logs, err
}

// BlockNumber 最新区块号
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	start := time.Now()
	n, err := c.backend.BlockNumber(callCtx)
	c.observe("eth_blockNumber", start, err)
	return n, err
}

// Close 关闭底层连接
func (c *Client) Close() {
	if closer, ok := c.backend.(interface{ Close() }); ok {
		closer.Close()
		c.logger.Info("RPC连接已关闭")
	}
}

// MaskURL 隐藏URL中的密钥部分
func MaskURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "***"
	}
	parts := strings.Split(u.Path, "/")
	last := parts[len(parts)-1]
	if len(last) >= 16 {
		parts[len(parts)-1] = last[:4] + "***"
	}
	return u.Scheme + "://" + u.Host + strings.Join(parts, "/")
}
