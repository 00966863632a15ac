package fetcher

import (
	"context"
	"fmt"
	"math/big"

	"tokenscan/internal/chain"
	"tokenscan/internal/decoder"
	scanerrors "tokenscan/internal/errors"
	"tokenscan/internal/metrics"
	"tokenscan/internal/window"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// Handler 处理一次成功查询返回的日志，按区块升序调用
type Handler func(ctx context.Context, r window.Range, logs []types.Log) error

// Result 一次抓取的统计
type Result struct {
	Matched   uint64 // 匹配的事件总数，用于窗口调节
	Queries   int    // 发出的查询次数
	Overflows int    // 结果过多导致的拆分次数
}

// Fetcher 带二分重试的日志抓取器
type Fetcher struct {
	client  chain.LogFilterer
	topic   common.Hash
	minSpan uint64
	logger  *logrus.Logger
}

// New 创建抓取器
// minSpan 为仍然结果过多时放弃拆分的区间跨度，小于1时按1处理
func New(client chain.LogFilterer, minSpan uint64, logger *logrus.Logger) *Fetcher {
	if minSpan < 1 {
		minSpan = 1
	}
	return &Fetcher{
		client:  client,
		topic:   decoder.TransferEventTopic,
		minSpan: minSpan,
		logger:  logger,
	}
}

// Fetch 抓取 r 中的 Transfer 事件并逐批交给 handler
// 节点返回结果过多时在中点拆分，先处理低半区；其他错误直接返回
func (f *Fetcher) Fetch(ctx context.Context, r window.Range, handler Handler) (Result, error) {
	var res Result
	err := f.fetch(ctx, r, handler, &res)
	return res, err
}

func (f *Fetcher) fetch(ctx context.Context, r window.Range, handler Handler, res *Result) error {
	if r.Empty() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	res.Queries++
	logs, err := f.client.FilterLogs(ctx, f.query(r))
	if err != nil {
		if !chain.IsTooManyResults(err) {
			metrics.LogQueries.WithLabelValues("error").Inc()
			return scanerrors.NewRPCError("eth_getLogs", err).WithBlockRange(r.Start, r.End).WithComponent("fetcher")
		}

		metrics.LogQueries.WithLabelValues("too_many_results").Inc()
		if r.Len() <= f.minSpan {
			return scanerrors.NewRangeNotSplittableError(r.Start, r.End, err)
		}

		res.Overflows++
		metrics.Bisections.Inc()
		lower, upper := r.Split()
		f.logger.Debugf("区块 %s 结果过多，拆分为 %s 和 %s", r, lower, upper)

		if err := f.fetch(ctx, lower, handler, res); err != nil {
			return err
		}
		return f.fetch(ctx, upper, handler, res)
	}

	metrics.LogQueries.WithLabelValues("ok").Inc()
	metrics.MatchedEvents.Add(float64(len(logs)))
	res.Matched += uint64(len(logs))
	f.logger.Debugf("区块 %s 查询到 %d 个事件", r, len(logs))

	if len(logs) == 0 || handler == nil {
		return nil
	}
	if err := handler(ctx, r, logs); err != nil {
		return fmt.Errorf("处理区块 %s 的事件失败: %w", r, err)
	}
	return nil
}

// query 半开区间转为节点的闭区间查询
func (f *Fetcher) query(r window.Range) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(r.Start),
		ToBlock:   new(big.Int).SetUint64(r.End - 1),
		Topics:    [][]common.Hash{{f.topic}},
	}
}
