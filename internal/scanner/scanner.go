package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tokenscan/internal/cache"
	"tokenscan/internal/chain"
	"tokenscan/internal/classifier"
	"tokenscan/internal/config"
	"tokenscan/internal/decoder"
	"tokenscan/internal/erc165"
	"tokenscan/internal/erc721"
	scanerrors "tokenscan/internal/errors"
	"tokenscan/internal/fetcher"
	"tokenscan/internal/logging"
	"tokenscan/internal/metrics"
	"tokenscan/internal/output"
	"tokenscan/internal/progress"
	"tokenscan/internal/window"
	"tokenscan/pkg/models"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// Chain 扫描所需的节点能力
type Chain interface {
	chain.Caller
	chain.LogFilterer
}

// Options 扫描参数
type Options struct {
	StartBlock      uint64
	EndBlock        uint64 // 0 表示不结束
	InitialWindow   uint64
	MaxWindow       uint64 // 0 表示不限
	TargetEvents    uint64
	MaxEvents       int // 每批最多处理的事件数，0 表示不限
	MinSplitSpan    uint64
	HalveOnOverflow bool
	ProbeGas        uint64
	TokenURIGas     uint64
	Resume          bool
}

// OptionsFromConfig 从配置生成扫描参数
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		StartBlock:      cfg.Scanner.StartBlock,
		EndBlock:        cfg.Scanner.EndBlock,
		InitialWindow:   cfg.Scanner.InitialWindow,
		MaxWindow:       cfg.Scanner.MaxWindow,
		TargetEvents:    cfg.Scanner.TargetEvents,
		MaxEvents:       cfg.Scanner.MaxEvents,
		MinSplitSpan:    cfg.Scanner.MinSplitSpan,
		HalveOnOverflow: cfg.Scanner.HalveOnOverflow,
		ProbeGas:        cfg.RPC.ProbeGas,
		TokenURIGas:     cfg.RPC.TokenURIGas,
		Resume:          cfg.Progress.Enabled,
	}
}

// Scanner 自适应窗口的 Transfer 事件扫描器
//
// 每个窗口依次执行：抓取事件（结果过多时二分），按批加载快照、分类合约、
// 抓取代币URI、写回快照，最后根据匹配数调整窗口并保存进度。
type Scanner struct {
	opts       Options
	fetcher    *fetcher.Fetcher
	classifier *classifier.Classifier
	metadata   *erc721.MetadataReader
	store      cache.Store
	out        output.Output
	progress   *progress.Manager
	logger     *logrus.Logger
	errStats   *scanerrors.ErrorStats

	mu     sync.RWMutex
	status models.ScanStatus
}

// New 创建扫描器，progress 为 nil 时不保存进度
func New(client Chain, store cache.Store, out output.Output, prog *progress.Manager, opts Options, logger *logrus.Logger) *Scanner {
	if out == nil {
		out = output.NopOutput{}
	}
	if opts.InitialWindow == 0 {
		opts.InitialWindow = 1
	}

	return &Scanner{
		opts:       opts,
		fetcher:    fetcher.New(client, opts.MinSplitSpan, logger),
		classifier: classifier.New(erc165.NewProber(client, opts.ProbeGas), logger),
		metadata:   erc721.NewMetadataReader(client, opts.TokenURIGas),
		store:      store,
		out:        out,
		progress:   prog,
		logger:     logger,
		errStats:   scanerrors.NewErrorStats(),
		status: models.ScanStatus{
			State:        models.ScanStateIdle,
			NextBlock:    opts.StartBlock,
			EndBlock:     opts.EndBlock,
			WindowSize:   opts.InitialWindow,
			TargetEvents: opts.TargetEvents,
		},
	}
}

// Status 当前运行状态
func (s *Scanner) Status() models.ScanStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// ErrorStats 错误统计
func (s *Scanner) ErrorStats() scanerrors.StatsSnapshot {
	return s.errStats.Snapshot()
}

func (s *Scanner) updateStatus(fn func(st *models.ScanStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.status)
	s.status.UpdatedAt = time.Now()
}

// controller 根据进度决定起始区块和窗口大小
func (s *Scanner) controller() *window.Controller {
	start, size := s.opts.StartBlock, s.opts.InitialWindow

	if s.progress != nil && s.opts.Resume {
		info := s.progress.GetProgress()
		if info.HasCheckpoint() && info.NextBlock >= start {
			s.logger.Infof("检测到断点续扫，从区块 %d 开始（原计划 %d），窗口大小 %d",
				info.NextBlock, start, info.WindowSize)
			start, size = info.NextBlock, info.WindowSize
		}
	}

	ctrl := window.New(start, size, s.opts.TargetEvents)
	ctrl.SetMaxSize(s.opts.MaxWindow)
	return ctrl
}

// Run 循环扫描直到到达结束区块、出错或 ctx 被取消
// 取消只在窗口之间生效，进行中的窗口会完整处理并写回快照
func (s *Scanner) Run(ctx context.Context) error {
	ctrl := s.controller()
	work := context.WithoutCancel(ctx)

	s.updateStatus(func(st *models.ScanStatus) {
		st.State = models.ScanStateRunning
		st.NextBlock = ctrl.Position()
		st.WindowSize = ctrl.Size()
		st.StartedAt = time.Now()
	})
	s.logger.Infof("开始扫描，起始区块 %d，窗口 %d，目标事件数 %d", ctrl.Position(), ctrl.Size(), ctrl.Target())

	for {
		select {
		case <-ctx.Done():
			s.updateStatus(func(st *models.ScanStatus) { st.State = models.ScanStateStopped })
			s.logger.Info("扫描已停止")
			return ctx.Err()
		default:
		}

		if ctrl.Exhausted() {
			s.updateStatus(func(st *models.ScanStatus) { st.State = models.ScanStateFinished })
			s.logger.Warnf("已到达区块号上限 %d，没有剩余区块可扫描", ctrl.Position())
			return nil
		}

		r := ctrl.Next()
		if s.opts.EndBlock != 0 {
			if r.Start >= s.opts.EndBlock {
				s.updateStatus(func(st *models.ScanStatus) { st.State = models.ScanStateFinished })
				s.logger.Infof("已到达结束区块 %d，扫描完成", s.opts.EndBlock)
				return nil
			}
			r = r.Clip(s.opts.EndBlock)
		}

		if err := s.scanWindow(work, ctrl, r); err != nil {
			s.errStats.Record(err)
			s.updateStatus(func(st *models.ScanStatus) {
				st.State = models.ScanStateFailed
				st.LastError = err.Error()
			})
			return err
		}
	}
}

// ScanWindow 处理单个区块范围，不调整窗口也不保存进度
func (s *Scanner) ScanWindow(ctx context.Context, r window.Range) (fetcher.Result, error) {
	return s.fetcher.Fetch(ctx, r, s.processBatch)
}

func (s *Scanner) scanWindow(ctx context.Context, ctrl *window.Controller, r window.Range) error {
	wlog := logging.NewWindowLogger(s.logger, r.Start, r.End)
	start := time.Now()

	res, err := s.ScanWindow(ctx, r)
	if err != nil {
		return fmt.Errorf("扫描窗口 %s 失败: %w", r, err)
	}

	ctrl.Tune(res.Matched)
	if s.opts.HalveOnOverflow && res.Overflows > 0 {
		ctrl.Halve()
	}

	if s.progress != nil {
		if err := s.progress.Checkpoint(r.End, ctrl.Size(), res.Matched); err != nil {
			return fmt.Errorf("保存进度失败: %w", err)
		}
	}

	duration := time.Since(start)
	metrics.WindowLatency.Observe(duration.Seconds())
	metrics.WindowsProcessed.Inc()
	metrics.WindowSize.Set(float64(ctrl.Size()))
	metrics.NextBlock.Set(float64(r.End))

	s.updateStatus(func(st *models.ScanStatus) {
		st.NextBlock = r.End
		st.WindowSize = ctrl.Size()
		st.LastWindow = r.String()
		st.LastMatched = res.Matched
		st.WindowsProcessed++
		st.EventsMatched += res.Matched
		st.Overflows += uint64(res.Overflows)
	})

	wlog.Infof("窗口完成: 匹配 %d 个事件，查询 %d 次，拆分 %d 次，耗时 %v，下一个窗口大小 %d",
		res.Matched, res.Queries, res.Overflows, duration, ctrl.Size())
	return nil
}

// processBatch 处理一次成功查询返回的事件
// 每批加载一次快照，处理完成后整体写回
func (s *Scanner) processBatch(ctx context.Context, r window.Range, logs []types.Log) error {
	c, err := cache.Load(s.store)
	if err != nil {
		return fmt.Errorf("加载快照失败: %w", err)
	}

	batch := logs
	if s.opts.MaxEvents > 0 && len(batch) > s.opts.MaxEvents {
		s.logger.Debugf("区块 %s 有 %d 个事件，只处理前 %d 个", r, len(batch), s.opts.MaxEvents)
		batch = batch[:s.opts.MaxEvents]
	}
	skipped := uint64(len(logs) - len(batch))

	for i := range batch {
		if err := s.processLog(ctx, c, &batch[i]); err != nil {
			return err
		}
	}

	if err := c.Persist(s.store); err != nil {
		return fmt.Errorf("写回快照失败: %w", err)
	}

	s.updateStatus(func(st *models.ScanStatus) {
		st.EventsProcessed += uint64(len(batch))
		st.EventsSkipped += skipped
	})
	return nil
}

// processLog 分类发出合约，必要时抓取代币URI
func (s *Scanner) processLog(ctx context.Context, c *cache.Cache, log *types.Log) error {
	addr := log.Address

	typ, known := c.GetType(addr)
	if !known {
		classified, err := s.classifier.Classify(ctx, log)
		if err != nil {
			return err
		}
		typ = c.StoreType(addr, classified)
		if typ == classified {
			if err := s.emitContract(log, typ); err != nil {
				return err
			}
		}
	}

	if !typ.HasMetadata() {
		return nil
	}
	tokenID, ok := decoder.TokenIDFromLog(log)
	if !ok || decoder.IsBurn(log) {
		return nil
	}
	if _, ok := c.TokenURI(addr, tokenID); ok {
		metrics.TokenURIs.WithLabelValues("cached").Inc()
		return nil
	}

	clog := logging.NewContractLogger(s.logger, addr.Hex())
	if !c.WantMoreURIs(addr) {
		metrics.TokenURIs.WithLabelValues("unchecked").Inc()
		return c.RecordUncheckedToken(addr, tokenID)
	}

	uri, ok, err := s.metadata.TokenURI(ctx, addr, tokenID)
	if errors.Is(err, erc721.ErrMalformedURI) {
		s.errStats.Record(err)
		metrics.TokenURIs.WithLabelValues("malformed").Inc()
		clog.Warnf("代币 %s 的 tokenURI 返回值无法解码，跳过: %v", tokenID, err)
		return nil
	}
	if err != nil {
		return err
	}
	if !ok {
		metrics.TokenURIs.WithLabelValues("reverted").Inc()
		clog.Debugf("代币 %s 的 tokenURI 回滚，跳过", tokenID)
		return nil
	}

	if err := c.RecordTokenURI(addr, tokenID, uri); err != nil {
		return err
	}
	metrics.TokenURIs.WithLabelValues("fetched").Inc()
	clog.Debugf("代币 %s 的URI: %s", tokenID, uri)

	s.updateStatus(func(st *models.ScanStatus) { st.TokenURIsFetched++ })

	if err := s.out.WriteTokenURI(&models.TokenURIRecord{
		Contract:    addr.Hex(),
		TokenID:     tokenID,
		URI:         uri,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		FetchedAt:   time.Now(),
	}); err != nil {
		return outputError(err)
	}
	return nil
}

func (s *Scanner) emitContract(log *types.Log, typ models.ContractType) error {
	metrics.Classifications.WithLabelValues(typ.Kind.String()).Inc()
	logging.NewContractLogger(s.logger, log.Address.Hex()).Infof("新合约分类: %s", typ)

	s.updateStatus(func(st *models.ScanStatus) { st.Classified++ })

	err := s.out.WriteContract(&models.ContractRecord{
		Address:      log.Address.Hex(),
		Type:         typ.Kind.String(),
		Metadata:     typ.Metadata,
		Enumerable:   typ.Enumerable,
		BlockNumber:  log.BlockNumber,
		TxHash:       log.TxHash.Hex(),
		DiscoveredAt: time.Now(),
	})
	if err != nil {
		return outputError(err)
	}
	return nil
}

func outputError(err error) error {
	var scanErr *scanerrors.ScanError
	if errors.As(err, &scanErr) {
		return err
	}
	return scanerrors.WrapError(err, scanerrors.ErrorTypeOutput, scanerrors.SeverityHigh,
		scanerrors.CodeOutputFailed, "输出记录失败").
		WithComponent("output")
}
