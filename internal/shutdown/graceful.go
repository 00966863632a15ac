package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// 停机顺序，数字越小越早执行
const (
	OrderStopAPI      = 10 // 停止状态接口
	OrderFlushOutput  = 20 // 关闭输出，刷新Kafka生产者
	OrderSaveProgress = 30 // 关闭进度数据库
	OrderCloseStore   = 40 // 关闭快照存储
	OrderCloseClient  = 50 // 关闭RPC连接
)

// ShutdownFunc 停机处理函数
type ShutdownFunc struct {
	Name  string
	Func  func(ctx context.Context) error
	Order int
}

// GracefulShutdown 优雅停机管理器
//
// 收到信号后先取消扫描上下文，扫描循环在当前窗口结束后退出，
// 之后由 Shutdown 按顺序执行已注册的处理函数。
type GracefulShutdown struct {
	logger        *logrus.Logger
	timeout       time.Duration
	shutdownFuncs []ShutdownFunc
	mu            sync.Mutex
	signalChan    chan os.Signal
	ctx           context.Context
	cancel        context.CancelFunc
	done          chan struct{}
	once          sync.Once
	errs          []error
}

// NewGracefulShutdown 创建优雅停机管理器
func NewGracefulShutdown(timeout time.Duration, logger *logrus.Logger) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &GracefulShutdown{
		logger:     logger,
		timeout:    timeout,
		signalChan: make(chan os.Signal, 1),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// RegisterShutdownFunc 注册停机处理函数
func (gs *GracefulShutdown) RegisterShutdownFunc(name string, fn func(ctx context.Context) error, order int) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	gs.shutdownFuncs = append(gs.shutdownFuncs, ShutdownFunc{
		Name:  name,
		Func:  fn,
		Order: order,
	})
	gs.logger.Debugf("注册停机处理函数: %s (order: %d)", name, order)
}

// RegisterCloser 注册只需 Close 的资源
func (gs *GracefulShutdown) RegisterCloser(name string, closer interface{ Close() error }, order int) {
	gs.RegisterShutdownFunc(name, func(context.Context) error {
		return closer.Close()
	}, order)
}

// Start 监听停机信号，收到信号后取消扫描上下文
func (gs *GracefulShutdown) Start() {
	signal.Notify(gs.signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go gs.signalHandler()
	gs.logger.Debug("优雅停机管理器已启动，监听信号: SIGINT, SIGTERM, SIGQUIT")
}

func (gs *GracefulShutdown) signalHandler() {
	select {
	case sig := <-gs.signalChan:
		gs.logger.Infof("收到停机信号: %v，当前窗口完成后退出", sig)
		gs.cancel()
	case <-gs.done:
	}
}

// Context 扫描上下文，停机时被取消
func (gs *GracefulShutdown) Context() context.Context {
	return gs.ctx
}

// Shutdown 按顺序执行停机处理函数，只执行一次
func (gs *GracefulShutdown) Shutdown() error {
	gs.once.Do(func() {
		signal.Stop(gs.signalChan)
		close(gs.done)
		gs.cancel()
		gs.errs = gs.performShutdown()
	})
	return errors.Join(gs.errs...)
}

// performShutdown 执行停机过程
func (gs *GracefulShutdown) performShutdown() []error {
	gs.logger.Info("开始优雅停机流程...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gs.timeout)
	defer shutdownCancel()

	gs.mu.Lock()
	funcs := append([]ShutdownFunc(nil), gs.shutdownFuncs...)
	gs.mu.Unlock()
	sort.SliceStable(funcs, func(i, j int) bool {
		return funcs[i].Order < funcs[j].Order
	})

	var shutdownErrors []error
	for _, shutdownFunc := range funcs {
		select {
		case <-shutdownCtx.Done():
			gs.logger.Warnf("停机超时，跳过: %s", shutdownFunc.Name)
			shutdownErrors = append(shutdownErrors, fmt.Errorf("%s: %w", shutdownFunc.Name, shutdownCtx.Err()))
			continue
		default:
		}

		start := time.Now()
		err := shutdownFunc.Func(shutdownCtx)
		duration := time.Since(start)

		if err != nil {
			gs.logger.Errorf("停机处理 '%s' 失败 (耗时: %v): %v", shutdownFunc.Name, duration, err)
			shutdownErrors = append(shutdownErrors, fmt.Errorf("%s: %w", shutdownFunc.Name, err))
		} else {
			gs.logger.Debugf("停机处理 '%s' 完成 (耗时: %v)", shutdownFunc.Name, duration)
		}
	}

	if len(shutdownErrors) > 0 {
		gs.logger.Errorf("停机过程中发生 %d 个错误", len(shutdownErrors))
	}
	gs.logger.Info("优雅停机流程完成")
	return shutdownErrors
}

// GetRegisteredFunctions 已注册的停机函数名称
func (gs *GracefulShutdown) GetRegisteredFunctions() []string {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	names := make([]string, len(gs.shutdownFuncs))
	for i, fn := range gs.shutdownFuncs {
		names[i] = fn.Name
	}
	return names
}
