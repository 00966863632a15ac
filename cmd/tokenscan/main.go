package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tokenscan/internal/api"
	"tokenscan/internal/cache"
	"tokenscan/internal/chain"
	"tokenscan/internal/config"
	"tokenscan/internal/logging"
	"tokenscan/internal/output"
	"tokenscan/internal/progress"
	"tokenscan/internal/scanner"
	"tokenscan/internal/shutdown"
)

var (
	// 扫描参数
	startBlock uint64
	endBlock   uint64
	window     uint64
	target     uint64
	maxEvents  int
	snapshot   string

	// 高级参数
	configFile string
	verbose    bool
	apiPort    int

	// 进度管理参数
	resume        bool // 是否启用断点续传
	resetProgress bool // 是否重置进度
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tokenscan",
		Short: "以太坊代币合约扫描工具",
		Long:  `按自适应区块窗口扫描 Transfer 事件，识别代币合约类型并缓存 ERC-721 代币URI`,
		RunE:  run,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "配置文件路径 (YAML)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")

	// 扫描参数
	rootCmd.Flags().Uint64Var(&startBlock, "start-block", 0, "起始区块号")
	rootCmd.Flags().Uint64Var(&endBlock, "end-block", 0, "结束区块号（不含），0 表示不结束")
	rootCmd.Flags().Uint64Var(&window, "window", 0, "初始窗口区块数")
	rootCmd.Flags().Uint64Var(&target, "target", 0, "每个窗口的目标事件数")
	rootCmd.Flags().IntVar(&maxEvents, "max-events", 0, "每批最多处理的事件数，0 表示不限")
	rootCmd.Flags().StringVar(&snapshot, "snapshot", "", "合约快照文件路径")
	rootCmd.Flags().IntVar(&apiPort, "api-port", 0, "启用状态接口并监听该端口")

	// 进度管理参数
	rootCmd.Flags().BoolVar(&resume, "resume", true, "启用断点续传（默认开启）")
	rootCmd.Flags().BoolVar(&resetProgress, "reset-progress", false, "重置进度重新开始")

	progressCmd := &cobra.Command{
		Use:   "progress",
		Short: "查看扫描进度",
		RunE:  showProgress,
	}
	progressCmd.Flags().BoolVar(&resetProgress, "reset", false, "清除已保存的进度")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "汇总合约快照",
		RunE:  showSnapshot,
	}
	showCmd.Flags().StringVar(&snapshot, "snapshot", "", "合约快照文件路径")

	rootCmd.AddCommand(progressCmd, showCmd, newConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

// dotEnvFile 启动时加载的环境变量文件，不存在时忽略
var dotEnvFile = ".env"

func loadDotEnv() error {
	if err := godotenv.Load(dotEnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("加载 %s 失败: %w", dotEnvFile, err)
	}
	return nil
}

// setup 加载 .env 和配置，创建日志
func setup(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	if err := loadDotEnv(); err != nil {
		return nil, nil, err
	}

	bootstrap := logrus.New()
	if verbose {
		bootstrap.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.LoadConfig(configFile, bootstrap)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}
	applyFlags(cmd, cfg)

	if verbose {
		cfg.Logging.Level = "debug"
	}
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("创建日志失败: %w", err)
	}
	return cfg, logger, nil
}

// applyFlags 命令行参数覆盖配置，只处理显式指定的参数
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("start-block") {
		cfg.Scanner.StartBlock = startBlock
	}
	if flags.Changed("end-block") {
		cfg.Scanner.EndBlock = endBlock
	}
	if flags.Changed("window") {
		cfg.Scanner.InitialWindow = window
	}
	if flags.Changed("target") {
		cfg.Scanner.TargetEvents = target
	}
	if flags.Changed("max-events") {
		cfg.Scanner.MaxEvents = maxEvents
	}
	if flags.Changed("snapshot") {
		cfg.Cache.SnapshotPath = snapshot
	}
	if flags.Changed("resume") {
		cfg.Progress.Enabled = resume
	}
	if flags.Changed("api-port") {
		cfg.API.Enabled = apiPort > 0
		cfg.API.Port = apiPort
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	gs := shutdown.NewGracefulShutdown(30*time.Second, logger)
	gs.Start()
	defer func() {
		if err := gs.Shutdown(); err != nil {
			logger.Errorf("停机过程出错: %v", err)
		}
	}()
	ctx := gs.Context()

	client, err := chain.Dial(ctx, cfg.RPC.URL, chain.Options{
		RateLimit: cfg.RPC.RateLimit,
		Burst:     cfg.RPC.Burst,
		Timeout:   cfg.RPC.Timeout,
	}, logger)
	if err != nil {
		return err
	}
	gs.RegisterShutdownFunc("rpc", func(context.Context) error {
		client.Close()
		return nil
	}, shutdown.OrderCloseClient)

	store, err := cache.Open(cfg.Cache.Backend, cfg.Cache.SnapshotPath)
	if err != nil {
		return fmt.Errorf("打开合约快照失败: %w", err)
	}
	gs.RegisterCloser("snapshot", store, shutdown.OrderCloseStore)

	out, err := output.NewOutput(cfg.Output, logger)
	if err != nil {
		return fmt.Errorf("创建输出器失败: %w", err)
	}
	gs.RegisterCloser("output", out, shutdown.OrderFlushOutput)

	var prog *progress.Manager
	if cfg.Progress.Enabled || resetProgress {
		prog, err = progress.NewManager(cfg.Progress.DBPath, logger)
		if err != nil {
			return fmt.Errorf("创建进度管理器失败: %w", err)
		}
		gs.RegisterCloser("progress", prog, shutdown.OrderSaveProgress)

		if resetProgress {
			logger.Info("重置扫描进度...")
			if err := prog.Reset(); err != nil {
				return fmt.Errorf("重置进度失败: %w", err)
			}
		}
	}

	if head, err := client.BlockNumber(ctx); err == nil {
		logger.Infof("当前链上最新区块: %d", head)
	} else {
		logger.Warnf("获取最新区块失败: %v", err)
	}

	s := scanner.New(client, store, out, prog, scanner.OptionsFromConfig(cfg), logger)

	if cfg.API.Enabled {
		server := api.NewServer(s, store, logger, cfg.API.Port)
		if dsn := os.Getenv(config.EnvDatabaseDSN); dsn != "" {
			dbConfig, err := config.NewDatabaseConfig(dsn, logger)
			if err != nil {
				return fmt.Errorf("连接配置数据库失败: %w", err)
			}
			gs.RegisterCloser("config-db", dbConfig, shutdown.OrderCloseStore)
			server.SetConfigManager(api.NewConfigManager(dbConfig, logger))
		}
		go func() {
			if err := server.Start(); err != nil {
				logger.Errorf("API服务器运行失败: %v", err)
			}
		}()
		gs.RegisterShutdownFunc("api", server.Stop, shutdown.OrderStopAPI)
	}

	err = s.Run(ctx)
	status := s.Status()
	logger.Info("扫描结束，统计信息:")
	logger.Infof("  状态: %s", status.State)
	logger.Infof("  下一区块: %d", status.NextBlock)
	logger.Infof("  处理窗口数: %d", status.WindowsProcessed)
	logger.Infof("  匹配事件数: %d", status.EventsMatched)
	logger.Infof("  新分类合约: %d", status.Classified)
	logger.Infof("  抓取代币URI: %d", status.TokenURIsFetched)

	if errors.Is(err, context.Canceled) {
		logger.Info("扫描已按请求停止，可使用 --resume 继续")
		return nil
	}
	return err
}

// showProgress 显示扫描进度
func showProgress(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	prog, err := progress.NewManager(cfg.Progress.DBPath, logger)
	if err != nil {
		return fmt.Errorf("打开进度数据库失败: %w", err)
	}
	defer prog.Close()

	if resetProgress {
		if err := prog.Reset(); err != nil {
			return fmt.Errorf("重置进度失败: %w", err)
		}
		fmt.Println("进度已重置")
		return nil
	}

	info := prog.GetProgress()
	fmt.Printf("扫描进度信息 (%s)\n", prog.GetDBPath())
	fmt.Println(strings.Repeat("=", 50))
	if !info.HasCheckpoint() {
		fmt.Println("尚无进度记录")
		return nil
	}

	stats := prog.GetStats()
	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Printf("%-20s: %v\n", key, stats[key])
	}
	return nil
}

// showSnapshot 汇总合约快照
func showSnapshot(cmd *cobra.Command, args []string) error {
	cfg, _, err := setup(cmd)
	if err != nil {
		return err
	}

	store, err := cache.Open(cfg.Cache.Backend, cfg.Cache.SnapshotPath)
	if err != nil {
		return fmt.Errorf("打开合约快照失败: %w", err)
	}
	defer store.Close()

	c, err := cache.Load(store)
	if err != nil {
		return err
	}

	summary := c.Summary()
	fmt.Printf("合约快照: %s (%s)\n", cfg.Cache.SnapshotPath, cfg.Cache.Backend)
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("%-20s: %d\n", "合约总数", summary.Contracts)

	kinds := make([]string, 0, len(summary.ByType))
	for kind := range summary.ByType {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Printf("  %-18s: %d\n", kind, summary.ByType[kind])
	}
	fmt.Printf("%-20s: %d\n", "代币URI", summary.TokenURIs)
	fmt.Printf("%-20s: %d\n", "URI模板", summary.Templates)
	fmt.Printf("%-20s: %d\n", "未抓取代币", summary.Unchecked)
	return nil
}
