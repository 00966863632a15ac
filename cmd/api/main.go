package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tokenscan/internal/api"
	"tokenscan/internal/cache"
	"tokenscan/internal/config"
	"tokenscan/internal/logging"
)

var (
	configPath string
	snapshot   string
	port       int
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tokenscan-api",
		Short: "合约快照只读浏览服务",
		RunE:  run,
	}

	rootCmd.Flags().StringVar(&configPath, "config", "", "配置文件路径 (YAML)")
	rootCmd.Flags().StringVar(&snapshot, "snapshot", "", "合约快照文件路径")
	rootCmd.Flags().IntVar(&port, "port", 0, "API 服务端口")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "详细输出")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("加载 .env 失败: %w", err)
	}

	cfg, err := config.LoadConfig(configPath, logrus.New())
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	if cmd.Flags().Changed("snapshot") {
		cfg.Cache.SnapshotPath = snapshot
	}
	if cmd.Flags().Changed("port") {
		cfg.API.Port = port
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("创建日志失败: %w", err)
	}

	store, err := cache.Open(cfg.Cache.Backend, cfg.Cache.SnapshotPath)
	if err != nil {
		return fmt.Errorf("打开合约快照失败: %w", err)
	}
	defer store.Close()

	server := api.NewServer(nil, store, logger, cfg.API.Port)

	if dsn := os.Getenv(config.EnvDatabaseDSN); dsn != "" {
		dbConfig, err := config.NewDatabaseConfig(dsn, logger)
		if err != nil {
			return fmt.Errorf("连接配置数据库失败: %w", err)
		}
		defer dbConfig.Close()
		if err := dbConfig.EnsureSchema(); err != nil {
			return fmt.Errorf("初始化配置表失败: %w", err)
		}
		server.SetConfigManager(api.NewConfigManager(dbConfig, logger))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	logger.Infof("快照浏览服务已启动，快照: %s，端口: %d", cfg.Cache.SnapshotPath, cfg.API.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-errCh:
		return err
	}

	logger.Info("正在关闭服务器...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("关闭服务器失败: %w", err)
	}

	logger.Info("服务器已关闭")
	return nil
}
