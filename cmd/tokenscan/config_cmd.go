package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tokenscan/internal/config"
)

// newConfigCmd 管理数据库中的配置覆盖项
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "管理数据库中的配置覆盖项（需设置 " + config.EnvDatabaseDSN + "）",
	}

	configCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "列出生效的配置项",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDatabaseConfig(func(dc *config.DatabaseConfig) error {
					configs, err := dc.ListConfigs()
					if err != nil {
						return fmt.Errorf("获取配置失败: %w", err)
					}
					keys := make([]string, 0, len(configs))
					for key := range configs {
						keys = append(keys, key)
					}
					sort.Strings(keys)
					for _, key := range keys {
						fmt.Printf("%-30s = %s\n", key, configs[key])
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "查看单个配置项",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDatabaseConfig(func(dc *config.DatabaseConfig) error {
					value, err := dc.GetConfig(args[0])
					if errors.Is(err, sql.ErrNoRows) {
						return fmt.Errorf("配置项 %s 不存在或未启用", args[0])
					}
					if err != nil {
						return fmt.Errorf("获取配置失败: %w", err)
					}
					fmt.Println(value)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "设置配置项，例如 scanner.target_events 8000",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDatabaseConfig(func(dc *config.DatabaseConfig) error {
					return dc.UpdateConfig(args[0], args[1])
				})
			},
		},
		&cobra.Command{
			Use:   "unset <key>",
			Short: "停用配置项",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDatabaseConfig(func(dc *config.DatabaseConfig) error {
					return dc.DeleteConfig(args[0])
				})
			},
		},
	)
	return configCmd
}

// databaseDSN 读取配置数据库连接串，.env 中的设置同样生效
func databaseDSN() (string, error) {
	if err := loadDotEnv(); err != nil {
		return "", err
	}
	dsn := os.Getenv(config.EnvDatabaseDSN)
	if dsn == "" {
		return "", fmt.Errorf("未设置 %s", config.EnvDatabaseDSN)
	}
	return dsn, nil
}

func withDatabaseConfig(fn func(dc *config.DatabaseConfig) error) error {
	dsn, err := databaseDSN()
	if err != nil {
		return err
	}

	logger := logrus.New()
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	dc, err := config.NewDatabaseConfig(dsn, logger)
	if err != nil {
		return fmt.Errorf("连接配置数据库失败: %w", err)
	}
	defer dc.Close()

	if err := dc.EnsureSchema(); err != nil {
		return fmt.Errorf("初始化配置表失败: %w", err)
	}
	return fn(dc)
}
