package config

import (
	"database/sql"
	"fmt"

	scanerrors "tokenscan/internal/errors"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DatabaseConfig 数据库配置管理器
//
// 配置项保存在 scanner_config 表中，config_key 使用点分键名，例如 scanner.target_events。
type DatabaseConfig struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// NewDatabaseConfig 创建数据库配置管理器
func NewDatabaseConfig(dsn string, logger *logrus.Logger) (*DatabaseConfig, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	return &DatabaseConfig{
		DB:     db,
		logger: logger,
	}, nil
}

// EnsureSchema 创建配置表
func (dc *DatabaseConfig) EnsureSchema() error {
	_, err := dc.DB.Exec(`
		CREATE TABLE IF NOT EXISTS scanner_config (
			config_key   TEXT PRIMARY KEY,
			config_value TEXT NOT NULL,
			is_active    BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("创建配置表失败: %w", err)
	}
	return nil
}

// ListConfigs 列出所有生效的配置项
func (dc *DatabaseConfig) ListConfigs() (map[string]string, error) {
	rows, err := dc.DB.Query(`SELECT config_key, config_value FROM scanner_config WHERE is_active = true`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	configs := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		configs[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return configs, nil
}

// GetConfig 获取配置值
func (dc *DatabaseConfig) GetConfig(key string) (string, error) {
	var value string
	err := dc.DB.QueryRow(`SELECT config_value FROM scanner_config WHERE config_key = $1 AND is_active = true`, key).Scan(&value)
	return value, err
}

// UpdateConfig 更新配置，键必须是已知配置项
func (dc *DatabaseConfig) UpdateConfig(key, value string) error {
	if !newViper().IsSet(key) {
		return scanerrors.NewConfigError(fmt.Sprintf("未知的配置项: %s", key)).
			WithContext("key", key)
	}

	_, err := dc.DB.Exec(`
		INSERT INTO scanner_config (config_key, config_value, is_active, updated_at)
		VALUES ($1, $2, true, CURRENT_TIMESTAMP)
		ON CONFLICT (config_key)
		DO UPDATE SET config_value = $2, is_active = true, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("更新配置 %s 失败: %w", key, err)
	}

	dc.logger.Infof("配置已更新: %s = %s", key, value)
	return nil
}

// DeleteConfig 停用配置项
func (dc *DatabaseConfig) DeleteConfig(key string) error {
	_, err := dc.DB.Exec(`UPDATE scanner_config SET is_active = false, updated_at = CURRENT_TIMESTAMP WHERE config_key = $1`, key)
	if err != nil {
		return fmt.Errorf("停用配置 %s 失败: %w", key, err)
	}
	return nil
}

// Close 关闭数据库连接
func (dc *DatabaseConfig) Close() error {
	if dc.DB != nil {
		return dc.DB.Close()
	}
	return nil
}
