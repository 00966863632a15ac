package api

import (
	"errors"
	"net/http"

	scanerrors "tokenscan/internal/errors"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ConfigStore 数据库配置项的读写
type ConfigStore interface {
	ListConfigs() (map[string]string, error)
	UpdateConfig(key, value string) error
	DeleteConfig(key string) error
}

// ConfigManager 配置管理器
//
// 修改只写入 scanner_config 表，下次启动扫描器时生效。
type ConfigManager struct {
	store  ConfigStore
	logger *logrus.Logger
}

// NewConfigManager 创建配置管理器
func NewConfigManager(store ConfigStore, logger *logrus.Logger) *ConfigManager {
	return &ConfigManager{
		store:  store,
		logger: logger,
	}
}

// ListConfigs 列出所有生效的配置项
func (cm *ConfigManager) ListConfigs(c *gin.Context) {
	configs, err := cm.store.ListConfigs()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "获取配置失败",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"configs": configs,
	})
}

// UpdateConfig 更新配置
func (cm *ConfigManager) UpdateConfig(c *gin.Context) {
	var req struct {
		Key   string `json:"key" binding:"required"`
		Value string `json:"value" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "请求参数错误",
			"message": err.Error(),
		})
		return
	}

	if err := cm.store.UpdateConfig(req.Key, req.Value); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scanerrors.ErrConfigInvalid) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{
			"error":   "更新配置失败",
			"message": err.Error(),
		})
		return
	}

	cm.logger.Infof("通过接口更新配置: %s", req.Key)
	c.JSON(http.StatusOK, gin.H{
		"message": "配置更新成功，重启后生效",
		"config": gin.H{
			"key":   req.Key,
			"value": req.Value,
		},
	})
}

// DeleteConfig 停用配置项
func (cm *ConfigManager) DeleteConfig(c *gin.Context) {
	key := c.Param("key")
	if err := cm.store.DeleteConfig(key); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "删除配置失败",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "配置已停用",
		"key":     key,
	})
}
