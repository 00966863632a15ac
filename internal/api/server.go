package api

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"tokenscan/internal/cache"
	scanerrors "tokenscan/internal/errors"
	"tokenscan/pkg/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 500
)

// StatusProvider 提供扫描器运行状态
type StatusProvider interface {
	Status() models.ScanStatus
	ErrorStats() scanerrors.StatsSnapshot
}

// Server API服务器
//
// 只读接口：扫描状态、快照浏览、日志和指标。status 为空时只提供快照浏览。
type Server struct {
	status     StatusProvider
	store      cache.Store
	configs    *ConfigManager
	logger     *logrus.Logger
	logManager *LogManager
	router     *gin.Engine
	server     *http.Server
	mu         sync.Mutex
	startedAt  time.Time
	port       int
}

// NewServer 创建新的API服务器
func NewServer(status StatusProvider, store cache.Store, logger *logrus.Logger, port int) *Server {
	logManager := NewLogManager(1000)
	logger.AddHook(NewLogHook(logManager))

	return &Server{
		status:     status,
		store:      store,
		logger:     logger,
		logManager: logManager,
		startedAt:  time.Now(),
		port:       port,
	}
}

// SetConfigManager 启用数据库配置接口，需在 Handler 或 Start 之前调用
func (s *Server) SetConfigManager(cm *ConfigManager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = cm
}

// Handler 返回路由，首次调用时构建
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.router == nil {
		s.router = s.buildRouter()
	}
	return s.router
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// 添加CORS中间件
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	router.Use(gin.LoggerWithWriter(s.logger.Out))
	router.Use(gin.Recovery())

	s.setupRoutes(router)
	return router
}

// Start 启动API服务器，阻塞直到服务器关闭
func (s *Server) Start() error {
	handler := s.Handler()

	s.mu.Lock()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Infof("API服务器启动在端口 %d", s.port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API服务器运行失败: %w", err)
	}
	return nil
}

// Stop 停止API服务器
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.logger.Info("正在停止API服务器")
	return srv.Shutdown(ctx)
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(router *gin.Engine) {
	router.GET("/health", s.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.GET("/status", s.getStatus)

		// 快照浏览
		api.GET("/contracts", s.listContracts)
		api.GET("/contracts/:address", s.getContract)
		api.GET("/contracts/:address/tokens/:id", s.getTokenURI)

		// 日志管理
		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)

		if s.configs != nil {
			api.GET("/config", s.configs.ListConfigs)
			api.PUT("/config", s.configs.UpdateConfig)
			api.DELETE("/config/:key", s.configs.DeleteConfig)
		}
	}
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   "tokenscan-api",
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// getStatus 获取扫描器状态
func (s *Server) getStatus(c *gin.Context) {
	if s.status == nil {
		c.JSON(http.StatusOK, gin.H{
			"status": models.ScanStatus{State: models.ScanStateIdle},
			"errors": scanerrors.StatsSnapshot{},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": s.status.Status(),
		"errors": s.status.ErrorStats(),
	})
}

// loadCache 读取最新快照
func (s *Server) loadCache(c *gin.Context) (*cache.Cache, bool) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "未配置快照存储"})
		return nil, false
	}

	cc, err := cache.Load(s.store)
	if err != nil {
		s.logger.Errorf("读取快照失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "读取快照失败",
			"message": err.Error(),
		})
		return nil, false
	}
	return cc, true
}

// contractItem 合约列表项
type contractItem struct {
	Address   string              `json:"address"`
	Type      models.ContractType `json:"type"`
	TokenURIs int                 `json:"token_uris"`
	Templates int                 `json:"templates"`
	Unchecked int                 `json:"unchecked_tokens"`
}

// listContracts 分页列出快照中的合约，type 参数按种类过滤
func (s *Server) listContracts(c *gin.Context) {
	cc, ok := s.loadCache(c)
	if !ok {
		return
	}

	kind := c.Query("type")
	page, pageSize := pagination(c)

	items := make([]contractItem, 0)
	for _, addr := range cc.Addresses() {
		entry, found := cc.Entry(addr)
		if !found {
			continue
		}
		if kind != "" && !strings.EqualFold(entry.Type.Kind.String(), kind) {
			continue
		}
		items = append(items, contractItem{
			Address:   strings.ToLower(addr.Hex()),
			Type:      entry.Type,
			TokenURIs: len(entry.TokenURIs),
			Templates: len(entry.Templates),
			Unchecked: len(entry.UncheckedTokenIDs),
		})
	}

	total := len(items)
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	c.JSON(http.StatusOK, gin.H{
		"summary":   cc.Summary(),
		"contracts": items[start:end],
		"total":     total,
		"page":      page,
		"pageSize":  pageSize,
		"type":      kind,
	})
}

// getContract 获取单个合约的缓存条目
func (s *Server) getContract(c *gin.Context) {
	addr, ok := parseAddress(c)
	if !ok {
		return
	}
	cc, ok := s.loadCache(c)
	if !ok {
		return
	}

	entry, found := cc.Entry(addr)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "合约不在快照中"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address":   strings.ToLower(addr.Hex()),
		"contract":  entry,
		"want_more": cc.WantMoreURIs(addr),
	})
}

// getTokenURI 查询代币URI，包括模板推导出的URI
func (s *Server) getTokenURI(c *gin.Context) {
	addr, ok := parseAddress(c)
	if !ok {
		return
	}

	tokenID, valid := new(big.Int).SetString(c.Param("id"), 10)
	if !valid || tokenID.Sign() < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "代币ID必须是十进制非负整数"})
		return
	}

	cc, ok := s.loadCache(c)
	if !ok {
		return
	}
	if _, found := cc.GetType(addr); !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "合约不在快照中"})
		return
	}

	uri, found := cc.TokenURI(addr, tokenID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "代币URI未缓存"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"contract": strings.ToLower(addr.Hex()),
		"token_id": tokenID.String(),
		"uri":      uri,
	})
}

// getLogs 获取日志
func (s *Server) getLogs(c *gin.Context) {
	level := c.Query("level")
	page, pageSize := pagination(c)

	logs, total := s.logManager.GetLogsWithPagination(level, page, pageSize)

	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
		"level":    level,
	})
}

// clearLogs 清空日志
func (s *Server) clearLogs(c *gin.Context) {
	s.logManager.ClearLogs()

	c.JSON(http.StatusOK, gin.H{
		"message": "日志已清空",
	})
}

func parseAddress(c *gin.Context) (common.Address, bool) {
	raw := c.Param("address")
	if !common.IsHexAddress(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的合约地址: " + raw})
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func pagination(c *gin.Context) (int, int) {
	page := 1 // 默认第1页
	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		page = p
	}

	pageSize := defaultPageSize
	if ps, err := strconv.Atoi(c.Query("pageSize")); err == nil && ps > 0 {
		pageSize = ps
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
