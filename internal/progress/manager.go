package progress

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	// 默认数据库路径
	DefaultDBPath = "./data/progress.db"

	// 存储桶名称
	ProgressBucket = "progress"
	StatsBucket    = "stats"

	// 进度键
	NextBlockKey      = "next_block"
	WindowSizeKey     = "window_size"
	StartTimeKey      = "start_time"
	LastUpdateTimeKey = "last_update_time"

	// 统计键
	TotalWindowsKey = "total_windows"
	TotalEventsKey  = "total_events"
)

// ProgressInfo 进度信息
type ProgressInfo struct {
	NextBlock      uint64    `json:"next_block"`
	WindowSize     uint64    `json:"window_size"`
	StartTime      time.Time `json:"start_time"`
	LastUpdateTime time.Time `json:"last_update_time"`
	TotalWindows   uint64    `json:"total_windows"`
	TotalEvents    uint64    `json:"total_events"`
	ProcessingRate float64   `json:"processing_rate"` // 窗口/秒
}

// HasCheckpoint 是否保存过检查点
func (p *ProgressInfo) HasCheckpoint() bool {
	return p.NextBlock != 0 && p.WindowSize != 0
}

// Manager 扫描进度管理器
type Manager struct {
	db     *bolt.DB
	logger *logrus.Logger
	dbPath string
	mu     sync.RWMutex

	// 内存缓存
	cache *ProgressInfo
}

// NewManager 创建进度管理器
func NewManager(dbPath string, logger *logrus.Logger) (*Manager, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开进度数据库失败: %w", err)
	}

	manager := &Manager{
		db:     db,
		logger: logger,
		dbPath: dbPath,
		cache:  &ProgressInfo{},
	}

	if err := manager.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	if err := manager.loadCache(); err != nil {
		logger.Warnf("加载进度缓存失败: %v", err)
	}

	logger.Infof("进度管理器已初始化，数据库路径: %s", dbPath)
	return manager, nil
}

// initDB 初始化数据库结构
func (m *Manager) initDB() error {
	return m.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(ProgressBucket)); err != nil {
			return fmt.Errorf("创建进度存储桶失败: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(StatsBucket)); err != nil {
			return fmt.Errorf("创建统计存储桶失败: %w", err)
		}
		return nil
	})
}

func getUint64(bucket *bolt.Bucket, key string) uint64 {
	data := bucket.Get([]byte(key))
	if len(data) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}

func putUint64(bucket *bolt.Bucket, key string, value uint64) error {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, value)
	return bucket.Put([]byte(key), data)
}

func getTime(bucket *bolt.Bucket, key string) time.Time {
	var t time.Time
	if data := bucket.Get([]byte(key)); data != nil {
		if err := json.Unmarshal(data, &t); err != nil {
			return time.Time{}
		}
	}
	return t
}

func putTime(bucket *bolt.Bucket, key string, t time.Time) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return bucket.Put([]byte(key), data)
}

// loadCache 加载缓存
func (m *Manager) loadCache() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.db.View(func(tx *bolt.Tx) error {
		if bucket := tx.Bucket([]byte(ProgressBucket)); bucket != nil {
			m.cache.NextBlock = getUint64(bucket, NextBlockKey)
			m.cache.WindowSize = getUint64(bucket, WindowSizeKey)
			m.cache.StartTime = getTime(bucket, StartTimeKey)
			m.cache.LastUpdateTime = getTime(bucket, LastUpdateTimeKey)
		}
		if bucket := tx.Bucket([]byte(StatsBucket)); bucket != nil {
			m.cache.TotalWindows = getUint64(bucket, TotalWindowsKey)
			m.cache.TotalEvents = getUint64(bucket, TotalEventsKey)
		}
		return nil
	})
}

// Checkpoint 窗口完成后保存下一个起始区块和调整后的窗口大小
func (m *Manager) Checkpoint(nextBlock, windowSize, events uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if m.cache.StartTime.IsZero() {
		m.cache.StartTime = now
	}

	err := m.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ProgressBucket))
		if bucket == nil {
			return fmt.Errorf("进度存储桶不存在")
		}
		if err := putUint64(bucket, NextBlockKey, nextBlock); err != nil {
			return fmt.Errorf("保存区块号失败: %w", err)
		}
		if err := putUint64(bucket, WindowSizeKey, windowSize); err != nil {
			return fmt.Errorf("保存窗口大小失败: %w", err)
		}
		if err := putTime(bucket, StartTimeKey, m.cache.StartTime); err != nil {
			return fmt.Errorf("保存开始时间失败: %w", err)
		}
		if err := putTime(bucket, LastUpdateTimeKey, now); err != nil {
			return fmt.Errorf("保存更新时间失败: %w", err)
		}

		stats := tx.Bucket([]byte(StatsBucket))
		if stats == nil {
			return fmt.Errorf("统计存储桶不存在")
		}
		if err := putUint64(stats, TotalWindowsKey, m.cache.TotalWindows+1); err != nil {
			return fmt.Errorf("保存窗口数失败: %w", err)
		}
		return putUint64(stats, TotalEventsKey, m.cache.TotalEvents+events)
	})
	if err != nil {
		return err
	}

	m.cache.NextBlock = nextBlock
	m.cache.WindowSize = windowSize
	m.cache.LastUpdateTime = now
	m.cache.TotalWindows++
	m.cache.TotalEvents += events
	if duration := now.Sub(m.cache.StartTime).Seconds(); duration > 0 {
		m.cache.ProcessingRate = float64(m.cache.TotalWindows) / duration
	}
	return nil
}

// GetProgress 获取进度信息副本
func (m *Manager) GetProgress() *ProgressInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info := *m.cache
	return &info
}

// Reset 重置进度
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{ProgressBucket, StatsBucket} {
			if tx.Bucket([]byte(name)) != nil {
				if err := tx.DeleteBucket([]byte(name)); err != nil {
					return fmt.Errorf("清空存储桶 %s 失败: %w", name, err)
				}
			}
			if _, err := tx.CreateBucket([]byte(name)); err != nil {
				return fmt.Errorf("创建存储桶 %s 失败: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.cache = &ProgressInfo{}
	m.logger.Info("扫描进度已重置")
	return nil
}

// GetDBPath 获取数据库路径
func (m *Manager) GetDBPath() string {
	return m.dbPath
}

// GetStats 获取统计信息
func (m *Manager) GetStats() map[string]interface{} {
	info := m.GetProgress()

	stats := map[string]interface{}{
		"next_block":       info.NextBlock,
		"window_size":      info.WindowSize,
		"total_windows":    info.TotalWindows,
		"total_events":     info.TotalEvents,
		"processing_rate":  fmt.Sprintf("%.2f windows/sec", info.ProcessingRate),
		"start_time":       info.StartTime.Format(time.RFC3339),
		"last_update_time": info.LastUpdateTime.Format(time.RFC3339),
	}

	if !info.StartTime.IsZero() {
		stats["running_duration"] = time.Since(info.StartTime).String()
	}

	return stats
}

// Close 关闭进度管理器
func (m *Manager) Close() error {
	if m.db != nil {
		m.logger.Info("关闭进度管理器")
		return m.db.Close()
	}
	return nil
}
