package api

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogEntry 日志条目
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogManager 保存最近的日志，超出容量时覆盖最旧的条目
type LogManager struct {
	mu      sync.RWMutex
	logs    []LogEntry
	next    int
	full    bool
	maxLogs int
}

// NewLogManager 创建日志管理器
func NewLogManager(maxLogs int) *LogManager {
	if maxLogs <= 0 {
		maxLogs = 1
	}
	return &LogManager{
		logs:    make([]LogEntry, maxLogs),
		maxLogs: maxLogs,
	}
}

// AddLog 添加日志
func (lm *LogManager) AddLog(entry *logrus.Entry) {
	var fields map[string]interface{}
	if len(entry.Data) > 0 {
		fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			// error 值序列化为空对象
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			fields[k] = v
		}
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.logs[lm.next] = LogEntry{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Fields:    fields,
	}
	lm.next = (lm.next + 1) % lm.maxLogs
	if lm.next == 0 {
		lm.full = true
	}
}

// newestFirst 按时间倒序返回日志，level 非空时只保留该级别
func (lm *LogManager) newestFirst(level string) []LogEntry {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	count := lm.next
	if lm.full {
		count = lm.maxLogs
	}

	out := make([]LogEntry, 0, count)
	for i := 1; i <= count; i++ {
		e := lm.logs[(lm.next-i+lm.maxLogs)%lm.maxLogs]
		if level != "" && e.Level != level {
			continue
		}
		out = append(out, e)
	}
	return out
}

// GetLogs 最近 limit 条日志，limit <= 0 表示全部
func (lm *LogManager) GetLogs(level string, limit int) []LogEntry {
	logs := lm.newestFirst(level)
	if limit > 0 && limit < len(logs) {
		logs = logs[:limit]
	}
	return logs
}

// GetLogsWithPagination 获取分页日志，第一页为最新日志
func (lm *LogManager) GetLogsWithPagination(level string, page, pageSize int) ([]LogEntry, int) {
	logs := lm.newestFirst(level)
	total := len(logs)

	start := (page - 1) * pageSize
	if start >= total || start < 0 {
		return []LogEntry{}, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return logs[start:end], total
}

// ClearLogs 清空日志
func (lm *LogManager) ClearLogs() {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.logs = make([]LogEntry, lm.maxLogs)
	lm.next = 0
	lm.full = false
}

// LogHook 把日志写入 LogManager 的 logrus 钩子
type LogHook struct {
	manager *LogManager
	levels  []logrus.Level
}

// NewLogHook 创建日志钩子，记录 Debug 以上级别
func NewLogHook(manager *LogManager) *LogHook {
	return &LogHook{
		manager: manager,
		levels: []logrus.Level{
			logrus.PanicLevel,
			logrus.FatalLevel,
			logrus.ErrorLevel,
			logrus.WarnLevel,
			logrus.InfoLevel,
			logrus.DebugLevel,
		},
	}
}

// Fire 实现 logrus.Hook 接口
func (h *LogHook) Fire(entry *logrus.Entry) error {
	h.manager.AddLog(entry)
	return nil
}

// Levels 实现 logrus.Hook 接口
func (h *LogHook) Levels() []logrus.Level {
	return h.levels
}
