package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tokenscan/internal/config"
	"tokenscan/internal/metrics"
	"tokenscan/pkg/models"

	"github.com/sirupsen/logrus"
)

// 记录种类，同时用作 Kafka topic 映射的键
const (
	KindContracts = "contracts"
	KindTokenURIs = "token_uris"
)

// Output 输出接口
type Output interface {
	WriteContract(record *models.ContractRecord) error
	WriteTokenURI(record *models.TokenURIRecord) error
	Close() error
}

// NewOutput 按配置创建输出器
func NewOutput(cfg *config.OutputConfig, logger *logrus.Logger) (Output, error) {
	if cfg == nil {
		return NopOutput{}, nil
	}

	switch cfg.Format {
	case "", "none":
		return NopOutput{}, nil
	case "json":
		out, err := NewFileOutput(cfg.Directory)
		if err != nil {
			return nil, err
		}
		return out, nil
	case "kafka":
		if cfg.Kafka == nil {
			return nil, fmt.Errorf("缺少Kafka配置")
		}
		out, err := NewKafkaOutput(cfg.Kafka.Brokers, cfg.Kafka.Topics, logger)
		if err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("不支持的输出格式: %s", cfg.Format)
	}
}

// NopOutput 丢弃所有记录
type NopOutput struct{}

// WriteContract 丢弃记录
func (NopOutput) WriteContract(*models.ContractRecord) error { return nil }

// WriteTokenURI 丢弃记录
func (NopOutput) WriteTokenURI(*models.TokenURIRecord) error { return nil }

// Close 无需关闭
func (NopOutput) Close() error { return nil }

// FileOutput 文件输出，每种记录一个 JSON Lines 文件
type FileOutput struct {
	mu           sync.Mutex
	outputDir    string
	contractFile *os.File
	tokenURIFile *os.File
}

// NewFileOutput 创建文件输出器
func NewFileOutput(outputDir string) (*FileOutput, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")

	contractFile, err := os.Create(filepath.Join(outputDir, fmt.Sprintf("%s_%s.json", KindContracts, timestamp)))
	if err != nil {
		return nil, fmt.Errorf("创建合约文件失败: %w", err)
	}

	tokenURIFile, err := os.Create(filepath.Join(outputDir, fmt.Sprintf("%s_%s.json", KindTokenURIs, timestamp)))
	if err != nil {
		contractFile.Close()
		return nil, fmt.Errorf("创建代币URI文件失败: %w", err)
	}

	return &FileOutput{
		outputDir:    outputDir,
		contractFile: contractFile,
		tokenURIFile: tokenURIFile,
	}, nil
}

// writeLine 写入一行并刷新到磁盘
func (o *FileOutput) writeLine(file *os.File, kind string, record interface{}) error {
	data, err := json.Marshal(record)
	if err != nil {
		metrics.OutputErrors.WithLabelValues("file").Inc()
		return fmt.Errorf("序列化%s记录失败: %w", kind, err)
	}
	data = append(data, '\n')

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := file.Write(data); err != nil {
		metrics.OutputErrors.WithLabelValues("file").Inc()
		return fmt.Errorf("写入%s文件失败: %w", kind, err)
	}
	if err := file.Sync(); err != nil {
		metrics.OutputErrors.WithLabelValues("file").Inc()
		return fmt.Errorf("刷新%s文件失败: %w", kind, err)
	}

	metrics.OutputRecords.WithLabelValues(kind, "file").Inc()
	return nil
}

// WriteContract 写入合约分类记录
func (o *FileOutput) WriteContract(record *models.ContractRecord) error {
	if record == nil {
		return nil
	}
	return o.writeLine(o.contractFile, KindContracts, record)
}

// WriteTokenURI 写入代币URI记录
func (o *FileOutput) WriteTokenURI(record *models.TokenURIRecord) error {
	if record == nil {
		return nil
	}
	return o.writeLine(o.tokenURIFile, KindTokenURIs, record)
}

// Files 当前输出文件路径
func (o *FileOutput) Files() (contracts, tokenURIs string) {
	return o.contractFile.Name(), o.tokenURIFile.Name()
}

// Close 关闭文件
func (o *FileOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var errs []error
	if o.contractFile != nil {
		if err := o.contractFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭合约文件失败: %w", err))
		}
	}
	if o.tokenURIFile != nil {
		if err := o.tokenURIFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭代币URI文件失败: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("关闭输出文件时发生错误: %v", errs)
	}
	return nil
}
