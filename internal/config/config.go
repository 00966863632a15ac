package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	scanerrors "tokenscan/internal/errors"
	"tokenscan/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix 环境变量前缀，例如 TOKENSCAN_SCANNER_START_BLOCK
	EnvPrefix = "TOKENSCAN"
	// EnvDatabaseDSN 配置数据库连接串
	EnvDatabaseDSN = "TOKENSCAN_DB_DSN"
	// EnvInfuraKey Infura项目密钥，rpc.url 为空时使用
	EnvInfuraKey = "INFURA_KEY"

	infuraMainnetURL = "https://mainnet.infura.io/v3/"
)

// Config 主配置
type Config struct {
	RPC      *RPCConfig         `mapstructure:"rpc"`
	Scanner  *ScannerConfig     `mapstructure:"scanner"`
	Cache    *CacheConfig       `mapstructure:"cache"`
	Progress *ProgressConfig    `mapstructure:"progress"`
	Output   *OutputConfig      `mapstructure:"output"`
	Logging  *logging.LogConfig `mapstructure:"logging"`
	API      *APIConfig         `mapstructure:"api"`
}

// RPCConfig 节点配置
type RPCConfig struct {
	URL         string        `mapstructure:"url"`
	RateLimit   float64       `mapstructure:"rate_limit"` // 每秒请求数，0 表示不限速
	Burst       int           `mapstructure:"burst"`
	Timeout     time.Duration `mapstructure:"timeout"`
	ProbeGas    uint64        `mapstructure:"probe_gas"`
	TokenURIGas uint64        `mapstructure:"token_uri_gas"`
}

// ScannerConfig 扫描配置
type ScannerConfig struct {
	StartBlock      uint64 `mapstructure:"start_block"`
	EndBlock        uint64 `mapstructure:"end_block"` // 0 表示不结束
	InitialWindow   uint64 `mapstructure:"initial_window"`
	MaxWindow       uint64 `mapstructure:"max_window"` // 0 表示不限
	TargetEvents    uint64 `mapstructure:"target_events"`
	MaxEvents       int    `mapstructure:"max_events"` // 每批最多处理的事件数，0 表示不限
	MinSplitSpan    uint64 `mapstructure:"min_split_span"`
	HalveOnOverflow bool   `mapstructure:"halve_on_overflow"`
}

// CacheConfig 快照配置
type CacheConfig struct {
	SnapshotPath string `mapstructure:"snapshot_path"`
	Backend      string `mapstructure:"backend"` // json, bolt
}

// ProgressConfig 断点续扫配置
type ProgressConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string          `mapstructure:"brokers"`
	Topics  map[string]string `mapstructure:"topics"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	Format    string       `mapstructure:"format"` // none, json, kafka
	Directory string       `mapstructure:"directory"`
	Kafka     *KafkaConfig `mapstructure:"kafka"`
}

// APIConfig 状态接口配置
type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		RPC: &RPCConfig{
			URL:         "", // 需要在YAML配置、环境变量或数据库中指定
			RateLimit:   0,
			Burst:       1,
			Timeout:     30 * time.Second,
			ProbeGas:    30000,
			TokenURIGas: 300000,
		},
		Scanner: &ScannerConfig{
			StartBlock:      16249100,
			EndBlock:        0,
			InitialWindow:   10,
			MaxWindow:       0,
			TargetEvents:    8000,
			MaxEvents:       40,
			MinSplitSpan:    1,
			HalveOnOverflow: false,
		},
		Cache: &CacheConfig{
			SnapshotPath: "./contracts.json",
			Backend:      "json",
		},
		Progress: &ProgressConfig{
			Enabled: true,
			DBPath:  "./data/progress.db",
		},
		Output: &OutputConfig{
			Format:    "none",
			Directory: "./outputs",
			Kafka: &KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topics: map[string]string{
					"contracts":  "tokenscan_contracts",
					"token_uris": "tokenscan_token_uris",
				},
			},
		},
		Logging: logging.DefaultLogConfig(),
		API: &APIConfig{
			Enabled: false,
			Port:    8080,
		},
	}
}

// setDefaults 把默认配置登记到 viper，环境变量覆盖依赖这些键
func setDefaults(v *viper.Viper) {
	d := GetDefaultConfig()

	v.SetDefault("rpc.url", d.RPC.URL)
	v.SetDefault("rpc.rate_limit", d.RPC.RateLimit)
	v.SetDefault("rpc.burst", d.RPC.Burst)
	v.SetDefault("rpc.timeout", d.RPC.Timeout)
	v.SetDefault("rpc.probe_gas", d.RPC.ProbeGas)
	v.SetDefault("rpc.token_uri_gas", d.RPC.TokenURIGas)

	v.SetDefault("scanner.start_block", d.Scanner.StartBlock)
	v.SetDefault("scanner.end_block", d.Scanner.EndBlock)
	v.SetDefault("scanner.initial_window", d.Scanner.InitialWindow)
	v.SetDefault("scanner.max_window", d.Scanner.MaxWindow)
	v.SetDefault("scanner.target_events", d.Scanner.TargetEvents)
	v.SetDefault("scanner.max_events", d.Scanner.MaxEvents)
	v.SetDefault("scanner.min_split_span", d.Scanner.MinSplitSpan)
	v.SetDefault("scanner.halve_on_overflow", d.Scanner.HalveOnOverflow)

	v.SetDefault("cache.snapshot_path", d.Cache.SnapshotPath)
	v.SetDefault("cache.backend", d.Cache.Backend)

	v.SetDefault("progress.enabled", d.Progress.Enabled)
	v.SetDefault("progress.db_path", d.Progress.DBPath)

	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("output.directory", d.Output.Directory)
	v.SetDefault("output.kafka.brokers", d.Output.Kafka.Brokers)
	v.SetDefault("output.kafka.topics", d.Output.Kafka.Topics)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)

	v.SetDefault("api.enabled", d.API.Enabled)
	v.SetDefault("api.port", d.API.Port)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig 加载配置：默认值、YAML文件、环境变量，最后是数据库中的覆盖项
func LoadConfig(configPath string, logger *logrus.Logger) (*Config, error) {
	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		logger.Debugf("已读取配置文件: %s", configPath)
	}

	if dsn := os.Getenv(EnvDatabaseDSN); dsn != "" {
		dbConfig, err := NewDatabaseConfig(dsn, logger)
		if err != nil {
			return nil, fmt.Errorf("连接配置数据库失败: %w", err)
		}
		defer dbConfig.Close()

		overrides, err := dbConfig.ListConfigs()
		if err != nil {
			return nil, fmt.Errorf("从数据库加载配置失败: %w", err)
		}
		if err := applyOverrides(v, overrides); err != nil {
			return nil, err
		}
		logger.Infof("已从数据库加载 %d 项配置", len(overrides))
	}

	return decode(v)
}

// applyOverrides 写入覆盖项，只接受已知的配置键
func applyOverrides(v *viper.Viper, overrides map[string]string) error {
	for key, value := range overrides {
		if !v.IsSet(key) {
			return scanerrors.NewConfigError(fmt.Sprintf("未知的配置项: %s", key)).
				WithContext("key", key)
		}
		if key == "output.kafka.brokers" {
			v.Set(key, strings.Split(value, ","))
			continue
		}
		v.Set(key, value)
	}
	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	config := GetDefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if config.RPC.URL == "" {
		if key := os.Getenv(EnvInfuraKey); key != "" {
			config.RPC.URL = infuraMainnetURL + key
		}
	}

	return config, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.RPC == nil || c.Scanner == nil || c.Cache == nil || c.Output == nil {
		return scanerrors.NewConfigError("配置不完整")
	}
	if c.RPC.URL == "" {
		return scanerrors.NewConfigError("未指定节点地址，请设置 rpc.url 或 INFURA_KEY").
			WithContext("field", "rpc.url")
	}
	if c.RPC.RateLimit < 0 {
		return invalidField("rpc.rate_limit", "不能为负数")
	}
	if c.RPC.ProbeGas == 0 || c.RPC.TokenURIGas == 0 {
		return invalidField("rpc.probe_gas", "gas 上限必须大于0")
	}
	if c.Scanner.InitialWindow == 0 {
		return invalidField("scanner.initial_window", "必须大于0")
	}
	if c.Scanner.TargetEvents == 0 {
		return invalidField("scanner.target_events", "必须大于0")
	}
	if c.Scanner.MaxEvents < 0 {
		return invalidField("scanner.max_events", "不能为负数")
	}
	if c.Scanner.MinSplitSpan == 0 {
		return invalidField("scanner.min_split_span", "必须大于0")
	}
	if c.Scanner.EndBlock != 0 && c.Scanner.EndBlock <= c.Scanner.StartBlock {
		return invalidField("scanner.end_block", "必须大于起始区块")
	}
	if c.Cache.SnapshotPath == "" {
		return invalidField("cache.snapshot_path", "不能为空")
	}
	switch c.Cache.Backend {
	case "json", "bolt":
	default:
		return invalidField("cache.backend", fmt.Sprintf("不支持的快照后端: %s", c.Cache.Backend))
	}
	switch c.Output.Format {
	case "none", "json":
	case "kafka":
		if c.Output.Kafka == nil || len(c.Output.Kafka.Brokers) == 0 {
			return invalidField("output.kafka.brokers", "kafka 输出需要至少一个 broker")
		}
	default:
		return invalidField("output.format", fmt.Sprintf("不支持的输出格式: %s", c.Output.Format))
	}
	if c.API != nil && c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		return invalidField("api.port", "端口无效")
	}
	return nil
}

func invalidField(field, message string) error {
	return scanerrors.NewConfigError(fmt.Sprintf("%s %s", field, message)).
		WithContext("field", field)
}
