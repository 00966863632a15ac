package config

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	scanerrors "tokenscan/internal/errors"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// clearEnv 避免本机环境变量影响测试
func clearEnv(t *testing.T) {
	t.Setenv(EnvDatabaseDSN, "")
	t.Setenv(EnvInfuraKey, "")
	t.Setenv("TOKENSCAN_RPC_URL", "")
	t.Setenv("TOKENSCAN_SCANNER_TARGET_EVENTS", "")
}

func TestGetDefaultConfig(t *testing.T) {
	config := GetDefaultConfig()

	require.NotNil(t, config.RPC)
	assert.Equal(t, "", config.RPC.URL)
	assert.Equal(t, uint64(30000), config.RPC.ProbeGas)
	assert.Equal(t, uint64(300000), config.RPC.TokenURIGas)
	assert.Equal(t, 30*time.Second, config.RPC.Timeout)

	assert.Equal(t, uint64(16249100), config.Scanner.StartBlock)
	assert.Equal(t, uint64(0), config.Scanner.EndBlock)
	assert.Equal(t, uint64(10), config.Scanner.InitialWindow)
	assert.Equal(t, uint64(8000), config.Scanner.TargetEvents)
	assert.Equal(t, 40, config.Scanner.MaxEvents)
	assert.Equal(t, uint64(1), config.Scanner.MinSplitSpan)
	assert.False(t, config.Scanner.HalveOnOverflow)

	assert.Equal(t, "./contracts.json", config.Cache.SnapshotPath)
	assert.Equal(t, "json", config.Cache.Backend)
	assert.True(t, config.Progress.Enabled)
	assert.Equal(t, "none", config.Output.Format)
	assert.Equal(t, "info", config.Logging.Level)
	assert.False(t, config.API.Enabled)
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	config, err := LoadConfig("", testLogger())
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), config)
}

func TestLoadConfig_File(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
rpc:
  url: "http://localhost:8545"
  rate_limit: 10
  timeout: 5s
scanner:
  start_block: 100
  end_block: 200
  max_events: 0
  max_window: 100000
  halve_on_overflow: true
cache:
  backend: bolt
output:
  format: kafka
  kafka:
    brokers: ["k1:9092", "k2:9092"]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	config, err := LoadConfig(path, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8545", config.RPC.URL)
	assert.Equal(t, 10.0, config.RPC.RateLimit)
	assert.Equal(t, 5*time.Second, config.RPC.Timeout)
	assert.Equal(t, uint64(100), config.Scanner.StartBlock)
	assert.Equal(t, uint64(200), config.Scanner.EndBlock)
	assert.Equal(t, 0, config.Scanner.MaxEvents)
	assert.Equal(t, uint64(100000), config.Scanner.MaxWindow)
	assert.True(t, config.Scanner.HalveOnOverflow)
	assert.Equal(t, "bolt", config.Cache.Backend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, config.Output.Kafka.Brokers)

	// 未出现在文件中的项保留默认值
	assert.Equal(t, uint64(8000), config.Scanner.TargetEvents)
	assert.Equal(t, "./contracts.json", config.Cache.SnapshotPath)
	assert.NoError(t, config.Validate())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), testLogger())
	assert.Error(t, err)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TOKENSCAN_SCANNER_TARGET_EVENTS", "500")
	t.Setenv("TOKENSCAN_RPC_URL", "http://node:8545")

	config, err := LoadConfig("", testLogger())
	require.NoError(t, err)
	assert.Equal(t, uint64(500), config.Scanner.TargetEvents)
	assert.Equal(t, "http://node:8545", config.RPC.URL)
}

func TestLoadConfig_InfuraKey(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvInfuraKey, "abc123")

	config, err := LoadConfig("", testLogger())
	require.NoError(t, err)
	assert.Equal(t, "https://mainnet.infura.io/v3/abc123", config.RPC.URL)

	// 显式地址优先
	t.Setenv("TOKENSCAN_RPC_URL", "http://node:8545")
	config, err = LoadConfig("", testLogger())
	require.NoError(t, err)
	assert.Equal(t, "http://node:8545", config.RPC.URL)
}

func TestApplyOverrides(t *testing.T) {
	clearEnv(t)
	v := newViper()

	err := applyOverrides(v, map[string]string{
		"scanner.target_events": "1234",
		"scanner.max_events":    "0",
		"output.kafka.brokers":  "a:9092,b:9092",
	})
	require.NoError(t, err)

	config, err := decode(v)
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), config.Scanner.TargetEvents)
	assert.Equal(t, 0, config.Scanner.MaxEvents)
	assert.Equal(t, uint64(100000), config.Scanner.MaxWindow)
	assert.Equal(t, []string{"a:9092", "b:9092"}, config.Output.Kafka.Brokers)

	err = applyOverrides(newViper(), map[string]string{"collector.workers": "4"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, scanerrors.ErrConfigInvalid))
}

func validConfig() *Config {
	config := GetDefaultConfig()
	config.RPC.URL = "http://localhost:8545"
	return config
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{"默认配置加节点地址", func(c *Config) {}, false},
		{"缺少节点地址", func(c *Config) { c.RPC.URL = "" }, true},
		{"负的限速", func(c *Config) { c.RPC.RateLimit = -1 }, true},
		{"零gas", func(c *Config) { c.RPC.ProbeGas = 0 }, true},
		{"初始窗口为0", func(c *Config) { c.Scanner.InitialWindow = 0 }, true},
		{"目标事件数为0", func(c *Config) { c.Scanner.TargetEvents = 0 }, true},
		{"负的事件上限", func(c *Config) { c.Scanner.MaxEvents = -1 }, true},
		{"不限事件数", func(c *Config) { c.Scanner.MaxEvents = 0 }, false},
		{"最小切分跨度为0", func(c *Config) { c.Scanner.MinSplitSpan = 0 }, true},
		{"结束区块早于起始区块", func(c *Config) { c.Scanner.EndBlock = c.Scanner.StartBlock }, true},
		{"有效结束区块", func(c *Config) { c.Scanner.EndBlock = c.Scanner.StartBlock + 1 }, false},
		{"空快照路径", func(c *Config) { c.Cache.SnapshotPath = "" }, true},
		{"未知快照后端", func(c *Config) { c.Cache.Backend = "redis" }, true},
		{"bolt快照后端", func(c *Config) { c.Cache.Backend = "bolt" }, false},
		{"未知输出格式", func(c *Config) { c.Output.Format = "csv" }, true},
		{"kafka无broker", func(c *Config) {
			c.Output.Format = "kafka"
			c.Output.Kafka.Brokers = nil
		}, true},
		{"kafka输出", func(c *Config) { c.Output.Format = "kafka" }, false},
		{"无效API端口", func(c *Config) {
			c.API.Enabled = true
			c.API.Port = 0
		}, true},
		{"配置不完整", func(c *Config) { c.Scanner = nil }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.modify(config)
			err := config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, scanerrors.ErrConfigInvalid))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func BenchmarkGetDefaultConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		GetDefaultConfig()
	}
}
