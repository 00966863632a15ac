package output

import (
	"encoding/json"
	"fmt"
	"time"

	"tokenscan/internal/metrics"
	"tokenscan/pkg/models"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// 默认topic
var defaultTopics = map[string]string{
	KindContracts: "tokenscan_contracts",
	KindTokenURIs: "tokenscan_token_uris",
}

// KafkaOutput Kafka输出器
type KafkaOutput struct {
	logger   *logrus.Logger
	topics   map[string]string // 记录种类到topic的映射
	producer sarama.SyncProducer
}

// NewKafkaOutput 创建Kafka输出器
func NewKafkaOutput(brokers []string, topics map[string]string, logger *logrus.Logger) (*KafkaOutput, error) {
	logger.Infof("初始化Kafka输出器，brokers: %v", brokers)

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka生产者已创建")
	return NewKafkaOutputWithProducer(producer, topics, logger), nil
}

// NewKafkaOutputWithProducer 使用已有生产者创建输出器
func NewKafkaOutputWithProducer(producer sarama.SyncProducer, topics map[string]string, logger *logrus.Logger) *KafkaOutput {
	merged := make(map[string]string, len(defaultTopics))
	for kind, topic := range defaultTopics {
		merged[kind] = topic
	}
	for kind, topic := range topics {
		if topic != "" {
			merged[kind] = topic
		}
	}
	logger.Infof("Kafka topics配置: %v", merged)

	return &KafkaOutput{
		logger:   logger,
		topics:   merged,
		producer: producer,
	}
}

// sendToKafka 发送数据到Kafka，合约地址作为消息键保证同一合约有序
func (k *KafkaOutput) sendToKafka(kind, key string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		metrics.OutputErrors.WithLabelValues("kafka").Inc()
		return fmt.Errorf("序列化数据失败: %w", err)
	}

	topic := k.topics[kind]
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(jsonData),
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		metrics.OutputErrors.WithLabelValues("kafka").Inc()
		return fmt.Errorf("发送消息到Kafka失败: %w", err)
	}

	metrics.OutputRecords.WithLabelValues(kind, "kafka").Inc()
	k.logger.Debugf("成功发送数据到Kafka topic '%s' (partition: %d, offset: %d)", topic, partition, offset)
	return nil
}

// WriteContract 发送合约分类记录
func (k *KafkaOutput) WriteContract(record *models.ContractRecord) error {
	if record == nil {
		return nil
	}
	return k.sendToKafka(KindContracts, record.Address, record)
}

// WriteTokenURI 发送代币URI记录
func (k *KafkaOutput) WriteTokenURI(record *models.TokenURIRecord) error {
	if record == nil {
		return nil
	}
	return k.sendToKafka(KindTokenURIs, record.Contract, record)
}

// Close 关闭Kafka连接
func (k *KafkaOutput) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}
