package kafka

import "github.com/Shopify/sarama"

// Config 投递审计 topic 配置
type Config struct {
	Brokers            []string
	TopicPattern       string // 例如 "messagebox.delivery-%02d"
	TopicCount         int    // 按收件人 hash 分到 N 个 topic
	PartitionsPerTopic int32
	ReplicationFactor  int16
	ProducerRetries    int
	Compression        string // none/snappy/lz4/zstd
	Version            sarama.KafkaVersion
	EnsureTopics       bool // 启动时创建/扩分区
}

// Norm 填默认值
func (c *Config) Norm() {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"127.0.0.1:9092"}
	}
	if c.TopicPattern == "" {
		c.TopicPattern = "messagebox.delivery-%02d"
	}
	if c.TopicCount <= 0 {
		c.TopicCount = 1
	}
	if c.PartitionsPerTopic <= 0 {
		c.PartitionsPerTopic = 8
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = 1 // 单机
	}
	if c.ProducerRetries <= 0 {
		c.ProducerRetries = 5
	}
	if c.Version == (sarama.KafkaVersion{}) {
		c.Version = sarama.V2_1_0_0
	}
}
