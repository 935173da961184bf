package kafka

import (
	"strings"
	"time"

	"MessageBox/tools/errs"

	"github.com/Shopify/sarama"
)

// BuildConfig 生产者配置；Key 决定分区，同一收件人有序
func BuildConfig(c Config) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = c.Version

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = c.ProducerRetries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // ★ 关键：Key 控制分区
	switch strings.ToLower(c.Compression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	// Net
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

// NewAsyncProducer 连接集群，必要时先建 topic
func NewAsyncProducer(c Config) (sarama.AsyncProducer, error) {
	c.Norm()
	cfg := BuildConfig(c)
	client, err := sarama.NewClient(c.Brokers, cfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka client", "brokers", c.Brokers)
	}
	if c.EnsureTopics {
		admin, err := sarama.NewClusterAdminFromClient(client)
		if err != nil {
			_ = client.Close()
			return nil, errs.WrapMsg(err, "kafka admin")
		}
		// admin.Close 会关掉底层 client，这里不调用
		if err := EnsureTopics(admin, GenTopics(c), c); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	p, err := sarama.NewAsyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errs.WrapMsg(err, "kafka producer")
	}
	return p, nil
}
