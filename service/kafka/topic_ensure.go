package kafka

import (
	"errors"
	"fmt"

	"MessageBox/logger"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// EnsureTopics：
// 1) 不存在就按 c 创建；
// 2) 已存在且分区数 < 期望值时扩分区（Kafka 只能增加分区）。
func EnsureTopics(admin sarama.ClusterAdmin, topics []string, c Config) error {
	minISR := "1"
	if c.ReplicationFactor >= 3 {
		minISR = "2"
	}
	for _, t := range topics {
		descs, err := admin.DescribeTopics([]string{t})
		if err != nil {
			return fmt.Errorf("describe topic %s: %w", t, err)
		}
		exists := len(descs) == 1 && descs[0].Err == sarama.ErrNoError

		if !exists {
			td := &sarama.TopicDetail{
				NumPartitions:     c.PartitionsPerTopic,
				ReplicationFactor: c.ReplicationFactor,
				ConfigEntries: map[string]*string{
					"cleanup.policy":                 strPtr("delete"),
					"min.insync.replicas":            strPtr(minISR),
					"unclean.leader.election.enable": strPtr("false"),
					"compression.type":               strPtr("producer"),
				},
			}
			if err := admin.CreateTopic(t, td, false); err != nil {
				var te *sarama.TopicError
				if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) || errors.Is(err, sarama.ErrTopicAlreadyExists) {
					logger.Info("[kafka] topic exists (race)", zap.String("topic", t))
					continue
				}
				return fmt.Errorf("create topic %s: %w", t, err)
			}
			logger.Info("[kafka] topic created", zap.String("topic", t),
				zap.Int32("partitions", c.PartitionsPerTopic), zap.Int16("rf", c.ReplicationFactor))
			continue
		}

		cur := int32(len(descs[0].Partitions))
		if c.PartitionsPerTopic > cur {
			if err := admin.CreatePartitions(t, c.PartitionsPerTopic, nil, false); err != nil {
				return fmt.Errorf("expand partitions %s from %d to %d: %w", t, cur, c.PartitionsPerTopic, err)
			}
			logger.Info("[kafka] partitions expanded", zap.String("topic", t), zap.Int32("from", cur), zap.Int32("to", c.PartitionsPerTopic))
		}
	}
	return nil
}

func strPtr(s string) *string { return &s }
