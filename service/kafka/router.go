package kafka

import (
	"fmt"
	"hash/crc32"
)

// GenTopics 生成 N 个 topic：messagebox.delivery-00, messagebox.delivery-01, ...
func GenTopics(c Config) []string {
	out := make([]string, 0, c.TopicCount)
	for i := 0; i < c.TopicCount; i++ {
		out = append(out, fmt.Sprintf(c.TopicPattern, i))
	}
	return out
}

// SelectTopicByUser 同一 user 永远命中同一个 topic
func SelectTopicByUser(user string, topics []string) string {
	if len(topics) == 0 {
		return ""
	}
	h := crc32.ChecksumIEEE([]byte(user))
	return topics[int(h%uint32(len(topics)))]
}
