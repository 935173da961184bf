package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"MessageBox/service/relay"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
)

func mockConfig() *sarama.Config {
	c := Config{}
	c.Norm()
	return BuildConfig(c)
}

func TestAuditWritesRecords(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, mockConfig())
	prod.ExpectInputWithCheckerFunctionAndSucceed(func(val []byte) error {
		var r Record
		if err := json.Unmarshal(val, &r); err != nil {
			return err
		}
		if r.Node != "node-a" || r.From != "alice" || r.To != "bob" || r.Route != relay.RouteLocal || r.Size != 4 || r.ID == "" {
			return fmt.Errorf("unexpected record %s", val)
		}
		return nil
	})
	prod.ExpectInputAndFail(errors.New("broker down"))

	a := NewAudit(prod, "node-a", GenTopics(Config{TopicPattern: "box.audit-%02d", TopicCount: 4}))
	a.Routed(relay.RouteEvent{From: "alice", To: "bob", Route: relay.RouteLocal, Size: 4})
	a.Routed(relay.RouteEvent{From: "alice", To: "carol", Route: relay.RouteRemote, Peer: "10.0.0.2:9000"})
	a.Close()

	sent, failed, dropped := a.Counts()
	if sent != 1 || failed != 1 || dropped != 0 {
		t.Fatalf("counts = %d %d %d", sent, failed, dropped)
	}
	// after close records are ignored, not a panic
	a.Routed(relay.RouteEvent{From: "x", To: "y"})
}

func TestSelectTopicByUser(t *testing.T) {
	topics := GenTopics(Config{TopicPattern: "box.audit-%02d", TopicCount: 8})
	if len(topics) != 8 || topics[0] != "box.audit-00" || topics[7] != "box.audit-07" {
		t.Fatalf("topics = %v", topics)
	}
	first := SelectTopicByUser("bob", topics)
	for i := 0; i < 10; i++ {
		if SelectTopicByUser("bob", topics) != first {
			t.Fatal("topic must be stable per user")
		}
	}
	if SelectTopicByUser("bob", nil) != "" {
		t.Fatal("no topics, no choice")
	}
}

func TestBuildConfig(t *testing.T) {
	c := Config{Compression: "LZ4", ProducerRetries: 2}
	c.Norm()
	cfg := BuildConfig(c)
	if cfg.Producer.Compression != sarama.CompressionLZ4 || cfg.Producer.Retry.Max != 2 || !cfg.Producer.Return.Successes {
		t.Fatalf("producer config = %+v", cfg.Producer)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
