package kafka

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"MessageBox/logger"
	"MessageBox/service/relay"
	"MessageBox/tools/ids"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// Record is one delivery decision. Bodies are not recorded.
type Record struct {
	ID      string       `json:"id"`
	Node    string       `json:"node"`
	From    relay.UserID `json:"from"`
	To      relay.UserID `json:"to"`
	Route   relay.Route  `json:"route"`
	Peer    string       `json:"peer,omitempty"`
	Size    int          `json:"size"`
	Inbound bool         `json:"inbound,omitempty"`
	At      time.Time    `json:"at"`
}

// Audit is a relay.Observer writing every routing decision to Kafka,
// keyed by recipient so one user's records stay in order.
type Audit struct {
	relay.NopObserver

	prod   sarama.AsyncProducer
	node   string
	topics []string

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

func NewAudit(prod sarama.AsyncProducer, node string, topics []string) *Audit {
	a := &Audit{prod: prod, node: node, topics: topics}
	a.wg.Add(1)
	go a.drain()
	return a
}

func (a *Audit) Routed(ev relay.RouteEvent) {
	rec := Record{
		ID:      ids.GenerateString(),
		Node:    a.node,
		From:    ev.From,
		To:      ev.To,
		Route:   ev.Route,
		Peer:    ev.Peer,
		Size:    ev.Size,
		Inbound: ev.Inbound,
		At:      time.Now(),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: SelectTopicByUser(string(ev.To), a.topics),
		Key:   sarama.StringEncoder(ev.To),
		Value: sarama.ByteEncoder(b),
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	// Input 满了就丢，不能阻塞路由
	select {
	case a.prod.Input() <- msg:
	default:
		a.dropped.Add(1)
	}
}

func (a *Audit) drain() {
	defer a.wg.Done()
	succ, errc := a.prod.Successes(), a.prod.Errors()
	for succ != nil || errc != nil {
		select {
		case _, ok := <-succ:
			if !ok {
				succ = nil
				continue
			}
			a.sent.Add(1)
		case e, ok := <-errc:
			if !ok {
				errc = nil
				continue
			}
			a.failed.Add(1)
			logger.Warn("[kafka] audit record failed", zap.String("topic", e.Msg.Topic), zap.Error(e.Err))
		}
	}
}

// Counts returns acknowledged, failed and dropped records.
func (a *Audit) Counts() (sent, failed, dropped int64) {
	return a.sent.Load(), a.failed.Load(), a.dropped.Load()
}

// Close flushes the producer and waits for the last acknowledgements.
func (a *Audit) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.prod.AsyncClose()
	a.mu.Unlock()
	a.wg.Wait()
}
