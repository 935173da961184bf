// Package storage mirrors the relay's local users into Redis so other
// services can see which node a user is attached to.
package storage

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"MessageBox/logger"
	"MessageBox/service/relay"

	"go.uber.org/zap"
)

// ===== 配置 =====
type OnlineConfig struct {
	NodeID    string        // 节点ID（写入 value）
	TTL       time.Duration // key 过期时间，通常为 userTimeout + manageTimeout
	Queue     int           // 待写操作队列长度，满了丢弃
	OpTimeout time.Duration // 单次 Redis 操作超时
}

func (c *OnlineConfig) norm() {
	if c.TTL <= 0 {
		c.TTL = 7 * time.Minute
	}
	if c.Queue <= 0 {
		c.Queue = 4096
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 500 * time.Millisecond
	}
}

type opKind int

const (
	opSet opKind = iota
	opDel
	opRefresh
)

type op struct {
	kind opKind
	user string
	keys []string // opRefresh, snapshot taken when queued
}

// OnlineStore is a relay.Observer. Callbacks only queue work; Run applies
// it in order on one goroutine.
type OnlineStore struct {
	relay.NopObserver

	conf  OnlineConfig
	store Store
	ops   chan op

	mu   sync.Mutex
	live map[string]struct{}

	dropped atomic.Int64
}

func NewOnlineStore(store Store, conf OnlineConfig) *OnlineStore {
	conf.norm()
	return &OnlineStore{
		conf:  conf,
		store: store,
		ops:   make(chan op, conf.Queue),
		live:  make(map[string]struct{}),
	}
}

func (o *OnlineStore) UserCreated(id relay.UserID) {
	o.mu.Lock()
	o.live[string(id)] = struct{}{}
	o.mu.Unlock()
	o.push(op{kind: opSet, user: string(id)})
}

func (o *OnlineStore) UserRemoved(id relay.UserID) {
	o.mu.Lock()
	delete(o.live, string(id))
	o.mu.Unlock()
	o.push(op{kind: opDel, user: string(id)})
}

// Swept renews the TTL of every user still alive here.
func (o *OnlineStore) Swept(relay.SweepStats) {
	o.push(op{kind: opRefresh, keys: o.liveKeys()})
}

func (o *OnlineStore) push(x op) {
	select {
	case o.ops <- x:
	default:
		o.dropped.Add(1)
	}
}

// Dropped counts operations lost to a full queue.
func (o *OnlineStore) Dropped() int64 { return o.dropped.Load() }

// Run applies queued operations until ctx is done, then removes the keys
// of every user still registered on this node.
func (o *OnlineStore) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			o.offline()
			return
		case x := <-o.ops:
			o.apply(ctx, x)
		}
	}
}

func (o *OnlineStore) apply(parent context.Context, x op) {
	ctx, cancel := context.WithTimeout(parent, o.conf.OpTimeout)
	defer cancel()

	var err error
	switch x.kind {
	case opSet:
		err = o.store.Set(ctx, presenceKey(x.user), o.conf.NodeID, o.conf.TTL)
	case opDel:
		err = o.store.Del(ctx, presenceKey(x.user))
	case opRefresh:
		err = o.store.Expire(ctx, x.keys, o.conf.TTL)
	}
	if err != nil {
		logger.Warn("[presence] redis op failed", zap.Int("op", int(x.kind)), zap.String("user", x.user), zap.Error(err))
	}
}

func (o *OnlineStore) liveKeys() []string {
	o.mu.Lock()
	keys := make([]string, 0, len(o.live))
	for u := range o.live {
		keys = append(keys, presenceKey(u))
	}
	o.mu.Unlock()
	sort.Strings(keys)
	return keys
}

func (o *OnlineStore) offline() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	keys := o.liveKeys()
	if err := o.store.Del(ctx, keys...); err != nil {
		logger.Warn("[presence] offline cleanup failed", zap.Int("keys", len(keys)), zap.Error(err))
	}
}

// Lookup reports the node a user is attached to.
func (o *OnlineStore) Lookup(ctx context.Context, user string) (nodeID string, online bool, err error) {
	return o.store.Get(ctx, presenceKey(user))
}
