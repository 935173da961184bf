package relay

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"MessageBox/logger"
	"MessageBox/service/wire"
	"MessageBox/tools/ids"
	"MessageBox/tools/safe"

	"go.uber.org/zap"
)

// ===== 配置 =====

type Options struct {
	NodeID        string
	UserTTL       time.Duration // 用户空闲超时 (360s)
	HoldTTL       time.Duration // 会话空闲超时 (120s)
	ManageEvery   time.Duration // 清理周期 (60s)
	MultiDeliver  int           // 单次回复最多消息数
	Senders       bool          // 回复附带 senders 数组
	InternalPort  int           // 在 hello/welcome 中通告
	MaxNeighbours int
	Neighbours    []string         // 主动维护的邻居地址
	Clock         func() time.Time // 可注入时钟（单测用）；nil => time.Now
	Observer      Observer
	IDs           *ids.Generator
}

func (o *Options) norm() {
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.UserTTL <= 0 {
		o.UserTTL = 360 * time.Second
	}
	if o.HoldTTL <= 0 {
		o.HoldTTL = 120 * time.Second
	}
	if o.ManageEvery <= 0 {
		o.ManageEvery = 60 * time.Second
	}
	if o.MultiDeliver <= 0 {
		o.MultiDeliver = 10
	}
	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
}

// Service is the relay hub. It owns the directory lock and hands it to the
// hold manager, router, neighbour registry and reaper.
type Service struct {
	opts Options

	dir       *Directory
	holds     *HoldManager
	router    *Router
	neighbors *Neighbors
	reaper    *Reaper
	stats     *counters
	obs       Observer
}

func NewService(opts Options) *Service {
	opts.norm()
	st := &counters{}
	dir := NewDirectory(opts.Clock)
	holds := NewHoldManager(dir, opts.MultiDeliver, opts.Senders, st)
	router := NewRouter(dir, holds, st, opts.Observer)
	s := &Service{
		opts:   opts,
		dir:    dir,
		holds:  holds,
		router: router,
		stats:  st,
		obs:    opts.Observer,
	}
	s.neighbors = NewNeighbors(dir, router, opts.Observer, opts.InternalPort, opts.IDs)
	s.reaper = NewReaper(dir, holds, opts.Observer, opts.ManageEvery, opts.UserTTL, opts.HoldTTL)
	return s
}

func (s *Service) NodeID() string         { return s.opts.NodeID }
func (s *Service) Directory() *Directory  { return s.dir }
func (s *Service) Neighbors() *Neighbors  { return s.neighbors }
func (s *Service) Reaper() *Reaper        { return s.reaper }
func (s *Service) UserTTL() time.Duration { return s.opts.UserTTL }
func (s *Service) HoldTTL() time.Duration { return s.opts.HoldTTL }
func (s *Service) Options() Options       { return s.opts }

// ensureLocked is EnsureUser plus the adduser broadcast for a new,
// advertisable user.
func (s *Service) ensureLocked(id UserID) (*User, bool) {
	u, created := s.dir.ensureUserLocked(id)
	if created && u.indexed {
		s.neighbors.broadcastLocked(wire.AddUser(u.wire))
	}
	return u, created
}

// Touch registers id on first sight and refreshes it otherwise. Every HTTP
// request carrying a user goes through here.
func (s *Service) Touch(id UserID) {
	s.dir.mu.Lock()
	_, created := s.ensureLocked(id)
	s.dir.mu.Unlock()
	if created {
		s.obs.UserCreated(id)
	}
}

// Receive registers or refreshes the session's hold and parks r on it.
// Queued messages are handed to r immediately.
func (s *Service) Receive(id UserID, session string, r Responder) {
	s.dir.mu.Lock()
	u, created := s.ensureLocked(id)
	h, _ := s.holds.registerOrTouchLocked(u, session)
	s.holds.parkLocked(h, r)
	s.dir.mu.Unlock()
	if created {
		s.obs.UserCreated(id)
	}
}

// Abandon detaches r after its client went away.
func (s *Service) Abandon(id UserID, session string, r Responder) {
	s.dir.mu.Lock()
	defer s.dir.mu.Unlock()
	u, ok := s.dir.users[id]
	if !ok {
		return
	}
	h, ok := u.holds[session]
	if !ok {
		// the hold expired meanwhile, unwritten messages go back to the user
		if unsent := r.Unsent(); len(unsent) > 0 {
			u.backlog = append(append([]Message(nil), unsent...), u.backlog...)
			s.stats.delivered.Add(-int64(len(unsent)))
		}
		return
	}
	s.holds.abandonLocked(h, r)
}

// Send routes body from one user to another.
func (s *Service) Send(from, to UserID, body json.RawMessage) (Route, error) {
	return s.router.Send(from, to, body)
}

// Held returns a copy of the queue of one hold, nil if there is no such
// hold.
func (s *Service) Held(id UserID, session string) []Message {
	s.dir.mu.Lock()
	defer s.dir.mu.Unlock()
	if u, ok := s.dir.users[id]; ok {
		if h, ok := u.holds[session]; ok {
			return h.Queued()
		}
	}
	return nil
}

// Stats is one consistent snapshot of tables and counters.
func (s *Service) Stats() Stats {
	st := s.router.snapshot()
	s.dir.mu.Lock()
	st.Counts = Counts{Users: len(s.dir.users), RemoteUsers: len(s.dir.remote)}
	for _, u := range s.dir.users {
		st.Holds += len(u.holds)
	}
	st.Neighbours = s.neighbors.countLocked()
	s.dir.mu.Unlock()
	return st
}

// ServeNeighbours accepts neighbour links on ln until ctx is done.
func (s *Service) ServeNeighbours(ctx context.Context, ln net.Listener) error {
	return s.neighbors.Serve(ctx, ln, s.opts.MaxNeighbours)
}

// Run starts the reaper and the configured neighbour dialers, then blocks
// until ctx is done and closes every link.
func (s *Service) Run(ctx context.Context) error {
	logger.Info("[box] relay running",
		zap.String("node", s.opts.NodeID), zap.Strings("neighbours", s.opts.Neighbours),
		zap.Duration("userTimeout", s.opts.UserTTL), zap.Duration("holdTimeout", s.opts.HoldTTL),
		zap.Duration("manageTimeout", s.opts.ManageEvery))
	s.neighbors.MaintainAll(ctx, s.opts.Neighbours)
	safe.Go("reaper", func() { s.reaper.Run(ctx) })
	<-ctx.Done()
	s.neighbors.Close()
	return nil
}
