package relay

import (
	"context"
	"net"
	"sync"
	"time"

	"MessageBox/logger"
	"MessageBox/service/wire"
	"MessageBox/tools/errs"
	"MessageBox/tools/ids"
	"MessageBox/tools/safe"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultDialTimeout      = 5 * time.Second
	redialPause             = time.Second
)

// Neighbors keeps every link to other relay instances. links and byPeer
// are guarded by the directory lock.
type Neighbors struct {
	dir    *Directory
	router *Router
	obs    Observer
	port   int32 // our internal port, sent in hello/welcome
	ids    *ids.Generator

	links  map[int64]*Link
	byPeer map[string]*Link  // established links by peer address
	alias  map[string]string // dialed address -> ip:port key

	HandshakeTimeout time.Duration
	DialTimeout      time.Duration
	// NewBackOff builds the redial policy for Maintain.
	NewBackOff       func() backoff.BackOff

	wg sync.WaitGroup
}

func NewNeighbors(dir *Directory, router *Router, obs Observer, internalPort int, gen *ids.Generator) *Neighbors {
	if gen == nil {
		gen = ids.NewGenerator(1)
	}
	return &Neighbors{
		dir:              dir,
		router:           router,
		obs:              obs,
		port:             int32(internalPort),
		ids:              gen,
		links:            make(map[int64]*Link),
		byPeer:           make(map[string]*Link),
		alias:            make(map[string]string),
		HandshakeTimeout: defaultHandshakeTimeout,
		DialTimeout:      defaultDialTimeout,
		NewBackOff:       redialBackOff,
	}
}

func redialBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Serve accepts neighbour connections until ctx is done. At most limit
// connections are held open concurrently when limit > 0.
func (n *Neighbors) Serve(ctx context.Context, ln net.Listener, limit int) error {
	if limit > 0 {
		ln = netutil.LimitListener(ln, limit)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	logger.Info("[neighbour] listening", zap.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return errs.WrapMsg(err, "neighbour accept")
		}
		n.start(conn, false, "")
	}
}

// Dial connects to addr and starts the handshake. The returned link is
// HANDSHAKING; it becomes ESTABLISHED once the welcome arrives. The link is
// keyed by the connected ip and the dialed port, the same key the peer's
// side derives, so a host name in addr still matches an inbound link.
func (n *Neighbors) Dial(ctx context.Context, addr string) (*Link, error) {
	n.obs.LinkChanged(addr, StateConnecting)
	d := net.Dialer{Timeout: n.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		n.obs.LinkChanged(addr, StateClosed)
		return nil, errs.WrapMsg(err, "neighbour dial", "addr", addr)
	}
	key := peerKey(addr, conn.RemoteAddr())
	n.dir.mu.Lock()
	n.alias[addr] = key
	n.dir.mu.Unlock()
	l := n.start(conn, true, key)
	if err := l.Send(wire.Hello(n.port)); err != nil {
		return nil, err
	}
	return l, nil
}

// peerKey is remote's ip joined with the port of the dialed address.
func peerKey(addr string, remote net.Addr) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	tcp, ok := remote.(*net.TCPAddr)
	if !ok {
		return addr
	}
	return net.JoinHostPort(tcp.IP.String(), port)
}

// Maintain keeps one link to addr alive until ctx is done, redialling with
// exponential backoff. A link the peer opened to us counts as connected.
// An attempt only succeeds once the handshake completes.
func (n *Neighbors) Maintain(ctx context.Context, addr string) {
	bo := backoff.WithContext(n.NewBackOff(), ctx)

	for ctx.Err() == nil {
		var link *Link
		err := backoff.RetryNotify(func() error {
			if l := n.Established(addr); l != nil {
				link = l
				return nil
			}
			l, err := n.Dial(ctx, addr)
			if err != nil {
				return err
			}
			select {
			case <-l.Ready():
				link = l
				return nil
			case <-l.Done():
				// lost a duplicate race to a link that is already up
				if won := n.Established(addr); won != nil {
					link = won
					return nil
				}
				return errs.ErrLinkClosed.WrapMsg("handshake", "addr", addr)
			case <-ctx.Done():
				l.Close()
				return backoff.Permanent(ctx.Err())
			}
		}, bo, func(err error, wait time.Duration) {
			logger.Warn("[neighbour] dial failed", zap.String("addr", addr), zap.Duration("retryIn", wait), zap.Error(err))
		})
		if err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-link.Done():
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(redialPause):
		}
	}
}

func (n *Neighbors) start(conn net.Conn, initiator bool, dialed string) *Link {
	l := newLink(n, conn, initiator, dialed)
	n.dir.mu.Lock()
	n.links[l.id] = l
	l.state.Store(int32(StateHandshaking))
	n.dir.mu.Unlock()

	logger.Info("[neighbour] link open",
		zap.String("remote", conn.RemoteAddr().String()), zap.Int64("link", l.id), zap.Bool("initiator", initiator))
	n.obs.LinkChanged(l.Peer(), StateHandshaking)
	n.wg.Add(1)
	go l.run(n.HandshakeTimeout)
	return l
}

// establish moves l to ESTABLISHED under peer. If another link to the same
// peer exists, both ends keep the TCP connection with the smaller tuple key
// and close the other. greet builds the frames queued right after the
// switch; they go out before any later adduser broadcast.
func (n *Neighbors) establish(l *Link, peer string, greet func(users []int32) []wire.Frame) bool {
	var loser *Link

	n.dir.mu.Lock()
	if l.State() != StateHandshaking {
		n.dir.mu.Unlock()
		return false
	}
	if old := n.byPeer[peer]; old != nil && old != l {
		if old.tupleKey() < l.tupleKey() {
			n.dir.mu.Unlock()
			logger.Info("[neighbour] duplicate link, keeping existing", zap.String("peer", peer), zap.Int64("link", l.id))
			l.Close()
			return false
		}
		loser = old
	}
	l.peer.Store(peer)
	l.state.Store(int32(StateEstablished))
	close(l.ready)
	n.byPeer[peer] = l
	for _, f := range greet(n.dir.listWireLocked()) {
		l.out.push(f)
	}
	n.dir.mu.Unlock()

	_ = l.conn.SetReadDeadline(time.Time{})
	logger.Info("[neighbour] link established", zap.String("peer", peer), zap.Int64("link", l.id))
	n.obs.LinkChanged(peer, StateEstablished)
	if loser != nil {
		logger.Info("[neighbour] duplicate link, replacing", zap.String("peer", peer), zap.Int64("link", loser.id))
		loser.Close()
	}
	return true
}

// learn records users announced by the peer. Ids that are local here win;
// frames from a link that lost a duplicate race are ignored.
func (n *Neighbors) learn(l *Link, users []int32) {
	n.dir.mu.Lock()
	defer n.dir.mu.Unlock()
	if n.byPeer[l.Peer()] != l {
		return
	}
	for _, w := range users {
		if _, local := n.dir.byWire[w]; local {
			continue
		}
		n.dir.setRemoteLocked(w, l)
	}
}

// broadcastLocked queues f on every established link.
func (n *Neighbors) broadcastLocked(f wire.Frame) {
	for _, l := range n.byPeer {
		l.out.push(f)
	}
}

// Established returns the live link to peer, or nil. peer is an ip:port
// key or an address previously passed to Dial.
func (n *Neighbors) Established(peer string) *Link {
	n.dir.mu.Lock()
	defer n.dir.mu.Unlock()
	if l := n.byPeer[peer]; l != nil {
		return l
	}
	if key, ok := n.alias[peer]; ok {
		return n.byPeer[key]
	}
	return nil
}

// Peers lists the addresses of established links.
func (n *Neighbors) Peers() []string {
	n.dir.mu.Lock()
	defer n.dir.mu.Unlock()
	out := make([]string, 0, len(n.byPeer))
	for p := range n.byPeer {
		out = append(out, p)
	}
	return out
}

func (n *Neighbors) countLocked() int { return len(n.byPeer) }

// Close closes every link and waits for their readers to finish.
func (n *Neighbors) Close() {
	n.dir.mu.Lock()
	all := make([]*Link, 0, len(n.links))
	for _, l := range n.links {
		all = append(all, l)
	}
	n.dir.mu.Unlock()
	for _, l := range all {
		l.Close()
	}
	n.wg.Wait()
}

// MaintainAll runs Maintain for every address on its own goroutine.
func (n *Neighbors) MaintainAll(ctx context.Context, addrs []string) {
	for _, a := range addrs {
		addr := a
		safe.Go("neighbour "+addr, func() { n.Maintain(ctx, addr) })
	}
}
