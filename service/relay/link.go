package relay

import (
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"MessageBox/logger"
	"MessageBox/service/wire"
	"MessageBox/tools/errs"
	"MessageBox/tools/safe"

	"github.com/golang/glog"
	"go.uber.org/zap"
)

type LinkState int32

const (
	StateConnecting LinkState = iota
	StateHandshaking
	StateEstablished
	StateClosed
)

func (s LinkState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

const (
	readChunk = 32 << 10
	writeWait = 10 * time.Second
)

// Link is one TCP connection to a neighbour instance.
type Link struct {
	id        int64
	n         *Neighbors
	conn      net.Conn
	initiator bool
	dialed    string // address we dialed, empty for accepted links

	state atomic.Int32 // LinkState, transitions under dir.mu
	peer  atomic.Value // string, ip:port of the peer's internal listener

	out       outQueue
	closing   chan struct{}
	closeOnce sync.Once
	ready     chan struct{} // closed on ESTABLISHED
	done      chan struct{}
}

func newLink(n *Neighbors, conn net.Conn, initiator bool, dialed string) *Link {
	l := &Link{
		id:        n.ids.Next(),
		n:         n,
		conn:      conn,
		initiator: initiator,
		dialed:    dialed,
		closing:   make(chan struct{}),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	l.out.notify = make(chan struct{}, 1)
	l.peer.Store(conn.RemoteAddr().String())
	l.state.Store(int32(StateConnecting))
	return l
}

func (l *Link) ID() int64             { return l.id }
func (l *Link) State() LinkState      { return LinkState(l.state.Load()) }
func (l *Link) Peer() string          { return l.peer.Load().(string) }
func (l *Link) Initiator() bool       { return l.initiator }
func (l *Link) Done() <-chan struct{} { return l.done }

// Ready is closed once the handshake completes.
func (l *Link) Ready() <-chan struct{} { return l.ready }

// Send queues f for the writer. The queue is unbounded.
func (l *Link) Send(f wire.Frame) error {
	if l.State() == StateClosed || !l.out.push(f) {
		return errs.ErrLinkClosed.WrapMsg("send", "peer", l.Peer(), "frame", f.Op)
	}
	return nil
}

// Close tears the connection down; cleanup runs on the reader goroutine.
func (l *Link) Close() {
	l.closeOnce.Do(func() {
		close(l.closing)
		_ = l.conn.Close()
	})
}

// run owns the connection until it dies, then unregisters the link and
// drops every remote entry it served.
func (l *Link) run(handshakeTimeout time.Duration) {
	defer l.n.wg.Done()
	defer safe.Recover("link reader")

	safe.Go("link writer", l.writeLoop)
	if handshakeTimeout > 0 {
		_ = l.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	}

	err := l.readLoop()
	l.Close()

	d := l.n.dir
	d.mu.Lock()
	l.state.Store(int32(StateClosed))
	delete(l.n.links, l.id)
	if l.n.byPeer[l.Peer()] == l {
		delete(l.n.byPeer, l.Peer())
	}
	dropped := d.removeRemoteEntriesLocked(l)
	l.out.close()
	d.mu.Unlock()

	logger.Info("[neighbour] link closed",
		zap.String("peer", l.Peer()), zap.Int64("link", l.id),
		zap.Int("remoteUsersDropped", dropped), zap.Error(err))
	l.n.obs.LinkChanged(l.Peer(), StateClosed)
	close(l.done)
}

func (l *Link) readLoop() error {
	chunk := make([]byte, readChunk)
	var buf []byte
	for {
		n, err := l.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			frames, used := wire.Decode(buf)
			buf = buf[:copy(buf, buf[used:])]
			for _, f := range frames {
				l.handle(f)
			}
		}
		if err != nil {
			return errs.WrapMsg(err, "read", "peer", l.Peer())
		}
	}
}

func (l *Link) writeLoop() {
	var buf []byte
	for {
		select {
		case <-l.closing:
			return
		case <-l.out.notify:
		}
		frames := l.out.popAll()
		if len(frames) == 0 {
			continue
		}
		buf = buf[:0]
		for _, f := range frames {
			buf = wire.AppendEncode(buf, f)
		}
		_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if _, err := l.conn.Write(buf); err != nil {
			logger.Warn("[neighbour] write failed", zap.String("peer", l.Peer()), zap.Error(err))
			l.Close()
			return
		}
	}
}

// handle is the per-link state machine. Frames arrive in order on the
// reader goroutine.
func (l *Link) handle(f wire.Frame) {
	state := l.State()
	switch f.Op {
	case wire.OpHello:
		if l.initiator || state != StateHandshaking {
			glog.Infof("neighbour %s: unexpected %v in %v", l.Peer(), f, state)
			return
		}
		host, _, err := net.SplitHostPort(l.conn.RemoteAddr().String())
		if err != nil {
			l.Close()
			return
		}
		peer := net.JoinHostPort(host, strconv.Itoa(int(f.Port)))
		l.n.establish(l, peer, func(users []int32) []wire.Frame {
			return []wire.Frame{wire.Welcome(l.n.port), wire.AddUsers(users)}
		})

	case wire.OpWelcome:
		if !l.initiator || state != StateHandshaking {
			glog.Infof("neighbour %s: unexpected %v in %v", l.Peer(), f, state)
			return
		}
		l.n.establish(l, l.dialed, func(users []int32) []wire.Frame {
			return []wire.Frame{wire.AddUsers(users)}
		})

	case wire.OpAddUsers, wire.OpAddUser:
		if state != StateEstablished {
			glog.Infof("neighbour %s: %v before handshake, dropped", l.Peer(), f)
			return
		}
		users := f.Users
		if f.Op == wire.OpAddUser {
			users = []int32{f.User}
		}
		l.n.learn(l, users)

	case wire.OpMessage:
		if state != StateEstablished {
			glog.Infof("neighbour %s: %v before handshake, dropped", l.Peer(), f)
			return
		}
		l.n.router.DeliverLocal(f.From, f.To, f.Payload)
	}
}

// tupleKey names the TCP connection identically on both ends.
func (l *Link) tupleKey() string {
	ends := []string{l.conn.LocalAddr().String(), l.conn.RemoteAddr().String()}
	sort.Strings(ends)
	return strings.Join(ends, "|")
}

type outQueue struct {
	mu     sync.Mutex
	frames []wire.Frame
	closed bool
	notify chan struct{}
}

func (q *outQueue) push(f wire.Frame) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.frames = append(q.frames, f)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

func (q *outQueue) popAll() []wire.Frame {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.frames
	q.frames = nil
	return out
}

func (q *outQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.frames = nil
	q.mu.Unlock()
}
