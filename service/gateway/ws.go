package gateway

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"MessageBox/logger"
	"MessageBox/service/relay"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(r *http.Request) bool { return true }}

// wsResponder stays parked on its hold; every drain becomes one text frame.
type wsResponder struct {
	mu       sync.Mutex
	frames   []relay.Reply
	final    bool // a timeout was queued, the socket closes after it
	closed   bool
	notify   chan struct{}
	released chan struct{}
	once     sync.Once
}

func newWSResponder() *wsResponder {
	return &wsResponder{notify: make(chan struct{}, 1), released: make(chan struct{})}
}

func (w *wsResponder) Offer(r relay.Reply) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.frames = append(w.frames, r)
	if r.Status == relay.StatusTimeout {
		w.final = true
	}
	w.mu.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
	return true
}

func (w *wsResponder) Release() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.once.Do(func() { close(w.released) })
}

func (w *wsResponder) Persistent() bool { return true }

// Unsent closes the responder and hands back the messages of every frame
// not yet written.
func (w *wsResponder) Unsent() []relay.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	var out []relay.Message
	for _, r := range w.frames {
		out = append(out, r.Batch()...)
	}
	w.frames = nil
	return out
}

func (w *wsResponder) take() ([]relay.Reply, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.frames
	w.frames = nil
	return out, w.final
}

// putBack returns frames that failed to write, ahead of newer ones.
func (w *wsResponder) putBack(rest []relay.Reply) {
	w.mu.Lock()
	w.frames = append(append([]relay.Reply(nil), rest...), w.frames...)
	w.mu.Unlock()
}

// handleWS serves GET /ws?user=&session=.
func (s *Server) handleWS(c *gin.Context) {
	user, ok := relay.ParseUserID(c.Query("user"))
	session := c.Query("session")
	if !ok || session == "" {
		fail(c)
		return
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		logger.Infof("[WS] upgrade user=%s err=%v", user, err)
		return
	}
	defer ws.Close()

	r := newWSResponder()
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// ---- 读循环：只读不写，出错即退出 ----
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					logger.Infof("[WS] read timeout user=%s", user)
				}
				return
			}
		}
	}()

	s.svc.Receive(user, session, r)
	defer s.svc.Abandon(user, session, r)

	refresh := time.NewTicker(s.opts.WSRefresh)
	defer refresh.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.released:
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "replaced"), time.Now().Add(wsWriteWait))
			return
		case <-refresh.C:
			s.svc.Receive(user, session, r)
		case <-r.notify:
			frames, final := r.take()
			for i, f := range frames {
				_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := ws.WriteMessage(websocket.TextMessage, f.JSON()); err != nil {
					logger.Infof("[WS] write user=%s err=%v", user, err)
					r.putBack(frames[i:])
					return
				}
			}
			if final {
				return
			}
		}
	}
}
