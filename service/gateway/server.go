// Package gateway is the HTTP face of the relay: /send, /receive, the
// WebSocket receive variant, static pages and the stats endpoints.
package gateway

import (
	"net/http"
	"time"

	"MessageBox/logger"
	mid "MessageBox/middleware"
	"MessageBox/service/relay"
	"MessageBox/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const contentType = "application/javascript"

type Options struct {
	AssetsDir string
	Origins   []string
	Metrics   http.Handler  // served on /metrics when set
	WSRefresh time.Duration // how often a WebSocket re-registers its hold
	MaxBody   int64         // POST /send body limit
}

type Server struct {
	svc    *relay.Service
	opts   Options
	engine *gin.Engine
	mids   *mid.MiddlewareManager
}

func New(svc *relay.Service, opts Options) *Server {
	if opts.WSRefresh <= 0 {
		opts.WSRefresh = svc.HoldTTL() / 3
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = 1 << 20
	}
	if opts.AssetsDir == "" {
		opts.AssetsDir = "./public"
	}

	s := &Server{svc: svc, opts: opts}
	s.mids = mid.NewManager(
		mid.Origin(opts.Origins...),
		mid.TouchUser(func(user string) {
			if id, ok := relay.ParseUserID(user); ok {
				svc.Touch(id)
			}
		}),
	)

	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, rec any) {
		logger.Error("[http] handler panic", zap.String("path", c.Request.URL.Path), zap.Error(errs.ErrPanic(rec)))
		c.AbortWithStatus(http.StatusInternalServerError)
	}))
	r.Use(mid.AccessLog(), s.mids.Use())
	s.routes(r)
	s.engine = r
	return s
}

func (s *Server) routes(r *gin.Engine) {
	mid.GET(r, "/send", s.handleSendQuery, mid.RouteOpt{})
	mid.POST(r, "/send", s.handleSendBody, mid.RouteOpt{MaxBody: s.opts.MaxBody})
	mid.GET(r, "/receive", s.handleReceive, mid.RouteOpt{})
	mid.GET(r, "/ws", s.handleWS, mid.RouteOpt{})

	for path, p := range pages {
		r.GET(path, s.staticPage(p))
	}

	r.GET("/stats", s.handleStats)
	if s.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.opts.Metrics))
	}
	r.NoRoute(notFound)
	r.NoMethod(notFound)
}

// Middlewares exposes the manager so main can add more before serving.
func (s *Server) Middlewares() *mid.MiddlewareManager { return s.mids }

func (s *Server) Handler() http.Handler { return s.engine }

func notFound(c *gin.Context) {
	c.Data(http.StatusNotFound, "text/plain", []byte("not found\n"))
}

// writeRaw sends an already encoded JSON reply. Every JSON reply is a 200.
func writeRaw(c *gin.Context, body []byte) {
	c.Data(http.StatusOK, contentType, body)
}

func writeJSON(c *gin.Context, v any) {
	c.Render(http.StatusOK, jsonRender{v})
}
