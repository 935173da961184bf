package gateway

import (
	"net/http"
	"os"
	"path/filepath"

	"MessageBox/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type page struct {
	file  string
	ctype string
}

// pages are the fixed static routes, read from AssetsDir on every hit.
var pages = map[string]page{
	"/":          {"index.html", "text/html; charset=utf-8"},
	"/sender":    {"sender.html", "text/html; charset=utf-8"},
	"/receiver":  {"receiver.html", "text/html; charset=utf-8"},
	"/jquery.js": {"jquery.js", "text/javascript"},
}

func (s *Server) staticPage(p page) gin.HandlerFunc {
	path := filepath.Join(s.opts.AssetsDir, p.file)
	return func(c *gin.Context) {
		b, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("[http] static page missing", zap.String("file", path), zap.Error(err))
			notFound(c)
			return
		}
		c.Data(http.StatusOK, p.ctype, b)
	}
}
