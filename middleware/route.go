package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 配置选项
type RouteOpt struct {
	MaxBody int64 // >0 限制请求体大小
}

// 封装 POST
func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.POST(path, chain(handler, opt)...)
}

// 封装 GET
func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.GET(path, chain(handler, opt)...)
}

func chain(handler gin.HandlerFunc, opt RouteOpt) []gin.HandlerFunc {
	var hs []gin.HandlerFunc
	if opt.MaxBody > 0 {
		hs = append(hs, BodyLimit(opt.MaxBody))
	}
	return append(hs, handler)
}

// BodyLimit makes reads past n bytes fail.
func BodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}
