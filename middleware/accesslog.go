package middleware

import (
	"time"

	"MessageBox/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AccessLog logs one line per request after the handler finished. Long
// polls show their full parked time in "cost".
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("[http] access",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("user", c.Query("user")),
			zap.Int("status", c.Writer.Status()),
			zap.Int("size", c.Writer.Size()),
			zap.Duration("cost", time.Since(start)),
			zap.String("remote", c.ClientIP()))
	}
}

// TouchUser calls touch for every request that carries a non-blank user
// query parameter, before any route runs.
func TouchUser(touch func(user string)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if u := c.Query("user"); u != "" {
			touch(u)
		}
	}
}
