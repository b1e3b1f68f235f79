package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// probePaths are polled by supervisors and scrapers; successful hits log
// at debug.
var probePaths = map[string]bool{
	"/health":  true,
	"/ready":   true,
	"/metrics": true,
}

// AdminLogger writes one structured line per admin request.
func AdminLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := routeOf(c)
		status := c.Writer.Status()
		logger.WithLevel(requestLevel(route, status)).
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Int("bytes", c.Writer.Size()).
			Str("remote", c.ClientIP()).
			Msg("admin request")
	}
}

// AdminMetrics counts admin requests under the compositor socket the
// monitor follows.
func AdminMetrics(socket string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(socket, c.Request.Method, routeOf(c), c.Writer.Status(), time.Since(start))
	}
}

// routeOf prefers the registered pattern so ids in paths do not explode
// label cardinality.
func routeOf(c *gin.Context) string {
	if r := c.FullPath(); r != "" {
		return r
	}
	return "unmatched"
}

func requestLevel(route string, status int) zerolog.Level {
	switch {
	case status >= 500:
		return zerolog.ErrorLevel
	case status >= 400:
		return zerolog.WarnLevel
	case probePaths[route]:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}
