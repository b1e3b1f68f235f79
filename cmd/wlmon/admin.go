package main

import (
	"net/http"
	"time"

	"github.com/danmuck/wlproto/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

func newAdminRouter(m *monitor, corsOrigins []string) *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminLogger(log.Logger))
	r.Use(observability.AdminMetrics(m.cfg.Socket))
	if len(corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: corsOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(m.started).String(),
			"version": version,
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		st := m.Status()
		code := http.StatusOK
		if !st.Connected {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"ready": st.Connected, "session": st})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/objects", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"objects": m.Objects()})
	})

	r.GET("/globals", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"globals": m.Globals()})
	})

	return r
}
