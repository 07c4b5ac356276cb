package hub

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the daemon's HTTP surface around h:
//
//	GET  /api/versions            current version snapshot, never cached
//	POST /api/entities/:key/bump  record a change to an entity group
//	GET  /ws                      the notification channel
//	GET  /healthz                 liveness plus client count
//	GET  /metrics                 prometheus exposition
func Router(h *Hub, reg *prometheus.Registry) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/versions", func(c *gin.Context) {
		// Intermediaries must never serve a stale snapshot, that would
		// defeat the polling fallback entirely.
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, h.store.Snapshot())
	})

	r.POST("/api/entities/:key/bump", func(c *gin.Context) {
		key := c.Param("key")
		ver := h.store.Bump(key)
		c.JSON(http.StatusOK, gin.H{"entity": key, "version": ver})
	})

	r.GET("/ws", func(c *gin.Context) {
		h.ServeWS(c.Writer, c.Request)
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": h.ClientCount()})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	return r
}
