// Package httpapi is squaled's optional admin HTTP surface: a gin router
// exposing health, pool/global stats, a streamed stats websocket, and a
// Prometheus /metrics endpoint.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/squaled/squaled/internal/metrics"
	"github.com/squaled/squaled/internal/pool"
)

// Registry is the subset of squaled.Server the admin API reads from.
type Registry interface {
	AllStats() map[string]pool.Stats
	GlobalStats() map[string]string
	ConnectedClients() int
}

// Router wires Registry reads into a gin.Engine.
type Router struct {
	engine   *gin.Engine
	registry Registry
	metrics  *metrics.Collectors
	gatherer *prometheus.Registry
	upgrader websocket.Upgrader
}

// New builds a Router. reg backs /metrics; pass a fresh prometheus.NewRegistry()
// per test case to avoid duplicate-registration panics across test cases.
func New(registry Registry, reg *prometheus.Registry) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	r := &Router{
		engine:   engine,
		registry: registry,
		metrics:  metrics.New(reg),
		gatherer: reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	r.setupRoutes()
	return r
}

// Engine returns the underlying gin.Engine for http.Server wiring.
func (r *Router) Engine() *gin.Engine { return r.engine }

func (r *Router) setupRoutes() {
	r.engine.GET("/healthz", r.healthz)
	r.engine.GET("/stats", r.globalStats)
	r.engine.GET("/pools/:name/stats", r.poolStats)
	r.engine.GET("/stats/stream", r.statsStream)
	r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))
}

func (r *Router) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) globalStats(c *gin.Context) {
	c.JSON(http.StatusOK, r.registry.GlobalStats())
}

func (r *Router) poolStats(c *gin.Context) {
	name := c.Param("name")
	stats, ok := r.registry.AllStats()[name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "pool does not exist"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// statsStream upgrades to a websocket and pushes a fresh stats snapshot
// every second until the client disconnects.
func (r *Router) statsStream(c *gin.Context) {
	conn, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		all := r.registry.AllStats()
		for name, s := range all {
			r.metrics.Observe(name, s)
		}
		r.metrics.SetConnectedClients(r.registry.ConnectedClients())

		if err := conn.WriteJSON(gin.H{
			"pools":   all,
			"clients": r.registry.ConnectedClients(),
		}); err != nil {
			return
		}
	}
}
