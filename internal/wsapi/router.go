// Package wsapi exposes the daemon over HTTP: the /cmd WebSocket carrying
// the binary command protocol, the management website bundle, and
// optionally /metrics.
package wsapi

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mined-project/mined/internal/command"
	"github.com/mined-project/mined/internal/hub"
	"github.com/mined-project/mined/internal/metrics"
)

// Router wires the command processor and hub into HTTP handlers.
type Router struct {
	hub     *hub.Hub
	proc    *command.Processor
	website string
	metrics bool
	log     *slog.Logger
}

// NewRouter constructs a Router. website is the directory of the management
// site bundle; empty disables static serving. When metricsEnabled, the
// prometheus handler is mounted at /metrics.
func NewRouter(h *hub.Hub, proc *command.Processor, website string, metricsEnabled bool, log *slog.Logger) *Router {
	return &Router{hub: h, proc: proc, website: website, metrics: metricsEnabled, log: log}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (rt *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/cmd", rt.handleCmd)
	if rt.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	if rt.website != "" {
		g.NoRoute(rt.serveWebsite)
	}
	return g
}

// NewServer returns an HTTP server for this router. Read/write timeouts
// stay unset: the /cmd connections are long-lived by design.
func NewServer(addr string, rt *Router) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           rt.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// serveWebsite serves files out of the website directory, falling back to
// index.html so client-side routes resolve.
func (rt *Router) serveWebsite(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.Status(http.StatusMethodNotAllowed)
		return
	}
	path := filepath.Join(rt.website, filepath.Clean("/"+c.Request.URL.Path))
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		c.File(path)
		return
	}
	c.File(filepath.Join(rt.website, "index.html"))
}
